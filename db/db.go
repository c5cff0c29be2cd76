// Package db opens the PostgreSQL connection and bootstraps the schema.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Open connects to PostgreSQL, verifies the connection, and ensures the
// schema exists.
func Open(databaseURL string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bootstrapping schema: %w", err)
	}

	return conn, nil
}
