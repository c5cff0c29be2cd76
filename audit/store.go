package audit

import (
	"context"
	"database/sql"
	"encoding/json"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Save(ctx context.Context, e Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	statement := `INSERT INTO events (id, event_type, actor, event_data, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err = s.db.ExecContext(ctx, statement, e.ID, string(e.Type), e.Actor, data, e.CreatedAt)
	return err
}

func (s *SQLStore) ListByType(ctx context.Context, eventType Type) ([]Event, error) {
	query := `SELECT id, event_type, actor, event_data, created_at FROM events WHERE event_type = $1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, string(eventType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var e Event
		var data []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.Actor, &data, &e.CreatedAt); err != nil {
			return events, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return events, err
			}
		}
		events = append(events, e)
	}

	return events, rows.Err()
}
