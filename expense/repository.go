package expense

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save persists an expense and its participant rows in one transaction.
func (r *Repository) Save(ctx context.Context, e *Expense) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO expenses (id, group_id, payer_membership_id, title, amount, spent_on, created_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = tx.ExecContext(ctx, query, e.ID, e.GroupID, e.PayerID, e.Title, e.Amount, e.SpentOn, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting expense: %w", err)
	}

	if err := insertParticipants(ctx, tx, e.ID, e.Participants); err != nil {
		return err
	}

	return tx.Commit()
}

// Update replaces the expense row and its whole participant set in one
// transaction, so a concurrent settlement read never observes a partial set.
func (r *Repository) Update(ctx context.Context, e *Expense) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `UPDATE expenses SET title = $1, amount = $2, spent_on = $3 WHERE id = $4`
	_, err = tx.ExecContext(ctx, query, e.Title, e.Amount, e.SpentOn, e.ID)
	if err != nil {
		return fmt.Errorf("updating expense: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM expense_participants WHERE expense_id = $1`, e.ID)
	if err != nil {
		return fmt.Errorf("clearing participants: %w", err)
	}

	if err := insertParticipants(ctx, tx, e.ID, e.Participants); err != nil {
		return err
	}

	return tx.Commit()
}

func insertParticipants(ctx context.Context, tx *sql.Tx, expenseID uuid.UUID, participants []uuid.UUID) error {
	query := `INSERT INTO expense_participants (expense_id, membership_id) VALUES ($1, $2)`
	for _, membershipID := range participants {
		_, err := tx.ExecContext(ctx, query, expenseID, membershipID)
		if err != nil {
			return fmt.Errorf("inserting participant: %w", err)
		}
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, expenseID uuid.UUID) error {
	query := `DELETE FROM expenses WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, expenseID)
	return err
}

func (r *Repository) GetByID(ctx context.Context, expenseID uuid.UUID) (*Expense, error) {
	query := `SELECT id, group_id, payer_membership_id, title, amount, spent_on, created_at
              FROM expenses WHERE id = $1`

	var e Expense
	err := r.db.QueryRowContext(ctx, query, expenseID).Scan(
		&e.ID, &e.GroupID, &e.PayerID, &e.Title, &e.Amount, &e.SpentOn, &e.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying expense: %w", err)
	}

	e.Participants, err = r.participants(ctx, e.ID)
	if err != nil {
		return nil, err
	}

	return &e, nil
}

// ListByGroup returns the group's expenses with their participant sets,
// newest first.
func (r *Repository) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]Expense, error) {
	query := `SELECT id, group_id, payer_membership_id, title, amount, spent_on, created_at
              FROM expenses WHERE group_id = $1 ORDER BY spent_on DESC, created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying expenses: %w", err)
	}
	defer rows.Close()

	var expenses []Expense
	byID := make(map[uuid.UUID]int)
	for rows.Next() {
		var e Expense
		err := rows.Scan(&e.ID, &e.GroupID, &e.PayerID, &e.Title, &e.Amount, &e.SpentOn, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		byID[e.ID] = len(expenses)
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	partQuery := `SELECT ep.expense_id, ep.membership_id
                  FROM expense_participants ep
                  INNER JOIN expenses e ON ep.expense_id = e.id
                  WHERE e.group_id = $1`
	partRows, err := r.db.QueryContext(ctx, partQuery, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer partRows.Close()

	for partRows.Next() {
		var expenseID, membershipID uuid.UUID
		if err := partRows.Scan(&expenseID, &membershipID); err != nil {
			return nil, err
		}
		if i, ok := byID[expenseID]; ok {
			expenses[i].Participants = append(expenses[i].Participants, membershipID)
		}
	}

	return expenses, partRows.Err()
}

func (r *Repository) participants(ctx context.Context, expenseID uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT membership_id FROM expense_participants WHERE expense_id = $1`
	rows, err := r.db.QueryContext(ctx, query, expenseID)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	var participants []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		participants = append(participants, id)
	}

	return participants, rows.Err()
}
