package card

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/kfujino/tomotabi/authz"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Save(ctx context.Context, c *Card) error {
	var groupID, userID uuid.NullUUID
	switch c.Owner.Kind {
	case authz.OwnerGroup:
		groupID = uuid.NullUUID{UUID: c.Owner.GroupID, Valid: true}
	case authz.OwnerAccount:
		userID = uuid.NullUUID{UUID: c.Owner.AccountID, Valid: true}
	default:
		return fmt.Errorf("card has no owner")
	}

	query := `INSERT INTO cards (id, title, body, owner_group_id, owner_user_id, created_by_membership_id, created_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query, c.ID, c.Title, c.Body, groupID, userID, c.CreatedBy, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting card: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Card, error) {
	query := `SELECT id, title, body, owner_group_id, owner_user_id, created_by_membership_id, created_at
              FROM cards WHERE id = $1`
	return r.scanCard(r.db.QueryRowContext(ctx, query, id))
}

func (r *Repository) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]Card, error) {
	query := `SELECT id, title, body, owner_group_id, owner_user_id, created_by_membership_id, created_at
              FROM cards WHERE owner_group_id = $1 ORDER BY created_at DESC`
	return r.listCards(ctx, query, groupID)
}

func (r *Repository) ListByAccount(ctx context.Context, userID uuid.UUID) ([]Card, error) {
	query := `SELECT id, title, body, owner_group_id, owner_user_id, created_by_membership_id, created_at
              FROM cards WHERE owner_user_id = $1 ORDER BY created_at DESC`
	return r.listCards(ctx, query, userID)
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM cards WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *Repository) SaveSchedule(ctx context.Context, s *Schedule) error {
	if s.Spot == "" {
		return ErrEmptySpot
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	query := `INSERT INTO schedules (id, card_id, day, position, spot, memo) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, query, s.ID, s.CardID, s.Day, s.Position, s.Spot, s.Memo)
	if err != nil {
		return fmt.Errorf("inserting schedule: %w", err)
	}
	return nil
}

func (r *Repository) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM schedules WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// ListSchedules returns a card's stops ordered by day then position.
func (r *Repository) ListSchedules(ctx context.Context, cardID uuid.UUID) ([]Schedule, error) {
	query := `SELECT id, card_id, day, position, spot, memo FROM schedules
              WHERE card_id = $1 ORDER BY day ASC, position ASC`
	rows, err := r.db.QueryContext(ctx, query, cardID)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		var s Schedule
		if err := rows.Scan(&s.ID, &s.CardID, &s.Day, &s.Position, &s.Spot, &s.Memo); err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (r *Repository) SaveComment(ctx context.Context, cm *Comment) error {
	query := `INSERT INTO comments (id, card_id, membership_id, body, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query, cm.ID, cm.CardID, cm.MembershipID, cm.Body, cm.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting comment: %w", err)
	}
	return nil
}

func (r *Repository) GetComment(ctx context.Context, id uuid.UUID) (*Comment, error) {
	query := `SELECT id, card_id, membership_id, body, created_at FROM comments WHERE id = $1`
	var cm Comment
	err := r.db.QueryRowContext(ctx, query, id).Scan(&cm.ID, &cm.CardID, &cm.MembershipID, &cm.Body, &cm.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying comment: %w", err)
	}
	return &cm, nil
}

func (r *Repository) ListComments(ctx context.Context, cardID uuid.UUID) ([]Comment, error) {
	query := `SELECT id, card_id, membership_id, body, created_at FROM comments
              WHERE card_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, cardID)
	if err != nil {
		return nil, fmt.Errorf("querying comments: %w", err)
	}
	defer rows.Close()

	var comments []Comment
	for rows.Next() {
		var cm Comment
		if err := rows.Scan(&cm.ID, &cm.CardID, &cm.MembershipID, &cm.Body, &cm.CreatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, cm)
	}
	return comments, rows.Err()
}

func (r *Repository) DeleteComment(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM comments WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// ToggleLike adds the membership's like on a card, or removes it if already
// present. Returns true if the card is liked after the call.
func (r *Repository) ToggleLike(ctx context.Context, cardID, membershipID uuid.UUID) (bool, error) {
	del := `DELETE FROM likes WHERE card_id = $1 AND membership_id = $2`
	res, err := r.db.ExecContext(ctx, del, cardID, membershipID)
	if err != nil {
		return false, fmt.Errorf("removing like: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}

	ins := `INSERT INTO likes (card_id, membership_id) VALUES ($1, $2)`
	if _, err := r.db.ExecContext(ctx, ins, cardID, membershipID); err != nil {
		return false, fmt.Errorf("inserting like: %w", err)
	}
	return true, nil
}

func (r *Repository) CountLikes(ctx context.Context, cardID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM likes WHERE card_id = $1`, cardID).Scan(&n)
	return n, err
}

func (r *Repository) listCards(ctx context.Context, query string, arg any) ([]Card, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("querying cards: %w", err)
	}
	defer rows.Close()

	var cards []Card
	for rows.Next() {
		c, err := scanCardRow(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, *c)
	}
	return cards, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanCard(row *sql.Row) (*Card, error) {
	c, err := scanCardRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func scanCardRow(row rowScanner) (*Card, error) {
	var c Card
	var groupID, userID uuid.NullUUID
	err := row.Scan(&c.ID, &c.Title, &c.Body, &groupID, &userID, &c.CreatedBy, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	switch {
	case groupID.Valid:
		c.Owner = authz.GroupOwner(groupID.UUID)
	case userID.Valid:
		c.Owner = authz.AccountOwner(userID.UUID)
	}
	return &c, nil
}
