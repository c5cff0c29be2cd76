package group

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kfujino/tomotabi/guest"
	"github.com/kfujino/tomotabi/principal"
)

// NicknameConstraint is the unique constraint guarding per-group nickname
// uniqueness. The application-level check is advisory; the database is the
// final arbiter under concurrent joins.
const NicknameConstraint = "memberships_nickname_unique"

// Registry is the source of truth for groups and their memberships.
type Registry struct {
	db *sql.DB
}

func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// CreateGroup inserts a group together with its owner membership in a single
// transaction. A nickname validation failure aborts the whole transaction and
// the group is not persisted.
func (r *Registry) CreateGroup(ctx context.Context, name string, creatorUserID uuid.UUID, nickname string) (*Group, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if err := ValidateNickname(nickname); err != nil {
		return nil, err
	}

	inviteToken, err := generateInviteToken()
	if err != nil {
		return nil, fmt.Errorf("generating invite token: %w", err)
	}

	g := &Group{
		ID:            uuid.New(),
		Name:          name,
		CreatorUserID: creatorUserID,
		InviteToken:   inviteToken,
		CreatedAt:     time.Now().UTC(),
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	insertGroup := `INSERT INTO groups (id, name, creator_user_id, invite_token, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err = tx.ExecContext(ctx, insertGroup, g.ID, g.Name, g.CreatorUserID, g.InviteToken, g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting group: %w", err)
	}

	insertOwner := `INSERT INTO group_memberships (id, group_id, user_id, nickname, role, created_at)
                    VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = tx.ExecContext(ctx, insertOwner, uuid.New(), g.ID, g.CreatorUserID, nickname, RoleOwner, g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting owner membership: %w", err)
	}

	return g, tx.Commit()
}

func (r *Registry) GroupByID(ctx context.Context, id uuid.UUID) (*Group, error) {
	query := `SELECT id, name, creator_user_id, invite_token, created_at FROM groups WHERE id = $1`
	return r.scanGroup(r.db.QueryRowContext(ctx, query, id))
}

func (r *Registry) GroupByInviteToken(ctx context.Context, token string) (*Group, error) {
	query := `SELECT id, name, creator_user_id, invite_token, created_at FROM groups WHERE invite_token = $1`
	return r.scanGroup(r.db.QueryRowContext(ctx, query, token))
}

// ListGroupsForUser returns the groups the account holds a membership in,
// newest first.
func (r *Registry) ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]Group, error) {
	query := `SELECT g.id, g.name, g.creator_user_id, g.invite_token, g.created_at
              FROM groups g
              INNER JOIN group_memberships m ON m.group_id = g.id
              WHERE m.user_id = $1
              ORDER BY g.created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		err := rows.Scan(&g.ID, &g.Name, &g.CreatorUserID, &g.InviteToken, &g.CreatedAt)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}

	return groups, rows.Err()
}

func (r *Registry) scanGroup(row *sql.Row) (*Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.Name, &g.CreatorUserID, &g.InviteToken, &g.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying group: %w", err)
	}
	return &g, nil
}

// FindMembership resolves the membership the principal holds in the group,
// or nil if it holds none. For a guest holding no token for this group the
// answer is known without consulting storage.
func (r *Registry) FindMembership(ctx context.Context, p principal.Principal, groupID uuid.UUID) (*Membership, error) {
	if p.IsAccount() {
		return r.FindAccountMembership(ctx, p.UserID, groupID)
	}

	token, ok := p.TokenFor(groupID)
	if !ok {
		return nil, nil
	}
	return r.FindByGuestDigest(ctx, groupID, guest.Digest(token))
}

func (r *Registry) IsMember(ctx context.Context, p principal.Principal, groupID uuid.UUID) (bool, error) {
	m, err := r.FindMembership(ctx, p, groupID)
	if err != nil {
		return false, err
	}
	return m != nil, nil
}

func (r *Registry) FindAccountMembership(ctx context.Context, userID, groupID uuid.UUID) (*Membership, error) {
	query := membershipSelect + ` WHERE group_id = $1 AND user_id = $2`
	return r.scanMembership(r.db.QueryRowContext(ctx, query, groupID, userID))
}

func (r *Registry) FindByGuestDigest(ctx context.Context, groupID uuid.UUID, digest string) (*Membership, error) {
	query := membershipSelect + ` WHERE group_id = $1 AND guest_token_digest = $2`
	return r.scanMembership(r.db.QueryRowContext(ctx, query, groupID, digest))
}

func (r *Registry) FindByNickname(ctx context.Context, groupID uuid.UUID, nickname string) (*Membership, error) {
	query := membershipSelect + ` WHERE group_id = $1 AND nickname = $2`
	return r.scanMembership(r.db.QueryRowContext(ctx, query, groupID, nickname))
}

func (r *Registry) MembershipByID(ctx context.Context, id uuid.UUID) (*Membership, error) {
	query := membershipSelect + ` WHERE id = $1`
	return r.scanMembership(r.db.QueryRowContext(ctx, query, id))
}

func (r *Registry) ListMemberships(ctx context.Context, groupID uuid.UUID) ([]Membership, error) {
	query := membershipSelect + ` WHERE group_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying memberships: %w", err)
	}
	defer rows.Close()

	var memberships []Membership
	for rows.Next() {
		var m Membership
		err := rows.Scan(&m.ID, &m.GroupID, &m.UserID, &m.GuestDigest, &m.Nickname, &m.Role, &m.CreatedAt)
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}

	return memberships, rows.Err()
}

// Insert persists a new membership. A duplicate nickname, whether caught by
// the advisory pre-check or only by the database under a race, surfaces as
// ErrNicknameTaken.
func (r *Registry) Insert(ctx context.Context, m *Membership) error {
	query := `INSERT INTO group_memberships (id, group_id, user_id, guest_token_digest, nickname, role, created_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query, m.ID, m.GroupID, m.UserID, m.GuestDigest, m.Nickname, m.Role, m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, NicknameConstraint) {
			return ErrNicknameTaken
		}
		return fmt.Errorf("inserting membership: %w", err)
	}
	return nil
}

// Claim attaches an account to a membership and clears its guest token
// binding; the account id now suffices for identification.
func (r *Registry) Claim(ctx context.Context, membershipID, userID uuid.UUID) error {
	query := `UPDATE group_memberships SET user_id = $1, guest_token_digest = NULL WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, userID, membershipID)
	return err
}

// BindGuestDigest points a membership at a freshly issued guest token.
func (r *Registry) BindGuestDigest(ctx context.Context, membershipID uuid.UUID, digest string) error {
	query := `UPDATE group_memberships SET guest_token_digest = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, digest, membershipID)
	return err
}

// Remove deletes a membership. Owner memberships are never removable.
// Referencing rows follow their own policy: comments, likes and expense
// participation cascade away, historical expense payer references are nulled.
func (r *Registry) Remove(ctx context.Context, m *Membership) error {
	if m.IsOwner() {
		return ErrCannotRemoveOwner
	}
	query := `DELETE FROM group_memberships WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, m.ID)
	return err
}

const membershipSelect = `SELECT id, group_id, user_id, guest_token_digest, nickname, role, created_at FROM group_memberships`

func (r *Registry) scanMembership(row *sql.Row) (*Membership, error) {
	var m Membership
	err := row.Scan(&m.ID, &m.GroupID, &m.UserID, &m.GuestDigest, &m.Nickname, &m.Role, &m.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying membership: %w", err)
	}
	return &m, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == constraint
}

func generateInviteToken() (string, error) {
	b := make([]byte, 32)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
