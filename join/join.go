// Package join implements the two supported ways a principal becomes a group
// member: creating a membership under a new nickname, or reclaiming an
// existing one.
package join

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kfujino/tomotabi/group"
	"github.com/kfujino/tomotabi/guest"
	"github.com/kfujino/tomotabi/principal"
)

var ErrUnsupportedJoinMode = errors.New("unsupported join mode")

type Mode int

const (
	// ModeNew creates a fresh membership under the supplied nickname.
	ModeNew Mode = iota + 1
	// ModeExisting attaches the caller to a membership that already exists
	// under the supplied nickname.
	ModeExisting
)

// ParseMode maps the form discriminator onto the closed mode enum.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "new":
		return ModeNew, nil
	case "existing":
		return ModeExisting, nil
	default:
		return 0, ErrUnsupportedJoinMode
	}
}

// Registry is the slice of the membership registry the join flow needs.
type Registry interface {
	FindByNickname(ctx context.Context, groupID uuid.UUID, nickname string) (*group.Membership, error)
	Insert(ctx context.Context, m *group.Membership) error
	Claim(ctx context.Context, membershipID, userID uuid.UUID) error
	BindGuestDigest(ctx context.Context, membershipID uuid.UUID, digest string) error
}

// Result is handed back to the join handler on success. GuestToken is the
// plaintext token to store in the client's token map, empty when the caller
// was an authenticated account.
type Result struct {
	GroupID      uuid.UUID
	MembershipID uuid.UUID
	GuestToken   string
}

// Execute runs the join strategy selected by mode against the group.
func Execute(ctx context.Context, reg Registry, mode Mode, g *group.Group, nickname string, p principal.Principal) (*Result, error) {
	switch mode {
	case ModeNew:
		return newNickname(ctx, reg, g, nickname, p)
	case ModeExisting:
		return reclaimNickname(ctx, reg, g, nickname, p)
	default:
		return nil, ErrUnsupportedJoinMode
	}
}

func newNickname(ctx context.Context, reg Registry, g *group.Group, nickname string, p principal.Principal) (*Result, error) {
	if err := group.ValidateNickname(nickname); err != nil {
		return nil, err
	}

	// Advisory check; the database constraint is the final arbiter and
	// Insert maps its rejection to the same error.
	taken, err := reg.FindByNickname(ctx, g.ID, nickname)
	if err != nil {
		return nil, err
	}
	if taken != nil {
		return nil, group.ErrNicknameTaken
	}

	m := &group.Membership{
		ID:        uuid.New(),
		GroupID:   g.ID,
		Nickname:  nickname,
		Role:      group.RoleMember,
		CreatedAt: time.Now().UTC(),
	}

	result := &Result{GroupID: g.ID, MembershipID: m.ID}

	if p.IsAccount() {
		m.UserID = uuid.NullUUID{UUID: p.UserID, Valid: true}
	} else {
		token, err := guest.NewToken()
		if err != nil {
			return nil, fmt.Errorf("generating guest token: %w", err)
		}
		m.GuestDigest.String = guest.Digest(token)
		m.GuestDigest.Valid = true
		result.GuestToken = token
	}

	if err := reg.Insert(ctx, m); err != nil {
		return nil, err
	}

	return result, nil
}

func reclaimNickname(ctx context.Context, reg Registry, g *group.Group, nickname string, p principal.Principal) (*Result, error) {
	m, err := reg.FindByNickname(ctx, g.ID, nickname)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, group.ErrNicknameNotFound
	}

	result := &Result{GroupID: g.ID, MembershipID: m.ID}

	if p.IsAccount() {
		if m.UserID.Valid && m.UserID.UUID != p.UserID {
			// Claimed by a different account; reclaiming would hand
			// over someone else's identity.
			return nil, group.ErrTokenMismatch
		}
		if m.UserID.Valid {
			// Already this account's membership.
			return result, nil
		}
		if err := reg.Claim(ctx, m.ID, p.UserID); err != nil {
			return nil, err
		}
		return result, nil
	}

	if m.UserID.Valid {
		// An anonymous caller never reclaims an account-held membership.
		return nil, group.ErrTokenMismatch
	}

	// The caller has to end up holding a token matching this membership,
	// whether the row had a prior binding or not, so issue a fresh one.
	token, err := guest.NewToken()
	if err != nil {
		return nil, fmt.Errorf("generating guest token: %w", err)
	}
	if err := reg.BindGuestDigest(ctx, m.ID, guest.Digest(token)); err != nil {
		return nil, err
	}
	result.GuestToken = token

	return result, nil
}
