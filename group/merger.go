package group

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kfujino/tomotabi/guest"
)

// MergeStore is the slice of the registry the merger needs.
type MergeStore interface {
	FindByGuestDigest(ctx context.Context, groupID uuid.UUID, digest string) (*Membership, error)
	FindAccountMembership(ctx context.Context, userID, groupID uuid.UUID) (*Membership, error)
	Claim(ctx context.Context, membershipID, userID uuid.UUID) error
	Remove(ctx context.Context, m *Membership) error
}

// Merger reconciles guest memberships into an account when its holder signs
// in or registers. It is invoked explicitly by the authentication handlers,
// once per sign-in and once per registration.
type Merger struct {
	store MergeStore
}

func NewMerger(store MergeStore) *Merger {
	return &Merger{store: store}
}

// Merge claims every guest membership the token map can still resolve. If the
// account already holds a different membership in the same group, the guest
// row is redundant and deleted instead.
//
// Merge is idempotent: claiming clears the guest token digest, so a second
// run with the same token map resolves nothing and changes nothing.
func (mg *Merger) Merge(ctx context.Context, userID uuid.UUID, tokens map[uuid.UUID]string) error {
	for groupID, token := range tokens {
		guestMembership, err := mg.store.FindByGuestDigest(ctx, groupID, guest.Digest(token))
		if err != nil {
			return fmt.Errorf("looking up guest membership: %w", err)
		}
		if guestMembership == nil {
			// Already claimed, or the token never matched anything.
			continue
		}

		existing, err := mg.store.FindAccountMembership(ctx, userID, groupID)
		if err != nil {
			return fmt.Errorf("looking up account membership: %w", err)
		}

		if existing != nil && existing.ID != guestMembership.ID {
			if err := mg.store.Remove(ctx, guestMembership); err != nil {
				return fmt.Errorf("removing redundant guest membership: %w", err)
			}
			slog.Info("removed redundant guest membership",
				"group_id", groupID,
				"membership_id", guestMembership.ID,
				"user_id", userID,
			)
			continue
		}

		if err := mg.store.Claim(ctx, guestMembership.ID, userID); err != nil {
			return fmt.Errorf("claiming guest membership: %w", err)
		}
		slog.Info("claimed guest membership",
			"group_id", groupID,
			"membership_id", guestMembership.ID,
			"user_id", userID,
		)
	}

	return nil
}
