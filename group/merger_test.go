package group

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"

	"github.com/kfujino/tomotabi/guest"
)

type fakeMergeStore struct {
	memberships map[uuid.UUID]*Membership
	claims      int
	removals    int
}

func newFakeMergeStore() *fakeMergeStore {
	return &fakeMergeStore{memberships: make(map[uuid.UUID]*Membership)}
}

func (f *fakeMergeStore) add(m *Membership) *Membership {
	f.memberships[m.ID] = m
	return m
}

func (f *fakeMergeStore) FindByGuestDigest(_ context.Context, groupID uuid.UUID, digest string) (*Membership, error) {
	for _, m := range f.memberships {
		if m.GroupID == groupID && m.GuestDigest.Valid && m.GuestDigest.String == digest {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeMergeStore) FindAccountMembership(_ context.Context, userID, groupID uuid.UUID) (*Membership, error) {
	for _, m := range f.memberships {
		if m.GroupID == groupID && m.UserID.Valid && m.UserID.UUID == userID {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeMergeStore) Claim(_ context.Context, membershipID, userID uuid.UUID) error {
	m := f.memberships[membershipID]
	m.UserID = uuid.NullUUID{UUID: userID, Valid: true}
	m.GuestDigest = sql.NullString{}
	f.claims++
	return nil
}

func (f *fakeMergeStore) Remove(_ context.Context, m *Membership) error {
	delete(f.memberships, m.ID)
	f.removals++
	return nil
}

func guestMembership(groupID uuid.UUID, token string) *Membership {
	return &Membership{
		ID:          uuid.New(),
		GroupID:     groupID,
		Nickname:    "guest",
		Role:        RoleMember,
		GuestDigest: sql.NullString{String: guest.Digest(token), Valid: true},
	}
}

func TestMerge(t *testing.T) {
	ctx := context.Background()

	t.Run("claims a matching guest membership", func(t *testing.T) {
		store := newFakeMergeStore()
		groupID := uuid.New()
		m := store.add(guestMembership(groupID, "token-a"))
		userID := uuid.New()

		err := NewMerger(store).Merge(ctx, userID, map[uuid.UUID]string{groupID: "token-a"})
		if err != nil {
			t.Fatalf("Merge failed: %v", err)
		}
		if !m.UserID.Valid || m.UserID.UUID != userID {
			t.Errorf("membership user id = %v, want %v", m.UserID, userID)
		}
		if m.GuestDigest.Valid {
			t.Error("digest must be cleared on claim")
		}
	})

	t.Run("removes the guest row when the account is already a member", func(t *testing.T) {
		store := newFakeMergeStore()
		groupID := uuid.New()
		userID := uuid.New()
		store.add(&Membership{
			ID: uuid.New(), GroupID: groupID, Nickname: "hana", Role: RoleMember,
			UserID: uuid.NullUUID{UUID: userID, Valid: true},
		})
		redundant := store.add(guestMembership(groupID, "token-a"))

		err := NewMerger(store).Merge(ctx, userID, map[uuid.UUID]string{groupID: "token-a"})
		if err != nil {
			t.Fatalf("Merge failed: %v", err)
		}
		if store.claims != 0 {
			t.Error("nothing should have been claimed")
		}
		if _, ok := store.memberships[redundant.ID]; ok {
			t.Error("redundant guest membership should have been removed")
		}
	})

	t.Run("skips tokens that resolve nothing", func(t *testing.T) {
		store := newFakeMergeStore()
		groupID := uuid.New()
		store.add(guestMembership(groupID, "token-a"))

		err := NewMerger(store).Merge(ctx, uuid.New(), map[uuid.UUID]string{groupID: "stale-token"})
		if err != nil {
			t.Fatalf("Merge failed: %v", err)
		}
		if store.claims != 0 || store.removals != 0 {
			t.Error("a non-matching token must leave the registry untouched")
		}
	})

	t.Run("merging twice with the same tokens is a no-op the second time", func(t *testing.T) {
		store := newFakeMergeStore()
		groupID := uuid.New()
		store.add(guestMembership(groupID, "token-a"))
		userID := uuid.New()
		tokens := map[uuid.UUID]string{groupID: "token-a"}

		merger := NewMerger(store)
		if err := merger.Merge(ctx, userID, tokens); err != nil {
			t.Fatalf("first Merge failed: %v", err)
		}
		if err := merger.Merge(ctx, userID, tokens); err != nil {
			t.Fatalf("second Merge failed: %v", err)
		}
		if store.claims != 1 {
			t.Errorf("claims = %d, want exactly 1", store.claims)
		}
		if store.removals != 0 {
			t.Errorf("removals = %d, want 0", store.removals)
		}
	})

	t.Run("handles multiple groups in one pass", func(t *testing.T) {
		store := newFakeMergeStore()
		groupA, groupB := uuid.New(), uuid.New()
		store.add(guestMembership(groupA, "token-a"))
		store.add(guestMembership(groupB, "token-b"))
		userID := uuid.New()

		err := NewMerger(store).Merge(ctx, userID, map[uuid.UUID]string{
			groupA: "token-a",
			groupB: "token-b",
		})
		if err != nil {
			t.Fatalf("Merge failed: %v", err)
		}
		if store.claims != 2 {
			t.Errorf("claims = %d, want 2", store.claims)
		}
	})
}
