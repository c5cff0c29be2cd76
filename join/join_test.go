package join

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kfujino/tomotabi/group"
	"github.com/kfujino/tomotabi/guest"
	"github.com/kfujino/tomotabi/principal"
)

type fakeRegistry struct {
	memberships map[uuid.UUID]*group.Membership
	insertErr   error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{memberships: make(map[uuid.UUID]*group.Membership)}
}

func (f *fakeRegistry) add(m *group.Membership) *group.Membership {
	f.memberships[m.ID] = m
	return m
}

func (f *fakeRegistry) FindByNickname(_ context.Context, groupID uuid.UUID, nickname string) (*group.Membership, error) {
	for _, m := range f.memberships {
		if m.GroupID == groupID && m.Nickname == nickname {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeRegistry) Insert(_ context.Context, m *group.Membership) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	for _, existing := range f.memberships {
		if existing.GroupID == m.GroupID && existing.Nickname == m.Nickname {
			return group.ErrNicknameTaken
		}
	}
	f.memberships[m.ID] = m
	return nil
}

func (f *fakeRegistry) Claim(_ context.Context, membershipID, userID uuid.UUID) error {
	m := f.memberships[membershipID]
	m.UserID = uuid.NullUUID{UUID: userID, Valid: true}
	m.GuestDigest = sql.NullString{}
	return nil
}

func (f *fakeRegistry) BindGuestDigest(_ context.Context, membershipID uuid.UUID, digest string) error {
	m := f.memberships[membershipID]
	m.GuestDigest = sql.NullString{String: digest, Valid: true}
	return nil
}

func testGroup() *group.Group {
	return &group.Group{ID: uuid.New(), Name: "Kyoto trip", CreatedAt: time.Now()}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{"new", ModeNew, false},
		{"existing", ModeExisting, false},
		{"", 0, true},
		{"admin", 0, true},
	}

	for _, tt := range tests {
		mode, err := ParseMode(tt.input)
		if tt.wantErr {
			if !errors.Is(err, ErrUnsupportedJoinMode) {
				t.Errorf("ParseMode(%q) error = %v, want ErrUnsupportedJoinMode", tt.input, err)
			}
			continue
		}
		if err != nil || mode != tt.want {
			t.Errorf("ParseMode(%q) = %v, %v, want %v", tt.input, mode, err, tt.want)
		}
	}
}

func TestNewNickname(t *testing.T) {
	ctx := context.Background()

	t.Run("anonymous join issues a guest token", func(t *testing.T) {
		reg := newFakeRegistry()
		g := testGroup()

		result, err := Execute(ctx, reg, ModeNew, g, "taro", principal.Anonymous())
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if result.GuestToken == "" {
			t.Fatal("expected a guest token for an anonymous join")
		}

		m := reg.memberships[result.MembershipID]
		if m == nil {
			t.Fatal("membership was not inserted")
		}
		if m.Role != group.RoleMember {
			t.Errorf("role = %v, want member", m.Role)
		}
		if m.UserID.Valid {
			t.Error("guest membership must not carry an account id")
		}
		if !m.GuestDigest.Valid || m.GuestDigest.String != guest.Digest(result.GuestToken) {
			t.Error("stored digest does not match the issued token")
		}
	})

	t.Run("account join carries no token", func(t *testing.T) {
		reg := newFakeRegistry()
		g := testGroup()
		userID := uuid.New()

		result, err := Execute(ctx, reg, ModeNew, g, "hana", principal.Account(userID))
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if result.GuestToken != "" {
			t.Error("account join must not issue a guest token")
		}

		m := reg.memberships[result.MembershipID]
		if !m.UserID.Valid || m.UserID.UUID != userID {
			t.Errorf("membership user id = %v, want %v", m.UserID, userID)
		}
		if m.GuestDigest.Valid {
			t.Error("account membership must not carry a guest digest")
		}
	})

	t.Run("duplicate nickname", func(t *testing.T) {
		reg := newFakeRegistry()
		g := testGroup()
		reg.add(&group.Membership{ID: uuid.New(), GroupID: g.ID, Nickname: "taro", Role: group.RoleMember})

		_, err := Execute(ctx, reg, ModeNew, g, "taro", principal.Anonymous())
		if !errors.Is(err, group.ErrNicknameTaken) {
			t.Fatalf("error = %v, want ErrNicknameTaken", err)
		}
	})

	t.Run("race lost at the database also reads as taken", func(t *testing.T) {
		reg := newFakeRegistry()
		reg.insertErr = group.ErrNicknameTaken
		g := testGroup()

		_, err := Execute(ctx, reg, ModeNew, g, "taro", principal.Anonymous())
		if !errors.Is(err, group.ErrNicknameTaken) {
			t.Fatalf("error = %v, want ErrNicknameTaken", err)
		}
	})

	t.Run("nickname validation", func(t *testing.T) {
		reg := newFakeRegistry()
		g := testGroup()

		if _, err := Execute(ctx, reg, ModeNew, g, "", principal.Anonymous()); !errors.Is(err, group.ErrNicknameRequired) {
			t.Errorf("blank nickname error = %v, want ErrNicknameRequired", err)
		}
		long := "this nickname is far too long"
		if _, err := Execute(ctx, reg, ModeNew, g, long, principal.Anonymous()); !errors.Is(err, group.ErrNicknameTooLong) {
			t.Errorf("long nickname error = %v, want ErrNicknameTooLong", err)
		}
	})
}

func TestReclaimNickname(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown nickname", func(t *testing.T) {
		reg := newFakeRegistry()
		g := testGroup()

		_, err := Execute(ctx, reg, ModeExisting, g, "nobody", principal.Anonymous())
		if !errors.Is(err, group.ErrNicknameNotFound) {
			t.Fatalf("error = %v, want ErrNicknameNotFound", err)
		}
	})

	t.Run("account claims an unclaimed membership", func(t *testing.T) {
		reg := newFakeRegistry()
		g := testGroup()
		m := reg.add(&group.Membership{
			ID: uuid.New(), GroupID: g.ID, Nickname: "taro", Role: group.RoleMember,
			GuestDigest: sql.NullString{String: guest.Digest("old-token"), Valid: true},
		})
		userID := uuid.New()

		result, err := Execute(ctx, reg, ModeExisting, g, "taro", principal.Account(userID))
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if result.MembershipID != m.ID {
			t.Error("expected the existing membership to be reused")
		}
		if !m.UserID.Valid || m.UserID.UUID != userID {
			t.Errorf("membership user id = %v, want %v", m.UserID, userID)
		}
		if m.GuestDigest.Valid {
			t.Error("digest must be cleared on claim")
		}
	})

	t.Run("account reclaiming its own membership is a no-op", func(t *testing.T) {
		reg := newFakeRegistry()
		g := testGroup()
		userID := uuid.New()
		m := reg.add(&group.Membership{
			ID: uuid.New(), GroupID: g.ID, Nickname: "taro", Role: group.RoleMember,
			UserID: uuid.NullUUID{UUID: userID, Valid: true},
		})

		result, err := Execute(ctx, reg, ModeExisting, g, "taro", principal.Account(userID))
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if result.MembershipID != m.ID || result.GuestToken != "" {
			t.Errorf("unexpected result %+v", result)
		}
	})

	t.Run("account cannot take over another account's membership", func(t *testing.T) {
		reg := newFakeRegistry()
		g := testGroup()
		reg.add(&group.Membership{
			ID: uuid.New(), GroupID: g.ID, Nickname: "taro", Role: group.RoleMember,
			UserID: uuid.NullUUID{UUID: uuid.New(), Valid: true},
		})

		_, err := Execute(ctx, reg, ModeExisting, g, "taro", principal.Account(uuid.New()))
		if !errors.Is(err, group.ErrTokenMismatch) {
			t.Fatalf("error = %v, want ErrTokenMismatch", err)
		}
	})

	t.Run("anonymous caller never reclaims an account-held membership", func(t *testing.T) {
		reg := newFakeRegistry()
		g := testGroup()
		m := reg.add(&group.Membership{
			ID: uuid.New(), GroupID: g.ID, Nickname: "taro", Role: group.RoleMember,
			UserID: uuid.NullUUID{UUID: uuid.New(), Valid: true},
		})

		_, err := Execute(ctx, reg, ModeExisting, g, "taro", principal.Anonymous())
		if !errors.Is(err, group.ErrTokenMismatch) {
			t.Fatalf("error = %v, want ErrTokenMismatch", err)
		}
		if !m.UserID.Valid {
			t.Error("membership must stay with its account")
		}
	})

	t.Run("anonymous reclaim of a guest membership issues a fresh token", func(t *testing.T) {
		reg := newFakeRegistry()
		g := testGroup()
		m := reg.add(&group.Membership{
			ID: uuid.New(), GroupID: g.ID, Nickname: "taro", Role: group.RoleMember,
		})

		result, err := Execute(ctx, reg, ModeExisting, g, "taro", principal.Anonymous())
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if result.GuestToken == "" {
			t.Fatal("expected a fresh guest token")
		}
		if !m.GuestDigest.Valid || m.GuestDigest.String != guest.Digest(result.GuestToken) {
			t.Error("membership digest does not match the issued token")
		}
	})
}
