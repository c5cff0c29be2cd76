package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/kfujino/tomotabi/group"
	"github.com/kfujino/tomotabi/principal"
)

type fakeMemberships struct {
	byGroup map[uuid.UUID]*group.Membership
	err     error
	calls   int
}

func (f *fakeMemberships) FindMembership(_ context.Context, _ principal.Principal, groupID uuid.UUID) (*group.Membership, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.byGroup[groupID], nil
}

func TestCanAccess(t *testing.T) {
	ctx := context.Background()
	groupID := uuid.New()
	accountID := uuid.New()
	membershipID := uuid.New()

	memberOf := func(id uuid.UUID) *fakeMemberships {
		return &fakeMemberships{byGroup: map[uuid.UUID]*group.Membership{
			groupID: {ID: id, GroupID: groupID, Nickname: "taro", Role: group.RoleMember},
		}}
	}

	tests := []struct {
		name        string
		memberships *fakeMemberships
		principal   principal.Principal
		resource    Resource
		action      Action
		want        bool
	}{
		{
			name:        "member reads a group resource",
			memberships: memberOf(membershipID),
			principal:   principal.Anonymous(),
			resource:    Resource{Owner: GroupOwner(groupID)},
			action:      ActionRead,
			want:        true,
		},
		{
			name:        "non-member is denied",
			memberships: &fakeMemberships{},
			principal:   principal.Anonymous(),
			resource:    Resource{Owner: GroupOwner(groupID)},
			action:      ActionRead,
			want:        false,
		},
		{
			name:        "member edits an authorless group resource",
			memberships: memberOf(membershipID),
			principal:   principal.Anonymous(),
			resource:    Resource{Owner: GroupOwner(groupID)},
			action:      ActionEdit,
			want:        true,
		},
		{
			name:        "author edits their own entry",
			memberships: memberOf(membershipID),
			principal:   principal.Anonymous(),
			resource:    Resource{Owner: GroupOwner(groupID), Author: uuid.NullUUID{UUID: membershipID, Valid: true}},
			action:      ActionEdit,
			want:        true,
		},
		{
			name:        "non-author cannot delete someone else's entry",
			memberships: memberOf(membershipID),
			principal:   principal.Anonymous(),
			resource:    Resource{Owner: GroupOwner(groupID), Author: uuid.NullUUID{UUID: uuid.New(), Valid: true}},
			action:      ActionDelete,
			want:        false,
		},
		{
			name:        "non-author can still read an authored entry",
			memberships: memberOf(membershipID),
			principal:   principal.Anonymous(),
			resource:    Resource{Owner: GroupOwner(groupID), Author: uuid.NullUUID{UUID: uuid.New(), Valid: true}},
			action:      ActionRead,
			want:        true,
		},
		{
			name:        "account reads its own personal resource",
			memberships: &fakeMemberships{},
			principal:   principal.Account(accountID),
			resource:    Resource{Owner: AccountOwner(accountID)},
			action:      ActionRead,
			want:        true,
		},
		{
			name:        "another account is denied a personal resource",
			memberships: &fakeMemberships{},
			principal:   principal.Account(uuid.New()),
			resource:    Resource{Owner: AccountOwner(accountID)},
			action:      ActionRead,
			want:        false,
		},
		{
			name:        "anonymous is denied a personal resource",
			memberships: &fakeMemberships{},
			principal:   principal.Anonymous(),
			resource:    Resource{Owner: AccountOwner(accountID)},
			action:      ActionRead,
			want:        false,
		},
		{
			name:        "storage failure denies instead of erroring",
			memberships: &fakeMemberships{err: errors.New("connection reset")},
			principal:   principal.Anonymous(),
			resource:    Resource{Owner: GroupOwner(groupID)},
			action:      ActionRead,
			want:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := NewPolicy(tt.memberships)
			got := policy.CanAccess(ctx, tt.principal, tt.resource, tt.action)
			if got != tt.want {
				t.Errorf("CanAccess = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("personal resources never hit the registry", func(t *testing.T) {
		memberships := &fakeMemberships{}
		policy := NewPolicy(memberships)
		policy.CanAccess(ctx, principal.Account(accountID), Resource{Owner: AccountOwner(accountID)}, ActionEdit)
		if memberships.calls != 0 {
			t.Errorf("registry consulted %d times, want 0", memberships.calls)
		}
	})
}
