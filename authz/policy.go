// Package authz answers whether a principal may perform an action on a
// resource. Denials are outcomes, never errors.
package authz

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kfujino/tomotabi/group"
	"github.com/kfujino/tomotabi/principal"
)

type Action int

const (
	ActionRead Action = iota
	ActionEdit
	ActionDelete
)

type OwnerKind int

const (
	OwnerGroup OwnerKind = iota + 1
	OwnerAccount
)

// Owner is the tagged variant over the two kinds of resource ownership:
// group-scoped or personally owned by an account.
type Owner struct {
	Kind      OwnerKind
	GroupID   uuid.UUID
	AccountID uuid.UUID
}

func GroupOwner(groupID uuid.UUID) Owner {
	return Owner{Kind: OwnerGroup, GroupID: groupID}
}

func AccountOwner(accountID uuid.UUID) Owner {
	return Owner{Kind: OwnerAccount, AccountID: accountID}
}

// Resource describes the checked resource: who owns it and, where authorship
// applies (expenses, comments), the membership of record.
type Resource struct {
	Owner Owner
	// Author is the recorded payer/author membership. When set, edit and
	// delete require the acting membership to match it; group membership
	// alone is not enough.
	Author uuid.NullUUID
}

// Memberships is the slice of the registry the policy consults.
type Memberships interface {
	FindMembership(ctx context.Context, p principal.Principal, groupID uuid.UUID) (*group.Membership, error)
}

type Policy struct {
	memberships Memberships
}

func NewPolicy(memberships Memberships) *Policy {
	return &Policy{memberships: memberships}
}

// CanAccess reports whether the principal may perform the action on the
// resource. Storage failures deny access rather than propagate.
func (pl *Policy) CanAccess(ctx context.Context, p principal.Principal, res Resource, action Action) bool {
	switch res.Owner.Kind {
	case OwnerAccount:
		return p.IsAccount() && p.UserID == res.Owner.AccountID

	case OwnerGroup:
		m, err := pl.memberships.FindMembership(ctx, p, res.Owner.GroupID)
		if err != nil {
			slog.Error("membership lookup failed, denying access", "error", err, "group_id", res.Owner.GroupID)
			return false
		}
		if m == nil {
			return false
		}
		if action == ActionRead || !res.Author.Valid {
			return true
		}
		return m.ID == res.Author.UUID

	default:
		return false
	}
}
