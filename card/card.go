// Package card holds the itinerary surface: cards of points of interest,
// their day-by-day schedule rows, and the comments and likes members leave
// on them.
package card

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kfujino/tomotabi/authz"
)

var (
	ErrEmptyTitle = errors.New("title can't be blank")
	ErrEmptyBody  = errors.New("body can't be blank")
	ErrEmptySpot  = errors.New("spot name can't be blank")
)

// Card is an itinerary card, owned either by a group or by an individual
// account.
type Card struct {
	ID    uuid.UUID
	Title string
	Body  string
	Owner authz.Owner
	// CreatedBy is the authoring membership for group-owned cards; unset
	// for personal ones.
	CreatedBy uuid.NullUUID
	CreatedAt time.Time
}

// Schedule is one stop on a card's day-by-day plan.
type Schedule struct {
	ID       uuid.UUID
	CardID   uuid.UUID
	Day      int
	Position int
	Spot     string
	Memo     string
}

type Comment struct {
	ID           uuid.UUID
	CardID       uuid.UUID
	MembershipID uuid.UUID
	Body         string
	CreatedAt    time.Time
}

type Like struct {
	CardID       uuid.UUID
	MembershipID uuid.UUID
}

// Resource describes a card to the authorization policy.
func (c *Card) Resource() authz.Resource {
	return authz.Resource{Owner: c.Owner}
}

// Resource describes a comment to the authorization policy: group-scoped,
// with the authoring membership as the record of ownership.
func (cm *Comment) Resource(groupID uuid.UUID) authz.Resource {
	return authz.Resource{
		Owner:  authz.GroupOwner(groupID),
		Author: uuid.NullUUID{UUID: cm.MembershipID, Valid: true},
	}
}

func NewCard(title, body string, owner authz.Owner, createdBy uuid.NullUUID) (*Card, error) {
	if title == "" {
		return nil, ErrEmptyTitle
	}
	return &Card{
		ID:        uuid.New(),
		Title:     title,
		Body:      body,
		Owner:     owner,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func NewComment(cardID, membershipID uuid.UUID, body string) (*Comment, error) {
	if body == "" {
		return nil, ErrEmptyBody
	}
	return &Comment{
		ID:           uuid.New(),
		CardID:       cardID,
		MembershipID: membershipID,
		Body:         body,
		CreatedAt:    time.Now().UTC(),
	}, nil
}
