// Package audit records an append-only trail of the actions principals take.
// Events are written off the request path by a Recorder.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names what happened. The set is closed; handlers pick from it rather
// than inventing strings.
type Type string

const (
	TypeUserRegistered Type = "user.registered"
	TypeUserSignedIn   Type = "user.signed_in"
	TypeUserRenamed    Type = "user.renamed"
	TypeGroupCreated   Type = "group.created"
	TypeMemberJoined   Type = "group.member_joined"
	TypeMemberRemoved  Type = "group.member_removed"
	TypeExpenseAdded   Type = "expense.added"
	TypeCardCreated    Type = "card.created"
	TypeHealthCheck    Type = "health.checked"
)

type Event struct {
	ID        uuid.UUID         `json:"id"`
	Type      Type              `json:"event_type"`
	Actor     string            `json:"actor,omitempty"`
	Data      map[string]string `json:"event_data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

type Option func(*Event)

// WithActor tags the event with the acting identity, e.g. an account id or
// "guest". Never put a guest token here.
func WithActor(actor string) Option {
	return func(e *Event) {
		e.Actor = actor
	}
}

func WithData(data map[string]string) Option {
	return func(e *Event) {
		e.Data = data
	}
}

func NewEvent(eventType Type, opts ...Option) Event {
	e := Event{
		ID:        uuid.New(),
		Type:      eventType,
		CreatedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Store persists the trail.
type Store interface {
	Save(ctx context.Context, e Event) error
	ListByType(ctx context.Context, eventType Type) ([]Event, error)
}
