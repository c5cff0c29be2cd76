package expense

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kfujino/tomotabi/group"
)

var (
	ErrEmptyTitle           = errors.New("title can't be blank")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrNoParticipants       = errors.New("an expense needs at least one participant")
	ErrDuplicateParticipant = errors.New("a member can't participate twice in one expense")
	ErrUnknownParticipant   = errors.New("participant is not a member of this group")
)

// Expense is one ledger entry: who paid, how much, and which memberships
// share the cost. Amount is in the smallest currency unit.
type Expense struct {
	ID      uuid.UUID `json:"id,omitempty"`
	GroupID uuid.UUID `json:"group_id,omitempty"`
	// PayerID references a membership of the same group. Nulled, not
	// deleted, when that membership is removed so ledger history survives.
	PayerID      uuid.NullUUID `json:"payer_id,omitempty"`
	Title        string        `json:"title,omitempty"`
	Amount       int64         `json:"amount,omitempty"`
	SpentOn      time.Time     `json:"spent_on,omitempty"`
	CreatedAt    time.Time     `json:"created_at,omitempty"`
	Participants []uuid.UUID   `json:"participants,omitempty"`
}

// New validates and builds an expense. Participants are membership ids of the
// same group; the set must be non-empty and free of duplicates.
func New(groupID, payerMembershipID uuid.UUID, title string, amount int64, spentOn time.Time, participants []uuid.UUID) (*Expense, error) {
	if err := validate(title, amount, participants); err != nil {
		return nil, err
	}

	return &Expense{
		ID:           uuid.New(),
		GroupID:      groupID,
		PayerID:      uuid.NullUUID{UUID: payerMembershipID, Valid: true},
		Title:        title,
		Amount:       amount,
		SpentOn:      spentOn,
		CreatedAt:    time.Now().UTC(),
		Participants: participants,
	}, nil
}

// Apply validates the edited values and writes them onto the expense. Edits
// go through the same checks as New, so nothing invalid reaches storage.
func (e *Expense) Apply(title string, amount int64, spentOn time.Time, participants []uuid.UUID) error {
	if err := validate(title, amount, participants); err != nil {
		return err
	}
	e.Title = title
	e.Amount = amount
	e.SpentOn = spentOn
	e.Participants = participants
	return nil
}

// CheckMembership verifies that every participant references one of the
// group's own memberships. The foreign key on expense_participants only
// requires the membership to exist somewhere; a membership id from another
// group would otherwise slip into the ledger and its share would never be
// settled.
func CheckMembership(participants []uuid.UUID, members []group.Membership) error {
	known := make(map[uuid.UUID]struct{}, len(members))
	for _, m := range members {
		known[m.ID] = struct{}{}
	}
	for _, id := range participants {
		if _, ok := known[id]; !ok {
			return ErrUnknownParticipant
		}
	}
	return nil
}

func validate(title string, amount int64, participants []uuid.UUID) error {
	if title == "" {
		return ErrEmptyTitle
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if len(participants) == 0 {
		return ErrNoParticipants
	}
	seen := make(map[uuid.UUID]struct{}, len(participants))
	for _, id := range participants {
		if _, ok := seen[id]; ok {
			return ErrDuplicateParticipant
		}
		seen[id] = struct{}{}
	}
	return nil
}
