package expense

import (
	"math"

	"github.com/google/uuid"

	"github.com/kfujino/tomotabi/group"
)

// MemberBalance is one membership's position in the group ledger.
type MemberBalance struct {
	MembershipID uuid.UUID
	Nickname     string
	// Paid is the total this membership paid out, in the smallest
	// currency unit.
	Paid int64
	// Participation is the total of this membership's per-expense shares.
	Participation float64
	// Settlement is Paid minus Participation: positive means the group
	// owes this member.
	Settlement float64
}

// Settle derives every membership's net balance from the expense ledger.
//
// Each expense is split equally over its participants and the share is
// truncated to one decimal per expense before summing. When an amount does
// not divide evenly the truncated residual is distributed to no one; this is
// a known, kept rounding loss, so the settlements of such an expense do not
// sum exactly to zero.
//
// Memberships with no expense involvement get explicit zero balances. The
// ledger is recomputed in full on every call; nothing is cached.
func Settle(memberships []group.Membership, expenses []Expense) []MemberBalance {
	paid := make(map[uuid.UUID]int64, len(memberships))
	participation := make(map[uuid.UUID]float64, len(memberships))

	for _, e := range expenses {
		if e.PayerID.Valid {
			paid[e.PayerID.UUID] += e.Amount
		}
		if len(e.Participants) == 0 {
			continue
		}
		share := truncateTenth(float64(e.Amount) / float64(len(e.Participants)))
		for _, membershipID := range e.Participants {
			participation[membershipID] += share
		}
	}

	balances := make([]MemberBalance, 0, len(memberships))
	for _, m := range memberships {
		b := MemberBalance{
			MembershipID:  m.ID,
			Nickname:      m.Nickname,
			Paid:          paid[m.ID],
			Participation: participation[m.ID],
		}
		b.Settlement = float64(b.Paid) - b.Participation
		balances = append(balances, b)
	}

	return balances
}

func truncateTenth(x float64) float64 {
	return math.Trunc(x*10) / 10
}
