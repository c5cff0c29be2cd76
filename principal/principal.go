// Package principal defines the resolved identity of a request: either an
// authenticated account or an anonymous guest carrying per-group tokens.
package principal

import "github.com/google/uuid"

type Kind int

const (
	// KindGuest is a principal identified only by the guest tokens it
	// holds. A guest with no tokens is effectively anonymous.
	KindGuest Kind = iota
	// KindAccount is a principal backed by an authenticated user session.
	KindAccount
)

type Principal struct {
	Kind   Kind
	UserID uuid.UUID

	// Tokens maps group id to the plaintext guest token the client
	// presented for that group. Only set for KindGuest.
	Tokens map[uuid.UUID]string
}

func Account(userID uuid.UUID) Principal {
	return Principal{Kind: KindAccount, UserID: userID}
}

func Guest(tokens map[uuid.UUID]string) Principal {
	return Principal{Kind: KindGuest, Tokens: tokens}
}

// Anonymous is a guest holding no tokens.
func Anonymous() Principal {
	return Principal{Kind: KindGuest}
}

func (p Principal) IsAccount() bool {
	return p.Kind == KindAccount
}

// TokenFor returns the guest token the client holds for the given group,
// if any. Always empty for account principals.
func (p Principal) TokenFor(groupID uuid.UUID) (string, bool) {
	if p.Kind != KindGuest {
		return "", false
	}
	token, ok := p.Tokens[groupID]
	return token, ok
}
