// Package guest manages the client-held guest token map: an HS256-signed
// cookie holding one opaque token per joined group. Only a SHA-256 digest of
// each token is ever persisted server-side.
package guest

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	CookieName = "guest_tokens"

	cookieDuration = 365 * 24 * time.Hour
)

// TokenStore provides read/write access to the client-held token map.
type TokenStore interface {
	// Get returns the token map the request carries. A missing or
	// malformed cookie yields an empty map, never an error.
	Get(r *http.Request) map[uuid.UUID]string
	// Set writes the token map back to the client.
	Set(w http.ResponseWriter, tokens map[uuid.UUID]string)
}

type tokenClaims struct {
	Groups map[string]string `json:"groups"`
	jwt.RegisteredClaims
}

// CookieTokenStore implements TokenStore over a signed cookie.
type CookieTokenStore struct {
	secret []byte
}

func NewCookieTokenStore(secret string) *CookieTokenStore {
	return &CookieTokenStore{secret: []byte(secret)}
}

func (s *CookieTokenStore) Get(r *http.Request) map[uuid.UUID]string {
	tokens := make(map[uuid.UUID]string)

	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return tokens
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(cookie.Value, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		// A tampered or stale cookie is treated as holding nothing.
		return tokens
	}

	for groupID, token := range claims.Groups {
		id, err := uuid.Parse(groupID)
		if err != nil {
			continue
		}
		tokens[id] = token
	}

	return tokens
}

func (s *CookieTokenStore) Set(w http.ResponseWriter, tokens map[uuid.UUID]string) {
	groups := make(map[string]string, len(tokens))
	for groupID, token := range tokens {
		groups[groupID.String()] = token
	}

	claims := &tokenClaims{
		Groups: groups,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(cookieDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		// Signing only fails on a broken key; drop the cookie update.
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    signed,
		Path:     "/",
		Expires:  time.Now().Add(cookieDuration),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// NewToken generates a fresh high-entropy guest token.
func NewToken() (string, error) {
	b := make([]byte, 32)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// Digest returns the one-way digest of a token as stored server-side.
// Token equality is always checked digest-to-digest.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
