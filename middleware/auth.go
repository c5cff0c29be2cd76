package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/kfujino/tomotabi/guest"
	"github.com/kfujino/tomotabi/principal"
	"github.com/kfujino/tomotabi/session"
)

type contextKey string

const PrincipalKey contextKey = "principal"

// ResolveIdentity produces exactly one principal per request: an account when
// the session cookie is valid, otherwise a guest carrying whatever tokens the
// client-held token map holds. A malformed token map resolves to an empty
// map, never an error.
func ResolveIdentity(sessionRepo session.Repository, tokens guest.TokenStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := principal.Anonymous()

			cookie, err := r.Cookie(session.CookieName)
			if err == nil {
				sess, err := sessionRepo.GetByToken(r.Context(), cookie.Value)
				if err == nil {
					p = principal.Account(sess.UserID)
				} else {
					// Invalid or expired session; drop the cookie.
					http.SetCookie(w, &http.Cookie{
						Name:   session.CookieName,
						Value:  "",
						Path:   "/",
						MaxAge: -1,
					})
				}
			}

			if !p.IsAccount() {
				p = principal.Guest(tokens.Get(r))
			}

			ctx := context.WithValue(r.Context(), PrincipalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAccount redirects guests and anonymous callers away from
// account-only routes.
func RequireAccount(redirectTo string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !GetPrincipal(r.Context()).IsAccount() {
				http.Redirect(w, r, redirectTo, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the resolved principal from the context. Requests
// outside ResolveIdentity resolve as anonymous.
func GetPrincipal(ctx context.Context) principal.Principal {
	p, ok := ctx.Value(PrincipalKey).(principal.Principal)
	if !ok {
		return principal.Anonymous()
	}
	return p
}

// GetUserID extracts the authenticated account id from the context.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	p := GetPrincipal(ctx)
	return p.UserID, p.IsAccount()
}

// IsAuthenticated checks if the request carries an account principal.
func IsAuthenticated(ctx context.Context) bool {
	return GetPrincipal(ctx).IsAccount()
}
