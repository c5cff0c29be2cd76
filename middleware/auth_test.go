package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kfujino/tomotabi/guest"
	"github.com/kfujino/tomotabi/principal"
	"github.com/kfujino/tomotabi/session"
)

type fakeSessionRepo struct {
	byToken map[string]*session.Session
}

func (f *fakeSessionRepo) Create(_ context.Context, userID uuid.UUID) (*session.Session, error) {
	s := &session.Session{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     uuid.NewString(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	f.byToken[s.Token] = s
	return s, nil
}

func (f *fakeSessionRepo) GetByToken(_ context.Context, token string) (*session.Session, error) {
	s, ok := f.byToken[token]
	if !ok {
		return nil, session.ErrInvalidSession
	}
	return s, nil
}

func (f *fakeSessionRepo) Delete(_ context.Context, token string) error {
	delete(f.byToken, token)
	return nil
}

func (f *fakeSessionRepo) DeleteByUserID(_ context.Context, _ uuid.UUID) error { return nil }

func (f *fakeSessionRepo) DeleteExpired(_ context.Context) (int64, error) { return 0, nil }

func resolve(t *testing.T, repo session.Repository, tokens guest.TokenStore, r *http.Request) (principal.Principal, *httptest.ResponseRecorder) {
	t.Helper()
	var got principal.Principal
	handler := ResolveIdentity(repo, tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetPrincipal(r.Context())
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	return got, rec
}

func TestResolveIdentity(t *testing.T) {
	tokens := guest.NewCookieTokenStore("test-secret")

	t.Run("valid session resolves an account", func(t *testing.T) {
		repo := &fakeSessionRepo{byToken: map[string]*session.Session{}}
		userID := uuid.New()
		sess, _ := repo.Create(context.Background(), userID)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: session.CookieName, Value: sess.Token})

		p, _ := resolve(t, repo, tokens, r)
		if !p.IsAccount() || p.UserID != userID {
			t.Errorf("principal = %+v, want account %s", p, userID)
		}
	})

	t.Run("stale session cookie is cleared and resolves a guest", func(t *testing.T) {
		repo := &fakeSessionRepo{byToken: map[string]*session.Session{}}

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: session.CookieName, Value: "gone"})

		p, rec := resolve(t, repo, tokens, r)
		if p.IsAccount() {
			t.Error("stale session must not resolve an account")
		}

		cleared := false
		for _, c := range rec.Result().Cookies() {
			if c.Name == session.CookieName && c.MaxAge < 0 {
				cleared = true
			}
		}
		if !cleared {
			t.Error("stale session cookie should have been cleared")
		}
	})

	t.Run("guest carries its token map", func(t *testing.T) {
		repo := &fakeSessionRepo{byToken: map[string]*session.Session{}}
		groupID := uuid.New()

		seed := httptest.NewRecorder()
		tokens.Set(seed, map[uuid.UUID]string{groupID: "token-a"})

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		for _, c := range seed.Result().Cookies() {
			r.AddCookie(c)
		}

		p, _ := resolve(t, repo, tokens, r)
		if p.IsAccount() {
			t.Fatal("expected a guest principal")
		}
		token, ok := p.TokenFor(groupID)
		if !ok || token != "token-a" {
			t.Errorf("TokenFor = %q, %v, want token-a", token, ok)
		}
	})

	t.Run("bare request resolves anonymous", func(t *testing.T) {
		repo := &fakeSessionRepo{byToken: map[string]*session.Session{}}
		p, _ := resolve(t, repo, tokens, httptest.NewRequest(http.MethodGet, "/", nil))
		if p.IsAccount() {
			t.Error("expected an anonymous principal")
		}
		if _, ok := p.TokenFor(uuid.New()); ok {
			t.Error("anonymous principal must hold no tokens")
		}
	})
}

func TestRequireAccount(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	guard := RequireAccount("/signin")(next)

	t.Run("account passes through", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/home", nil)
		ctx := context.WithValue(r.Context(), PrincipalKey, principal.Account(uuid.New()))
		rec := httptest.NewRecorder()
		guard.ServeHTTP(rec, r.WithContext(ctx))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("guest is redirected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		guard.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/home", nil))
		if rec.Code != http.StatusSeeOther {
			t.Errorf("status = %d, want 303", rec.Code)
		}
		if loc := rec.Header().Get("Location"); loc != "/signin" {
			t.Errorf("redirect to %q, want /signin", loc)
		}
	})
}
