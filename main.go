package main

import (
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	chimiddleware "github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kfujino/tomotabi/audit"
	"github.com/kfujino/tomotabi/authz"
	"github.com/kfujino/tomotabi/card"
	"github.com/kfujino/tomotabi/db"
	"github.com/kfujino/tomotabi/expense"
	"github.com/kfujino/tomotabi/group"
	"github.com/kfujino/tomotabi/guest"
	"github.com/kfujino/tomotabi/logging"
	"github.com/kfujino/tomotabi/metrics"
	"github.com/kfujino/tomotabi/middleware"
	"github.com/kfujino/tomotabi/session"
	"github.com/kfujino/tomotabi/user"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	logging.Setup()

	databaseURL := getEnv("DATABASE_URL", "host=localhost port=5432 user=postgres password=postgres dbname=tomotabi sslmode=disable")
	listenAddr := getEnv("LISTEN_ADDR", ":5000")
	tokenSecret := getEnv("TOKEN_SECRET", "")
	if tokenSecret == "" {
		printErrorAndExit("TOKEN_SECRET must be set", nil)
	}

	conn, err := db.Open(databaseURL)
	if err != nil {
		printErrorAndExit("database connection", err)
	}
	defer conn.Close()

	recorder := audit.NewRecorder(audit.NewSQLStore(conn), 100)
	recorder.Start()
	defer recorder.Shutdown()

	userRepo := user.NewRepository(conn)
	sessionRepo := session.NewRepository(conn)
	registry := group.NewRegistry(conn)
	expenseRepo := expense.NewRepository(conn)
	cardRepo := card.NewRepository(conn)

	tokenStore := guest.NewCookieTokenStore(tokenSecret)
	merger := group.NewMerger(registry)
	policy := authz.NewPolicy(registry)

	if n, err := sessionRepo.DeleteExpired(context.Background()); err == nil && n > 0 {
		slog.Info("pruned expired sessions", "count", n)
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.Logger)
	router.Use(metrics.Middleware)
	router.Use(middleware.ResolveIdentity(sessionRepo, tokenStore))

	// Public routes
	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if middleware.IsAuthenticated(r.Context()) {
			http.Redirect(w, r, "/home", http.StatusSeeOther)
			return
		}
		renderPage(w, "index.html", map[string]any{
			"Error": r.URL.Query().Get("error"),
		})
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		recorder.Record(audit.NewEvent(audit.TypeHealthCheck,
			audit.WithData(map[string]string{
				"message":     "ok",
				"http_status": strconv.Itoa(http.StatusOK),
			}),
		))
		w.Write([]byte("ok"))
	})

	router.Get("/metrics", metrics.Handler().ServeHTTP)

	router.Post("/user/register", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}

		name := r.FormValue("name")
		email := r.FormValue("email")
		password := r.FormValue("password")

		registeredUser, err := userRepo.Register(ctx, name, email, password)
		if err != nil {
			switch err {
			case user.ErrEmailExists:
				http.Error(w, err.Error(), http.StatusConflict)
			case user.ErrBlankPassword, user.ErrInvalidEmail, user.ErrBlankName:
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				slog.Error("failed to register user", "error", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		sess, err := sessionRepo.Create(ctx, registeredUser.ID)
		if err != nil {
			slog.Error("failed to create session", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		setSessionCookie(w, sess)

		// Fold any guest memberships this client holds into the new
		// account, then drop the consumed token map.
		if err := merger.Merge(ctx, registeredUser.ID, tokenStore.Get(r)); err != nil {
			slog.Error("guest membership merge failed", "error", err, "user_id", registeredUser.ID)
		}
		tokenStore.Set(w, nil)

		recorder.Record(audit.NewEvent(audit.TypeUserRegistered,
			audit.WithActor(registeredUser.ID.String()),
			audit.WithData(map[string]string{
				"email": registeredUser.Email,
			}),
		))

		http.Redirect(w, r, "/home", http.StatusSeeOther)
	})

	router.Post("/user/login", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}

		email := r.FormValue("email")
		password := r.FormValue("password")

		userdb, err := userRepo.GetByEmail(ctx, email)
		if err != nil {
			slog.Error("failed to fetch user", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if userdb == nil || userRepo.VerifyPassword(userdb.PasswordHash, password) != nil {
			http.Error(w, "invalid email or password", http.StatusUnauthorized)
			return
		}

		sess, err := sessionRepo.Create(ctx, userdb.ID)
		if err != nil {
			slog.Error("failed to create session", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		setSessionCookie(w, sess)

		if err := merger.Merge(ctx, userdb.ID, tokenStore.Get(r)); err != nil {
			slog.Error("guest membership merge failed", "error", err, "user_id", userdb.ID)
		}
		tokenStore.Set(w, nil)

		recorder.Record(audit.NewEvent(audit.TypeUserSignedIn,
			audit.WithActor(userdb.ID.String()),
			audit.WithData(map[string]string{
				"email": userdb.Email,
			}),
		))

		http.Redirect(w, r, "/home", http.StatusSeeOther)
	})

	// Invite links work for every principal, guests included.
	router.Get("/groups/join/{inviteToken}", handleInvitePage(registry))
	router.Post("/groups/join/{inviteToken}", handleJoinSubmit(registry, tokenStore, recorder))

	// Group and card pages check membership themselves; guests with the
	// right token pass.
	router.Get("/groups/{groupID}", handleGroupPage(registry, expenseRepo, cardRepo, policy))
	router.Post("/groups/{groupID}/members/{membershipID}/delete", handleRemoveMember(registry, recorder))
	router.Post("/groups/{groupID}/expenses", handleCreateExpense(registry, expenseRepo, recorder))
	router.Post("/groups/{groupID}/expenses/{expenseID}", handleUpdateExpense(registry, expenseRepo, policy))
	router.Post("/groups/{groupID}/expenses/{expenseID}/delete", handleDeleteExpense(expenseRepo, policy))
	router.Post("/groups/{groupID}/cards", handleCreateGroupCard(registry, cardRepo, policy, recorder))
	router.Get("/cards/{cardID}", handleCardPage(registry, cardRepo, policy))
	router.Post("/cards/{cardID}/delete", handleDeleteCard(cardRepo, policy))
	router.Post("/cards/{cardID}/schedules", handleCreateSchedule(cardRepo, policy))
	router.Post("/cards/{cardID}/schedules/{scheduleID}/delete", handleDeleteSchedule(cardRepo, policy))
	router.Post("/cards/{cardID}/comments", handleCreateComment(registry, cardRepo, policy))
	router.Post("/comments/{commentID}/delete", handleDeleteComment(registry, cardRepo, policy))
	router.Post("/cards/{cardID}/like", handleToggleLike(registry, cardRepo, policy))

	// Account-only routes
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAccount("/"))

		r.Get("/home", handleHome(registry, cardRepo, userRepo))
		r.Post("/groups", handleCreateGroup(registry, recorder))
		r.Post("/cards", handleCreatePersonalCard(cardRepo))
		r.Post("/user/name", handleRenameAccount(userRepo, recorder))
		r.Post("/user/logout-all", handleLogoutAll(sessionRepo))

		r.Post("/user/logout", func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(session.CookieName)
			if err == nil {
				sessionRepo.Delete(r.Context(), cookie.Value)
			}

			http.SetCookie(w, &http.Cookie{
				Name:   session.CookieName,
				Value:  "",
				Path:   "/",
				MaxAge: -1,
			})

			http.Redirect(w, r, "/", http.StatusSeeOther)
		})
	})

	handler := h2c.NewHandler(router, &http2.Server{})

	slog.Info("server starting", "addr", listenAddr)
	if err := http.ListenAndServe(listenAddr, handler); err != nil {
		printErrorAndExit("server failed", err)
	}
}

func setSessionCookie(w http.ResponseWriter, sess *session.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   false,
		SameSite: http.SameSiteLaxMode,
	})
}

func renderPage(w http.ResponseWriter, page string, data map[string]any) {
	tmpl, err := template.ParseFiles("templates/base.html", "templates/"+page)
	if err != nil {
		slog.Error("failed to parse template", "error", err, "page", page)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	tmpl.ExecuteTemplate(w, "base.html", data)
}

func printErrorAndExit(msg string, e error) {
	slog.Error(msg, "error", e)
	os.Exit(1)
}
