package main

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kfujino/tomotabi/audit"
	"github.com/kfujino/tomotabi/middleware"
	"github.com/kfujino/tomotabi/session"
	"github.com/kfujino/tomotabi/user"
)

func handleRenameAccount(users user.Repository, recorder *audit.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, _ := middleware.GetUserID(ctx)

		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}

		if err := users.UpdateName(ctx, userID, r.FormValue("name")); err != nil {
			if errors.Is(err, user.ErrBlankName) {
				redirectWithError(w, r, "/home", "name_required")
				return
			}
			slog.Error("failed to update name", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		recorder.Record(audit.NewEvent(audit.TypeUserRenamed,
			audit.WithActor(userID.String()),
		))

		http.Redirect(w, r, "/home", http.StatusSeeOther)
	}
}

// handleLogoutAll revokes every session the account holds, not just the one
// behind the current cookie.
func handleLogoutAll(sessions session.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.GetUserID(r.Context())

		if err := sessions.DeleteByUserID(r.Context(), userID); err != nil {
			slog.Error("failed to delete sessions", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:   session.CookieName,
			Value:  "",
			Path:   "/",
			MaxAge: -1,
		})

		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}
