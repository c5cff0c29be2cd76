package main

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kfujino/tomotabi/audit"
	"github.com/kfujino/tomotabi/authz"
	"github.com/kfujino/tomotabi/card"
	"github.com/kfujino/tomotabi/group"
	"github.com/kfujino/tomotabi/middleware"
)

func handleCreateGroupCard(registry *group.Registry, cards *card.Repository, policy *authz.Policy, recorder *audit.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		groupPath := "/groups/" + groupID.String()

		p := middleware.GetPrincipal(ctx)
		author, err := registry.FindMembership(ctx, p, groupID)
		if err != nil {
			slog.Error("membership lookup failed", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if author == nil {
			redirectWithError(w, r, "/", "access_denied")
			return
		}

		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}

		c, err := card.NewCard(
			r.FormValue("title"),
			r.FormValue("body"),
			authz.GroupOwner(groupID),
			uuid.NullUUID{UUID: author.ID, Valid: true},
		)
		if err != nil {
			if errors.Is(err, card.ErrEmptyTitle) {
				redirectWithError(w, r, groupPath, "title_required")
				return
			}
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if err := cards.Save(ctx, c); err != nil {
			slog.Error("failed to save card", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		recorder.Record(audit.NewEvent(audit.TypeCardCreated,
			audit.WithActor(author.ID.String()),
			audit.WithData(map[string]string{
				"group_id": groupID.String(),
				"card_id":  c.ID.String(),
			}),
		))

		http.Redirect(w, r, "/cards/"+c.ID.String(), http.StatusSeeOther)
	}
}

func handleCreatePersonalCard(cards *card.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, _ := middleware.GetUserID(ctx)

		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}

		c, err := card.NewCard(r.FormValue("title"), r.FormValue("body"), authz.AccountOwner(userID), uuid.NullUUID{})
		if err != nil {
			if errors.Is(err, card.ErrEmptyTitle) {
				redirectWithError(w, r, "/home", "title_required")
				return
			}
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if err := cards.Save(ctx, c); err != nil {
			slog.Error("failed to save card", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, "/cards/"+c.ID.String(), http.StatusSeeOther)
	}
}

// loadCard fetches a card and checks the caller against it.
func loadCard(r *http.Request, cards *card.Repository, policy *authz.Policy, action authz.Action) (*card.Card, int) {
	ctx := r.Context()
	cardID, err := uuid.Parse(chi.URLParam(r, "cardID"))
	if err != nil {
		return nil, http.StatusNotFound
	}

	c, err := cards.GetByID(ctx, cardID)
	if err != nil {
		slog.Error("failed to fetch card", "error", err)
		return nil, http.StatusInternalServerError
	}
	if c == nil {
		return nil, http.StatusNotFound
	}

	if !policy.CanAccess(ctx, middleware.GetPrincipal(ctx), c.Resource(), action) {
		return nil, http.StatusForbidden
	}

	return c, http.StatusOK
}

func handleCardPage(registry *group.Registry, cards *card.Repository, policy *authz.Policy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		c, status := loadCard(r, cards, policy, authz.ActionRead)
		if status != http.StatusOK {
			if status == http.StatusForbidden {
				redirectWithError(w, r, "/", "access_denied")
				return
			}
			http.Error(w, http.StatusText(status), status)
			return
		}

		schedules, err := cards.ListSchedules(ctx, c.ID)
		if err != nil {
			slog.Error("failed to list schedules", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		data := map[string]any{
			"Card":      c,
			"Schedules": schedules,
			"Error":     r.URL.Query().Get("error"),
		}

		// Comments and likes exist on group cards only; they reference
		// memberships.
		if c.Owner.Kind == authz.OwnerGroup {
			comments, err := cards.ListComments(ctx, c.ID)
			if err != nil {
				slog.Error("failed to list comments", "error", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			likes, err := cards.CountLikes(ctx, c.ID)
			if err != nil {
				slog.Error("failed to count likes", "error", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			self, err := registry.FindMembership(ctx, middleware.GetPrincipal(ctx), c.Owner.GroupID)
			if err != nil {
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			data["Comments"] = comments
			data["Likes"] = likes
			data["Self"] = self
		}

		renderPage(w, "card.html", data)
	}
}

func handleDeleteCard(cards *card.Repository, policy *authz.Policy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status := loadCard(r, cards, policy, authz.ActionDelete)
		if status != http.StatusOK {
			if status == http.StatusForbidden {
				redirectWithError(w, r, "/", "access_denied")
				return
			}
			http.Error(w, http.StatusText(status), status)
			return
		}

		if err := cards.Delete(r.Context(), c.ID); err != nil {
			slog.Error("failed to delete card", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		switch c.Owner.Kind {
		case authz.OwnerGroup:
			http.Redirect(w, r, "/groups/"+c.Owner.GroupID.String(), http.StatusSeeOther)
		default:
			http.Redirect(w, r, "/home", http.StatusSeeOther)
		}
	}
}

func handleCreateSchedule(cards *card.Repository, policy *authz.Policy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status := loadCard(r, cards, policy, authz.ActionEdit)
		if status != http.StatusOK {
			if status == http.StatusForbidden {
				redirectWithError(w, r, "/", "access_denied")
				return
			}
			http.Error(w, http.StatusText(status), status)
			return
		}
		cardPath := "/cards/" + c.ID.String()

		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}

		day, _ := strconv.Atoi(r.FormValue("day"))
		position, _ := strconv.Atoi(r.FormValue("position"))

		s := &card.Schedule{
			CardID:   c.ID,
			Day:      day,
			Position: position,
			Spot:     r.FormValue("spot"),
			Memo:     r.FormValue("memo"),
		}
		if err := cards.SaveSchedule(r.Context(), s); err != nil {
			if errors.Is(err, card.ErrEmptySpot) {
				redirectWithError(w, r, cardPath, "spot_required")
				return
			}
			slog.Error("failed to save schedule", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, cardPath, http.StatusSeeOther)
	}
}

func handleDeleteSchedule(cards *card.Repository, policy *authz.Policy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status := loadCard(r, cards, policy, authz.ActionEdit)
		if status != http.StatusOK {
			if status == http.StatusForbidden {
				redirectWithError(w, r, "/", "access_denied")
				return
			}
			http.Error(w, http.StatusText(status), status)
			return
		}

		scheduleID, err := uuid.Parse(chi.URLParam(r, "scheduleID"))
		if err != nil {
			http.NotFound(w, r)
			return
		}

		if err := cards.DeleteSchedule(r.Context(), scheduleID); err != nil {
			slog.Error("failed to delete schedule", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, "/cards/"+c.ID.String(), http.StatusSeeOther)
	}
}

func handleCreateComment(registry *group.Registry, cards *card.Repository, policy *authz.Policy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		c, status := loadCard(r, cards, policy, authz.ActionRead)
		if status != http.StatusOK || c.Owner.Kind != authz.OwnerGroup {
			redirectWithError(w, r, "/", "access_denied")
			return
		}
		cardPath := "/cards/" + c.ID.String()

		self, err := registry.FindMembership(ctx, middleware.GetPrincipal(ctx), c.Owner.GroupID)
		if err != nil || self == nil {
			redirectWithError(w, r, "/", "access_denied")
			return
		}

		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}

		cm, err := card.NewComment(c.ID, self.ID, r.FormValue("body"))
		if err != nil {
			redirectWithError(w, r, cardPath, "body_required")
			return
		}

		if err := cards.SaveComment(ctx, cm); err != nil {
			slog.Error("failed to save comment", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, cardPath, http.StatusSeeOther)
	}
}

func handleDeleteComment(registry *group.Registry, cards *card.Repository, policy *authz.Policy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		commentID, err := uuid.Parse(chi.URLParam(r, "commentID"))
		if err != nil {
			http.NotFound(w, r)
			return
		}

		cm, err := cards.GetComment(ctx, commentID)
		if err != nil {
			slog.Error("failed to fetch comment", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if cm == nil {
			http.NotFound(w, r)
			return
		}

		c, err := cards.GetByID(ctx, cm.CardID)
		if err != nil || c == nil || c.Owner.Kind != authz.OwnerGroup {
			http.NotFound(w, r)
			return
		}
		cardPath := "/cards/" + c.ID.String()

		// Only the authoring membership deletes its comment; the group
		// owner does not bypass this.
		if !policy.CanAccess(ctx, middleware.GetPrincipal(ctx), cm.Resource(c.Owner.GroupID), authz.ActionDelete) {
			redirectWithError(w, r, cardPath, "access_denied")
			return
		}

		if err := cards.DeleteComment(ctx, commentID); err != nil {
			slog.Error("failed to delete comment", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, cardPath, http.StatusSeeOther)
	}
}

func handleToggleLike(registry *group.Registry, cards *card.Repository, policy *authz.Policy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		c, status := loadCard(r, cards, policy, authz.ActionRead)
		if status != http.StatusOK || c.Owner.Kind != authz.OwnerGroup {
			redirectWithError(w, r, "/", "access_denied")
			return
		}
		cardPath := "/cards/" + c.ID.String()

		self, err := registry.FindMembership(ctx, middleware.GetPrincipal(ctx), c.Owner.GroupID)
		if err != nil || self == nil {
			redirectWithError(w, r, "/", "access_denied")
			return
		}

		if _, err := cards.ToggleLike(ctx, c.ID, self.ID); err != nil {
			slog.Error("failed to toggle like", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, cardPath, http.StatusSeeOther)
	}
}
