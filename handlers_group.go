package main

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kfujino/tomotabi/audit"
	"github.com/kfujino/tomotabi/authz"
	"github.com/kfujino/tomotabi/card"
	"github.com/kfujino/tomotabi/expense"
	"github.com/kfujino/tomotabi/group"
	"github.com/kfujino/tomotabi/guest"
	"github.com/kfujino/tomotabi/join"
	"github.com/kfujino/tomotabi/middleware"
	"github.com/kfujino/tomotabi/user"
)

// joinErrorKey maps a join failure to the message key the invite page
// understands.
func joinErrorKey(err error) string {
	switch {
	case errors.Is(err, group.ErrNicknameTaken):
		return "nickname_taken"
	case errors.Is(err, group.ErrNicknameNotFound):
		return "nickname_not_found"
	case errors.Is(err, group.ErrTokenMismatch):
		return "token_mismatch"
	case errors.Is(err, group.ErrNicknameRequired):
		return "nickname_required"
	case errors.Is(err, group.ErrNicknameTooLong):
		return "nickname_too_long"
	case errors.Is(err, group.ErrEmptyName):
		return "name_required"
	case errors.Is(err, join.ErrUnsupportedJoinMode):
		return "not_permitted"
	default:
		return "internal"
	}
}

func redirectWithError(w http.ResponseWriter, r *http.Request, path, key string) {
	http.Redirect(w, r, path+"?error="+url.QueryEscape(key), http.StatusSeeOther)
}

func handleInvitePage(registry *group.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inviteToken := chi.URLParam(r, "inviteToken")

		g, err := registry.GroupByInviteToken(r.Context(), inviteToken)
		if err != nil {
			slog.Error("failed to resolve invite", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if g == nil {
			// A dead link is an outcome, not a server error.
			redirectWithError(w, r, "/", "invalid_link")
			return
		}

		renderPage(w, "invite.html", map[string]any{
			"Group":       g,
			"InviteToken": inviteToken,
			"Error":       r.URL.Query().Get("error"),
		})
	}
}

func handleJoinSubmit(registry *group.Registry, tokens guest.TokenStore, recorder *audit.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		inviteToken := chi.URLParam(r, "inviteToken")
		invitePath := "/groups/join/" + inviteToken

		g, err := registry.GroupByInviteToken(ctx, inviteToken)
		if err != nil {
			slog.Error("failed to resolve invite", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if g == nil {
			redirectWithError(w, r, "/", "invalid_link")
			return
		}

		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}

		p := middleware.GetPrincipal(ctx)

		// An existing member just gets sent to the group.
		existing, err := registry.FindMembership(ctx, p, g.ID)
		if err != nil {
			slog.Error("membership lookup failed", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if existing != nil {
			http.Redirect(w, r, "/groups/"+g.ID.String(), http.StatusSeeOther)
			return
		}

		mode, err := join.ParseMode(r.FormValue("join_mode"))
		if err != nil {
			redirectWithError(w, r, invitePath, joinErrorKey(err))
			return
		}

		result, err := join.Execute(ctx, registry, mode, g, r.FormValue("nickname"), p)
		if err != nil {
			if key := joinErrorKey(err); key != "internal" {
				redirectWithError(w, r, invitePath, key)
				return
			}
			slog.Error("join failed", "error", err, "group_id", g.ID)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		// Guest joins walk away with a fresh token in the client-held map.
		if result.GuestToken != "" {
			updated := tokens.Get(r)
			updated[g.ID] = result.GuestToken
			tokens.Set(w, updated)
		}

		recorder.Record(audit.NewEvent(audit.TypeMemberJoined,
			audit.WithData(map[string]string{
				"group_id":      g.ID.String(),
				"membership_id": result.MembershipID.String(),
			}),
		))

		http.Redirect(w, r, "/groups/"+result.GroupID.String(), http.StatusSeeOther)
	}
}

func handleCreateGroup(registry *group.Registry, recorder *audit.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, _ := middleware.GetUserID(ctx)

		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}

		g, err := registry.CreateGroup(ctx, r.FormValue("name"), userID, r.FormValue("nickname"))
		if err != nil {
			switch {
			case errors.Is(err, group.ErrEmptyName),
				errors.Is(err, group.ErrNicknameRequired),
				errors.Is(err, group.ErrNicknameTooLong):
				redirectWithError(w, r, "/home", joinErrorKey(err))
			default:
				slog.Error("failed to create group", "error", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		recorder.Record(audit.NewEvent(audit.TypeGroupCreated,
			audit.WithActor(userID.String()),
			audit.WithData(map[string]string{
				"group_id": g.ID.String(),
			}),
		))

		http.Redirect(w, r, "/groups/"+g.ID.String(), http.StatusSeeOther)
	}
}

func handleGroupPage(registry *group.Registry, expenses *expense.Repository, cards *card.Repository, policy *authz.Policy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
		if err != nil {
			http.NotFound(w, r)
			return
		}

		p := middleware.GetPrincipal(ctx)
		if !policy.CanAccess(ctx, p, authz.Resource{Owner: authz.GroupOwner(groupID)}, authz.ActionRead) {
			redirectWithError(w, r, "/", "access_denied")
			return
		}

		g, err := registry.GroupByID(ctx, groupID)
		if err != nil || g == nil {
			http.NotFound(w, r)
			return
		}

		memberships, err := registry.ListMemberships(ctx, groupID)
		if err != nil {
			slog.Error("failed to list memberships", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		ledger, err := expenses.ListByGroup(ctx, groupID)
		if err != nil {
			slog.Error("failed to list expenses", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		groupCards, err := cards.ListByGroup(ctx, groupID)
		if err != nil {
			slog.Error("failed to list cards", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		self, err := registry.FindMembership(ctx, p, groupID)
		if err != nil || self == nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		renderPage(w, "group.html", map[string]any{
			"Group":    g,
			"Members":  memberships,
			"Cards":    groupCards,
			"Expenses": ledger,
			"Balances": expense.Settle(memberships, ledger),
			"Self":     self,
			"Error":    r.URL.Query().Get("error"),
		})
	}
}

func handleRemoveMember(registry *group.Registry, recorder *audit.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		membershipID, err := uuid.Parse(chi.URLParam(r, "membershipID"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		groupPath := "/groups/" + groupID.String()

		// Only the group owner removes members.
		p := middleware.GetPrincipal(ctx)
		actor, err := registry.FindMembership(ctx, p, groupID)
		if err != nil {
			slog.Error("membership lookup failed", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if actor == nil || !actor.IsOwner() {
			redirectWithError(w, r, groupPath, "access_denied")
			return
		}

		target, err := registry.MembershipByID(ctx, membershipID)
		if err != nil {
			slog.Error("membership lookup failed", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if target == nil || target.GroupID != groupID {
			http.NotFound(w, r)
			return
		}

		if err := registry.Remove(ctx, target); err != nil {
			if errors.Is(err, group.ErrCannotRemoveOwner) {
				redirectWithError(w, r, groupPath, "cannot_remove_owner")
				return
			}
			slog.Error("failed to remove membership", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		recorder.Record(audit.NewEvent(audit.TypeMemberRemoved,
			audit.WithActor(actor.ID.String()),
			audit.WithData(map[string]string{
				"group_id":      groupID.String(),
				"membership_id": membershipID.String(),
			}),
		))

		http.Redirect(w, r, groupPath, http.StatusSeeOther)
	}
}

func handleHome(registry *group.Registry, cards *card.Repository, users user.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, _ := middleware.GetUserID(ctx)

		u, err := users.GetByID(ctx, userID)
		if err != nil || u == nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		groups, err := registry.ListGroupsForUser(ctx, userID)
		if err != nil {
			slog.Error("failed to list groups", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		personalCards, err := cards.ListByAccount(ctx, userID)
		if err != nil {
			slog.Error("failed to list cards", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		renderPage(w, "home.html", map[string]any{
			"User":   u,
			"Groups": groups,
			"Cards":  personalCards,
			"Error":  r.URL.Query().Get("error"),
		})
	}
}
