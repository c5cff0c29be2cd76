package main

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kfujino/tomotabi/audit"
	"github.com/kfujino/tomotabi/authz"
	"github.com/kfujino/tomotabi/expense"
	"github.com/kfujino/tomotabi/group"
	"github.com/kfujino/tomotabi/middleware"
)

type expenseForm struct {
	title        string
	amount       int64
	spentOn      time.Time
	participants []uuid.UUID
}

func parseExpenseForm(r *http.Request) (*expenseForm, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}

	amount, err := strconv.ParseInt(r.FormValue("amount"), 10, 64)
	if err != nil {
		return nil, expense.ErrInvalidAmount
	}

	spentOn, err := time.Parse("2006-01-02", r.FormValue("spent_on"))
	if err != nil {
		spentOn = time.Now().UTC()
	}

	var participants []uuid.UUID
	for _, raw := range r.Form["participants"] {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		participants = append(participants, id)
	}

	return &expenseForm{
		title:        r.FormValue("title"),
		amount:       amount,
		spentOn:      spentOn,
		participants: participants,
	}, nil
}

func expenseErrorKey(err error) (string, bool) {
	switch {
	case errors.Is(err, expense.ErrEmptyTitle):
		return "title_required", true
	case errors.Is(err, expense.ErrInvalidAmount):
		return "invalid_amount", true
	case errors.Is(err, expense.ErrNoParticipants):
		return "no_participants", true
	case errors.Is(err, expense.ErrDuplicateParticipant):
		return "duplicate_participant", true
	case errors.Is(err, expense.ErrUnknownParticipant):
		return "unknown_participant", true
	default:
		return "", false
	}
}

func handleCreateExpense(registry *group.Registry, expenses *expense.Repository, recorder *audit.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		groupPath := "/groups/" + groupID.String()

		// The payer is the caller's own membership.
		p := middleware.GetPrincipal(ctx)
		payer, err := registry.FindMembership(ctx, p, groupID)
		if err != nil {
			slog.Error("membership lookup failed", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if payer == nil {
			redirectWithError(w, r, "/", "access_denied")
			return
		}

		form, err := parseExpenseForm(r)
		if err != nil {
			if key, ok := expenseErrorKey(err); ok {
				redirectWithError(w, r, groupPath, key)
				return
			}
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}

		// Every participant must be a membership of this group, not just
		// any membership.
		members, err := registry.ListMemberships(ctx, groupID)
		if err != nil {
			slog.Error("failed to list memberships", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if err := expense.CheckMembership(form.participants, members); err != nil {
			redirectWithError(w, r, groupPath, "unknown_participant")
			return
		}

		e, err := expense.New(groupID, payer.ID, form.title, form.amount, form.spentOn, form.participants)
		if err != nil {
			if key, ok := expenseErrorKey(err); ok {
				redirectWithError(w, r, groupPath, key)
				return
			}
			slog.Error("failed to build expense", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if err := expenses.Save(ctx, e); err != nil {
			slog.Error("failed to save expense", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		recorder.Record(audit.NewEvent(audit.TypeExpenseAdded,
			audit.WithActor(payer.ID.String()),
			audit.WithData(map[string]string{
				"group_id":   groupID.String(),
				"expense_id": e.ID.String(),
				"amount":     strconv.FormatInt(e.Amount, 10),
			}),
		))

		http.Redirect(w, r, groupPath, http.StatusSeeOther)
	}
}

// loadExpenseForMutation fetches the expense and checks that the caller's
// membership is the recorded payer. Group membership alone is not enough to
// edit someone else's expense.
func loadExpenseForMutation(r *http.Request, expenses *expense.Repository, policy *authz.Policy, action authz.Action) (*expense.Expense, string, int) {
	ctx := r.Context()

	groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		return nil, "", http.StatusNotFound
	}
	expenseID, err := uuid.Parse(chi.URLParam(r, "expenseID"))
	if err != nil {
		return nil, "", http.StatusNotFound
	}

	e, err := expenses.GetByID(ctx, expenseID)
	if err != nil {
		slog.Error("failed to fetch expense", "error", err)
		return nil, "", http.StatusInternalServerError
	}
	if e == nil || e.GroupID != groupID {
		return nil, "", http.StatusNotFound
	}

	res := authz.Resource{Owner: authz.GroupOwner(groupID), Author: e.PayerID}
	if !policy.CanAccess(ctx, middleware.GetPrincipal(ctx), res, action) {
		return nil, "/groups/" + groupID.String(), http.StatusForbidden
	}

	return e, "/groups/" + groupID.String(), http.StatusOK
}

func handleUpdateExpense(registry *group.Registry, expenses *expense.Repository, policy *authz.Policy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, groupPath, status := loadExpenseForMutation(r, expenses, policy, authz.ActionEdit)
		switch status {
		case http.StatusOK:
		case http.StatusForbidden:
			redirectWithError(w, r, groupPath, "access_denied")
			return
		case http.StatusNotFound:
			http.NotFound(w, r)
			return
		default:
			http.Error(w, "Internal server error", status)
			return
		}

		form, err := parseExpenseForm(r)
		if err != nil {
			if key, ok := expenseErrorKey(err); ok {
				redirectWithError(w, r, groupPath, key)
				return
			}
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}

		members, err := registry.ListMemberships(r.Context(), e.GroupID)
		if err != nil {
			slog.Error("failed to list memberships", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if err := expense.CheckMembership(form.participants, members); err != nil {
			redirectWithError(w, r, groupPath, "unknown_participant")
			return
		}

		if err := e.Apply(form.title, form.amount, form.spentOn, form.participants); err != nil {
			if key, ok := expenseErrorKey(err); ok {
				redirectWithError(w, r, groupPath, key)
				return
			}
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}

		if err := expenses.Update(r.Context(), e); err != nil {
			slog.Error("failed to update expense", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, groupPath, http.StatusSeeOther)
	}
}

func handleDeleteExpense(expenses *expense.Repository, policy *authz.Policy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, groupPath, status := loadExpenseForMutation(r, expenses, policy, authz.ActionDelete)
		switch status {
		case http.StatusOK:
		case http.StatusForbidden:
			redirectWithError(w, r, groupPath, "access_denied")
			return
		case http.StatusNotFound:
			http.NotFound(w, r)
			return
		default:
			http.Error(w, "Internal server error", status)
			return
		}

		if err := expenses.Delete(r.Context(), e.ID); err != nil {
			slog.Error("failed to delete expense", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, groupPath, http.StatusSeeOther)
	}
}
