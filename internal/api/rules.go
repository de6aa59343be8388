package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/cogsolver/internal/domain"
	"github.com/opensource-finance/cogsolver/internal/rules"
)

// ListRules returns every stored rule in evaluation order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	all, err := h.repo.ListRules(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": all,
		"count": len(all),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.repo.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule validates and stores a new rule. Incomplete rules get 422.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.Rule
	if !h.decode(w, r, &rule) {
		return
	}

	if rule.ID != "" {
		_, err := h.repo.GetRule(ctx, rule.ID)
		switch {
		case err == nil:
			writeError(w, http.StatusConflict, "rule "+rule.ID+" already exists")
			return
		case !errors.Is(err, domain.ErrNotFound):
			h.writeDomainError(w, r, err)
			return
		}
	}
	rule.CreatedAt, rule.UpdatedAt = time.Time{}, time.Time{}

	if err := h.catalog.SaveRule(ctx, &rule); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule replaces an existing rule.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	existing, err := h.repo.GetRule(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	var rule domain.Rule
	if !h.decode(w, r, &rule) {
		return
	}
	rule.ID = id
	rule.CreatedAt = existing.CreatedAt

	if err := h.catalog.SaveRule(ctx, &rule); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// ValidateRule checks a rule definition without storing it.
func (h *Handler) ValidateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.Rule
	if !h.decode(w, r, &rule) {
		return
	}
	if err := rules.Validate(&rule); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// ActivateRule turns a rule on.
func (h *Handler) ActivateRule(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// DeactivateRule turns a rule off.
func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	rule, err := h.catalog.SetRuleActive(r.Context(), chi.URLParam(r, "id"), active)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// ListStatuses returns approval statuses ordered by stage.
func (h *Handler) ListStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.repo.ListStatuses(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"statuses": statuses, "count": len(statuses)})
}

// CreateStatus stores an approval status.
func (h *Handler) CreateStatus(w http.ResponseWriter, r *http.Request) {
	var status domain.Status
	if !h.decode(w, r, &status) {
		return
	}
	if err := h.catalog.SaveStatus(r.Context(), &status); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, status)
}

// ListRoles returns participatory roles.
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.repo.ListRoles(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles, "count": len(roles)})
}

// CreateRole stores a participatory role.
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var role domain.Role
	if !h.decode(w, r, &role) {
		return
	}
	if err := h.catalog.SaveRole(r.Context(), &role); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}
