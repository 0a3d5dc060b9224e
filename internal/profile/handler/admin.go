package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"smartdrive/user-service/internal/platform/errs"
	"smartdrive/user-service/internal/platform/rbac"
	"smartdrive/user-service/internal/platform/respond"
	"smartdrive/user-service/internal/profile/repository"
)

type pageResponse struct {
	Content       []profileResponse `json:"content"`
	Page          int               `json:"page"`
	Size          int               `json:"size"`
	TotalElements int64             `json:"totalElements"`
	TotalPages    int               `json:"totalPages"`
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errs.ErrValidation, key)
	}
	return n, nil
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	size, err := queryInt(r, "size", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.profiles.List(r.Context(), page, size)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Success(w, http.StatusOK, pageResponse{
		Content:       toResponses(p.Content),
		Page:          p.Page,
		Size:          p.Size,
		TotalElements: p.TotalElements,
		TotalPages:    p.TotalPages,
	})
}

func (h *Handler) adminSearch(w http.ResponseWriter, r *http.Request) {
	ps, err := h.profiles.Search(r.Context(), repository.SearchQuery{Any: r.URL.Query().Get("q")})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Success(w, http.StatusOK, toResponses(ps))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.profiles.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Success(w, http.StatusOK, st)
}

func (h *Handler) adminGetUser(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Get(r.Context(), chi.URLParam(r, "authUserId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Success(w, http.StatusOK, toResponse(p))
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool  `json:"enabled"`
		Reason  string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Enabled == nil {
		h.fail(w, r, fmt.Errorf("%w: enabled is required", errs.ErrValidation))
		return
	}
	p, err := h.profiles.SetEnabled(r.Context(), identity(r).UserID, chi.URLParam(r, "authUserId"), *req.Enabled, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Success(w, http.StatusOK, toResponse(p))
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	target := chi.URLParam(r, "authUserId")
	if !rbac.CanDelete(id, target) {
		h.fail(w, r, fmt.Errorf("%w: cannot delete user %s", errs.ErrForbidden, target))
		return
	}
	if err := h.profiles.Delete(r.Context(), id.UserID, target); err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Message(w, http.StatusOK, "user profile deleted")
}

func (h *Handler) getRoles(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "authUserId")
	if err := rbac.RequireCanAccess(identity(r), target); err != nil {
		h.fail(w, r, err)
		return
	}
	roles, err := h.profiles.Roles(r.Context(), target)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Success(w, http.StatusOK, toRoleResponses(roles))
}

func (h *Handler) replaceRoles(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	target := chi.URLParam(r, "authUserId")
	if !rbac.CanChangeRoles(id, target) {
		h.fail(w, r, fmt.Errorf("%w: cannot change roles of user %s", errs.ErrForbidden, target))
		return
	}
	var req struct {
		Roles []string `json:"roles"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	roles, err := h.profiles.ReplaceRoles(r.Context(), id.UserID, target, req.Roles)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Success(w, http.StatusOK, toRoleResponses(roles))
}

func (h *Handler) consistencyStats(w http.ResponseWriter, r *http.Request) {
	report, err := h.consistency.ConsistencyStats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Success(w, http.StatusOK, report)
}

func (h *Handler) runConsistency(w http.ResponseWriter, r *http.Request) {
	report, err := h.consistency.DailyReconciliation(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Success(w, http.StatusOK, report)
}

func (h *Handler) checkUser(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "authUserId")
	consistent, err := h.consistency.CheckUser(r.Context(), target)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{
		"authUserId":          target,
		"consistent":          consistent,
		"existsInAuthService": h.consistency.UserExistsUpstream(r.Context(), target),
	})
}

func (h *Handler) fixUser(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "authUserId")
	if err := h.consistency.FixUser(r.Context(), target); err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Message(w, http.StatusOK, "email consistency fixed for user "+target)
}
