package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"smartdrive/user-service/internal/platform/errs"
	"smartdrive/user-service/internal/platform/rbac"
	"smartdrive/user-service/internal/platform/respond"
	"smartdrive/user-service/internal/profile/repository"
	"smartdrive/user-service/internal/profile/service"
)

func (h *Handler) getOwnProfile(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	if err := rbac.RequireAuthenticated(id); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.profiles.Get(r.Context(), id.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Success(w, http.StatusOK, toResponse(p))
}

func (h *Handler) updateOwnProfile(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	if err := rbac.RequireAuthenticated(id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.applyUpdate(w, r, id.UserID, id.UserID)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	target := chi.URLParam(r, "authUserId")
	if err := rbac.RequireAuthenticated(id); err != nil {
		h.fail(w, r, err)
		return
	}
	if !rbac.CanUpdate(id, target) {
		h.fail(w, r, fmt.Errorf("%w: cannot update user %s", errs.ErrForbidden, target))
		return
	}
	h.applyUpdate(w, r, id.UserID, target)
}

func (h *Handler) applyUpdate(w http.ResponseWriter, r *http.Request, actorID, target string) {
	var req service.UpdateRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.profiles.Update(r.Context(), actorID, target, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Success(w, http.StatusOK, toResponse(p))
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "authUserId")
	if err := rbac.RequireCanAccess(identity(r), target); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.profiles.Get(r.Context(), target)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Success(w, http.StatusOK, toResponse(p))
}

func (h *Handler) tokenClaims(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "authUserId")
	if err := rbac.RequireCanAccess(identity(r), target); err != nil {
		h.fail(w, r, err)
		return
	}
	claims, err := h.profiles.TokenClaims(r.Context(), target)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Success(w, http.StatusOK, claims)
}

func (h *Handler) getByEmail(w http.ResponseWriter, r *http.Request) {
	if err := rbac.RequireAdmin(identity(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.profiles.GetByEmail(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Success(w, http.StatusOK, toResponse(p))
}

func (h *Handler) existsByEmail(w http.ResponseWriter, r *http.Request) {
	if err := rbac.RequireAdmin(identity(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	ok, err := h.profiles.ExistsByEmail(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Success(w, http.StatusOK, map[string]bool{"exists": ok})
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	if err := rbac.RequireAuthenticated(id); err != nil {
		h.fail(w, r, err)
		return
	}
	if !rbac.CanViewAllUsers(id) {
		h.fail(w, r, fmt.Errorf("%w: admin or support role required", errs.ErrForbidden))
		return
	}
	q := r.URL.Query()
	ps, err := h.profiles.Search(r.Context(), repository.SearchQuery{Email: q.Get("email"), Name: q.Get("name")})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Success(w, http.StatusOK, toResponses(ps))
}

func (h *Handler) createManual(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	if err := rbac.RequireAdmin(id); err != nil {
		h.fail(w, r, err)
		return
	}
	var req service.ManualCreateRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, created, err := h.profiles.CreateManual(r.Context(), id.UserID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respond.Success(w, status, toResponse(p))
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if out == nil {
		respond.Message(w, http.StatusCreated, "registration accepted, check your email to verify the account")
		return
	}
	respond.Success(w, http.StatusCreated, out)
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	if err := rbac.RequireAuthenticated(id); err != nil {
		h.fail(w, r, err)
		return
	}
	var req service.ChangePasswordRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.accounts.ChangePassword(r.Context(), id.UserID, req); err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Message(w, http.StatusOK, "password changed")
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.accounts.VerifyEmail(r.Context(), req.Token); err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Message(w, http.StatusOK, "email verified")
}

func (h *Handler) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.accounts.ResendVerification(r.Context(), req.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Message(w, http.StatusOK, "verification email sent")
}
