// Package handler serves the profile and admin HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	identitydomain "smartdrive/user-service/internal/identity/domain"
	"smartdrive/user-service/internal/platform/errs"
	"smartdrive/user-service/internal/platform/rbac"
	"smartdrive/user-service/internal/platform/respond"
	"smartdrive/user-service/internal/profile/domain"
	"smartdrive/user-service/internal/profile/repository"
	"smartdrive/user-service/internal/profile/service"
	"smartdrive/user-service/internal/reconcile"
	"smartdrive/user-service/internal/server/middleware"
)

const maxRequestBody = 1 << 20

// Profiles is the profile service surface used by the handlers.
type Profiles interface {
	Get(ctx context.Context, authUserID string) (*domain.Profile, error)
	GetByEmail(ctx context.Context, email string) (*domain.Profile, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	TokenClaims(ctx context.Context, authUserID string) (map[string]any, error)
	Update(ctx context.Context, actorID, authUserID string, req service.UpdateRequest) (*domain.Profile, error)
	CreateManual(ctx context.Context, actorID string, req service.ManualCreateRequest) (*domain.Profile, bool, error)
	Search(ctx context.Context, q repository.SearchQuery) ([]*domain.Profile, error)
	List(ctx context.Context, page, size int) (service.Page, error)
	Stats(ctx context.Context) (domain.Stats, error)
	SetEnabled(ctx context.Context, actorID, authUserID string, enabled bool, reason string) (*domain.Profile, error)
	Delete(ctx context.Context, actorID, authUserID string) error
	Roles(ctx context.Context, authUserID string) ([]domain.UserRole, error)
	ReplaceRoles(ctx context.Context, actorID, authUserID string, names []string) ([]domain.UserRole, error)
}

// Accounts forwards account operations to the Auth Service.
type Accounts interface {
	Register(ctx context.Context, req service.RegisterRequest) (json.RawMessage, error)
	ChangePassword(ctx context.Context, authUserID string, req service.ChangePasswordRequest) error
	VerifyEmail(ctx context.Context, token string) error
	ResendVerification(ctx context.Context, email string) error
}

// Consistency is the reconciler surface exposed to admins.
type Consistency interface {
	ConsistencyStats(ctx context.Context) (reconcile.Report, error)
	DailyReconciliation(ctx context.Context) (reconcile.Report, error)
	CheckUser(ctx context.Context, authUserID string) (bool, error)
	UserExistsUpstream(ctx context.Context, authUserID string) bool
	FixUser(ctx context.Context, authUserID string) error
}

// Handler serves /api/v1/users and /api/v1/admin.
type Handler struct {
	profiles    Profiles
	accounts    Accounts
	consistency Consistency
	logger      *slog.Logger
}

// New returns a Handler.
func New(profiles Profiles, accounts Accounts, consistency Consistency, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{profiles: profiles, accounts: accounts, consistency: consistency, logger: logger}
}

// Register mounts the user and admin routes on r. r must already run the gateway
// middleware so that every request carries an identity.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/v1/users", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/verify-email", h.verifyEmail)
		r.Post("/resend-verification", h.resendVerification)
		r.Post("/change-password", h.changePassword)

		r.Get("/profile", h.getOwnProfile)
		r.Put("/profile", h.updateOwnProfile)
		r.Post("/profile/manual", h.createManual)
		r.Get("/profile/email/{email}", h.getByEmail)
		r.Put("/profile/{authUserId}", h.updateProfile)
		r.Get("/profile-by-auth-id/{authUserId}", h.getProfile)
		r.Get("/profile-by-auth-id/{authUserId}/token-claims", h.tokenClaims)
		r.Get("/exists/{email}", h.existsByEmail)
		r.Get("/search", h.search)
	})
	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Get("/users", h.listUsers)
		r.Get("/users/search", h.adminSearch)
		r.Get("/users/stats", h.stats)
		r.Get("/users/{authUserId}", h.adminGetUser)
		r.Put("/users/{authUserId}/status", h.setStatus)
		r.Delete("/users/{authUserId}", h.deleteUser)
		r.Get("/users/{authUserId}/roles", h.getRoles)
		r.Put("/users/{authUserId}/roles", h.replaceRoles)

		r.Get("/consistency/stats", h.consistencyStats)
		r.Post("/consistency/run", h.runConsistency)
		r.Get("/consistency/users/{authUserId}", h.checkUser)
		r.Post("/consistency/users/{authUserId}/fix", h.fixUser)
	})
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := rbac.RequireAdmin(identity(r)); err != nil {
			h.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func identity(r *http.Request) identitydomain.RequestIdentity {
	id, _ := middleware.IdentityFrom(r.Context())
	return id
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", errs.ErrValidation)
		}
		return fmt.Errorf("%w: invalid request body", errs.ErrValidation)
	}
	return nil
}

// fail writes err. Client errors are logged at debug, everything else at error.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _, _ := errs.HTTPStatus(err)
	ctx := r.Context()
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed",
			"request_id", middleware.RequestIDFrom(ctx),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	} else {
		h.logger.DebugContext(ctx, "request rejected",
			"request_id", middleware.RequestIDFrom(ctx),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	respond.Err(w, err)
}

type profileResponse struct {
	ID            string    `json:"id"`
	AuthUserID    string    `json:"authUserId"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	DisplayName   string    `json:"displayName"`
	AvatarURL     string    `json:"avatarUrl,omitempty"`
	Bio           string    `json:"bio,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	DateOfBirth   string    `json:"dateOfBirth,omitempty"`
	Timezone      string    `json:"timezone"`
	Language      string    `json:"language"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toResponse(p *domain.Profile) profileResponse {
	out := profileResponse{
		ID:            p.ID,
		AuthUserID:    p.AuthUserID,
		Email:         p.Email,
		EmailVerified: p.EmailVerified,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		DisplayName:   p.DisplayName,
		AvatarURL:     p.AvatarURL,
		Bio:           p.Bio,
		Phone:         p.Phone,
		Timezone:      p.Timezone,
		Language:      p.Language,
		Enabled:       p.Enabled,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	if p.DateOfBirth != nil {
		out.DateOfBirth = p.DateOfBirth.Format("2006-01-02")
	}
	return out
}

func toResponses(ps []*domain.Profile) []profileResponse {
	out := make([]profileResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, toResponse(p))
	}
	return out
}

type roleResponse struct {
	RoleName  string     `json:"roleName"`
	GrantedAt time.Time  `json:"grantedAt"`
	GrantedBy string     `json:"grantedBy,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func toRoleResponses(rs []domain.UserRole) []roleResponse {
	out := make([]roleResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, roleResponse{RoleName: r.RoleName, GrantedAt: r.GrantedAt, GrantedBy: r.GrantedBy, ExpiresAt: r.ExpiresAt})
	}
	return out
}
