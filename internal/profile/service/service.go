// Package service implements profile queries, self-service updates and the admin operations
// on top of the profile store. Authorization is enforced by the HTTP layer.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"smartdrive/user-service/internal/audit"
	auditdomain "smartdrive/user-service/internal/audit/domain"
	"smartdrive/user-service/internal/platform/errs"
	"smartdrive/user-service/internal/profile/domain"
	"smartdrive/user-service/internal/profile/repository"
)

// Paging limits for List.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	maxSearchResult = 100
)

// defaultClaimRole is reported when a profile has no active business role.
const defaultClaimRole = "user"

// Mirror receives audit entries after their transaction commits.
type Mirror interface {
	Mirror(ctx context.Context, entries ...*auditdomain.AuditLog)
}

// UpdateRequest carries a partial profile update. Nil fields are left unchanged.
type UpdateRequest struct {
	FirstName   *string `json:"firstName"`
	LastName    *string `json:"lastName"`
	DisplayName *string `json:"displayName"`
	AvatarURL   *string `json:"avatarUrl"`
	Bio         *string `json:"bio"`
	Phone       *string `json:"phone"`
	DateOfBirth *string `json:"dateOfBirth"`
	Timezone    *string `json:"timezone"`
	Language    *string `json:"language"`
}

// ManualCreateRequest creates a profile outside the event flow.
type ManualCreateRequest struct {
	AuthUserID string `json:"authUserId"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
}

// Page is one page of List.
type Page struct {
	Content       []*domain.Profile
	Page          int
	Size          int
	TotalElements int64
	TotalPages    int
}

// Service owns profile reads and writes.
type Service struct {
	store  repository.Store
	mirror Mirror
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// New returns a Service. mirror may be nil.
func New(store repository.Store, mirror Mirror, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		mirror: mirror,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Get returns the profile of authUserID or an error wrapping errs.ErrNotFound.
func (s *Service) Get(ctx context.Context, authUserID string) (*domain.Profile, error) {
	p, err := s.store.GetByAuthUserID(ctx, authUserID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("profile %s: %w", authUserID, errs.ErrNotFound)
	}
	return p, nil
}

// GetByEmail looks a profile up by normalized email.
func (s *Service) GetByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	p, err := s.store.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("load profile by email: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("profile with email: %w", errs.ErrNotFound)
	}
	return p, nil
}

// ExistsByEmail reports whether any profile uses email.
func (s *Service) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	p, err := s.store.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return false, fmt.Errorf("load profile by email: %w", err)
	}
	return p != nil, nil
}

// TokenClaims returns the claims other services embed for authUserID.
func (s *Service) TokenClaims(ctx context.Context, authUserID string) (map[string]any, error) {
	p, err := s.Get(ctx, authUserID)
	if err != nil {
		return nil, err
	}
	roles, err := s.activeRoles(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		roles = []string{defaultClaimRole}
	}
	return map[string]any{
		"user_id":           p.AuthUserID,
		"email":             p.Email,
		"first_name":        p.FirstName,
		"last_name":         p.LastName,
		"name":              p.FullName(),
		"roles":             roles,
		"is_email_verified": p.EmailVerified,
		"is_enabled":        p.Enabled,
	}, nil
}

func (s *Service) activeRoles(ctx context.Context, profileID string) ([]string, error) {
	grants, err := s.store.ListRoles(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	now := s.now()
	names := make([]string, 0, len(grants))
	for _, g := range grants {
		if g.Active(now) {
			names = append(names, g.RoleName)
		}
	}
	return names, nil
}

// Update applies req to the profile of authUserID. actorID is recorded in the audit entry.
func (s *Service) Update(ctx context.Context, actorID, authUserID string, req UpdateRequest) (*domain.Profile, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var updated *domain.Profile
	var entry *auditdomain.AuditLog
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		p, err := loadForUpdate(ctx, tx, authUserID)
		if err != nil {
			return err
		}
		fields := applyUpdate(p, req)
		p.Touch(s.now())
		if err := tx.Update(ctx, p); err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		entry = audit.NewEntry(actorID, auditdomain.ActionProfileUpdated,
			"User profile updated", fmt.Sprintf("authUserId=%s fields=%s", authUserID, strings.Join(fields, ",")), s.now())
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.commit(ctx, entry)
	s.logger.InfoContext(ctx, "profile updated", "auth_user_id", authUserID)
	return updated, nil
}

func applyUpdate(p *domain.Profile, req UpdateRequest) []string {
	var fields []string
	set := func(name string, dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
			fields = append(fields, name)
		}
	}
	set("firstName", &p.FirstName, req.FirstName)
	set("lastName", &p.LastName, req.LastName)
	set("displayName", &p.DisplayName, req.DisplayName)
	set("avatarUrl", &p.AvatarURL, req.AvatarURL)
	set("bio", &p.Bio, req.Bio)
	set("phone", &p.Phone, req.Phone)
	set("timezone", &p.Timezone, req.Timezone)
	set("language", &p.Language, req.Language)
	if req.DateOfBirth != nil {
		p.DateOfBirth = nil
		if *req.DateOfBirth != "" {
			// Validate has already parsed it.
			dob, _ := time.Parse(dateOfBirthLayout, *req.DateOfBirth)
			p.DateOfBirth = &dob
		}
		fields = append(fields, "dateOfBirth")
	}
	if p.Timezone == "" {
		p.Timezone = domain.DefaultTimezone
	}
	if p.Language == "" {
		p.Language = domain.DefaultLanguage
	}
	return fields
}

// CreateManual creates a profile directly. It returns the existing profile, with created
// false, when one already exists for the auth user id.
func (s *Service) CreateManual(ctx context.Context, actorID string, req ManualCreateRequest) (*domain.Profile, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}
	var out *domain.Profile
	var entry *auditdomain.AuditLog
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		existing, err := tx.GetByAuthUserID(ctx, req.AuthUserID)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		if existing != nil {
			out = existing
			return nil
		}
		now := s.now().UTC()
		p := &domain.Profile{
			ID:         s.newID(),
			AuthUserID: req.AuthUserID,
			Email:      domain.NormalizeEmail(req.Email),
			FirstName:  strings.TrimSpace(req.FirstName),
			LastName:   strings.TrimSpace(req.LastName),
			Enabled:    true,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrValidation, err)
		}
		if err := tx.Create(ctx, p); err != nil {
			return fmt.Errorf("create profile: %w", err)
		}
		entry = audit.NewEntry(actorID, auditdomain.ActionProfileCreated,
			"User profile created manually", fmt.Sprintf("authUserId=%s", p.AuthUserID), now)
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		s.logger.WarnContext(ctx, "profile already exists, manual create skipped", "auth_user_id", req.AuthUserID)
		return out, false, nil
	}
	s.commit(ctx, entry)
	s.logger.InfoContext(ctx, "profile created manually", "auth_user_id", req.AuthUserID)
	return out, true, nil
}

// Search matches q against email and names. Results are capped.
func (s *Service) Search(ctx context.Context, q repository.SearchQuery) ([]*domain.Profile, error) {
	q.Any = strings.TrimSpace(q.Any)
	q.Email = strings.TrimSpace(q.Email)
	q.Name = strings.TrimSpace(q.Name)
	if q.Any == "" && q.Email == "" && q.Name == "" {
		return nil, fmt.Errorf("%w: a search term is required", errs.ErrValidation)
	}
	out, err := s.store.Search(ctx, q, maxSearchResult)
	if err != nil {
		return nil, fmt.Errorf("search profiles: %w", err)
	}
	return out, nil
}

// List returns one zero-based page. size is clamped to [1, MaxPageSize].
func (s *Service) List(ctx context.Context, page, size int) (Page, error) {
	if page < 0 {
		page = 0
	}
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	content, total, err := s.store.List(ctx, page*size, size)
	if err != nil {
		return Page{}, fmt.Errorf("list profiles: %w", err)
	}
	return Page{
		Content:       content,
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    int((total + int64(size) - 1) / int64(size)),
	}, nil
}

// Stats returns verification totals.
func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("profile stats: %w", err)
	}
	return st, nil
}

// SetEnabled enables or disables the profile of authUserID.
func (s *Service) SetEnabled(ctx context.Context, actorID, authUserID string, enabled bool, reason string) (*domain.Profile, error) {
	var updated *domain.Profile
	var entry *auditdomain.AuditLog
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		p, err := loadForUpdate(ctx, tx, authUserID)
		if err != nil {
			return err
		}
		was := p.Enabled
		p.Enabled = enabled
		p.Touch(s.now())
		if err := tx.Update(ctx, p); err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		entry = audit.NewEntry(actorID, auditdomain.ActionUserStatusChanged,
			"User status changed",
			fmt.Sprintf("authUserId=%s enabled=%t (was: %t) reason=%s", authUserID, enabled, was, reason), s.now())
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.commit(ctx, entry)
	s.logger.InfoContext(ctx, "user status changed", "auth_user_id", authUserID, "enabled", enabled)
	return updated, nil
}

// Delete removes the profile of authUserID and its roles.
func (s *Service) Delete(ctx context.Context, actorID, authUserID string) error {
	var entry *auditdomain.AuditLog
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		p, err := loadForUpdate(ctx, tx, authUserID)
		if err != nil {
			return err
		}
		if err := tx.Delete(ctx, authUserID); err != nil {
			return fmt.Errorf("delete profile: %w", err)
		}
		entry = audit.NewEntry(actorID, auditdomain.ActionProfileDeleted,
			"User profile deleted", fmt.Sprintf("authUserId=%s email=%s", authUserID, p.Email), s.now())
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.commit(ctx, entry)
	s.logger.InfoContext(ctx, "profile deleted", "auth_user_id", authUserID)
	return nil
}

// Roles returns the business role grants of authUserID, including expired ones.
func (s *Service) Roles(ctx context.Context, authUserID string) ([]domain.UserRole, error) {
	p, err := s.Get(ctx, authUserID)
	if err != nil {
		return nil, err
	}
	roles, err := s.store.ListRoles(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// ReplaceRoles replaces every business role of authUserID with names. Unknown role names
// are rejected and duplicates collapse.
func (s *Service) ReplaceRoles(ctx context.Context, actorID, authUserID string, names []string) ([]domain.UserRole, error) {
	clean, err := normalizeRoles(names)
	if err != nil {
		return nil, err
	}
	var grants []domain.UserRole
	var entry *auditdomain.AuditLog
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		p, err := loadForUpdate(ctx, tx, authUserID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		grants = make([]domain.UserRole, 0, len(clean))
		for _, name := range clean {
			grants = append(grants, domain.UserRole{
				ID:        s.newID(),
				ProfileID: p.ID,
				RoleName:  name,
				GrantedAt: now,
				GrantedBy: actorID,
			})
		}
		if err := tx.ReplaceRoles(ctx, p.ID, grants); err != nil {
			return fmt.Errorf("replace roles: %w", err)
		}
		entry = audit.NewEntry(actorID, auditdomain.ActionUserRolesChanged,
			"User roles changed", fmt.Sprintf("authUserId=%s roles=%s", authUserID, strings.Join(clean, ",")), now)
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.commit(ctx, entry)
	s.logger.InfoContext(ctx, "user roles changed", "auth_user_id", authUserID, "roles", clean)
	return grants, nil
}

func normalizeRoles(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		role := strings.ToLower(strings.TrimSpace(n))
		if !domain.IsKnownBusinessRole(role) {
			return nil, fmt.Errorf("%w: unknown role %q", errs.ErrValidation, n)
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out, nil
}

func loadForUpdate(ctx context.Context, tx repository.Tx, authUserID string) (*domain.Profile, error) {
	p, err := tx.GetByAuthUserID(ctx, authUserID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("profile %s: %w", authUserID, errs.ErrNotFound)
	}
	return p, nil
}

func (s *Service) commit(ctx context.Context, entries ...*auditdomain.AuditLog) {
	if s.mirror != nil {
		s.mirror.Mirror(ctx, entries...)
	}
}
