package repository

import (
	"context"

	auditdomain "smartdrive/user-service/internal/audit/domain"
	"smartdrive/user-service/internal/profile/domain"
)

// Reader is read-only profile access. A missing profile is (nil, nil), never an error.
type Reader interface {
	GetByAuthUserID(ctx context.Context, authUserID string) (*domain.Profile, error)
	GetByEmail(ctx context.Context, email string) (*domain.Profile, error)
	// ListAfter returns up to limit profiles with ID greater than afterID, ordered by ID.
	ListAfter(ctx context.Context, afterID string, limit int) ([]*domain.Profile, error)
}

// SearchQuery filters Search. Any matches email or any name field; Email and Name match
// only their field. Matching is case-insensitive substring.
type SearchQuery struct {
	Any   string
	Email string
	Name  string
}

// Writer mutates profiles. Create wraps errs.ErrConflict when AuthUserID already exists.
type Writer interface {
	Create(ctx context.Context, p *domain.Profile) error
	Update(ctx context.Context, p *domain.Profile) error
	Delete(ctx context.Context, authUserID string) error
	ReplaceRoles(ctx context.Context, profileID string, roles []domain.UserRole) error
}

// Tx is the transaction-scoped view of the store. Audit entries appended through it commit
// or roll back together with the profile writes.
type Tx interface {
	Writer
	// GetByAuthUserID reads inside the transaction, locking the row until commit.
	GetByAuthUserID(ctx context.Context, authUserID string) (*domain.Profile, error)
	AppendAudit(ctx context.Context, entry *auditdomain.AuditLog) error
}

// Store is full profile persistence.
type Store interface {
	Reader
	Writer
	List(ctx context.Context, offset, limit int) ([]*domain.Profile, int64, error)
	Search(ctx context.Context, q SearchQuery, limit int) ([]*domain.Profile, error)
	Stats(ctx context.Context) (domain.Stats, error)
	ListRoles(ctx context.Context, profileID string) ([]domain.UserRole, error)
	// WithinTx runs fn in one transaction. fn's error rolls back and is returned unchanged.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}
