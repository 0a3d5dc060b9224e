package repository

import (
	"context"

	"smartdrive/user-service/internal/audit/domain"
)

// Repository defines persistence for audit logs. Entries are append-only.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.AuditLog, error)
	ListByAction(ctx context.Context, action string, limit int) ([]*domain.AuditLog, error)
}
