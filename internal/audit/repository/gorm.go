package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"smartdrive/user-service/internal/audit/domain"
)

type auditLogModel struct {
	ID          string    `gorm:"column:id;type:uuid;primaryKey"`
	UserID      string    `gorm:"column:user_id"`
	Action      string    `gorm:"column:action"`
	Description string    `gorm:"column:description"`
	Details     string    `gorm:"column:details"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (auditLogModel) TableName() string { return "audit_logs" }

// GormRepository persists audit logs through gorm. Built on a transaction handle it writes
// inside that transaction.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository returns an audit repository over db (a pool or a transaction).
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Create persists a. The entry must have ID set.
func (r *GormRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	rec := auditLogModel{
		ID:          a.ID,
		UserID:      a.UserID,
		Action:      a.Action,
		Description: a.Description,
		Details:     a.Details,
		CreatedAt:   a.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

// ListByUser returns the entries for userID, newest first.
func (r *GormRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.AuditLog, error) {
	var recs []auditLogModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return toDomainList(recs), nil
}

// ListByAction returns the latest entries with action, newest first.
func (r *GormRepository) ListByAction(ctx context.Context, action string, limit int) ([]*domain.AuditLog, error) {
	var recs []auditLogModel
	err := r.db.WithContext(ctx).
		Where("action = ?", action).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return toDomainList(recs), nil
}

func toDomainList(recs []auditLogModel) []*domain.AuditLog {
	out := make([]*domain.AuditLog, len(recs))
	for i, rec := range recs {
		out[i] = &domain.AuditLog{
			ID:          rec.ID,
			UserID:      rec.UserID,
			Action:      rec.Action,
			Description: rec.Description,
			Details:     rec.Details,
			CreatedAt:   rec.CreatedAt,
		}
	}
	return out
}
