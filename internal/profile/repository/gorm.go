package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	auditdomain "smartdrive/user-service/internal/audit/domain"
	auditrepo "smartdrive/user-service/internal/audit/repository"
	"smartdrive/user-service/internal/platform/errs"
	"smartdrive/user-service/internal/profile/domain"
)

// GormStore is the Postgres-backed Store.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns a profile store over db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// GetByAuthUserID returns the profile for authUserID, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (s *GormStore) GetByAuthUserID(ctx context.Context, authUserID string) (*domain.Profile, error) {
	return getOne(s.db.WithContext(ctx).Where("auth_user_id = ?", authUserID))
}

// GetByEmail returns the profile with the given (normalized) email, or nil if not found.
func (s *GormStore) GetByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	return getOne(s.db.WithContext(ctx).Where("email = ?", domain.NormalizeEmail(email)))
}

func (s *GormStore) ListAfter(ctx context.Context, afterID string, limit int) ([]*domain.Profile, error) {
	q := s.db.WithContext(ctx).Order("id ASC").Limit(limit)
	if afterID != "" {
		q = q.Where("id > ?", afterID)
	}
	var recs []profileModel
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return toDomainList(recs), nil
}

// List returns one page ordered by creation time and the total count.
func (s *GormStore) List(ctx context.Context, offset, limit int) ([]*domain.Profile, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&profileModel{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var recs []profileModel
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, 0, err
	}
	return toDomainList(recs), total, nil
}

func (s *GormStore) Search(ctx context.Context, q SearchQuery, limit int) ([]*domain.Profile, error) {
	tx := s.db.WithContext(ctx).Model(&profileModel{})
	const nameClause = "first_name ILIKE ? OR last_name ILIKE ? OR display_name ILIKE ?"
	switch {
	case q.Any != "":
		p := likePattern(q.Any)
		tx = tx.Where("email ILIKE ? OR "+nameClause, p, p, p, p)
	case q.Email != "":
		tx = tx.Where("email ILIKE ?", likePattern(q.Email))
	case q.Name != "":
		p := likePattern(q.Name)
		tx = tx.Where(nameClause, p, p, p)
	default:
		return nil, nil
	}
	var recs []profileModel
	if err := tx.Order("email ASC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	return toDomainList(recs), nil
}

func (s *GormStore) Stats(ctx context.Context) (domain.Stats, error) {
	var total, verified int64
	if err := s.db.WithContext(ctx).Model(&profileModel{}).Count(&total).Error; err != nil {
		return domain.Stats{}, err
	}
	if err := s.db.WithContext(ctx).Model(&profileModel{}).Where("email_verified = ?", true).Count(&verified).Error; err != nil {
		return domain.Stats{}, err
	}
	return domain.NewStats(total, verified), nil
}

func (s *GormStore) ListRoles(ctx context.Context, profileID string) ([]domain.UserRole, error) {
	var recs []userRoleModel
	if err := s.db.WithContext(ctx).Where("profile_id = ?", profileID).Order("role_name ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]domain.UserRole, len(recs))
	for i := range recs {
		out[i] = toDomainRole(recs[i])
	}
	return out, nil
}

func (s *GormStore) Create(ctx context.Context, p *domain.Profile) error {
	return create(s.db.WithContext(ctx), p)
}

func (s *GormStore) Update(ctx context.Context, p *domain.Profile) error {
	return update(s.db.WithContext(ctx), p)
}

func (s *GormStore) Delete(ctx context.Context, authUserID string) error {
	return remove(s.db.WithContext(ctx), authUserID)
}

func (s *GormStore) ReplaceRoles(ctx context.Context, profileID string, roles []domain.UserRole) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return replaceRoles(tx, profileID, roles)
	})
}

func (s *GormStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx, audit: auditrepo.NewGormRepository(tx)})
	})
}

// Ping checks the underlying connection pool.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type gormTx struct {
	db    *gorm.DB
	audit *auditrepo.GormRepository
}

func (t *gormTx) GetByAuthUserID(ctx context.Context, authUserID string) (*domain.Profile, error) {
	return getOne(t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("auth_user_id = ?", authUserID))
}

func (t *gormTx) Create(ctx context.Context, p *domain.Profile) error {
	return create(t.db.WithContext(ctx), p)
}

func (t *gormTx) Update(ctx context.Context, p *domain.Profile) error {
	return update(t.db.WithContext(ctx), p)
}

func (t *gormTx) Delete(ctx context.Context, authUserID string) error {
	return remove(t.db.WithContext(ctx), authUserID)
}

func (t *gormTx) ReplaceRoles(ctx context.Context, profileID string, roles []domain.UserRole) error {
	return replaceRoles(t.db.WithContext(ctx), profileID, roles)
}

func (t *gormTx) AppendAudit(ctx context.Context, entry *auditdomain.AuditLog) error {
	return t.audit.Create(ctx, entry)
}

func getOne(q *gorm.DB) (*domain.Profile, error) {
	var rec profileModel
	if err := q.Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toDomain(rec), nil
}

func create(db *gorm.DB, p *domain.Profile) error {
	rec := toModel(p)
	if err := db.Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("profile for auth user %s: %w", p.AuthUserID, errs.ErrConflict)
		}
		return err
	}
	return nil
}

func update(db *gorm.DB, p *domain.Profile) error {
	rec := toModel(p)
	res := db.Model(&profileModel{}).
		Where("id = ?", p.ID).
		Select("*").
		Omit("id", "auth_user_id", "created_at").
		Updates(&rec)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("profile %s: %w", p.ID, errs.ErrNotFound)
	}
	return nil
}

func remove(db *gorm.DB, authUserID string) error {
	res := db.Where("auth_user_id = ?", authUserID).Delete(&profileModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("profile for auth user %s: %w", authUserID, errs.ErrNotFound)
	}
	return nil
}

func replaceRoles(db *gorm.DB, profileID string, roles []domain.UserRole) error {
	if err := db.Where("profile_id = ?", profileID).Delete(&userRoleModel{}).Error; err != nil {
		return err
	}
	if len(roles) == 0 {
		return nil
	}
	recs := make([]userRoleModel, len(roles))
	for i, r := range roles {
		r.ProfileID = profileID
		recs[i] = toRoleModel(r)
	}
	return db.Create(&recs).Error
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(s string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(s)) + "%"
}
