package repository

import (
	"time"

	"smartdrive/user-service/internal/profile/domain"
)

type profileModel struct {
	ID              string     `gorm:"column:id;type:uuid;primaryKey"`
	AuthUserID      string     `gorm:"column:auth_user_id"`
	Email           string     `gorm:"column:email"`
	EmailVerified   bool       `gorm:"column:email_verified"`
	FirstName       string     `gorm:"column:first_name"`
	LastName        string     `gorm:"column:last_name"`
	DisplayName     string     `gorm:"column:display_name"`
	AvatarURL       string     `gorm:"column:avatar_url"`
	Bio             string     `gorm:"column:bio"`
	Phone           string     `gorm:"column:phone"`
	DateOfBirth     *time.Time `gorm:"column:date_of_birth;type:date"`
	Timezone        string     `gorm:"column:timezone"`
	Language        string     `gorm:"column:language"`
	Enabled         bool       `gorm:"column:enabled"`
	EmailVersion    int64      `gorm:"column:email_version"`
	VerifiedVersion int64      `gorm:"column:verified_version"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
}

func (profileModel) TableName() string { return "user_profiles" }

type userRoleModel struct {
	ID        string     `gorm:"column:id;type:uuid;primaryKey"`
	ProfileID string     `gorm:"column:profile_id;type:uuid"`
	RoleName  string     `gorm:"column:role_name"`
	GrantedAt time.Time  `gorm:"column:granted_at"`
	ExpiresAt *time.Time `gorm:"column:expires_at"`
	GrantedBy string     `gorm:"column:granted_by"`
}

func (userRoleModel) TableName() string { return "user_roles" }

func toModel(p *domain.Profile) profileModel {
	return profileModel{
		ID:              p.ID,
		AuthUserID:      p.AuthUserID,
		Email:           p.Email,
		EmailVerified:   p.EmailVerified,
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		DisplayName:     p.DisplayName,
		AvatarURL:       p.AvatarURL,
		Bio:             p.Bio,
		Phone:           p.Phone,
		DateOfBirth:     p.DateOfBirth,
		Timezone:        p.Timezone,
		Language:        p.Language,
		Enabled:         p.Enabled,
		EmailVersion:    p.EmailVersion,
		VerifiedVersion: p.VerifiedVersion,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func toDomain(m profileModel) *domain.Profile {
	return &domain.Profile{
		ID:              m.ID,
		AuthUserID:      m.AuthUserID,
		Email:           m.Email,
		EmailVerified:   m.EmailVerified,
		FirstName:       m.FirstName,
		LastName:        m.LastName,
		DisplayName:     m.DisplayName,
		AvatarURL:       m.AvatarURL,
		Bio:             m.Bio,
		Phone:           m.Phone,
		DateOfBirth:     m.DateOfBirth,
		Timezone:        m.Timezone,
		Language:        m.Language,
		Enabled:         m.Enabled,
		EmailVersion:    m.EmailVersion,
		VerifiedVersion: m.VerifiedVersion,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func toDomainList(ms []profileModel) []*domain.Profile {
	out := make([]*domain.Profile, len(ms))
	for i := range ms {
		out[i] = toDomain(ms[i])
	}
	return out
}

func toRoleModel(r domain.UserRole) userRoleModel {
	return userRoleModel{
		ID:        r.ID,
		ProfileID: r.ProfileID,
		RoleName:  r.RoleName,
		GrantedAt: r.GrantedAt,
		ExpiresAt: r.ExpiresAt,
		GrantedBy: r.GrantedBy,
	}
}

func toDomainRole(m userRoleModel) domain.UserRole {
	return domain.UserRole{
		ID:        m.ID,
		ProfileID: m.ProfileID,
		RoleName:  m.RoleName,
		GrantedAt: m.GrantedAt,
		ExpiresAt: m.ExpiresAt,
		GrantedBy: m.GrantedBy,
	}
}
