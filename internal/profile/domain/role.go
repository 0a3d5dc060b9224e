package domain

import "time"

// Business roles stored in user_roles. These are separate from the platform roles the
// gateway forwards.
const (
	BusinessRoleAdmin   = "admin"
	BusinessRolePremium = "premium"
	BusinessRoleBasic   = "basic"
)

// UserRole grants a business role to a profile.
type UserRole struct {
	ID        string
	ProfileID string
	RoleName  string
	GrantedAt time.Time
	ExpiresAt *time.Time
	GrantedBy string
}

// IsKnownBusinessRole reports whether name is one of the business roles.
func IsKnownBusinessRole(name string) bool {
	switch name {
	case BusinessRoleAdmin, BusinessRolePremium, BusinessRoleBasic:
		return true
	}
	return false
}

// Active reports whether the grant has not expired at now.
func (r UserRole) Active(now time.Time) bool {
	return r.ExpiresAt == nil || now.Before(*r.ExpiresAt)
}
