// Package rbac holds the authorization rules for profile operations. Every rule is a pure
// function of the caller identity and a target auth user id.
package rbac

import (
	"fmt"

	"smartdrive/user-service/internal/identity/domain"
	"smartdrive/user-service/internal/platform/errs"
)

// CanView reports whether id may read target's profile: admins, or the user themself.
func CanView(id domain.RequestIdentity, target string) bool {
	return id.IsAdmin() || isSelf(id, target)
}

// CanUpdate reports whether id may modify target's profile: admins, or the user themself.
func CanUpdate(id domain.RequestIdentity, target string) bool {
	return id.IsAdmin() || isSelf(id, target)
}

// CanDelete reports whether id may delete target. Admins only, and never themselves.
func CanDelete(id domain.RequestIdentity, target string) bool {
	return id.IsAdmin() && id.UserID != target
}

// CanChangeRoles reports whether id may change target's roles. Admins only, and never their own.
func CanChangeRoles(id domain.RequestIdentity, target string) bool {
	return id.IsAdmin() && id.UserID != target
}

// CanAccessAdminFunctions reports whether id may use the admin API.
func CanAccessAdminFunctions(id domain.RequestIdentity) bool {
	return id.IsAdmin()
}

// CanViewAllUsers reports whether id may list or search every profile: admins and support staff.
func CanViewAllUsers(id domain.RequestIdentity) bool {
	return id.IsAdmin() || (id.Authenticated && id.HasRole(domain.RoleSupport))
}

// RequireAuthenticated returns errs.ErrUnauthorized unless id is authenticated.
func RequireAuthenticated(id domain.RequestIdentity) error {
	if !id.Authenticated || id.UserID == "" {
		return fmt.Errorf("%w: authentication required", errs.ErrUnauthorized)
	}
	return nil
}

// RequireAdmin returns errs.ErrUnauthorized for anonymous callers and errs.ErrForbidden for
// authenticated callers without the admin role.
func RequireAdmin(id domain.RequestIdentity) error {
	if err := RequireAuthenticated(id); err != nil {
		return err
	}
	if !id.HasRole(domain.RoleAdmin) {
		return fmt.Errorf("%w: admin role required", errs.ErrForbidden)
	}
	return nil
}

// RequireCanAccess returns an error unless id may view target.
func RequireCanAccess(id domain.RequestIdentity, target string) error {
	if err := RequireAuthenticated(id); err != nil {
		return err
	}
	if !CanView(id, target) {
		return fmt.Errorf("%w: cannot access user %s", errs.ErrForbidden, target)
	}
	return nil
}

func isSelf(id domain.RequestIdentity, target string) bool {
	return id.Authenticated && id.UserID != "" && id.UserID == target
}
