package domain

import "strings"

// Platform roles forwarded by the gateway in X-User-Roles.
const (
	RoleAdmin   = "SMARTDRIVE_ADMIN"
	RoleUser    = "SMARTDRIVE_USER"
	RoleViewer  = "SMARTDRIVE_VIEWER"
	RoleSupport = "SMARTDRIVE_SUPPORT"
	RoleGuest   = "SMARTDRIVE_GUEST"
)

// RequestIdentity is the verified caller of one inbound request. It lives only in the
// request context and is never persisted.
type RequestIdentity struct {
	UserID        string
	Username      string
	Email         string
	Roles         []string
	CorrelationID string
	Authenticated bool
}

// Anonymous returns an unauthenticated identity carrying only the correlation id.
func Anonymous(correlationID string) RequestIdentity {
	return RequestIdentity{CorrelationID: correlationID}
}

// HasRole reports whether the identity carries role (exact match).
func (r RequestIdentity) HasRole(role string) bool {
	for _, have := range r.Roles {
		if have == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the identity is an authenticated admin.
func (r RequestIdentity) IsAdmin() bool {
	return r.Authenticated && r.HasRole(RoleAdmin)
}

// ParseRoles splits a comma-separated roles header, trimming entries and dropping
// empty ones and duplicates. Order is preserved.
func ParseRoles(header string) []string {
	if strings.TrimSpace(header) == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		role := strings.TrimSpace(p)
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}
