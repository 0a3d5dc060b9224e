package domain

import "time"

// SystemUserID is the user id recorded for entries written by the service itself
// (event consumer, reconciler) rather than on behalf of a caller.
const SystemUserID = "_system"

// Audit actions.
const (
	ActionProfileCreated        = "USER_PROFILE_CREATED"
	ActionEmailVerified         = "EMAIL_VERIFIED"
	ActionEmailChanged          = "EMAIL_CHANGED"
	ActionEventSkippedStale     = "EVENT_SKIPPED_STALE"
	ActionEventDuplicateIgnored = "EVENT_DUPLICATE_IGNORED"
	ActionEmailConsistencyFixed = "EMAIL_CONSISTENCY_FIXED"
	ActionEmailConsistencyCheck = "EMAIL_CONSISTENCY_CHECK"
	ActionUserStatusChanged     = "USER_STATUS_CHANGED"
	ActionProfileDeleted        = "USER_PROFILE_DELETED"
	ActionUserRolesChanged      = "USER_ROLES_CHANGED"
	ActionProfileUpdated        = "USER_PROFILE_UPDATED"
)

// AuditLog is one append-only audit entry.
type AuditLog struct {
	ID          string
	UserID      string
	Action      string
	Description string
	Details     string
	CreatedAt   time.Time
}
