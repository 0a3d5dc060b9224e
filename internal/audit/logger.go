// Package audit records user and system actions to the audit_logs table and mirrors
// each entry to the OpenTelemetry log pipeline.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"smartdrive/user-service/internal/audit/domain"
	auditrepo "smartdrive/user-service/internal/audit/repository"
)

// Emitter mirrors a persisted entry to an external sink.
type Emitter interface {
	Emit(ctx context.Context, entry *domain.AuditLog)
}

// Recorder writes audit entries. LogUserAction and LogSystemAction are best-effort:
// failures are logged and do not affect the caller.
type Recorder interface {
	LogUserAction(ctx context.Context, userID, action, description, details string)
	LogSystemAction(ctx context.Context, action, description, details string)
}

// Logger implements Recorder using the audit repository and an optional emitter.
type Logger struct {
	repo    auditrepo.Repository
	emitter Emitter
	logger  *slog.Logger
	now     func() time.Time
}

// NewLogger returns a Logger that persists to repo and mirrors to emitter. emitter may be nil.
func NewLogger(repo auditrepo.Repository, emitter Emitter, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{repo: repo, emitter: emitter, logger: logger, now: time.Now}
}

// NewEntry builds an entry with a fresh id and the current UTC time. An empty userID
// is recorded as the system user.
func NewEntry(userID, action, description, details string, now time.Time) *domain.AuditLog {
	if userID == "" {
		userID = domain.SystemUserID
	}
	return &domain.AuditLog{
		ID:          uuid.NewString(),
		UserID:      userID,
		Action:      action,
		Description: description,
		Details:     details,
		CreatedAt:   now.UTC(),
	}
}

// LogUserAction writes one entry attributed to userID.
func (l *Logger) LogUserAction(ctx context.Context, userID, action, description, details string) {
	if l == nil {
		return
	}
	l.write(ctx, NewEntry(userID, action, description, details, l.now()))
}

// LogSystemAction writes one entry attributed to the system user.
func (l *Logger) LogSystemAction(ctx context.Context, action, description, details string) {
	if l == nil {
		return
	}
	l.write(ctx, NewEntry(domain.SystemUserID, action, description, details, l.now()))
}

// Mirror forwards entries that were already persisted elsewhere (for example inside a store
// transaction) to the emitter.
func (l *Logger) Mirror(ctx context.Context, entries ...*domain.AuditLog) {
	if l == nil || l.emitter == nil {
		return
	}
	for _, e := range entries {
		if e != nil {
			l.emitter.Emit(ctx, e)
		}
	}
}

func (l *Logger) write(ctx context.Context, entry *domain.AuditLog) {
	if l == nil || l.repo == nil {
		return
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.logger.ErrorContext(ctx, "audit: failed to log action",
			"action", entry.Action,
			"user_id", entry.UserID,
			"error", err,
		)
		return
	}
	l.Mirror(ctx, entry)
}
