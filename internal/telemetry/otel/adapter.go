package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	auditdomain "smartdrive/user-service/internal/audit/domain"
)

// recordEmitter is the subset of otellog.Logger used by AuditEmitter.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// AuditEmitter mirrors audit entries as OTel log records.
type AuditEmitter struct {
	logger recordEmitter
}

// NewAuditEmitter returns an emitter that sends audit entries via the given LoggerProvider.
// If provider is nil, the emitter drops everything.
func NewAuditEmitter(provider *sdklog.LoggerProvider) *AuditEmitter {
	if provider == nil {
		return &AuditEmitter{}
	}
	return &AuditEmitter{logger: provider.Logger("user-service.audit")}
}

// newAuditEmitterWithLogger is used by tests to capture records.
func newAuditEmitterWithLogger(l recordEmitter) *AuditEmitter {
	return &AuditEmitter{logger: l}
}

// Emit converts entry to a log record. Best-effort; never blocks on export.
func (e *AuditEmitter) Emit(ctx context.Context, entry *auditdomain.AuditLog) {
	if e == nil || e.logger == nil || entry == nil {
		return
	}
	rec := otellog.Record{}
	ts := entry.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetEventName(entry.Action)
	rec.SetBody(otellog.StringValue(entry.Description))
	rec.AddAttributes(
		otellog.String("audit.id", entry.ID),
		otellog.String("audit.action", entry.Action),
		otellog.String("user_id", entry.UserID),
	)
	if entry.Details != "" {
		rec.AddAttributes(otellog.String("audit.details", entry.Details))
	}
	e.logger.Emit(ctx, rec)
}
