// Package handler applies Auth Service domain events to user profiles. Every mutation and
// its audit entry commit in one store transaction.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"smartdrive/user-service/internal/audit"
	auditdomain "smartdrive/user-service/internal/audit/domain"
	"smartdrive/user-service/internal/events/domain"
	"smartdrive/user-service/internal/platform/errs"
	profiledomain "smartdrive/user-service/internal/profile/domain"
	"smartdrive/user-service/internal/profile/repository"
)

// Mirror receives audit entries after their transaction commits.
type Mirror interface {
	Mirror(ctx context.Context, entries ...*auditdomain.AuditLog)
}

// Handler is the single entry point for domain events.
type Handler struct {
	store  repository.Store
	mirror Mirror
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
	newID  func() string
}

// New returns a Handler writing to store. mirror may be nil.
func New(store repository.Store, mirror Mirror, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  store,
		mirror: mirror,
		logger: logger,
		tracer: otel.Tracer("smartdrive/user-service/events"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Handle applies e. It returns nil for duplicate registrations and stale events, an error wrapping
// errs.ErrTransient when the profile does not exist yet, and errs.ErrValidation for
// malformed events.
func (h *Handler) Handle(ctx context.Context, e domain.Event) error {
	ctx, span := h.tracer.Start(ctx, "events.Handle", trace.WithAttributes(
		attribute.String("event.kind", string(e.Kind)),
		attribute.String("event.id", e.DeliveryID()),
		attribute.String("auth_user_id", e.AuthUserID),
	))
	defer span.End()

	err := h.dispatch(ctx, e)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (h *Handler) dispatch(ctx context.Context, e domain.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	switch e.Kind {
	case domain.KindRegistered:
		return h.handleRegistered(ctx, e)
	case domain.KindEmailVerified:
		return h.handleEmailVerified(ctx, e)
	case domain.KindEmailChanged:
		return h.handleEmailChanged(ctx, e)
	}
	return fmt.Errorf("%w: unknown event kind %q", errs.ErrValidation, e.Kind)
}

func (h *Handler) handleRegistered(ctx context.Context, e domain.Event) error {
	r := e.Registered
	var entries []*auditdomain.AuditLog
	created := false

	err := h.store.WithinTx(ctx, func(tx repository.Tx) error {
		existing, err := tx.GetByAuthUserID(ctx, e.AuthUserID)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		if existing != nil {
			entry := h.duplicateEntry(e)
			if err := tx.AppendAudit(ctx, entry); err != nil {
				return fmt.Errorf("append audit: %w", err)
			}
			entries = append(entries, entry)
			return nil
		}
		now := h.now().UTC()
		p := &profiledomain.Profile{
			ID:         h.newID(),
			AuthUserID: e.AuthUserID,
			Email:      profiledomain.NormalizeEmail(r.Email),
			FirstName:  r.FirstName,
			LastName:   r.LastName,
			Enabled:    true,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		p.DisplayName = p.FullName()
		p.SetEmailVersion(e.EmittedAt)
		if r.EmailVerified {
			p.ApplyVerification(e.EmittedAt)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrValidation, err)
		}
		if err := tx.Create(ctx, p); err != nil {
			return err
		}
		entry := audit.NewEntry(e.AuthUserID, auditdomain.ActionProfileCreated,
			"User profile created from Auth Service event",
			fmt.Sprintf("provider=%s", r.Provider), now)
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}
		entries = append(entries, entry)
		created = true
		return nil
	})
	if errors.Is(err, errs.ErrConflict) {
		h.logger.InfoContext(ctx, "profile created concurrently, treating registered event as duplicate",
			"auth_user_id", e.AuthUserID, "event_id", e.DeliveryID())
		entry := h.duplicateEntry(e)
		err = h.store.WithinTx(ctx, func(tx repository.Tx) error {
			return tx.AppendAudit(ctx, entry)
		})
		if err != nil {
			return fmt.Errorf("append audit: %w", err)
		}
		h.commit(ctx, []*auditdomain.AuditLog{entry})
		return nil
	}
	if err != nil {
		return err
	}
	h.commit(ctx, entries)
	if !created {
		h.logger.WarnContext(ctx, "profile already exists, ignoring registered event",
			"auth_user_id", e.AuthUserID, "event_id", e.DeliveryID())
		return nil
	}
	h.logger.InfoContext(ctx, "profile created", "auth_user_id", e.AuthUserID, "event_id", e.DeliveryID())
	return nil
}

func (h *Handler) duplicateEntry(e domain.Event) *auditdomain.AuditLog {
	return audit.NewEntry(e.AuthUserID, auditdomain.ActionEventDuplicateIgnored,
		"Duplicate registration event ignored, profile already exists",
		fmt.Sprintf("kind=%s event_id=%s", e.Kind, e.DeliveryID()), h.now())
}

func (h *Handler) handleEmailVerified(ctx context.Context, e domain.Event) error {
	return h.mutate(ctx, e, func(p *profiledomain.Profile) *auditdomain.AuditLog {
		p.ApplyVerification(e.EmittedAt)
		return audit.NewEntry(e.AuthUserID, auditdomain.ActionEmailVerified,
			"Email verification status updated from Auth Service",
			fmt.Sprintf("email=%s", p.Email), h.now())
	})
}

func (h *Handler) handleEmailChanged(ctx context.Context, e domain.Event) error {
	c := e.EmailChanged
	return h.mutate(ctx, e, func(p *profiledomain.Profile) *auditdomain.AuditLog {
		oldEmail := p.Email
		if expected := profiledomain.NormalizeEmail(c.OldEmail); expected != "" && oldEmail != expected {
			h.logger.WarnContext(ctx, "stored email differs from event old email, applying new email",
				"auth_user_id", e.AuthUserID, "event_id", e.DeliveryID())
		}
		p.ApplyEmailChange(profiledomain.NormalizeEmail(c.NewEmail), c.EmailVerified, e.EmittedAt)
		return audit.NewEntry(e.AuthUserID, auditdomain.ActionEmailChanged,
			"Email updated from Auth Service",
			fmt.Sprintf("old=%s new=%s", oldEmail, p.Email), h.now())
	})
}

// mutate loads the profile inside a transaction, skips events older than the change that set
// the current address, applies fn, bumps UpdatedAt and writes fn's audit entry.
func (h *Handler) mutate(ctx context.Context, e domain.Event, fn func(p *profiledomain.Profile) *auditdomain.AuditLog) error {
	var entries []*auditdomain.AuditLog
	stale := false

	err := h.store.WithinTx(ctx, func(tx repository.Tx) error {
		p, err := tx.GetByAuthUserID(ctx, e.AuthUserID)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		if p == nil {
			return fmt.Errorf("%w: no profile for auth user %s yet", errs.ErrTransient, e.AuthUserID)
		}
		if p.EmailEventIsStale(e.EmittedAt) {
			stale = true
			entry := audit.NewEntry(e.AuthUserID, auditdomain.ActionEventSkippedStale,
				"Out-of-order event skipped",
				fmt.Sprintf("kind=%s event_id=%s emitted_at=%s", e.Kind, e.DeliveryID(), e.EmittedAt.Format(time.RFC3339Nano)),
				h.now())
			if err := tx.AppendAudit(ctx, entry); err != nil {
				return fmt.Errorf("append audit: %w", err)
			}
			entries = append(entries, entry)
			return nil
		}

		entry := fn(p)
		p.Touch(h.now())
		if err := tx.Update(ctx, p); err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return err
	}
	h.commit(ctx, entries)
	if stale {
		h.logger.WarnContext(ctx, "skipped stale event",
			"auth_user_id", e.AuthUserID, "event_id", e.DeliveryID(), "kind", e.Kind)
		return nil
	}
	h.logger.InfoContext(ctx, "event applied",
		"auth_user_id", e.AuthUserID, "event_id", e.DeliveryID(), "kind", e.Kind)
	return nil
}

func (h *Handler) commit(ctx context.Context, entries []*auditdomain.AuditLog) {
	if h.mirror != nil && len(entries) > 0 {
		h.mirror.Mirror(ctx, entries...)
	}
}
