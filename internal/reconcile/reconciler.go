// Package reconcile detects and repairs drift between locally stored profile emails and the
// Auth Service, which is authoritative.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"smartdrive/user-service/internal/audit"
	auditdomain "smartdrive/user-service/internal/audit/domain"
	"smartdrive/user-service/internal/metrics"
	"smartdrive/user-service/internal/platform/errs"
	profiledomain "smartdrive/user-service/internal/profile/domain"
	"smartdrive/user-service/internal/profile/repository"
)

// Per-profile results reported to metrics.
const (
	ResultConsistent = "consistent"
	ResultFixed      = "fixed"
	ResultFailed     = "failed"
	ResultDrifted    = "drifted"
)

// AuthDirectory is the authoritative lookup surface of the Auth Service.
type AuthDirectory interface {
	GetUserEmail(ctx context.Context, authUserID string) (string, error)
	IsEmailVerified(ctx context.Context, authUserID string) (bool, error)
	UserExists(ctx context.Context, authUserID string) (bool, error)
}

// AuditSink receives the run summary and mirrors entries written inside fix transactions.
type AuditSink interface {
	LogSystemAction(ctx context.Context, action, description, details string)
	Mirror(ctx context.Context, entries ...*auditdomain.AuditLog)
}

// Config bounds a reconciliation run.
type Config struct {
	BatchSize   int
	Concurrency int
	CallTimeout time.Duration
}

// Reconciler compares profiles against the Auth Service. It holds no lock across a run, so
// runs may overlap.
type Reconciler struct {
	store   repository.Store
	auth    AuthDirectory
	audit   AuditSink
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
	cfg     Config
}

// New returns a Reconciler. sink and m may be nil.
func New(store repository.Store, auth AuthDirectory, sink AuditSink, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	return &Reconciler{
		store:   store,
		auth:    auth,
		audit:   sink,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("smartdrive/user-service/reconcile"),
		now:     time.Now,
		cfg:     cfg,
	}
}

// CheckConsistency reports whether the Auth Service email equals p.Email exactly. Lookup
// failures are logged and reported as inconsistent.
func (r *Reconciler) CheckConsistency(ctx context.Context, p *profiledomain.Profile) bool {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	authEmail, err := r.auth.GetUserEmail(callCtx, p.AuthUserID)
	if err != nil {
		r.logger.ErrorContext(ctx, "email consistency check failed", "auth_user_id", p.AuthUserID, "error", err)
		return false
	}
	if authEmail != p.Email {
		r.logger.WarnContext(ctx, "email inconsistency detected", "auth_user_id", p.AuthUserID)
		return false
	}
	return true
}

// FixConsistency overwrites the stored email and verification flag with the Auth Service
// values and audits the change, even when nothing differed. Failures are returned.
func (r *Reconciler) FixConsistency(ctx context.Context, p *profiledomain.Profile) error {
	ctx, span := r.tracer.Start(ctx, "reconcile.FixConsistency",
		trace.WithAttributes(attribute.String("auth_user_id", p.AuthUserID)))
	defer span.End()

	err := r.fix(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.ErrorContext(ctx, "email consistency fix failed", "auth_user_id", p.AuthUserID, "error", err)
	}
	return err
}

func (r *Reconciler) fix(ctx context.Context, p *profiledomain.Profile) error {
	email, verified, err := r.authoritative(ctx, p.AuthUserID)
	if err != nil {
		return err
	}

	var entry *auditdomain.AuditLog
	err = r.store.WithinTx(ctx, func(tx repository.Tx) error {
		cur, err := tx.GetByAuthUserID(ctx, p.AuthUserID)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		if cur == nil {
			return fmt.Errorf("profile %s: %w", p.AuthUserID, errs.ErrNotFound)
		}
		oldEmail, oldVerified := cur.Email, cur.EmailVerified
		cur.Email = email
		cur.EmailVerified = verified
		cur.Touch(r.now())
		if err := tx.Update(ctx, cur); err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		entry = audit.NewEntry(cur.AuthUserID, auditdomain.ActionEmailConsistencyFixed,
			"Email inconsistency fixed with Auth Service data",
			fmt.Sprintf("Updated email to: %s, verified: %t (was: %s, verified: %t)", email, verified, oldEmail, oldVerified),
			r.now())
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}
		*p = *cur
		return nil
	})
	if err != nil {
		return err
	}
	if r.audit != nil {
		r.audit.Mirror(ctx, entry)
	}
	r.logger.InfoContext(ctx, "email consistency fixed", "auth_user_id", p.AuthUserID)
	return nil
}

func (r *Reconciler) authoritative(ctx context.Context, authUserID string) (string, bool, error) {
	emailCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	email, err := r.auth.GetUserEmail(emailCtx, authUserID)
	cancel()
	if err != nil {
		return "", false, fmt.Errorf("fetch email: %w", err)
	}

	verifiedCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	verified, err := r.auth.IsEmailVerified(verifiedCtx, authUserID)
	cancel()
	if err != nil {
		return "", false, fmt.Errorf("fetch verification status: %w", err)
	}
	return email, verified, nil
}

// DailyReconciliation checks every profile and fixes the inconsistent ones. Per-profile fix
// failures are counted and the run continues. It returns an error, with the partial report,
// only when listing profiles fails.
func (r *Reconciler) DailyReconciliation(ctx context.Context) (Report, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.DailyReconciliation")
	defer span.End()

	r.logger.InfoContext(ctx, "starting email consistency reconciliation")
	report, err := r.scan(ctx, r.store, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.ObserveReconcileRun("error")
		r.logger.ErrorContext(ctx, "email consistency reconciliation aborted", "error", err,
			"checked", report.TotalChecked, "fixed", report.FixedCount)
		return report, err
	}
	r.metrics.ObserveReconcileRun("ok")

	summary := report.Summary()
	span.SetAttributes(
		attribute.Int("reconcile.checked", report.TotalChecked),
		attribute.Int("reconcile.fixed", report.FixedCount),
		attribute.Int("reconcile.failed", report.FailedCount),
	)
	r.logger.InfoContext(ctx, "email consistency reconciliation completed",
		"checked", report.TotalChecked,
		"fixed", report.FixedCount,
		"inconsistent", report.InconsistentCount,
		"failed", report.FailedCount,
		"duration", report.Duration,
	)
	if r.audit != nil {
		r.audit.LogSystemAction(ctx, auditdomain.ActionEmailConsistencyCheck,
			"Daily email consistency check completed", summary)
	}
	return report, nil
}

// ConsistencyStats runs the same check without repairing anything or writing audit entries.
func (r *Reconciler) ConsistencyStats(ctx context.Context) (Report, error) {
	return r.scan(ctx, r.store, false)
}

// scan pages through reader by id and checks each profile on a bounded worker group. With
// fix set, inconsistent profiles are repaired.
func (r *Reconciler) scan(ctx context.Context, reader repository.Reader, fix bool) (Report, error) {
	report := Report{StartedAt: r.now().UTC()}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)

	finish := func() Report {
		_ = g.Wait()
		report.Timestamp = r.now().UTC()
		report.Duration = report.Timestamp.Sub(report.StartedAt)
		return report
	}

	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return finish(), err
		}
		page, err := reader.ListAfter(ctx, afterID, r.cfg.BatchSize)
		if err != nil {
			return finish(), fmt.Errorf("list profiles after %q: %w", afterID, err)
		}
		for _, p := range page {
			g.Go(func() error {
				result := r.visit(ctx, p, fix)
				r.metrics.ObserveReconcileProfile(result)
				mu.Lock()
				report.add(result)
				mu.Unlock()
				return nil
			})
		}
		if len(page) < r.cfg.BatchSize {
			break
		}
		afterID = page[len(page)-1].ID
	}
	return finish(), nil
}

func (r *Reconciler) visit(ctx context.Context, p *profiledomain.Profile, fix bool) string {
	if r.CheckConsistency(ctx, p) {
		return ResultConsistent
	}
	if !fix {
		return ResultDrifted
	}
	if err := r.FixConsistency(ctx, p); err != nil {
		return ResultFailed
	}
	return ResultFixed
}

// CheckUser checks a single profile by auth user id.
func (r *Reconciler) CheckUser(ctx context.Context, authUserID string) (bool, error) {
	p, err := r.load(ctx, authUserID)
	if err != nil {
		return false, err
	}
	return r.CheckConsistency(ctx, p), nil
}

// FixUser repairs a single profile by auth user id.
func (r *Reconciler) FixUser(ctx context.Context, authUserID string) error {
	p, err := r.load(ctx, authUserID)
	if err != nil {
		return err
	}
	return r.FixConsistency(ctx, p)
}

// UserExistsUpstream reports whether the Auth Service still knows authUserID. Lookup
// failures are logged and reported as false.
func (r *Reconciler) UserExistsUpstream(ctx context.Context, authUserID string) bool {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	ok, err := r.auth.UserExists(callCtx, authUserID)
	if err != nil {
		r.logger.ErrorContext(ctx, "auth service existence check failed", "auth_user_id", authUserID, "error", err)
		return false
	}
	return ok
}

func (r *Reconciler) load(ctx context.Context, authUserID string) (*profiledomain.Profile, error) {
	p, err := r.store.GetByAuthUserID(ctx, authUserID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("profile %s: %w", authUserID, errs.ErrNotFound)
	}
	return p, nil
}
