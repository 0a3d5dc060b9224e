package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Runner runs one reconciliation pass.
type Runner interface {
	DailyReconciliation(ctx context.Context) (Report, error)
}

// Scheduler triggers a Runner on a cron schedule, skipping a tick while the previous run
// is still going. A Scheduler with an empty expr is disabled.
type Scheduler struct {
	cron   *cron.Cron
	expr   string
	runner Runner
	logger *slog.Logger
	ctx    context.Context
}

// NewScheduler parses expr (standard five-field cron). An empty expr disables scheduling.
func NewScheduler(expr string, runner Runner, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{expr: expr, runner: runner, logger: logger, ctx: context.Background()}
	if expr == "" {
		return s, nil
	}
	cl := cronLogger{logger: logger}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(expr, s.tick); err != nil {
		return nil, fmt.Errorf("reconcile schedule %q: %w", expr, err)
	}
	return s, nil
}

// Enabled reports whether a schedule is configured.
func (s *Scheduler) Enabled() bool {
	return s.cron != nil
}

// Start begins firing. Runs use ctx, so cancelling it aborts an in-flight run.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cron == nil {
		s.logger.InfoContext(ctx, "reconciliation schedule disabled")
		return
	}
	s.ctx = ctx
	s.cron.Start()
	s.logger.InfoContext(ctx, "reconciliation scheduled", "cron", s.expr)
}

// Stop prevents new runs and waits for a running one to finish or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	if _, err := s.runner.DailyReconciliation(s.ctx); err != nil {
		s.logger.ErrorContext(s.ctx, "scheduled reconciliation failed", "error", err)
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
