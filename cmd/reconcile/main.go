// reconcile runs the email consistency check against the Auth Service once and prints the
// result as JSON.
//
//	reconcile              full reconciliation, fixing inconsistent profiles
//	reconcile -stats       read-only report
//	reconcile -user ID     check one profile; add -fix to repair it
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartdrive/user-service/internal/app"
	"smartdrive/user-service/internal/config"
	"smartdrive/user-service/internal/platform/logging"
	"smartdrive/user-service/internal/reconcile"
)

func main() {
	stats := flag.Bool("stats", false, "Report consistency without fixing anything")
	user := flag.String("user", "", "Check a single auth user id")
	fix := flag.Bool("fix", false, "With -user, repair the profile from the Auth Service")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.New("user-service-reconcile", "", "info").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.OTELServiceName+"-reconcile", cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	err = run(ctx, in.Reconciler, os.Stdout, *stats, *user, *fix)
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	in.Close(closeCtx)
	cancel()
	if err != nil {
		logger.Error("reconcile failed", "error", err)
		os.Exit(1)
	}
}

type userResult struct {
	AuthUserID          string `json:"authUserId"`
	Consistent          bool   `json:"consistent"`
	ExistsInAuthService bool   `json:"existsInAuthService"`
	Fixed               bool   `json:"fixed,omitempty"`
}

type runner interface {
	DailyReconciliation(ctx context.Context) (reconcile.Report, error)
	ConsistencyStats(ctx context.Context) (reconcile.Report, error)
	CheckUser(ctx context.Context, authUserID string) (bool, error)
	UserExistsUpstream(ctx context.Context, authUserID string) bool
	FixUser(ctx context.Context, authUserID string) error
}

func run(ctx context.Context, r runner, out io.Writer, stats bool, user string, fix bool) error {
	if fix && user == "" {
		return fmt.Errorf("-fix requires -user")
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	switch {
	case user != "":
		consistent, err := r.CheckUser(ctx, user)
		if err != nil {
			return err
		}
		res := userResult{AuthUserID: user, Consistent: consistent, ExistsInAuthService: r.UserExistsUpstream(ctx, user)}
		if fix && !consistent {
			if err := r.FixUser(ctx, user); err != nil {
				return err
			}
			res.Fixed = true
		}
		return enc.Encode(res)
	case stats:
		report, err := r.ConsistencyStats(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(report)
	default:
		report, err := r.DailyReconciliation(ctx)
		if encErr := enc.Encode(report); encErr != nil && err == nil {
			err = encErr
		}
		return err
	}
}
