// Package app wires the shared infrastructure used by every command: telemetry, Postgres,
// Redis, the profile store, audit, the Auth Service client and the reconciler.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"smartdrive/user-service/internal/audit"
	auditrepo "smartdrive/user-service/internal/audit/repository"
	"smartdrive/user-service/internal/authsvc"
	"smartdrive/user-service/internal/config"
	"smartdrive/user-service/internal/db"
	healthhandler "smartdrive/user-service/internal/health/handler"
	"smartdrive/user-service/internal/metrics"
	"smartdrive/user-service/internal/platform/cache"
	"smartdrive/user-service/internal/profile/repository"
	"smartdrive/user-service/internal/reconcile"
	telemetryotel "smartdrive/user-service/internal/telemetry/otel"
)

// Infra is the process-wide dependency graph.
type Infra struct {
	Config     *config.Config
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Telemetry  *telemetryotel.Providers
	SQL        *sql.DB
	Redis      *redis.Client
	KV         cache.KV
	Store      repository.Store
	Audit      *audit.Logger
	Auth       *authsvc.Client
	Reconciler *reconcile.Reconciler
}

// Open builds Infra from cfg. Redis is optional: without REDIS_URL the store is uncached and
// KV is an in-process map. Close must be called when Open succeeds.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Infra, error) {
	in := &Infra{Config: cfg, Logger: logger, Metrics: metrics.New()}

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, cfg.OTELServiceName, cfg.OTLPInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	in.Telemetry = providers

	if cfg.DatabaseURL == "" {
		in.Close(ctx)
		return nil, errors.New("DATABASE_URL is required")
	}
	sqlDB, err := db.Open(cfg.DatabaseURL, cfg.DBMaxOpenConns)
	if err != nil {
		in.Close(ctx)
		return nil, fmt.Errorf("database: %w", err)
	}
	in.SQL = sqlDB
	gdb, err := db.Gorm(sqlDB)
	if err != nil {
		in.Close(ctx)
		return nil, fmt.Errorf("database: %w", err)
	}

	var store repository.Store = repository.NewGormStore(gdb)
	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			in.Close(ctx)
			return nil, fmt.Errorf("redis: %w", err)
		}
		in.Redis = client
		in.KV = cache.NewRedis(client)
		store = repository.NewCachedStore(store, in.KV, cfg.CacheTTL(), logger)
	} else {
		logger.WarnContext(ctx, "REDIS_URL not set; profile cache disabled and event dedup is process-local")
		in.KV = cache.NewMemory()
	}
	in.Store = store

	in.Audit = audit.NewLogger(auditrepo.NewGormRepository(gdb), telemetryotel.NewAuditEmitter(providers.LoggerProvider), logger)
	in.Auth = authsvc.NewClient(cfg.AuthServiceURL, cfg.AuthTimeout(), in.Metrics)
	in.Reconciler = reconcile.New(store, in.Auth, in.Audit, in.Metrics, logger, reconcile.Config{
		BatchSize:   cfg.ReconcileBatchSize,
		Concurrency: cfg.ReconcileConcurrency,
		CallTimeout: cfg.AuthTimeout(),
	})
	return in, nil
}

// HealthChecker returns a readiness checker over the database and, when configured, Redis.
func (in *Infra) HealthChecker() *healthhandler.Checker {
	c := healthhandler.NewChecker(0, in.Logger)
	c.Add("database", healthhandler.PingFunc(in.SQL.PingContext))
	if in.Redis != nil {
		c.Add("redis", in.KV)
	}
	return c
}

// Close releases connections and flushes telemetry.
func (in *Infra) Close(ctx context.Context) {
	if in.Redis != nil {
		if err := in.Redis.Close(); err != nil {
			in.Logger.WarnContext(ctx, "close redis", "error", err)
		}
	}
	if in.SQL != nil {
		if err := in.SQL.Close(); err != nil {
			in.Logger.WarnContext(ctx, "close database", "error", err)
		}
	}
	if in.Telemetry != nil {
		if err := in.Telemetry.Shutdown(ctx); err != nil {
			in.Logger.WarnContext(ctx, "telemetry shutdown", "error", err)
		}
	}
}
