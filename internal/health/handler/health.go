// Package handler serves liveness and readiness over HTTP and keeps the gRPC health service
// in step with readiness.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"smartdrive/user-service/internal/platform/respond"
)

const defaultCheckTimeout = 2 * time.Second

// Pinger is one readiness dependency (database, cache).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function such as (*sql.DB).PingContext to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type namedCheck struct {
	name   string
	pinger Pinger
}

// Checker runs the registered readiness checks.
type Checker struct {
	mu      sync.RWMutex
	checks  []namedCheck
	timeout time.Duration
	logger  *slog.Logger
}

// NewChecker returns a Checker with no dependencies; it is ready until one is added.
func NewChecker(timeout time.Duration, logger *slog.Logger) *Checker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{timeout: timeout, logger: logger}
}

// Add registers a dependency under name. A nil pinger is ignored.
func (c *Checker) Add(name string, p Pinger) {
	if p == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, namedCheck{name: name, pinger: p})
}

// Check pings every dependency and reports per-dependency status ("UP" or "DOWN") and
// whether all are up.
func (c *Checker) Check(ctx context.Context) (map[string]string, bool) {
	c.mu.RLock()
	checks := append([]namedCheck(nil), c.checks...)
	c.mu.RUnlock()

	out := make(map[string]string, len(checks))
	ready := true
	for _, chk := range checks {
		pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := chk.pinger.Ping(pingCtx)
		cancel()
		if err != nil {
			c.logger.WarnContext(ctx, "readiness check failed", "dependency", chk.name, "error", err)
			out[chk.name] = "DOWN"
			ready = false
			continue
		}
		out[chk.name] = "UP"
	}
	return out, ready
}

// Liveness answers 200 while the process is serving.
func (c *Checker) Liveness(w http.ResponseWriter, _ *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

// Readiness answers 200 when every dependency is up and 503 otherwise.
func (c *Checker) Readiness(w http.ResponseWriter, r *http.Request) {
	checks, ready := c.Check(r.Context())
	status, code := "UP", http.StatusOK
	if !ready {
		status, code = "DOWN", http.StatusServiceUnavailable
	}
	respond.JSON(w, code, map[string]any{"status": status, "checks": checks})
}

// Watch sets the overall serving status of hs from Check every interval until ctx is done,
// then marks it NOT_SERVING.
func (c *Checker) Watch(ctx context.Context, hs *health.Server, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	c.refresh(ctx, hs)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
			return
		case <-ticker.C:
			c.refresh(ctx, hs)
		}
	}
}

func (c *Checker) refresh(ctx context.Context, hs *health.Server) {
	status := healthpb.HealthCheckResponse_SERVING
	if _, ready := c.Check(ctx); !ready {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.SetServingStatus("", status)
}
