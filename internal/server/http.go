// Package server assembles the HTTP router and the gRPC server.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	healthhandler "smartdrive/user-service/internal/health/handler"
	"smartdrive/user-service/internal/metrics"
	profilehandler "smartdrive/user-service/internal/profile/handler"
	"smartdrive/user-service/internal/server/middleware"
)

// HTTPDeps holds what the HTTP router serves.
type HTTPDeps struct {
	Verifier middleware.Verifier
	Profiles *profilehandler.Handler
	Health   *healthhandler.Checker
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// NewRouter builds the chi router: request id, panic recovery, access log, gateway
// verification, then the health, metrics and API routes. The result is wrapped in otelhttp.
func NewRouter(d HTTPDeps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.AccessLog(logger, d.Metrics))
	r.Use(middleware.GatewayAuth(d.Verifier, middleware.DefaultPublicPaths(), logger))

	if d.Health != nil {
		r.Get("/healthz", d.Health.Liveness)
		r.Get("/readyz", d.Health.Readiness)
		r.Get("/actuator/health", d.Health.Readiness)
	}
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	if d.Profiles != nil {
		d.Profiles.Register(r)
	}
	return otelhttp.NewHandler(r, "user-service")
}
