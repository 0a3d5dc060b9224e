// Package middleware holds the chi middleware chain: request ids, panic recovery,
// gateway identity verification, access logging and request metrics.
package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"smartdrive/user-service/internal/identity/domain"
	"smartdrive/user-service/internal/identity/gateway"
	"smartdrive/user-service/internal/platform/errs"
	"smartdrive/user-service/internal/platform/respond"
)

// Verifier checks the gateway headers of one request. *gateway.Verifier implements it.
type Verifier interface {
	Verify(h http.Header, path string) (domain.RequestIdentity, error)
}

// PublicPaths lists the routes that bypass gateway verification.
type PublicPaths struct {
	Exact    []string
	Prefixes []string
}

// DefaultPublicPaths are health, metrics, registration, email verification and API docs.
func DefaultPublicPaths() PublicPaths {
	return PublicPaths{
		Exact: []string{
			"/healthz",
			"/readyz",
			"/metrics",
			"/api/v1/users/register",
			"/api/v1/users/resend-verification",
			"/actuator/health",
			"/actuator/info",
		},
		Prefixes: []string{
			"/api/v1/users/verify-email",
			"/swagger-ui",
			"/v3/api-docs",
		},
	}
}

// Match reports whether path is public.
func (p PublicPaths) Match(path string) bool {
	for _, e := range p.Exact {
		if path == e {
			return true
		}
	}
	for _, pre := range p.Prefixes {
		if strings.HasPrefix(path, pre) {
			return true
		}
	}
	return false
}

// GatewayAuth verifies the gateway headers of every non-public request and stores the
// resulting identity in the request context. Verification failures are answered with 401
// before the handler runs; misconfiguration or a panic during verification yields 500.
func GatewayAuth(v Verifier, public PublicPaths, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reqID := RequestIDFrom(ctx)

			if public.Match(r.URL.Path) {
				next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, domain.Anonymous(reqID))))
				return
			}

			id, err := verifySafely(v, r)
			if err != nil {
				if errors.Is(err, errs.ErrUnauthorized) {
					logger.WarnContext(ctx, "gateway verification failed",
						"request_id", reqID,
						"path", r.URL.Path,
						"reason", err.Error(),
					)
					respond.Err(w, err)
					return
				}
				logger.ErrorContext(ctx, "gateway verification error",
					"request_id", reqID,
					"path", r.URL.Path,
					"error", err,
				)
				respond.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
				return
			}
			if id.CorrelationID == "" {
				id.CorrelationID = reqID
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
		})
	}
}

func verifySafely(v Verifier, r *http.Request) (id domain.RequestIdentity, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			id = domain.RequestIdentity{}
			err = fmt.Errorf("%w: panic during verification: %v", gateway.ErrMisconfigured, rec)
		}
	}()
	return v.Verify(r.Header, r.URL.Path)
}
