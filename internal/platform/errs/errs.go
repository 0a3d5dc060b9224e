// Package errs defines the error taxonomy shared across the service and its mapping to HTTP status codes.
package errs

import (
	"errors"
	"net/http"
)

// Sentinel errors. Wrap them with fmt.Errorf("...: %w", ErrX) and test with errors.Is.
var (
	// ErrUnauthorized means no verified identity (401). Never retried.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means the identity is known but not allowed (403). Never retried.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound means the referenced profile or upstream user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a duplicate registration or unique-key clash.
	ErrConflict = errors.New("conflict")
	// ErrValidation means malformed input or an invalid event.
	ErrValidation = errors.New("validation failed")
	// ErrUpstreamUnavailable means an Auth Service call failed or timed out.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrTransient marks an event processing failure that should be redelivered.
	ErrTransient = errors.New("transient failure")
)

// Retryable reports whether err should trigger redelivery of the event that produced it.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrUpstreamUnavailable)
}

// HTTPStatus maps err to an HTTP status, a stable error code, and a client-safe message.
// Unknown errors map to 500 with a generic message so internals do not leak.
func HTTPStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", "authentication required"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "access denied"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, "CONFLICT", err.Error()
	case errors.Is(err, ErrUpstreamUnavailable), errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service unavailable"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}
