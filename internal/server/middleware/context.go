package middleware

import (
	"context"

	"smartdrive/user-service/internal/identity/domain"
)

type contextKey struct{ name string }

var (
	identityKey  = contextKey{"identity"}
	requestIDKey = contextKey{"request_id"}
)

// WithIdentity returns a context carrying the verified caller identity.
func WithIdentity(ctx context.Context, id domain.RequestIdentity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity stored in ctx and true if set; otherwise an
// anonymous identity and false.
func IdentityFrom(ctx context.Context) (domain.RequestIdentity, bool) {
	id, ok := ctx.Value(identityKey).(domain.RequestIdentity)
	if !ok {
		return domain.Anonymous(RequestIDFrom(ctx)), false
	}
	return id, true
}

// WithRequestID returns a context carrying the correlation id of the request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFrom returns the request id from ctx, or "" if unset.
func RequestIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}
