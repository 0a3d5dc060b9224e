// Package gateway verifies that a request was forwarded by the trusted API gateway and
// turns its identity headers into a domain.RequestIdentity.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"smartdrive/user-service/internal/identity/domain"
	"smartdrive/user-service/internal/platform/errs"
)

// Headers set by the gateway.
const (
	HeaderUserID       = "X-User-ID"
	HeaderUsername     = "X-User-Username"
	HeaderEmail        = "X-User-Email"
	HeaderRoles        = "X-User-Roles"
	HeaderRequestID    = "X-Request-ID"
	HeaderInternalAuth = "X-Internal-Auth"
	HeaderSignature    = "X-Gateway-Signature"
	HeaderTimestamp    = "X-Gateway-Timestamp"
	HeaderForwardedBy  = "X-Forwarded-By"
)

// DefaultForwardedBy is the marker the gateway puts in X-Forwarded-By.
const DefaultForwardedBy = "SmartDrive-Gateway"

// DefaultMaxSkew is the accepted distance between X-Gateway-Timestamp and now.
const DefaultMaxSkew = 300 * time.Second

// Verification failures. All wrap errs.ErrUnauthorized and carry no secret material.
var (
	ErrMissingInternalAuth = fmt.Errorf("%w: missing internal auth header", errs.ErrUnauthorized)
	ErrInvalidInternalAuth = fmt.Errorf("%w: invalid internal auth header", errs.ErrUnauthorized)
	ErrNotFromGateway      = fmt.Errorf("%w: request not forwarded by gateway", errs.ErrUnauthorized)
	ErrMissingSignature    = fmt.Errorf("%w: missing gateway signature or timestamp", errs.ErrUnauthorized)
	ErrInvalidTimestamp    = fmt.Errorf("%w: invalid gateway timestamp", errs.ErrUnauthorized)
	ErrStaleTimestamp      = fmt.Errorf("%w: gateway timestamp outside allowed window", errs.ErrUnauthorized)
	ErrBadSignature        = fmt.Errorf("%w: gateway signature mismatch", errs.ErrUnauthorized)
)

// ErrMisconfigured is returned when a check is enabled but its secret is empty.
// It is an internal error, not an authentication failure.
var ErrMisconfigured = errors.New("gateway verifier: required secret is not configured")

// Config configures a Verifier.
type Config struct {
	// InternalAuthSecret must match X-Internal-Auth when GatewayValidation is on.
	InternalAuthSecret string
	// SigningSecret is the HMAC-SHA256 key for X-Gateway-Signature.
	SigningSecret string
	// ExpectedForwardedBy must match X-Forwarded-By when GatewayValidation is on. Defaults to DefaultForwardedBy.
	ExpectedForwardedBy string
	GatewayValidation   bool
	SignatureValidation bool
	// MaxSkew defaults to DefaultMaxSkew when zero.
	MaxSkew time.Duration
}

// Verifier checks gateway headers. Safe for concurrent use; it holds no per-request state.
type Verifier struct {
	cfg Config
	now func() time.Time
}

// NewVerifier returns a Verifier using the wall clock.
func NewVerifier(cfg Config) *Verifier {
	return NewVerifierWithClock(cfg, time.Now)
}

// NewVerifierWithClock returns a Verifier that reads the current time from now.
func NewVerifierWithClock(cfg Config, now func() time.Time) *Verifier {
	if cfg.ExpectedForwardedBy == "" {
		cfg.ExpectedForwardedBy = DefaultForwardedBy
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = DefaultMaxSkew
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{cfg: cfg, now: now}
}

// Verify validates h for a request to path and returns the caller identity.
// A valid request without X-User-ID yields an anonymous identity.
func (v *Verifier) Verify(h http.Header, path string) (domain.RequestIdentity, error) {
	if v.cfg.GatewayValidation {
		if err := v.verifyGateway(h); err != nil {
			return domain.RequestIdentity{}, err
		}
	}

	rawUserID := h.Get(HeaderUserID)
	if v.cfg.SignatureValidation {
		if err := v.verifySignature(h, rawUserID, path); err != nil {
			return domain.RequestIdentity{}, err
		}
	}

	userID := strings.TrimSpace(rawUserID)

	correlationID := h.Get(HeaderRequestID)
	if userID == "" {
		return domain.Anonymous(correlationID), nil
	}
	return domain.RequestIdentity{
		UserID:        userID,
		Username:      h.Get(HeaderUsername),
		Email:         h.Get(HeaderEmail),
		Roles:         domain.ParseRoles(h.Get(HeaderRoles)),
		CorrelationID: correlationID,
		Authenticated: true,
	}, nil
}

func (v *Verifier) verifyGateway(h http.Header) error {
	if v.cfg.InternalAuthSecret == "" {
		return ErrMisconfigured
	}
	token := h.Get(HeaderInternalAuth)
	if token == "" {
		return ErrMissingInternalAuth
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(v.cfg.InternalAuthSecret)) != 1 {
		return ErrInvalidInternalAuth
	}
	if h.Get(HeaderForwardedBy) != v.cfg.ExpectedForwardedBy {
		return ErrNotFromGateway
	}
	return nil
}

func (v *Verifier) verifySignature(h http.Header, userID, path string) error {
	if v.cfg.SigningSecret == "" {
		return ErrMisconfigured
	}
	sig := h.Get(HeaderSignature)
	ts := h.Get(HeaderTimestamp)
	if sig == "" || ts == "" {
		return ErrMissingSignature
	}
	epoch, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	nowSec := v.now().Unix()
	maxSec := int64(v.cfg.MaxSkew / time.Second)
	if epoch < nowSec-maxSec || epoch > nowSec+maxSec {
		return ErrStaleTimestamp
	}
	want := Sign(v.cfg.SigningSecret, userID, path, ts)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return ErrBadSignature
	}
	return nil
}

// Sign returns base64(HMAC-SHA256(secret, userID|path|timestamp)), the value the gateway
// sends in X-Gateway-Signature. timestamp is the X-Gateway-Timestamp header verbatim.
func Sign(secret, userID, path, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(userID + "|" + path + "|" + timestamp))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
