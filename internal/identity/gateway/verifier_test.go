package gateway

import (
	"errors"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"testing"
	"time"

	"smartdrive/user-service/internal/platform/errs"
)

const (
	testInternal = "internal-secret"
	testSigning  = "signing-secret"
	testPath     = "/api/v1/users/profile"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func newTestVerifier() *Verifier {
	return NewVerifierWithClock(Config{
		InternalAuthSecret:  testInternal,
		SigningSecret:       testSigning,
		GatewayValidation:   true,
		SignatureValidation: true,
	}, func() time.Time { return fixedNow })
}

// signedHeaders builds headers the gateway would send for userID at ts.
func signedHeaders(userID string, ts time.Time) http.Header {
	h := http.Header{}
	stamp := strconv.FormatInt(ts.Unix(), 10)
	h.Set(HeaderInternalAuth, testInternal)
	h.Set(HeaderForwardedBy, DefaultForwardedBy)
	h.Set(HeaderTimestamp, stamp)
	h.Set(HeaderSignature, Sign(testSigning, userID, testPath, stamp))
	h.Set(HeaderRequestID, "req-42")
	if userID != "" {
		h.Set(HeaderUserID, userID)
		h.Set(HeaderUsername, "alice")
		h.Set(HeaderEmail, "alice@example.com")
		h.Set(HeaderRoles, "SMARTDRIVE_USER, SMARTDRIVE_ADMIN,")
	}
	return h
}

func TestVerify_ValidSignedRequest(t *testing.T) {
	v := newTestVerifier()
	id, err := v.Verify(signedHeaders("user-1", fixedNow), testPath)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !id.Authenticated {
		t.Error("identity should be authenticated")
	}
	if id.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", id.UserID, "user-1")
	}
	if id.Username != "alice" || id.Email != "alice@example.com" {
		t.Errorf("username/email = %q/%q", id.Username, id.Email)
	}
	if want := []string{"SMARTDRIVE_USER", "SMARTDRIVE_ADMIN"}; !reflect.DeepEqual(id.Roles, want) {
		t.Errorf("Roles = %v, want %v", id.Roles, want)
	}
	if id.CorrelationID != "req-42" {
		t.Errorf("CorrelationID = %q, want %q", id.CorrelationID, "req-42")
	}
}

func TestVerify_SkewWindow(t *testing.T) {
	v := newTestVerifier()
	testCases := []struct {
		name   string
		offset time.Duration
		ok     bool
	}{
		{"now", 0, true},
		{"past edge", -300 * time.Second, true},
		{"future edge", 300 * time.Second, true},
		{"past beyond", -301 * time.Second, false},
		{"future beyond", 301 * time.Second, false},
		{"far past", -24 * time.Hour, false},
		{"far future", 24 * time.Hour, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(signedHeaders("user-1", fixedNow.Add(tc.offset)), testPath)
			if tc.ok && err != nil {
				t.Errorf("Verify: %v, want success", err)
			}
			if !tc.ok {
				if !errors.Is(err, ErrStaleTimestamp) {
					t.Errorf("err = %v, want ErrStaleTimestamp", err)
				}
				if !errors.Is(err, errs.ErrUnauthorized) {
					t.Error("stale timestamp should wrap ErrUnauthorized")
				}
			}
		})
	}
}

func TestVerify_ExtremeTimestampsAreStale(t *testing.T) {
	v := newTestVerifier()
	now := fixedNow.Unix()
	for _, epoch := range []int64{now - math.MaxInt64, math.MinInt64, math.MaxInt64, 0, -1} {
		t.Run(strconv.FormatInt(epoch, 10), func(t *testing.T) {
			stamp := strconv.FormatInt(epoch, 10)
			h := signedHeaders("user-1", fixedNow)
			h.Set(HeaderTimestamp, stamp)
			h.Set(HeaderSignature, Sign(testSigning, "user-1", testPath, stamp))
			if _, err := v.Verify(h, testPath); !errors.Is(err, ErrStaleTimestamp) {
				t.Errorf("err = %v, want ErrStaleTimestamp", err)
			}
		})
	}
}

func TestVerify_Rejections(t *testing.T) {
	v := newTestVerifier()
	testCases := []struct {
		name   string
		mutate func(h http.Header)
		path   string
		want   error
	}{
		{"missing internal auth", func(h http.Header) { h.Del(HeaderInternalAuth) }, testPath, ErrMissingInternalAuth},
		{"wrong internal auth", func(h http.Header) { h.Set(HeaderInternalAuth, "nope") }, testPath, ErrInvalidInternalAuth},
		{"missing forwarded-by", func(h http.Header) { h.Del(HeaderForwardedBy) }, testPath, ErrNotFromGateway},
		{"wrong forwarded-by", func(h http.Header) { h.Set(HeaderForwardedBy, "Other-Proxy") }, testPath, ErrNotFromGateway},
		{"missing signature", func(h http.Header) { h.Del(HeaderSignature) }, testPath, ErrMissingSignature},
		{"missing timestamp", func(h http.Header) { h.Del(HeaderTimestamp) }, testPath, ErrMissingSignature},
		{"non-numeric timestamp", func(h http.Header) { h.Set(HeaderTimestamp, "yesterday") }, testPath, ErrInvalidTimestamp},
		{"wrong signature", func(h http.Header) {
			h.Set(HeaderSignature, Sign("other-secret", "user-1", testPath, h.Get(HeaderTimestamp)))
		}, testPath, ErrBadSignature},
		{"user id swapped", func(h http.Header) { h.Set(HeaderUserID, "user-2") }, testPath, ErrBadSignature},
		{"path swapped", func(h http.Header) {}, "/api/v1/admin/users", ErrBadSignature},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := signedHeaders("user-1", fixedNow)
			tc.mutate(h)
			id, err := v.Verify(h, tc.path)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if !errors.Is(err, errs.ErrUnauthorized) {
				t.Error("verification failure should wrap ErrUnauthorized")
			}
			if id.Authenticated || id.UserID != "" {
				t.Errorf("identity should be empty on failure, got %+v", id)
			}
		})
	}
}

func TestVerify_AnonymousWithinGateway(t *testing.T) {
	v := newTestVerifier()
	id, err := v.Verify(signedHeaders("", fixedNow), testPath)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.Authenticated {
		t.Error("request without X-User-ID should be anonymous")
	}
	if id.CorrelationID != "req-42" {
		t.Errorf("CorrelationID = %q, want %q", id.CorrelationID, "req-42")
	}
}

func TestVerify_SignatureDisabled(t *testing.T) {
	v := NewVerifierWithClock(Config{
		InternalAuthSecret: testInternal,
		GatewayValidation:  true,
	}, func() time.Time { return fixedNow })
	h := http.Header{}
	h.Set(HeaderInternalAuth, testInternal)
	h.Set(HeaderForwardedBy, DefaultForwardedBy)
	h.Set(HeaderUserID, "user-9")

	id, err := v.Verify(h, testPath)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !id.Authenticated || id.UserID != "user-9" {
		t.Errorf("identity = %+v, want authenticated user-9", id)
	}
}

func TestVerify_MisconfiguredIsNotUnauthorized(t *testing.T) {
	v := NewVerifierWithClock(Config{GatewayValidation: true}, func() time.Time { return fixedNow })
	_, err := v.Verify(signedHeaders("user-1", fixedNow), testPath)
	if !errors.Is(err, ErrMisconfigured) {
		t.Fatalf("err = %v, want ErrMisconfigured", err)
	}
	if errors.Is(err, errs.ErrUnauthorized) {
		t.Error("misconfiguration must not be reported as an authentication failure")
	}
}

func TestSign_KnownVector(t *testing.T) {
	const want = "AlwDXJ4d53fEZaDSCcMBs4+my8/s54KvyvF+5oOO/p0="
	if got := Sign("key", "u", "/p", "1"); got != want {
		t.Errorf("Sign = %q, want %q", got, want)
	}
	if Sign("key", "", "/p", "1") == want {
		t.Error("empty user id must change the signature")
	}
}
