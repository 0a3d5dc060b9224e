package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"smartdrive/user-service/internal/identity/domain"
	"smartdrive/user-service/internal/identity/gateway"
)

const (
	testInternal = "internal-secret"
	testSigning  = "signing-secret"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newVerifier() *gateway.Verifier {
	return gateway.NewVerifierWithClock(gateway.Config{
		InternalAuthSecret:  testInternal,
		SigningSecret:       testSigning,
		GatewayValidation:   true,
		SignatureValidation: true,
	}, func() time.Time { return fixedNow })
}

func signedRequest(method, path, userID, signature string) *http.Request {
	r := httptest.NewRequest(method, path, strings.NewReader(`{"firstName":"x"}`))
	stamp := strconv.FormatInt(fixedNow.Unix(), 10)
	r.Header.Set(gateway.HeaderInternalAuth, testInternal)
	r.Header.Set(gateway.HeaderForwardedBy, gateway.DefaultForwardedBy)
	r.Header.Set(gateway.HeaderTimestamp, stamp)
	r.Header.Set(gateway.HeaderUserID, userID)
	r.Header.Set(gateway.HeaderRoles, domain.RoleUser)
	if signature == "" {
		signature = gateway.Sign(testSigning, userID, path, stamp)
	}
	r.Header.Set(gateway.HeaderSignature, signature)
	return r
}

// recordingHandler captures whether it ran and the identity it saw.
type recordingHandler struct {
	called   bool
	identity domain.RequestIdentity
	found    bool
	bodyRead bool
}

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.identity, h.found = IdentityFrom(r.Context())
	if _, err := io.ReadAll(r.Body); err == nil {
		h.bodyRead = true
	}
	w.WriteHeader(http.StatusNoContent)
}

func TestGatewayAuth_ValidRequestSetsIdentity(t *testing.T) {
	next := &recordingHandler{}
	h := RequestID(GatewayAuth(newVerifier(), DefaultPublicPaths(), discardLogger())(next))

	rec := httptest.NewRecorder()
	r := signedRequest(http.MethodPut, "/api/v1/users/profile", "user-1", "")
	r.Header.Set(gateway.HeaderRequestID, "req-7")
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if !next.found || !next.identity.Authenticated || next.identity.UserID != "user-1" {
		t.Errorf("identity = %+v (found %v), want authenticated user-1", next.identity, next.found)
	}
	if next.identity.CorrelationID != "req-7" {
		t.Errorf("CorrelationID = %q, want req-7", next.identity.CorrelationID)
	}
}

func TestGatewayAuth_WrongHMACIsRejected(t *testing.T) {
	next := &recordingHandler{}
	h := GatewayAuth(newVerifier(), DefaultPublicPaths(), discardLogger())(next)

	rec := httptest.NewRecorder()
	bad := gateway.Sign("not-the-secret", "user-1", "/api/v1/users/profile", strconv.FormatInt(fixedNow.Unix(), 10))
	h.ServeHTTP(rec, signedRequest(http.MethodPut, "/api/v1/users/profile", "user-1", bad))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if next.called || next.found || next.bodyRead {
		t.Error("handler must not run, set identity, or read the body on failure")
	}
	if strings.Contains(rec.Body.String(), testSigning) || strings.Contains(rec.Body.String(), bad) {
		t.Error("response must not echo secrets or the signature")
	}
}

func TestGatewayAuth_PublicPathBypasses(t *testing.T) {
	for _, path := range []string{"/healthz", "/api/v1/users/register", "/api/v1/users/verify-email/abc", "/v3/api-docs/x"} {
		next := &recordingHandler{}
		h := GatewayAuth(newVerifier(), DefaultPublicPaths(), discardLogger())(next)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		if !next.called {
			t.Errorf("%s: handler should run without gateway headers", path)
		}
		if next.identity.Authenticated {
			t.Errorf("%s: identity should be anonymous", path)
		}
	}
}

func TestGatewayAuth_NotPublicWithoutHeaders(t *testing.T) {
	next := &recordingHandler{}
	h := GatewayAuth(newVerifier(), DefaultPublicPaths(), discardLogger())(next)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/registered-elsewhere", nil))

	if rec.Code != http.StatusUnauthorized || next.called {
		t.Errorf("status = %d called = %v, want 401 and not called", rec.Code, next.called)
	}
}

type panickingVerifier struct{}

func (panickingVerifier) Verify(http.Header, string) (domain.RequestIdentity, error) {
	panic("boom")
}

func TestGatewayAuth_PanicYields500(t *testing.T) {
	next := &recordingHandler{}
	h := GatewayAuth(panickingVerifier{}, DefaultPublicPaths(), discardLogger())(next)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/profile", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if next.called {
		t.Error("handler must not run after a verification panic")
	}
}

func TestGatewayAuth_MisconfiguredYields500(t *testing.T) {
	v := gateway.NewVerifierWithClock(gateway.Config{GatewayValidation: true}, func() time.Time { return fixedNow })
	next := &recordingHandler{}
	h := GatewayAuth(v, DefaultPublicPaths(), discardLogger())(next)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(http.MethodGet, "/api/v1/users/profile", "user-1", ""))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestIdentityFrom_EmptyContext(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	id, ok := IdentityFrom(WithRequestID(r.Context(), "req-1"))
	if ok || id.Authenticated {
		t.Errorf("IdentityFrom on bare context = %+v, %v", id, ok)
	}
	if id.CorrelationID != "req-1" {
		t.Errorf("CorrelationID = %q, want req-1", id.CorrelationID)
	}
}
