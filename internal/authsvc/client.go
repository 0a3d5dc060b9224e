// Package authsvc is the REST client for the Auth Service, the source of truth for
// credentials, email addresses and verification state.
package authsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"smartdrive/user-service/internal/metrics"
	"smartdrive/user-service/internal/platform/errs"
)

const (
	// DefaultBaseURL is the in-cluster Auth Service address.
	DefaultBaseURL = "http://auth-service:8082"

	defaultTimeout = 5 * time.Second
	maxBodyBytes   = 1 << 20
)

// Client calls the Auth Service. Every call runs under its own timeout.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration

	metrics *metrics.Metrics
}

// NewClient returns a client for baseURL (DefaultBaseURL when empty). timeout bounds each
// call and backs the http.Client timeout. m may be nil.
func NewClient(baseURL string, timeout time.Duration, m *metrics.Metrics) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout:   timeout + time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Timeout: timeout,
		metrics: m,
	}
}

// GetUserEmail returns the authoritative email for authUserID. The body may be a JSON
// string or plain text.
func (c *Client) GetUserEmail(ctx context.Context, authUserID string) (string, error) {
	body, err := c.do(ctx, "get_user_email", http.MethodGet, userPath(authUserID, "email"), nil)
	if err != nil {
		return "", err
	}
	email := scalar(body)
	if email == "" {
		return "", fmt.Errorf("auth service: empty email for user %s: %w", authUserID, errs.ErrUpstreamUnavailable)
	}
	return email, nil
}

// IsEmailVerified returns the verification flag for authUserID.
func (c *Client) IsEmailVerified(ctx context.Context, authUserID string) (bool, error) {
	body, err := c.do(ctx, "get_email_verified", http.MethodGet, userPath(authUserID, "email-verified"), nil)
	if err != nil {
		return false, err
	}
	return parseBool(body)
}

// UserExists reports whether the Auth Service knows authUserID.
func (c *Client) UserExists(ctx context.Context, authUserID string) (bool, error) {
	body, err := c.do(ctx, "user_exists", http.MethodGet, userPath(authUserID, "exists"), nil)
	if err != nil {
		return false, err
	}
	return parseBool(body)
}

// RegisterRequest is forwarded to the Auth Service to create an account.
type RegisterRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
}

// Register creates the account upstream and returns the Auth Service response body.
// A duplicate username or email wraps errs.ErrConflict.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (json.RawMessage, error) {
	body, err := c.do(ctx, "register", http.MethodPost, "/api/v1/auth/register", req)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, nil
	}
	return json.RawMessage(body), nil
}

// ChangePasswordRequest carries the current and new password. Never logged.
type ChangePasswordRequest struct {
	CurrentPassword    string `json:"currentPassword"`
	NewPassword        string `json:"newPassword"`
	ConfirmNewPassword string `json:"confirmNewPassword"`
}

// ChangePassword changes the password of authUserID.
func (c *Client) ChangePassword(ctx context.Context, authUserID string, req ChangePasswordRequest) error {
	_, err := c.do(ctx, "change_password", http.MethodPost, userPath(authUserID, "password"), req)
	return err
}

// VerifyEmail redeems a verification token.
func (c *Client) VerifyEmail(ctx context.Context, token string) error {
	_, err := c.do(ctx, "verify_email", http.MethodPost, "/api/v1/auth/verify-email", map[string]string{"token": token})
	return err
}

// ResendVerification asks the Auth Service to send a fresh verification email.
func (c *Client) ResendVerification(ctx context.Context, email string) error {
	_, err := c.do(ctx, "resend_verification", http.MethodPost, "/api/v1/auth/resend-verification", map[string]string{"email": email})
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, in any) ([]byte, error) {
	start := time.Now()
	defer c.metrics.ObserveAuthCall(op, start)

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var reqBody io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("auth service %s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("auth service %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json, text/plain")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth service %s: %v: %w", op, err, errs.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("auth service %s: read body: %v: %w", op, err, errs.ErrUpstreamUnavailable)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(op, method, resp.StatusCode, body)
	}
	return body, nil
}

// statusError maps a non-2xx response. 400 is a validation failure only for delegated
// writes; for lookups it means the upstream contract broke.
func statusError(op, method string, status int, body []byte) error {
	msg := upstreamMessage(body)
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("auth service %s: %w", op, errs.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", orDefault(msg, "already exists"), errs.ErrConflict)
	case http.StatusBadRequest:
		if method == http.MethodPost {
			return fmt.Errorf("%s: %w", orDefault(msg, "rejected by auth service"), errs.ErrValidation)
		}
	}
	return fmt.Errorf("auth service %s: status %d: %w", op, status, errs.ErrUpstreamUnavailable)
}

// upstreamMessage extracts a short human-readable message from an error body.
func upstreamMessage(body []byte) string {
	var withMessage struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &withMessage); err == nil {
		if withMessage.Message != "" {
			return truncate(withMessage.Message)
		}
		return truncate(withMessage.Error)
	}
	return truncate(scalar(body))
}

// scalar reads a JSON string or plain text body.
func scalar(body []byte) string {
	body = bytes.TrimSpace(body)
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		return strings.TrimSpace(s)
	}
	if len(body) > 0 && (body[0] == '{' || body[0] == '[') {
		return ""
	}
	return string(body)
}

func parseBool(body []byte) (bool, error) {
	v, err := strconv.ParseBool(scalar(body))
	if err != nil {
		return false, fmt.Errorf("auth service: unexpected boolean body %q: %w", truncate(string(body)), errs.ErrUpstreamUnavailable)
	}
	return v, nil
}

func userPath(authUserID, leaf string) string {
	return "/api/v1/auth/users/" + url.PathEscape(authUserID) + "/" + leaf
}

func truncate(s string) string {
	if len(s) > 200 {
		return s[:200]
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
