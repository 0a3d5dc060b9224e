package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"smartdrive/user-service/internal/authsvc"
	"smartdrive/user-service/internal/platform/errs"
)

// AccountDirectory is the write surface of the Auth Service.
type AccountDirectory interface {
	Register(ctx context.Context, req authsvc.RegisterRequest) (json.RawMessage, error)
	ChangePassword(ctx context.Context, authUserID string, req authsvc.ChangePasswordRequest) error
	VerifyEmail(ctx context.Context, token string) error
	ResendVerification(ctx context.Context, email string) error
}

// RegisterRequest is the public registration form.
type RegisterRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
}

// ChangePasswordRequest is the authenticated password change form.
type ChangePasswordRequest struct {
	CurrentPassword    string `json:"currentPassword"`
	NewPassword        string `json:"newPassword"`
	ConfirmNewPassword string `json:"confirmNewPassword"`
}

// Accounts forwards account operations to the Auth Service. No profile state is written;
// the profile follows from the events the Auth Service publishes.
type Accounts struct {
	dir    AccountDirectory
	logger *slog.Logger
}

// NewAccounts returns Accounts forwarding to dir.
func NewAccounts(dir AccountDirectory, logger *slog.Logger) *Accounts {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accounts{dir: dir, logger: logger}
}

// Register validates req and creates the account upstream.
func (a *Accounts) Register(ctx context.Context, req RegisterRequest) (json.RawMessage, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	out, err := a.dir.Register(ctx, authsvc.RegisterRequest(req))
	if err != nil {
		a.logger.WarnContext(ctx, "registration rejected", "username", req.Username, "error", err)
		return nil, fmt.Errorf("register: %w", err)
	}
	a.logger.InfoContext(ctx, "registration forwarded", "username", req.Username)
	return out, nil
}

// ChangePassword validates req and changes the password of authUserID upstream.
func (a *Accounts) ChangePassword(ctx context.Context, authUserID string, req ChangePasswordRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := a.dir.ChangePassword(ctx, authUserID, authsvc.ChangePasswordRequest(req)); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	a.logger.InfoContext(ctx, "password change forwarded", "auth_user_id", authUserID)
	return nil
}

// VerifyEmail forwards a verification token.
func (a *Accounts) VerifyEmail(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: token is required", errs.ErrValidation)
	}
	if err := a.dir.VerifyEmail(ctx, token); err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	return nil
}

// ResendVerification asks the Auth Service to send a new verification email.
func (a *Accounts) ResendVerification(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := a.dir.ResendVerification(ctx, email); err != nil {
		return fmt.Errorf("resend verification: %w", err)
	}
	return nil
}
