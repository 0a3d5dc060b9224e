package service

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"smartdrive/user-service/internal/platform/errs"
)

const (
	maxNameLen        = 100
	maxBioLen         = 500
	maxTimezoneLen    = 50
	maxLanguageLen    = 10
	minPasswordLen    = 8
	passwordSpecials  = "@$!%*?&"
	dateOfBirthLayout = "2006-01-02"
)

var (
	phonePattern    = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
	avatarPattern   = regexp.MustCompile(`^https?://`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,50}$`)
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errs.ErrValidation, fmt.Sprintf(format, args...))
}

func maxLen(field, v string, n int) error {
	if utf8.RuneCountInString(v) > n {
		return invalid("%s must not exceed %d characters", field, n)
	}
	return nil
}

// Validate checks every field that is set. Empty strings clear optional fields and are
// always accepted.
func (r UpdateRequest) Validate() error {
	if r.FirstName != nil {
		if err := maxLen("firstName", *r.FirstName, maxNameLen); err != nil {
			return err
		}
	}
	if r.LastName != nil {
		if err := maxLen("lastName", *r.LastName, maxNameLen); err != nil {
			return err
		}
	}
	if r.DisplayName != nil {
		if err := maxLen("displayName", *r.DisplayName, maxNameLen); err != nil {
			return err
		}
	}
	if r.Bio != nil {
		if err := maxLen("bio", *r.Bio, maxBioLen); err != nil {
			return err
		}
	}
	if r.Phone != nil && *r.Phone != "" && !phonePattern.MatchString(*r.Phone) {
		return invalid("phone must be a valid phone number")
	}
	if r.AvatarURL != nil && *r.AvatarURL != "" && !avatarPattern.MatchString(*r.AvatarURL) {
		return invalid("avatarUrl must be a valid HTTP or HTTPS URL")
	}
	if r.DateOfBirth != nil && *r.DateOfBirth != "" {
		dob, err := time.Parse(dateOfBirthLayout, *r.DateOfBirth)
		if err != nil {
			return invalid("dateOfBirth must be formatted as YYYY-MM-DD")
		}
		if dob.After(time.Now()) {
			return invalid("dateOfBirth must be in the past")
		}
	}
	if r.Timezone != nil {
		if err := maxLen("timezone", *r.Timezone, maxTimezoneLen); err != nil {
			return err
		}
	}
	if r.Language != nil {
		if err := maxLen("language", *r.Language, maxLanguageLen); err != nil {
			return err
		}
	}
	return nil
}

func validateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return invalid("email is required")
	}
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		return invalid("email should be valid")
	}
	return nil
}

func validateRequiredName(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return invalid("%s is required", field)
	}
	return maxLen(field, v, maxNameLen)
}

// validatePassword enforces the account password policy: at least eight characters with a
// lower-case letter, an upper-case letter, a digit and one of @$!%*?&.
func validatePassword(field, pw string) error {
	if utf8.RuneCountInString(pw) < minPasswordLen {
		return invalid("%s must be at least %d characters", field, minPasswordLen)
	}
	var lower, upper, digit, special bool
	for _, c := range pw {
		switch {
		case unicode.IsLower(c):
			lower = true
		case unicode.IsUpper(c):
			upper = true
		case unicode.IsDigit(c):
			digit = true
		case strings.ContainsRune(passwordSpecials, c):
			special = true
		}
	}
	if !lower || !upper || !digit || !special {
		return invalid("%s must contain at least one lowercase letter, one uppercase letter, one digit and one special character (%s)",
			field, passwordSpecials)
	}
	return nil
}

// Validate checks the registration form before it is forwarded.
func (r RegisterRequest) Validate() error {
	if !usernamePattern.MatchString(r.Username) {
		return invalid("username must be 3-50 characters of letters, digits and underscores")
	}
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if err := validatePassword("password", r.Password); err != nil {
		return err
	}
	if r.Password != r.ConfirmPassword {
		return invalid("password confirmation does not match")
	}
	if err := validateRequiredName("firstName", r.FirstName); err != nil {
		return err
	}
	return validateRequiredName("lastName", r.LastName)
}

// Validate checks a password change before it is forwarded.
func (r ChangePasswordRequest) Validate() error {
	if r.CurrentPassword == "" {
		return invalid("currentPassword is required")
	}
	if err := validatePassword("newPassword", r.NewPassword); err != nil {
		return err
	}
	if r.NewPassword != r.ConfirmNewPassword {
		return invalid("new password confirmation does not match")
	}
	return nil
}

// Validate checks a manual create request.
func (r ManualCreateRequest) Validate() error {
	if strings.TrimSpace(r.AuthUserID) == "" {
		return invalid("authUserId is required")
	}
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if err := maxLen("firstName", r.FirstName, maxNameLen); err != nil {
		return err
	}
	return maxLen("lastName", r.LastName, maxNameLen)
}
