package domain

import (
	"errors"
	"strings"
	"time"
)

// Defaults applied by Validate.
const (
	DefaultTimezone = "UTC"
	DefaultLanguage = "en"
	unknownUserName = "Unknown User"
)

// Profile is the business-facing view of a user. AuthUserID links it to the Auth
// Service account and never changes once set.
type Profile struct {
	ID            string
	AuthUserID    string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
	DisplayName   string
	AvatarURL     string
	Bio           string
	Phone         string
	DateOfBirth   *time.Time
	Timezone      string
	Language      string
	Enabled       bool
	// EmailVersion is the emittedAt (unix nanos) of the registration or email change that set
	// the current address.
	EmailVersion int64
	// VerifiedVersion is the emittedAt (unix nanos) of the newest verification applied.
	VerifiedVersion int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// FullName joins first and last name, falling back to "Unknown User" when both are blank.
func (p *Profile) FullName() string {
	name := strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
	if name == "" {
		return unknownUserName
	}
	return name
}

// ChangeEmail sets a new email and clears the verified flag. The flag is cleared even when
// the address is unchanged.
func (p *Profile) ChangeEmail(email string) {
	p.Email = email
	p.EmailVerified = false
}

// MarkVerified sets the verified flag.
func (p *Profile) MarkVerified() {
	p.EmailVerified = true
}

// Touch bumps UpdatedAt.
func (p *Profile) Touch(now time.Time) {
	p.UpdatedAt = now.UTC()
}

// SetEmailVersion records the emission time of the event that set the current address.
// A zero time leaves the version unchanged.
func (p *Profile) SetEmailVersion(emittedAt time.Time) {
	if v := nanos(emittedAt); v > p.EmailVersion {
		p.EmailVersion = v
	}
}

// EmailEventIsStale reports whether an email change or verification emitted at emittedAt
// predates the change that set the current address. A zero emittedAt is never stale.
// Verifications never make an email change stale.
func (p *Profile) EmailEventIsStale(emittedAt time.Time) bool {
	if emittedAt.IsZero() {
		return false
	}
	return emittedAt.UnixNano() < p.EmailVersion
}

// ApplyEmailChange sets a new address emitted at emittedAt. The address is verified when
// the change says so or when a verification emitted after the change was already applied.
func (p *Profile) ApplyEmailChange(email string, verified bool, emittedAt time.Time) {
	laterVerification := !emittedAt.IsZero() && p.VerifiedVersion > emittedAt.UnixNano()
	p.ChangeEmail(email)
	if verified || laterVerification {
		p.MarkVerified()
	}
	p.SetEmailVersion(emittedAt)
}

// ApplyVerification marks the address verified by a verification emitted at emittedAt.
func (p *Profile) ApplyVerification(emittedAt time.Time) {
	p.MarkVerified()
	if v := nanos(emittedAt); v > p.VerifiedVersion {
		p.VerifiedVersion = v
	}
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// Validate validates the profile for persistence and fills defaults. Returns an error
// describing the first validation failure.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.AuthUserID) == "" {
		return errors.New("auth user id is required")
	}
	if strings.TrimSpace(p.Email) == "" {
		return errors.New("email is required")
	}
	if p.Timezone == "" {
		p.Timezone = DefaultTimezone
	}
	if p.Language == "" {
		p.Language = DefaultLanguage
	}
	if p.DisplayName == "" {
		p.DisplayName = p.FullName()
	}
	return nil
}
