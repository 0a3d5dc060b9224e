// Package domain defines the Auth Service domain events consumed by the user service and
// their JSON decoding.
package domain

import (
	"fmt"
	"strings"
	"time"

	"smartdrive/user-service/internal/platform/errs"
)

// Kind identifies the event type.
type Kind string

const (
	KindRegistered    Kind = "user.registered"
	KindEmailVerified Kind = "user.email-verified"
	KindEmailChanged  Kind = "user.email-changed"
)

// Label is a short metric/log label for k.
func (k Kind) Label() string {
	switch k {
	case KindRegistered:
		return "registered"
	case KindEmailVerified:
		return "email_verified"
	case KindEmailChanged:
		return "email_changed"
	}
	return "unknown"
}

// Registered is the payload of KindRegistered.
type Registered struct {
	Email         string
	FirstName     string
	LastName      string
	EmailVerified bool
	Provider      string
}

// EmailVerified is the payload of KindEmailVerified.
type EmailVerified struct {
	Email string
}

// EmailChanged is the payload of KindEmailChanged.
type EmailChanged struct {
	OldEmail      string
	NewEmail      string
	EmailVerified bool
}

// Event is one domain event. Exactly one payload pointer is set and it matches Kind.
type Event struct {
	ID         string
	Kind       Kind
	AuthUserID string
	EmittedAt  time.Time
	// Fingerprint is a digest of the raw message body, set by Decode.
	Fingerprint string

	Registered    *Registered
	EmailVerified *EmailVerified
	EmailChanged  *EmailChanged
}

// HasIdentity reports whether e carries a message id or an emission time, which is what
// tells a redelivery apart from a new event with the same content.
func (e Event) HasIdentity() bool {
	return e.ID != "" || !e.EmittedAt.IsZero()
}

// DeliveryID returns ID, or an id derived from kind, user and emission time, or, when the
// event has neither, from kind, user and body fingerprint.
func (e Event) DeliveryID() string {
	if e.ID != "" {
		return e.ID
	}
	if !e.EmittedAt.IsZero() {
		return fmt.Sprintf("%s:%s:%d", e.Kind, e.AuthUserID, e.EmittedAt.UnixNano())
	}
	return fmt.Sprintf("%s:%s:body-%s", e.Kind, e.AuthUserID, e.Fingerprint)
}

// Validate checks the union shape. Failures wrap errs.ErrValidation.
func (e Event) Validate() error {
	if strings.TrimSpace(e.AuthUserID) == "" {
		return fmt.Errorf("%w: event %s has no user id", errs.ErrValidation, e.Kind)
	}
	set := 0
	for _, ok := range []bool{e.Registered != nil, e.EmailVerified != nil, e.EmailChanged != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: event %s must carry exactly one payload, has %d", errs.ErrValidation, e.Kind, set)
	}
	switch e.Kind {
	case KindRegistered:
		if e.Registered == nil {
			return mismatch(e.Kind)
		}
		if strings.TrimSpace(e.Registered.Email) == "" {
			return fmt.Errorf("%w: registered event without email", errs.ErrValidation)
		}
	case KindEmailVerified:
		if e.EmailVerified == nil {
			return mismatch(e.Kind)
		}
	case KindEmailChanged:
		if e.EmailChanged == nil {
			return mismatch(e.Kind)
		}
		if strings.TrimSpace(e.EmailChanged.NewEmail) == "" {
			return fmt.Errorf("%w: email changed event without new email", errs.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown event kind %q", errs.ErrValidation, e.Kind)
	}
	return nil
}

func mismatch(k Kind) error {
	return fmt.Errorf("%w: payload does not match kind %s", errs.ErrValidation, k)
}
