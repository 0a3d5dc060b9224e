package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"smartdrive/user-service/internal/platform/errs"
)

// kindAliases maps normalized type names (lower case, separators removed) to kinds.
var kindAliases = map[string]Kind{
	"userregistered":    KindRegistered,
	"registered":        KindRegistered,
	"useremailverified": KindEmailVerified,
	"emailverified":     KindEmailVerified,
	"userverified":      KindEmailVerified,
	"useremailchanged":  KindEmailChanged,
	"emailchanged":      KindEmailChanged,
}

// ParseKind resolves an event type name such as "user.registered", "UserRegisteredEvent"
// or "EMAIL_CHANGED".
func ParseKind(s string) (Kind, bool) {
	n := strings.ToLower(s)
	n = strings.TrimSuffix(n, "event")
	n = strings.NewReplacer(".", "", "-", "", "_", "", " ", "").Replace(n)
	k, ok := kindAliases[n]
	return k, ok
}

type envelope struct {
	ID        string          `json:"id"`
	EventID   string          `json:"eventId"`
	Type      string          `json:"type"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
	Data      json.RawMessage `json:"data"`
}

type payload struct {
	UserID         string          `json:"userId"`
	AuthUserID     string          `json:"authUserId"`
	Email          string          `json:"email"`
	FirstName      string          `json:"firstName"`
	LastName       string          `json:"lastName"`
	EmailVerified  *bool           `json:"emailVerified"`
	Provider       string          `json:"provider"`
	OldEmail       string          `json:"oldEmail"`
	NewEmail       string          `json:"newEmail"`
	EventTimestamp json.RawMessage `json:"eventTimestamp"`
	Timestamp      json.RawMessage `json:"timestamp"`
	CreatedAt      json.RawMessage `json:"createdAt"`
	VerifiedAt     json.RawMessage `json:"verifiedAt"`
	ChangedAt      json.RawMessage `json:"changedAt"`
}

// Decode parses body into an Event. body is either an envelope
// {"type":..., "payload":{...}} or a bare payload whose kind is channelKind (derived from
// the topic or queue it arrived on). messageID, when non-empty, becomes the event ID.
// All failures wrap errs.ErrValidation.
func Decode(body []byte, channelKind Kind, messageID string) (Event, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Event{}, fmt.Errorf("%w: empty event body", errs.ErrValidation)
	}

	kind := channelKind
	raw := body
	id := messageID

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, fmt.Errorf("%w: decode event: %v", errs.ErrValidation, err)
	}
	if t := firstNonEmpty(env.Type, env.EventType); t != "" {
		k, ok := ParseKind(t)
		if !ok {
			return Event{}, fmt.Errorf("%w: unknown event type %q", errs.ErrValidation, t)
		}
		kind = k
		if inner := firstRaw(env.Payload, env.Data); len(inner) > 0 {
			raw = inner
		}
		if id == "" {
			id = firstNonEmpty(env.ID, env.EventID)
		}
	}
	if kind == "" {
		return Event{}, fmt.Errorf("%w: event type unknown", errs.ErrValidation)
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Event{}, fmt.Errorf("%w: decode %s payload: %v", errs.ErrValidation, kind, err)
	}
	emitted, err := parseTimestamp(firstRaw(p.EventTimestamp, p.Timestamp, p.ChangedAt, p.VerifiedAt, p.CreatedAt))
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}

	e := Event{
		ID:          id,
		Kind:        kind,
		AuthUserID:  strings.TrimSpace(firstNonEmpty(p.AuthUserID, p.UserID)),
		EmittedAt:   emitted,
		Fingerprint: fingerprint(body),
	}
	switch kind {
	case KindRegistered:
		e.Registered = &Registered{
			Email:         p.Email,
			FirstName:     p.FirstName,
			LastName:      p.LastName,
			EmailVerified: p.EmailVerified != nil && *p.EmailVerified,
			Provider:      p.Provider,
		}
	case KindEmailVerified:
		e.EmailVerified = &EmailVerified{Email: p.Email}
	case KindEmailChanged:
		e.EmailChanged = &EmailChanged{
			OldEmail:      p.OldEmail,
			NewEmail:      p.NewEmail,
			EmailVerified: p.EmailVerified != nil && *p.EmailVerified,
		}
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTimestamp accepts RFC 3339, zone-less local date-times (read as UTC), epoch seconds,
// and the [y,m,d,h,min,s,nanos] array form. Absent or null yields the zero time.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("timestamp: %v", err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return time.Time{}, nil
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC(), nil
		}
		for _, layout := range localLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("timestamp %q: unrecognized format", s)
	case '[':
		var parts []int
		if err := json.Unmarshal(raw, &parts); err != nil || len(parts) < 3 {
			return time.Time{}, fmt.Errorf("timestamp %s: bad date-time array", raw)
		}
		for len(parts) < 7 {
			parts = append(parts, 0)
		}
		return time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], parts[6], time.UTC), nil
	default:
		var secs float64
		if err := json.Unmarshal(raw, &secs); err != nil {
			return time.Time{}, fmt.Errorf("timestamp %s: %v", raw, err)
		}
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
	}
}

func fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:12])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstRaw(vals ...json.RawMessage) json.RawMessage {
	for _, v := range vals {
		v = bytes.TrimSpace(v)
		if len(v) > 0 && !bytes.Equal(v, []byte("null")) {
			return v
		}
	}
	return nil
}
