package domain

import (
	"errors"
	"testing"
	"time"

	"smartdrive/user-service/internal/platform/errs"
)

func TestDecode_BarePayloadUsesChannelKind(t *testing.T) {
	body := []byte(`{"userId":"u1","email":"A@X.com","firstName":"Ada","lastName":"L","emailVerified":true,"provider":"local","eventTimestamp":"2024-05-01T10:00:00"}`)
	e, err := Decode(body, KindRegistered, "msg-1")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if e.Kind != KindRegistered || e.AuthUserID != "u1" || e.ID != "msg-1" {
		t.Errorf("event = %+v", e)
	}
	if e.Registered == nil || e.Registered.Email != "A@X.com" || !e.Registered.EmailVerified || e.Registered.Provider != "local" {
		t.Errorf("payload = %+v", e.Registered)
	}
	if want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC); !e.EmittedAt.Equal(want) {
		t.Errorf("EmittedAt = %v, want %v", e.EmittedAt, want)
	}
}

func TestDecode_EnvelopeOverridesChannel(t *testing.T) {
	body := []byte(`{"type":"user.email-changed","id":"evt-9","payload":{"authUserId":"u2","oldEmail":"a@x.com","newEmail":"b@x.com"}}`)
	e, err := Decode(body, KindRegistered, "")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if e.Kind != KindEmailChanged || e.ID != "evt-9" {
		t.Errorf("kind/id = %s/%s", e.Kind, e.ID)
	}
	if e.EmailChanged == nil || e.EmailChanged.NewEmail != "b@x.com" || e.EmailChanged.EmailVerified {
		t.Errorf("payload = %+v", e.EmailChanged)
	}
	if e.Registered != nil {
		t.Error("only the matching payload may be set")
	}
}

func TestDecode_Rejects(t *testing.T) {
	testCases := []struct {
		name    string
		body    string
		channel Kind
	}{
		{"empty", ``, KindRegistered},
		{"not json", `nope`, KindRegistered},
		{"no kind", `{"userId":"u1"}`, ""},
		{"unknown type", `{"type":"user.deleted","payload":{"userId":"u1"}}`, ""},
		{"no user", `{"email":"a@x.com"}`, KindRegistered},
		{"registered without email", `{"userId":"u1"}`, KindRegistered},
		{"changed without new email", `{"userId":"u1","oldEmail":"a@x.com"}`, KindEmailChanged},
		{"bad timestamp", `{"userId":"u1","eventTimestamp":"yesterday"}`, KindEmailVerified},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.body), tc.channel, "")
			if !errors.Is(err, errs.ErrValidation) {
				t.Errorf("Decode err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	testCases := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"rfc3339 zulu", `"2024-05-01T10:00:00Z"`, want},
		{"rfc3339 offset", `"2024-05-01T12:00:00+02:00"`, want},
		{"local date-time", `"2024-05-01T10:00:00"`, want},
		{"local with fraction", `"2024-05-01T10:00:00.5"`, want.Add(500 * time.Millisecond)},
		{"epoch seconds", `1714557600`, want},
		{"array", `[2024,5,1,10,0]`, want},
		{"null", `null`, time.Time{}},
		{"absent", ``, time.Time{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseTimestamp([]byte(tc.raw))
			if err != nil {
				t.Fatalf("parseTimestamp: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Errorf("parseTimestamp(%s) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	testCases := map[string]Kind{
		"user.registered":     KindRegistered,
		"UserRegisteredEvent": KindRegistered,
		"EMAIL_VERIFIED":      KindEmailVerified,
		"user.email-changed":  KindEmailChanged,
		"UserEmailChanged":    KindEmailChanged,
	}
	for in, want := range testCases {
		if got, ok := ParseKind(in); !ok || got != want {
			t.Errorf("ParseKind(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseKind("user.deleted"); ok {
		t.Error("unknown kinds should not parse")
	}
}

func TestValidate_Shape(t *testing.T) {
	both := Event{Kind: KindRegistered, AuthUserID: "u1", Registered: &Registered{Email: "a@x.com"}, EmailVerified: &EmailVerified{}}
	if err := both.Validate(); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("two payloads: %v", err)
	}
	wrong := Event{Kind: KindEmailChanged, AuthUserID: "u1", EmailVerified: &EmailVerified{}}
	if err := wrong.Validate(); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("mismatched payload: %v", err)
	}
}

func TestDeliveryID(t *testing.T) {
	e := Event{Kind: KindEmailVerified, AuthUserID: "u1", EmittedAt: time.Unix(0, 42)}
	if got := e.DeliveryID(); got != "user.email-verified:u1:42" {
		t.Errorf("DeliveryID = %q", got)
	}
	e.ID = "m1"
	if e.DeliveryID() != "m1" {
		t.Error("explicit ID wins")
	}
}

func TestDecode_UntimedEventsWithoutIDAreDistinct(t *testing.T) {
	first, err := Decode([]byte(`{"userId":"u1","oldEmail":"a@x.com","newEmail":"b@x.com"}`), KindEmailChanged, "")
	if err != nil {
		t.Fatalf("Decode first: %v", err)
	}
	second, err := Decode([]byte(`{"userId":"u1","oldEmail":"b@x.com","newEmail":"c@x.com"}`), KindEmailChanged, "")
	if err != nil {
		t.Fatalf("Decode second: %v", err)
	}
	if first.HasIdentity() || second.HasIdentity() {
		t.Error("events without id or timestamp have no delivery identity")
	}
	if first.DeliveryID() == second.DeliveryID() {
		t.Errorf("DeliveryID collision: %q", first.DeliveryID())
	}
	again, _ := Decode([]byte(`{"userId":"u1","oldEmail":"a@x.com","newEmail":"b@x.com"}`), KindEmailChanged, "")
	if again.DeliveryID() != first.DeliveryID() {
		t.Error("identical bodies should derive the same id")
	}

	timed, _ := Decode([]byte(`{"userId":"u1","newEmail":"b@x.com","changedAt":"2024-05-01T10:00:00Z"}`), KindEmailChanged, "")
	if !timed.HasIdentity() {
		t.Error("a timestamped event has an identity")
	}
}
