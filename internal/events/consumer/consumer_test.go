package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"smartdrive/user-service/internal/config"
	"smartdrive/user-service/internal/events/domain"
	"smartdrive/user-service/internal/platform/cache"
	"smartdrive/user-service/internal/platform/errs"
)

const registeredBody = `{"eventId":"evt-1","type":"user.registered","payload":{"authUserId":"u-1","email":"a@example.com","firstName":"Ada","lastName":"Lovelace"}}`

// fakeMessage records how it was settled.
type fakeMessage struct {
	*Message
	acked, nacked, rejected int
}

func newFakeMessage(id string, channel domain.Kind, body string, nackErr error) *fakeMessage {
	fm := &fakeMessage{}
	fm.Message = &Message{ID: id, Channel: channel, Body: []byte(body)}
	fm.ack = func(context.Context) error { fm.acked++; return nil }
	fm.nack = func(context.Context) error { fm.nacked++; return nackErr }
	fm.reject = func(context.Context) error { fm.rejected++; return nil }
	return fm
}

type fakeSource struct {
	mu   sync.Mutex
	msgs []*fakeMessage
}

func (s *fakeSource) Fetch(context.Context) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		return nil, ErrSourceClosed
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m.Message, nil
}

func (s *fakeSource) Close() error { return nil }

type fakeSink struct {
	mu        sync.Mutex
	published []*Message
	reasons   []error
	err       error
}

func (d *fakeSink) Publish(_ context.Context, msg *Message, reason error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.published = append(d.published, msg)
	d.reasons = append(d.reasons, reason)
	return nil
}

type handlerFunc func(ctx context.Context, e domain.Event) error

func (f handlerFunc) Handle(ctx context.Context, e domain.Event) error { return f(ctx, e) }

func newTestConsumer(src Source, h EventHandler, dlq DeadLetterSink, dedup Deduper) *Consumer {
	return New(src, h, dlq, dedup, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	})
}

func TestProcess_SuccessAcksAndMarks(t *testing.T) {
	dedup := NewRedisDeduper(cache.NewMemory(), time.Hour)
	var got domain.Event
	c := newTestConsumer(nil, handlerFunc(func(_ context.Context, e domain.Event) error {
		got = e
		return nil
	}), &fakeSink{}, dedup)

	msg := newFakeMessage("", domain.KindRegistered, registeredBody, nil)
	if err := c.Process(context.Background(), msg.Message); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if msg.acked != 1 {
		t.Errorf("acked = %d, want 1", msg.acked)
	}
	if got.AuthUserID != "u-1" || got.Kind != domain.KindRegistered {
		t.Errorf("handled event = %+v", got)
	}
	seen, err := dedup.Seen(context.Background(), "evt-1")
	if err != nil || !seen {
		t.Errorf("Seen(evt-1) = %v, %v; want true, nil", seen, err)
	}
}

func TestProcess_DuplicateIsAckedWithoutHandling(t *testing.T) {
	dedup := NewRedisDeduper(cache.NewMemory(), time.Hour)
	if err := dedup.MarkProcessed(context.Background(), "evt-1"); err != nil {
		t.Fatal(err)
	}
	calls := 0
	c := newTestConsumer(nil, handlerFunc(func(context.Context, domain.Event) error {
		calls++
		return nil
	}), &fakeSink{}, dedup)

	msg := newFakeMessage("", domain.KindRegistered, registeredBody, nil)
	if err := c.Process(context.Background(), msg.Message); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if calls != 0 {
		t.Errorf("handler calls = %d, want 0", calls)
	}
	if msg.acked != 1 {
		t.Errorf("acked = %d, want 1", msg.acked)
	}
}

func TestProcess_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	sink := &fakeSink{}
	c := newTestConsumer(nil, handlerFunc(func(context.Context, domain.Event) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("profile not yet created: %w", errs.ErrTransient)
		}
		return nil
	}), sink, nil)

	msg := newFakeMessage("", domain.KindRegistered, registeredBody, nil)
	if err := c.Process(context.Background(), msg.Message); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if calls != 3 {
		t.Errorf("handler calls = %d, want 3", calls)
	}
	if msg.acked != 1 || len(sink.published) != 0 {
		t.Errorf("acked = %d, dead-lettered = %d; want 1, 0", msg.acked, len(sink.published))
	}
}

func TestProcess_FailuresAreDeadLettered(t *testing.T) {
	testCases := []struct {
		name      string
		body      string
		handleErr error
		panics    bool
		wantCalls int
		wantCause error
	}{
		{"permanent", registeredBody, errs.ErrValidation, false, 1, errs.ErrValidation},
		{"undecodable body", `{not json`, nil, false, 0, errs.ErrValidation},
		{"missing user id", `{"email":"a@example.com"}`, nil, false, 0, errs.ErrValidation},
		{"handler panic", registeredBody, nil, true, 1, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			sink := &fakeSink{}
			c := newTestConsumer(nil, handlerFunc(func(context.Context, domain.Event) error {
				calls++
				if tc.panics {
					panic("boom")
				}
				return tc.handleErr
			}), sink, nil)

			msg := newFakeMessage("m-1", domain.KindRegistered, tc.body, nil)
			if err := c.Process(context.Background(), msg.Message); err != nil {
				t.Fatalf("Process: %v", err)
			}
			if calls != tc.wantCalls {
				t.Errorf("handler calls = %d, want %d", calls, tc.wantCalls)
			}
			if len(sink.published) != 1 {
				t.Fatalf("dead-lettered = %d, want 1", len(sink.published))
			}
			if tc.wantCause != nil && !errors.Is(sink.reasons[0], tc.wantCause) {
				t.Errorf("reason = %v, want %v", sink.reasons[0], tc.wantCause)
			}
			if msg.acked != 1 || msg.nacked != 0 {
				t.Errorf("acked/nacked = %d/%d, want 1/0", msg.acked, msg.nacked)
			}
		})
	}
}

func TestProcess_RetryableFailureIsNacked(t *testing.T) {
	dedup := NewRedisDeduper(cache.NewMemory(), time.Hour)
	calls := 0
	sink := &fakeSink{}
	c := newTestConsumer(nil, handlerFunc(func(context.Context, domain.Event) error {
		calls++
		return fmt.Errorf("profile not yet created: %w", errs.ErrTransient)
	}), sink, dedup)

	msg := newFakeMessage("m-1", domain.KindRegistered, registeredBody, nil)
	if err := c.Process(context.Background(), msg.Message); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if calls != 3 {
		t.Errorf("handler calls = %d, want 3", calls)
	}
	if msg.nacked != 1 || msg.acked != 0 {
		t.Errorf("acked/nacked = %d/%d, want 0/1", msg.acked, msg.nacked)
	}
	if len(sink.published) != 0 {
		t.Errorf("dead-lettered = %d, want 0", len(sink.published))
	}
	if seen, _ := dedup.Seen(context.Background(), "evt-1"); seen {
		t.Error("a nacked event must not be marked processed")
	}

	kafkaLike := newFakeMessage("m-2", domain.KindRegistered, registeredBody, ErrRedeliveryRequired)
	if err := c.Process(context.Background(), kafkaLike.Message); !errors.Is(err, ErrRedeliveryRequired) {
		t.Errorf("err = %v, want ErrRedeliveryRequired", err)
	}
}

func TestProcess_EventWithoutIdentityIsNotDeduped(t *testing.T) {
	kv := cache.NewMemory()
	dedup := NewRedisDeduper(kv, time.Hour)
	var handled []string
	c := newTestConsumer(nil, handlerFunc(func(_ context.Context, e domain.Event) error {
		handled = append(handled, e.EmailChanged.NewEmail)
		return nil
	}), &fakeSink{}, dedup)

	bodies := []string{
		`{"authUserId":"u-1","oldEmail":"a@example.com","newEmail":"b@example.com"}`,
		`{"authUserId":"u-1","oldEmail":"b@example.com","newEmail":"c@example.com"}`,
		`{"authUserId":"u-1","oldEmail":"a@example.com","newEmail":"b@example.com"}`,
	}
	for _, body := range bodies {
		msg := newFakeMessage("", domain.KindEmailChanged, body, nil)
		if err := c.Process(context.Background(), msg.Message); err != nil {
			t.Fatalf("Process: %v", err)
		}
		if msg.acked != 1 {
			t.Errorf("acked = %d, want 1", msg.acked)
		}
	}
	if len(handled) != 3 {
		t.Errorf("handled = %v, want all 3 events", handled)
	}
	for _, body := range bodies[:2] {
		ev, err := domain.Decode([]byte(body), domain.KindEmailChanged, "")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := kv.Get(context.Background(), "user-service:event:"+ev.DeliveryID()); !errors.Is(err, cache.ErrMiss) {
			t.Errorf("dedup key for %s stored: err = %v", ev.DeliveryID(), err)
		}
	}
}

func TestProcess_DeadLetterFailureNacks(t *testing.T) {
	sink := &fakeSink{err: errors.New("broker down")}
	c := newTestConsumer(nil, handlerFunc(func(context.Context, domain.Event) error {
		return errs.ErrValidation
	}), sink, nil)

	msg := newFakeMessage("m-1", domain.KindRegistered, registeredBody, nil)
	if err := c.Process(context.Background(), msg.Message); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if msg.nacked != 1 || msg.acked != 0 {
		t.Errorf("acked/nacked = %d/%d, want 0/1", msg.acked, msg.nacked)
	}

	kafkaLike := newFakeMessage("m-2", domain.KindRegistered, registeredBody, ErrRedeliveryRequired)
	err := c.Process(context.Background(), kafkaLike.Message)
	if !errors.Is(err, ErrRedeliveryRequired) {
		t.Errorf("err = %v, want ErrRedeliveryRequired", err)
	}
}

func TestRun_BadEventDoesNotStopLoop(t *testing.T) {
	var handled []string
	src := &fakeSource{msgs: []*fakeMessage{
		newFakeMessage("m-1", domain.KindRegistered, `garbage`, nil),
		newFakeMessage("m-2", domain.KindRegistered, registeredBody, nil),
		newFakeMessage("m-3", domain.KindEmailVerified, `{"authUserId":"u-1"}`, nil),
	}}
	all := append([]*fakeMessage(nil), src.msgs...)
	sink := &fakeSink{}
	c := newTestConsumer(src, handlerFunc(func(_ context.Context, e domain.Event) error {
		handled = append(handled, e.AuthUserID+":"+e.Kind.Label())
		if e.Kind == domain.KindRegistered {
			panic("unexpected")
		}
		return nil
	}), sink, nil)

	err := c.Run(context.Background())
	if !errors.Is(err, ErrSourceClosed) {
		t.Fatalf("Run err = %v, want ErrSourceClosed", err)
	}
	if len(handled) != 2 {
		t.Errorf("handled = %v, want 2 events", handled)
	}
	if len(sink.published) != 2 {
		t.Errorf("dead-lettered = %d, want 2", len(sink.published))
	}
	for _, m := range all {
		if m.acked != 1 {
			t.Errorf("message %s acked = %d, want 1", m.ID, m.acked)
		}
	}
}

func TestRun_StopsCleanlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newTestConsumer(blockingSource{}, handlerFunc(func(context.Context, domain.Event) error { return nil }), &fakeSink{}, nil)
	if err := c.Run(ctx); err != nil {
		t.Errorf("Run = %v, want nil after cancel", err)
	}
}

type blockingSource struct{}

func (blockingSource) Fetch(ctx context.Context) (*Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingSource) Close() error { return nil }

func TestMessage_SettlesOnce(t *testing.T) {
	msg := newFakeMessage("m-1", domain.KindRegistered, registeredBody, nil)
	src := &AMQPSource{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if err := src.Publish(context.Background(), msg.Message, errs.ErrValidation); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	_ = msg.Ack(context.Background())
	_ = msg.Nack(context.Background())
	if msg.rejected != 1 || msg.acked != 0 || msg.nacked != 0 {
		t.Errorf("rejected/acked/nacked = %d/%d/%d, want 1/0/0", msg.rejected, msg.acked, msg.nacked)
	}

	foreign := &Message{ID: "x"}
	if err := src.Publish(context.Background(), foreign, nil); err == nil {
		t.Error("Publish of a foreign message should fail")
	}
}

func TestRedisDeduper(t *testing.T) {
	kv := cache.NewMemory()
	d := NewRedisDeduper(kv, time.Hour)
	ctx := context.Background()

	seen, err := d.Seen(ctx, "evt-9")
	if err != nil || seen {
		t.Fatalf("Seen before mark = %v, %v; want false, nil", seen, err)
	}
	if err := d.MarkProcessed(ctx, "evt-9"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := d.MarkProcessed(ctx, "evt-9"); err != nil {
		t.Fatalf("second MarkProcessed: %v", err)
	}
	if _, err := kv.Get(ctx, "user-service:event:evt-9"); err != nil {
		t.Errorf("dedup key missing: %v", err)
	}
	seen, _ = d.Seen(ctx, "evt-9")
	if !seen {
		t.Error("Seen after mark = false, want true")
	}
}

func TestDeadLetterRecord(t *testing.T) {
	msg := &Message{ID: "user.registered/0/42", Channel: domain.KindRegistered, Key: "u-1", Body: []byte("{}")}
	rec := deadLetterRecord(msg, errs.ErrValidation)
	if string(rec.Key) != "u-1" || string(rec.Value) != "{}" {
		t.Errorf("key/value = %q/%q", rec.Key, rec.Value)
	}
	got := map[string]string{}
	for _, h := range rec.Headers {
		got[h.Key] = string(h.Value)
	}
	want := map[string]string{
		HeaderOriginalChannel: "user.registered",
		HeaderOriginalID:      "user.registered/0/42",
		HeaderFailureReason:   errs.ErrValidation.Error(),
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("header %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestChannelKinds(t *testing.T) {
	got := channelKinds(config.EventChannels{UserRegistered: "a", EmailChanged: "c"})
	if len(got) != 2 || got["a"] != domain.KindRegistered || got["c"] != domain.KindEmailChanged {
		t.Errorf("channelKinds = %v", got)
	}
	if _, err := NewKafkaSource(nil, "g", config.EventChannels{UserRegistered: "a"}); err == nil {
		t.Error("NewKafkaSource without brokers should fail")
	}
	if _, err := NewKafkaDeadLetter([]string{"localhost:9092"}, ""); err == nil {
		t.Error("NewKafkaDeadLetter without topic should fail")
	}
}
