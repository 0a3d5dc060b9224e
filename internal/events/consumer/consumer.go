package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"smartdrive/user-service/internal/events/domain"
	"smartdrive/user-service/internal/metrics"
	"smartdrive/user-service/internal/platform/errs"
)

// Event outcomes reported to metrics.
const (
	OutcomeProcessed    = "processed"
	OutcomeDuplicate    = "duplicate"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeRequeued     = "requeued"
)

// EventHandler applies one decoded event.
type EventHandler interface {
	Handle(ctx context.Context, e domain.Event) error
}

// Config tunes retries of retryable handler failures.
type Config struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Consumer pulls messages from a Source and applies them through an EventHandler.
type Consumer struct {
	source  Source
	handler EventHandler
	dlq     DeadLetterSink
	dedup   Deduper
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     Config
}

// New returns a Consumer. dedup and m may be nil.
func New(source Source, handler EventHandler, dlq DeadLetterSink, dedup Deduper, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	return &Consumer{
		source:  source,
		handler: handler,
		dlq:     dlq,
		dedup:   dedup,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
	}
}

// Run processes messages until ctx is done (returns nil) or the source or a settle
// operation fails. A bad event never stops the loop.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch: %w", err)
		}
		if err := c.Process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Process takes one message to a settled state. Permanent failures are dead-lettered;
// retryable failures that outlast the in-process retries are nacked so the broker delivers
// them again. The returned error is non-nil only when the message could not be settled and
// the loop must stop.
func (c *Consumer) Process(ctx context.Context, msg *Message) error {
	ev, err := domain.Decode(msg.Body, msg.Channel, msg.ID)
	if err != nil {
		c.logger.WarnContext(ctx, "invalid event", "message_id", msg.ID, "channel", string(msg.Channel), "error", err)
		return c.deadLetter(ctx, msg, msg.Channel.Label(), err)
	}

	kind := ev.Kind.Label()
	eventID := ev.DeliveryID()
	log := c.logger.With("event_id", eventID, "event_kind", kind, "auth_user_id", ev.AuthUserID)

	// Without a message id or emission time there is no key that tells a redelivery from a
	// new event, so dedup is skipped and the handlers' idempotence applies.
	dedupable := ev.HasIdentity()
	if dedupable && c.dedup != nil {
		seen, err := c.dedup.Seen(ctx, eventID)
		if err != nil {
			log.WarnContext(ctx, "dedup lookup failed, processing anyway", "error", err)
		}
		if seen {
			log.InfoContext(ctx, "duplicate event ignored")
			c.metrics.ObserveEvent(kind, OutcomeDuplicate)
			return c.ack(ctx, msg)
		}
	}

	if err := c.handleWithRetry(ctx, log, ev); err != nil {
		if ctx.Err() != nil {
			c.metrics.ObserveEvent(kind, OutcomeRequeued)
			return c.nack(ctx, msg)
		}
		if errs.Retryable(err) {
			log.WarnContext(ctx, "event still failing after retries, returning it to the broker", "error", err)
			c.metrics.ObserveEvent(kind, OutcomeRequeued)
			return c.nack(ctx, msg)
		}
		log.ErrorContext(ctx, "event processing failed", "error", err)
		return c.deadLetter(ctx, msg, kind, err)
	}

	if dedupable && c.dedup != nil {
		if err := c.dedup.MarkProcessed(ctx, eventID); err != nil {
			log.WarnContext(ctx, "dedup mark failed", "error", err)
		}
	}
	c.metrics.ObserveEvent(kind, OutcomeProcessed)
	log.DebugContext(ctx, "event processed")
	return c.ack(ctx, msg)
}

func (c *Consumer) handleWithRetry(ctx context.Context, log *slog.Logger, ev domain.Event) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.MaxInterval = c.cfg.MaxInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := c.safeHandle(ctx, ev)
		if err == nil {
			return struct{}{}, nil
		}
		if !errs.Retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		log.WarnContext(ctx, "retryable event failure", "attempt", attempt, "error", err)
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(c.cfg.MaxAttempts)))
	return err
}

func (c *Consumer) safeHandle(ctx context.Context, ev domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
		}
	}()
	return c.handler.Handle(ctx, ev)
}

func (c *Consumer) deadLetter(ctx context.Context, msg *Message, kind string, reason error) error {
	if c.dlq == nil {
		c.logger.ErrorContext(ctx, "no dead-letter sink configured", "message_id", msg.ID)
		c.metrics.ObserveEvent(kind, OutcomeRequeued)
		return c.nack(ctx, msg)
	}
	if err := c.dlq.Publish(ctx, msg, reason); err != nil {
		c.logger.ErrorContext(ctx, "dead-letter publish failed", "message_id", msg.ID, "error", err)
		c.metrics.ObserveEvent(kind, OutcomeRequeued)
		return c.nack(ctx, msg)
	}
	c.metrics.ObserveEvent(kind, OutcomeDeadLettered)
	return c.ack(ctx, msg)
}

func (c *Consumer) ack(ctx context.Context, msg *Message) error {
	if err := msg.Ack(ctx); err != nil {
		return fmt.Errorf("ack message %s: %w", msg.ID, err)
	}
	return nil
}

func (c *Consumer) nack(ctx context.Context, msg *Message) error {
	if err := msg.Nack(ctx); err != nil {
		return fmt.Errorf("nack message %s: %w", msg.ID, err)
	}
	return nil
}
