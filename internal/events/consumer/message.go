// Package consumer runs the transport-independent delivery loop for domain events:
// decode, dedup, handle with retry, then ack or dead-letter.
package consumer

import (
	"context"
	"errors"
	"time"

	"smartdrive/user-service/internal/events/domain"
)

var (
	// ErrSourceClosed is returned by Fetch once the underlying broker connection is gone.
	ErrSourceClosed = errors.New("consumer: source closed")
	// ErrRedeliveryRequired is returned by Nack on transports that cannot reject a single
	// message. The worker must stop without committing so the broker redelivers.
	ErrRedeliveryRequired = errors.New("consumer: redelivery required")
)

// Message is one delivery from a Source. Ack and Nack settle it at most once.
type Message struct {
	ID        string
	Channel   domain.Kind
	Key       string
	Body      []byte
	Headers   map[string]string
	Timestamp time.Time

	ack    func(context.Context) error
	nack   func(context.Context) error
	reject func(context.Context) error

	settled bool
}

// Ack confirms the message. It is a no-op on a settled message.
func (m *Message) Ack(ctx context.Context) error {
	return m.settle(ctx, m.ack)
}

// Nack hands the message back to the broker for redelivery.
func (m *Message) Nack(ctx context.Context) error {
	return m.settle(ctx, m.nack)
}

func (m *Message) settle(ctx context.Context, fn func(context.Context) error) error {
	if m.settled {
		return nil
	}
	m.settled = true
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// Source yields messages one at a time.
type Source interface {
	// Fetch blocks until a message is available or ctx is done.
	Fetch(ctx context.Context) (*Message, error)
	Close() error
}

// DeadLetterSink receives messages that cannot be processed.
type DeadLetterSink interface {
	Publish(ctx context.Context, msg *Message, reason error) error
}
