package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"smartdrive/user-service/internal/config"
	"smartdrive/user-service/internal/events/domain"
)

// DLQSuffix names the dead-letter queue declared next to each event queue.
const DLQSuffix = ".dlq"

// DialAMQP connects to RabbitMQ, retrying with exponential backoff for up to a minute.
func DialAMQP(ctx context.Context, url string, logger *slog.Logger) (*amqp.Connection, error) {
	if url == "" {
		return nil, errors.New("amqp: url must not be empty")
	}
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 5 * time.Second
	return backoff.Retry(ctx, func() (*amqp.Connection, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			logger.WarnContext(ctx, "rabbitmq connect failed, retrying", "error", err)
			return nil, err
		}
		return conn, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(time.Minute))
}

type amqpDelivery struct {
	d    amqp.Delivery
	kind domain.Kind
}

// AMQPSource consumes the event queues with manual ack and prefetch 1. It is also the
// dead-letter sink for its own messages: rejecting without requeue routes a message to
// the queue's DLQ.
type AMQPSource struct {
	ch         *amqp.Channel
	deliveries chan amqpDelivery
	done       chan struct{}
	closeOnce  sync.Once
	logger     *slog.Logger
}

// NewAMQPSource declares each queue in channels with its DLQ and starts consuming.
func NewAMQPSource(conn *amqp.Connection, channels config.EventChannels, logger *slog.Logger) (*AMQPSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	queues := channelKinds(channels)
	if len(queues) == 0 {
		return nil, errors.New("amqp source: no queues configured")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp source: open channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp source: qos: %w", err)
	}

	s := &AMQPSource{
		ch:         ch,
		deliveries: make(chan amqpDelivery),
		done:       make(chan struct{}),
		logger:     logger,
	}
	var wg sync.WaitGroup
	for queue, kind := range queues {
		if err := declareQueue(ch, queue); err != nil {
			_ = ch.Close()
			return nil, err
		}
		msgs, err := ch.Consume(queue, "user-service-"+kind.Label(), false, false, false, false, nil)
		if err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("amqp source: consume %s: %w", queue, err)
		}
		wg.Add(1)
		go s.forward(&wg, msgs, kind)
		logger.Info("amqp consumer started", "queue", queue, "event_kind", kind.Label())
	}
	go func() {
		wg.Wait()
		close(s.deliveries)
	}()
	return s, nil
}

func declareQueue(ch *amqp.Channel, queue string) error {
	dlq := queue + DLQSuffix
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp source: declare %s: %w", dlq, err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("amqp source: declare %s: %w", queue, err)
	}
	return nil
}

func (s *AMQPSource) forward(wg *sync.WaitGroup, msgs <-chan amqp.Delivery, kind domain.Kind) {
	defer wg.Done()
	for d := range msgs {
		select {
		case s.deliveries <- amqpDelivery{d: d, kind: kind}:
		case <-s.done:
			_ = d.Nack(false, true)
			return
		}
	}
}

func (s *AMQPSource) Fetch(ctx context.Context) (*Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case in, ok := <-s.deliveries:
		if !ok {
			return nil, ErrSourceClosed
		}
		return newAMQPMessage(in), nil
	}
}

func newAMQPMessage(in amqpDelivery) *Message {
	d := in.d
	msg := &Message{
		ID:        d.MessageId,
		Channel:   in.kind,
		Key:       d.CorrelationId,
		Body:      d.Body,
		Headers:   make(map[string]string, len(d.Headers)),
		Timestamp: d.Timestamp,
	}
	for k, v := range d.Headers {
		msg.Headers[k] = fmt.Sprint(v)
	}
	msg.ack = func(context.Context) error { return d.Ack(false) }
	msg.nack = func(context.Context) error { return d.Nack(false, true) }
	msg.reject = func(context.Context) error { return d.Nack(false, false) }
	return msg
}

// Publish dead-letters msg by rejecting it without requeue. msg must come from an AMQPSource.
func (s *AMQPSource) Publish(ctx context.Context, msg *Message, reason error) error {
	if msg.reject == nil {
		return errors.New("amqp source: message cannot be dead-lettered by this source")
	}
	s.logger.WarnContext(ctx, "dead-lettering message", "message_id", msg.ID, "channel", string(msg.Channel), "reason", reason)
	return msg.settle(ctx, msg.reject)
}

// Close stops delivery and closes the channel. Safe to call more than once.
func (s *AMQPSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ch.Close()
	})
	return err
}
