package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"smartdrive/user-service/internal/config"
	"smartdrive/user-service/internal/events/domain"
)

// Header names set on dead-lettered Kafka messages.
const (
	HeaderOriginalChannel = "x-original-channel"
	HeaderOriginalID      = "x-original-id"
	HeaderFailureReason   = "x-failure-reason"
)

// KafkaSource reads the three event topics as one consumer group. Offsets are committed
// only when a message is acked.
type KafkaSource struct {
	reader *kafka.Reader
	topics map[string]domain.Kind
}

// NewKafkaSource creates a group reader over the topics in channels. brokers and groupID
// must be non-empty. Call Close when shutting down.
func NewKafkaSource(brokers []string, groupID string, channels config.EventChannels) (*KafkaSource, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka source: brokers must not be empty")
	}
	if groupID == "" {
		return nil, errors.New("kafka source: group id must not be empty")
	}
	topics := channelKinds(channels)
	if len(topics) == 0 {
		return nil, errors.New("kafka source: no topics configured")
	}
	names := make([]string, 0, len(topics))
	for t := range topics {
		names = append(names, t)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: names,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})
	return &KafkaSource{reader: reader, topics: topics}, nil
}

func (s *KafkaSource) Fetch(ctx context.Context) (*Message, error) {
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrSourceClosed
		}
		return nil, err
	}
	msg := &Message{
		ID:        fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset),
		Channel:   s.topics[m.Topic],
		Key:       string(m.Key),
		Body:      m.Value,
		Headers:   make(map[string]string, len(m.Headers)),
		Timestamp: m.Time,
	}
	for _, h := range m.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	msg.ack = func(ctx context.Context) error {
		return s.reader.CommitMessages(ctx, m)
	}
	msg.nack = func(context.Context) error {
		return ErrRedeliveryRequired
	}
	return msg, nil
}

// Close closes the reader. Safe to call on a nil source.
func (s *KafkaSource) Close() error {
	if s == nil || s.reader == nil {
		return nil
	}
	return s.reader.Close()
}

// KafkaDeadLetter writes failed messages to a dead-letter topic, keeping the original key
// and body and recording the failure in headers.
type KafkaDeadLetter struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaDeadLetter creates a writer for topic. brokers must be non-empty.
func NewKafkaDeadLetter(brokers []string, topic string) (*KafkaDeadLetter, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka dead letter: brokers and topic are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaDeadLetter{writer: writer, topic: topic}, nil
}

// Publish writes msg with a short timeout so a slow broker does not stall the loop.
func (d *KafkaDeadLetter) Publish(ctx context.Context, msg *Message, reason error) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return d.writer.WriteMessages(writeCtx, deadLetterRecord(msg, reason))
}

// Close closes the writer. Safe to call on a nil sink.
func (d *KafkaDeadLetter) Close() error {
	if d == nil || d.writer == nil {
		return nil
	}
	return d.writer.Close()
}

func deadLetterRecord(msg *Message, reason error) kafka.Message {
	headers := []kafka.Header{
		{Key: HeaderOriginalChannel, Value: []byte(msg.Channel)},
		{Key: HeaderOriginalID, Value: []byte(msg.ID)},
	}
	if reason != nil {
		headers = append(headers, kafka.Header{Key: HeaderFailureReason, Value: []byte(reason.Error())})
	}
	var key []byte
	if msg.Key != "" {
		key = []byte(msg.Key)
	}
	return kafka.Message{Key: key, Value: msg.Body, Headers: headers}
}

func channelKinds(c config.EventChannels) map[string]domain.Kind {
	out := make(map[string]domain.Kind, 3)
	if c.UserRegistered != "" {
		out[c.UserRegistered] = domain.KindRegistered
	}
	if c.EmailVerified != "" {
		out[c.EmailVerified] = domain.KindEmailVerified
	}
	if c.EmailChanged != "" {
		out[c.EmailChanged] = domain.KindEmailChanged
	}
	return out
}
