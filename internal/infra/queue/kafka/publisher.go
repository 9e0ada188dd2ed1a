package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"entityfiler/internal/infra/queue"
)

// Writer is the subset of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes messages keyed for per-business ordering.
type Publisher struct {
	writer Writer
	now    func() time.Time
}

// NewPublisher targets brokers with acknowledgement from every in-sync replica.
func NewPublisher(brokers []string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return NewPublisherFromWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}), nil
}

// NewPublisherFromWriter wraps an existing writer.
func NewPublisherFromWriter(w Writer) *Publisher {
	return &Publisher{writer: w, now: func() time.Time { return time.Now().UTC() }}
}

// Publish writes value to topic.
func (p *Publisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	if topic == "" {
		return fmt.Errorf("publish: empty topic")
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Time:  p.now(),
	}); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes pending writes.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ queue.Publisher = (*Publisher)(nil)
