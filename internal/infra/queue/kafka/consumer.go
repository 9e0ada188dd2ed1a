// Package kafka adapts segmentio/kafka-go to the queue interfaces.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"entityfiler/internal/infra/queue"
)

// Reader is the subset of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads filing messages for a consumer group. Offsets are committed
// explicitly so a message is redelivered when the process dies mid-filing.
type Consumer struct {
	reader Reader
}

// NewConsumer joins groupID on topics.
func NewConsumer(brokers []string, groupID string, topics []string) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer requires at least one broker")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer requires group id")
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("kafka consumer requires at least one topic")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})
	return &Consumer{reader: reader}, nil
}

// NewConsumerFromReader wraps an existing reader.
func NewConsumerFromReader(r Reader) *Consumer {
	return &Consumer{reader: r}
}

// Fetch returns the next message without committing it.
func (c *Consumer) Fetch(ctx context.Context) (queue.Delivery, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return queue.Delivery{}, queue.ErrClosed
		}
		return queue.Delivery{}, err
	}
	return fromMessage(msg), nil
}

// Commit acknowledges deliveries to the group coordinator.
func (c *Consumer) Commit(ctx context.Context, deliveries ...queue.Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(deliveries))
	for _, d := range deliveries {
		msgs = append(msgs, kafka.Message{Topic: d.Topic, Partition: d.Partition, Offset: d.Offset})
	}
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	return nil
}

// Close leaves the group.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func fromMessage(msg kafka.Message) queue.Delivery {
	d := queue.Delivery{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Time:      msg.Time,
	}
	if len(msg.Headers) > 0 {
		d.Headers = make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			d.Headers[h.Key] = string(h.Value)
		}
	}
	return d
}

var _ queue.Source = (*Consumer)(nil)
