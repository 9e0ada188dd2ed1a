// Package queue holds the broker-neutral message types shared by the
// filing consumer and the outbound publishers.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by Fetch after the source has been closed.
var ErrClosed = errors.New("queue closed")

// Delivery is one message handed to the consumer.
type Delivery struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Time      time.Time
}

// Source yields deliveries and acknowledges them once handled.
type Source interface {
	Fetch(ctx context.Context) (Delivery, error)
	Commit(ctx context.Context, deliveries ...Delivery) error
	Close() error
}

// Publisher writes one message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}
