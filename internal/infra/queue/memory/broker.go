// Package memory is an in-process broker used by tests and the local
// development profile.
package memory

import (
	"context"
	"sync"
	"time"

	"entityfiler/internal/infra/queue"
)

// Broker keeps every topic as an append-only log.
type Broker struct {
	mu        sync.Mutex
	topics    map[string][]queue.Delivery
	committed map[string]int64
	notify    chan struct{}
	closed    bool
	now       func() time.Time
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{
		topics:    make(map[string][]queue.Delivery),
		committed: make(map[string]int64),
		notify:    make(chan struct{}),
		now:       time.Now,
	}
}

// Publish appends a message to topic.
func (b *Broker) Publish(_ context.Context, topic string, key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return queue.ErrClosed
	}
	log := b.topics[topic]
	log = append(log, queue.Delivery{
		Topic:  topic,
		Offset: int64(len(log)),
		Key:    append([]byte(nil), key...),
		Value:  append([]byte(nil), value...),
		Time:   b.now(),
	})
	b.topics[topic] = log
	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

// Messages returns a copy of everything published to topic.
func (b *Broker) Messages(topic string) []queue.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]queue.Delivery(nil), b.topics[topic]...)
}

// Committed returns the next offset to be consumed for topic.
func (b *Broker) Committed(topic string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed[topic]
}

// Close wakes every waiting consumer and rejects further publishes.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.notify)
}

// Consumer returns a source reading topic from its committed offset.
func (b *Broker) Consumer(topic string) *Consumer {
	return &Consumer{broker: b, topic: topic, next: b.Committed(topic)}
}

// Consumer reads one topic of a Broker. It is not safe for concurrent Fetch calls.
type Consumer struct {
	broker *Broker
	topic  string
	next   int64
	closed bool
}

// Fetch blocks until a message past the read position exists.
func (c *Consumer) Fetch(ctx context.Context) (queue.Delivery, error) {
	for {
		c.broker.mu.Lock()
		if c.closed || c.broker.closed {
			c.broker.mu.Unlock()
			return queue.Delivery{}, queue.ErrClosed
		}
		log := c.broker.topics[c.topic]
		if c.next < int64(len(log)) {
			d := log[c.next]
			c.next++
			c.broker.mu.Unlock()
			return d, nil
		}
		wait := c.broker.notify
		c.broker.mu.Unlock()
		select {
		case <-ctx.Done():
			return queue.Delivery{}, ctx.Err()
		case <-wait:
		}
	}
}

// Commit advances the committed offset past the highest delivery.
func (c *Consumer) Commit(_ context.Context, deliveries ...queue.Delivery) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	for _, d := range deliveries {
		if d.Offset+1 > c.broker.committed[c.topic] {
			c.broker.committed[c.topic] = d.Offset + 1
		}
	}
	return nil
}

// Close stops this consumer.
func (c *Consumer) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.closed = true
	return nil
}

var (
	_ queue.Source    = (*Consumer)(nil)
	_ queue.Publisher = (*Broker)(nil)
)
