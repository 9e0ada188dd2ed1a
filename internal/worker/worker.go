// Package worker drives the filing processor from a queue source. One
// message is fully processed, cascade included, before the next fetch.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"entityfiler/internal/filer"
	"entityfiler/internal/infra/queue"
)

// Disposition is what the consumer does with a message after a run.
type Disposition int

const (
	// Ack commits the offset; the message is consumed.
	Ack Disposition = iota
	// Retry leaves the offset uncommitted and processes the message again.
	Retry
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	}
	return "disposition(" + strconv.Itoa(int(d)) + ")"
}

// Classify maps a processing error onto a disposition. Unresolvable
// messages and store failures are redelivered; everything else is consumed
// so a poison message cannot block the queue.
func Classify(err error) Disposition {
	if err == nil {
		return Ack
	}
	var perr *filer.ProcessingError
	if errors.As(err, &perr) {
		return Retry
	}
	var serr *filer.StoreError
	if errors.As(err, &serr) {
		return Retry
	}
	return Ack
}

// PanicError is the error a handler panic is turned into. It classifies as
// Ack: redelivering the message would replay the same panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("handler panicked: %v", e.Value) }

// Handler processes one message.
type Handler interface {
	Process(ctx context.Context, msg filer.Message) error
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc func(ctx context.Context, msg filer.Message) error

// Process implements Handler.
func (f HandlerFunc) Process(ctx context.Context, msg filer.Message) error { return f(ctx, msg) }

// Result summarizes the handling of one delivery.
type Result struct {
	Attempts     int
	Err          error
	DeadLettered bool
	// Committed is false when the context ended before the message was settled.
	Committed bool
}

// Worker consumes a Source and hands each delivery to a Handler.
type Worker struct {
	source  queue.Source
	handler Handler
	config
}

// New builds a worker. Without WithDeadLetter exhausted messages are
// logged, reported and committed.
func New(source queue.Source, handler Handler, opts ...Option) *Worker {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Worker{source: source, handler: handler, config: cfg}
}

// Run consumes until ctx is done or the source closes.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("filing consumer started", "max_attempts", w.maxAttempts)
	defer w.logger.Info("filing consumer stopped")
	for {
		d, err := w.source.Fetch(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			w.logger.Error("fetch failed", "error", err)
			if !w.sleep(ctx, w.backoff) {
				return nil
			}
			continue
		}
		w.Handle(ctx, d)
	}
}

// Handle processes one delivery, retrying and dead-lettering per Classify,
// and commits it once settled.
func (w *Worker) Handle(ctx context.Context, d queue.Delivery) Result {
	msg := filer.Message{Key: d.Key, Value: d.Value}
	var res Result
	for {
		res.Attempts++
		started := time.Now()
		res.Err = w.process(ctx, msg)
		disposition := Classify(res.Err)
		w.metrics.Observe(ctx, "handle_message", res.Err == nil, time.Since(started))
		if disposition == Ack {
			if res.Err != nil {
				w.logger.Error("filing rejected, message consumed",
					"error", res.Err, "topic", d.Topic, "offset", d.Offset, "outcome", "consumed")
				w.reporter.Report(ctx, res.Err, deliveryFields(d, res.Attempts))
			}
			break
		}
		if ctx.Err() != nil {
			w.logger.Warn("shutdown before message settled", "topic", d.Topic, "offset", d.Offset, "error", res.Err)
			return res
		}
		if res.Attempts < w.maxAttempts {
			w.logger.Warn("filing processing failed, retrying",
				"error", res.Err, "attempt", res.Attempts, "topic", d.Topic, "offset", d.Offset, "outcome", "retry")
			if !w.sleep(ctx, w.backoff*time.Duration(res.Attempts)) {
				return res
			}
			continue
		}
		w.deadLetter(ctx, d, &res)
		break
	}
	if err := w.source.Commit(ctx, d); err != nil {
		w.logger.Error("commit failed", "error", err, "topic", d.Topic, "offset", d.Offset)
		return res
	}
	res.Committed = true
	return res
}

func (w *Worker) process(ctx context.Context, msg filer.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			perr := &PanicError{Value: r, Stack: debug.Stack()}
			w.logger.Error("filing handler panic", "error", perr, "stack", string(perr.Stack))
			err = perr
		}
	}()
	return w.handler.Process(ctx, msg)
}

func (w *Worker) deadLetter(ctx context.Context, d queue.Delivery, res *Result) {
	fields := deliveryFields(d, res.Attempts)
	w.reporter.Report(ctx, res.Err, fields)
	if w.dlq == nil || w.dlqTopic == "" {
		w.logger.Error("retries exhausted, message dropped", "error", res.Err, "topic", d.Topic, "offset", d.Offset, "outcome", "dropped")
		return
	}
	if err := w.dlq.Publish(ctx, w.dlqTopic, d.Key, d.Value); err != nil {
		w.logger.Error("dead-letter publish failed", "error", err, "topic", w.dlqTopic, "offset", d.Offset)
		w.reporter.Report(ctx, err, fields)
		return
	}
	res.DeadLettered = true
	w.logger.Error("retries exhausted, message dead-lettered",
		"error", res.Err, "topic", d.Topic, "offset", d.Offset, "dead_letter_topic", w.dlqTopic, "outcome", "dead_letter")
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func deliveryFields(d queue.Delivery, attempts int) map[string]any {
	fields := map[string]any{
		"topic":    d.Topic,
		"offset":   d.Offset,
		"attempts": attempts,
	}
	if id, err := filer.DecodeMessage(d.Value); err == nil {
		fields["filing_id"] = id
	}
	return fields
}
