package worker

import (
	"context"
	"time"

	"entityfiler/internal/filer"
	"entityfiler/internal/infra/queue"
)

type config struct {
	maxAttempts int
	backoff     time.Duration
	dlq         queue.Publisher
	dlqTopic    string
	logger      filer.Logger
	metrics     filer.MetricsRecorder
	reporter    filer.ErrorReporter
}

func defaultConfig() config {
	return config{
		maxAttempts: 5,
		backoff:     time.Second,
		logger:      noopLogger{},
		metrics:     noopMetrics{},
		reporter:    noopReporter{},
	}
}

// Option customizes a Worker.
type Option func(*config)

// WithMaxAttempts bounds how often a redeliverable message is processed.
func WithMaxAttempts(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the base delay between attempts; attempt n waits n*d.
func WithBackoff(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.backoff = d
		}
	}
}

// WithDeadLetter publishes exhausted messages to topic.
func WithDeadLetter(p queue.Publisher, topic string) Option {
	return func(c *config) {
		c.dlq = p
		c.dlqTopic = topic
	}
}

// WithLogger sets the logger.
func WithLogger(l filer.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetricsRecorder sets the metrics recorder.
func WithMetricsRecorder(m filer.MetricsRecorder) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithErrorReporter sets the error-tracking sink.
func WithErrorReporter(r filer.ErrorReporter) Option {
	return func(c *config) {
		if r != nil {
			c.reporter = r
		}
	}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopReporter struct{}

func (noopReporter) Report(context.Context, error, map[string]any) {}
