package filer

import (
	"context"
	"time"
)

// Clock supplies the time used to stamp completion dates.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function into a Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// Logger is the structured logging surface used by the processor and cascade.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsRecorder observes the outcome and latency of processor operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer opens spans around processor operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation error, if any.
type TraceSpan interface {
	End(err error)
}

// ErrorReporter forwards failures that are swallowed rather than returned,
// such as side effect errors, to an error-tracking sink.
type ErrorReporter interface {
	Report(ctx context.Context, err error, fields map[string]any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type noopReporter struct{}

func (noopReporter) Report(context.Context, error, map[string]any) {}

type settings struct {
	clock     Clock
	logger    Logger
	metrics   MetricsRecorder
	tracer    Tracer
	reporter  ErrorReporter
	validator Validator
}

func defaultSettings() settings {
	return settings{
		clock:    ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:   noopLogger{},
		metrics:  noopMetricsRecorder{},
		tracer:   noopTracer{},
		reporter: noopReporter{},
	}
}

// Option customizes a Processor or Cascade.
type Option func(*settings)

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *settings) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *settings) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithErrorReporter sets the error-tracking sink.
func WithErrorReporter(reporter ErrorReporter) Option {
	return func(s *settings) {
		if reporter != nil {
			s.reporter = reporter
		}
	}
}

// WithValidator runs v against every envelope before any transition.
func WithValidator(v Validator) Option {
	return func(s *settings) { s.validator = v }
}

func applyOptions(opts []Option) settings {
	s := defaultSettings()
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}
