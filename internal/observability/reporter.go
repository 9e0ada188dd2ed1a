package observability

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Reporter is the error-tracking sink: every report is logged at error
// level and counted by source.
type Reporter struct {
	logger  *slog.Logger
	reports *prometheus.CounterVec
}

// NewReporter registers the report counter on reg.
func NewReporter(logger *slog.Logger, reg prometheus.Registerer, namespace string) (*Reporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reported_errors_total",
		Help:      "Errors sent to the error-tracking sink.",
	}, []string{"source"})
	if err := reg.Register(reports); err != nil {
		return nil, err
	}
	return &Reporter{logger: logger, reports: reports}, nil
}

// Report implements filer.ErrorReporter. The "effect" field, when present,
// names the source; otherwise it is "consumer".
func (r *Reporter) Report(ctx context.Context, err error, fields map[string]any) {
	source := "consumer"
	if effect, ok := fields["effect"].(string); ok && effect != "" {
		source = effect
	}
	r.reports.WithLabelValues(source).Inc()
	args := make([]any, 0, 2*len(fields)+4)
	args = append(args, "error", err, "source", source)
	for k, v := range fields {
		args = append(args, k, v)
	}
	r.logger.ErrorContext(ctx, "error reported", args...)
}
