package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements filer.MetricsRecorder with a duration
// histogram and an outcome counter per operation.
type PrometheusRecorder struct {
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
}

// NewPrometheusRecorder registers the collectors on reg.
func NewPrometheusRecorder(reg prometheus.Registerer, namespace string) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of filer operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Filer operations by outcome.",
		}, []string{"operation", "outcome"}),
	}
	for _, c := range []prometheus.Collector{r.duration, r.total} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe records one operation.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.duration.WithLabelValues(operation).Observe(d.Seconds())
	r.total.WithLabelValues(operation, outcome).Inc()
}
