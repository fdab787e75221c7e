package kvtree

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is an optional sink for build-time counters.
type Metrics interface {
	Increment(name string)
	IncrementBy(name string, n int64)
}

// NoMetrics discards all counts.
var NoMetrics Metrics = noMetrics{}

type noMetrics struct{}

func (noMetrics) Increment(string)          {}
func (noMetrics) IncrementBy(string, int64) {}

// Counter names used by the writers.
const (
	MetricRecordsWritten = "records_written"
	MetricBlocksWritten  = "blocks_written"
	MetricValuesStored   = "values_stored"
)

// PrometheusMetrics exports counts through a prometheus counter vector,
// labelled by event name.
type PrometheusMetrics struct {
	events *prometheus.CounterVec
}

// NewPrometheusMetrics registers a counter vector named <namespace>_events_total
// with reg.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) (*PrometheusMetrics, error) {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Number of storage engine events, by type.",
	}, []string{"event"})

	if err := reg.Register(events); err != nil {
		return nil, err
	}
	return &PrometheusMetrics{events: events}, nil
}

// Increment implements Metrics.
func (m *PrometheusMetrics) Increment(name string) {
	m.events.WithLabelValues(name).Inc()
}

// IncrementBy implements Metrics.
func (m *PrometheusMetrics) IncrementBy(name string, n int64) {
	m.events.WithLabelValues(name).Add(float64(n))
}
