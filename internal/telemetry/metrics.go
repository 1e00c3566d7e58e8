package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bookcatalog"

// StoreMetrics records datastore operation counts and latencies.
type StoreMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	txs        *prometheus.CounterVec
}

// NewStoreMetrics creates datastore metrics. Register them with a prometheus.Registerer.
func NewStoreMetrics() *StoreMetrics {
	return &StoreMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Total number of datastore operations.",
			},
			[]string{"backend", "collection", "op", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operation_duration_seconds",
				Help:      "Datastore operation latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend", "collection", "op"},
		),
		txs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "transactions_total",
				Help:      "Total number of finished transactions.",
			},
			[]string{"backend", "outcome"},
		),
	}
}

// Observe records one operation.
func (m *StoreMetrics) Observe(backend, collection, op string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(backend, collection, op, result).Inc()
	m.duration.WithLabelValues(backend, collection, op).Observe(d.Seconds())
}

// TxFinished records a transaction outcome: "commit", "rollback" or "error".
func (m *StoreMetrics) TxFinished(backend, outcome string) {
	m.txs.WithLabelValues(backend, outcome).Inc()
}

// OperationsCounter returns the operation counter for the given labels.
func (m *StoreMetrics) OperationsCounter(backend, collection, op, result string) prometheus.Counter {
	return m.operations.WithLabelValues(backend, collection, op, result)
}

// TransactionsCounter returns the transaction counter for the given labels.
func (m *StoreMetrics) TransactionsCounter(backend, outcome string) prometheus.Counter {
	return m.txs.WithLabelValues(backend, outcome)
}

// Describe implements prometheus.Collector.
func (m *StoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.operations.Describe(ch)
	m.duration.Describe(ch)
	m.txs.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *StoreMetrics) Collect(ch chan<- prometheus.Metric) {
	m.operations.Collect(ch)
	m.duration.Collect(ch)
	m.txs.Collect(ch)
}

// HTTPMetrics records requests rejected before reaching a handler.
type HTTPMetrics struct {
	rateLimited prometheus.Counter
}

// NewHTTPMetrics creates HTTP metrics. Register them with a prometheus.Registerer.
func NewHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter.",
		}),
	}
}

// RateLimited returns the counter of rate-limited requests.
func (m *HTTPMetrics) RateLimited() prometheus.Counter {
	return m.rateLimited
}

// Describe implements prometheus.Collector.
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.rateLimited.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	m.rateLimited.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*StoreMetrics)(nil)
	_ prometheus.Collector = (*HTTPMetrics)(nil)
)
