package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the host.
type Metrics struct {
	registry *prometheus.Registry

	// Dispatch metrics
	CallsTotal      *prometheus.CounterVec
	CallDuration    *prometheus.HistogramVec
	CallErrorsTotal *prometheus.CounterVec
	QueriesRejected *prometheus.CounterVec
	RowsReturned    *prometheus.CounterVec

	// Pool metrics. PoolAcquired is the live-connection gauge the
	// concurrency bound is observed through.
	PoolAcquired  *prometheus.GaugeVec
	PoolMax       *prometheus.GaugeVec
	PoolWaitTotal *prometheus.CounterVec
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		CallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolhost_calls_total",
				Help: "Total number of tool dispatches",
			},
			[]string{"tool", "status"},
		),
		CallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolhost_call_duration_seconds",
				Help:    "Duration of tool dispatches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		CallErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolhost_call_errors_total",
				Help: "Total number of failed tool dispatches by error code",
			},
			[]string{"tool", "code"},
		),
		QueriesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolhost_queries_rejected_total",
				Help: "Total number of statements refused by the query validator",
			},
			[]string{"source"},
		),
		RowsReturned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolhost_rows_returned_total",
				Help: "Total rows returned by read-only queries",
			},
			[]string{"source"},
		),

		PoolAcquired: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "toolhost_pool_acquired_connections",
				Help: "Connections currently checked out per data source",
			},
			[]string{"source"},
		),
		PoolMax: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "toolhost_pool_max_connections",
				Help: "Configured connection cap per data source",
			},
			[]string{"source"},
		),
		PoolWaitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolhost_pool_wait_total",
				Help: "Total acquisitions that had to wait for a free connection",
			},
			[]string{"source"},
		),
	}

	registry.MustRegister(
		m.CallsTotal,
		m.CallDuration,
		m.CallErrorsTotal,
		m.QueriesRejected,
		m.RowsReturned,
		m.PoolAcquired,
		m.PoolMax,
		m.PoolWaitTotal,
	)

	return m
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (for tests).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
