// Package metrics defines the Prometheus collectors of the synchronizer and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle outcomes used as the status label of CyclesTotal.
const (
	CycleSucceeded = "succeeded"
	CycleFailed    = "failed"
)

// Metrics holds all Prometheus collectors for the pipeline. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	CyclesTotal         *prometheus.CounterVec
	CycleDuration       prometheus.Histogram
	ChangedKeysTotal    *prometheus.CounterVec
	BatchesTotal        *prometheus.CounterVec
	DocsIndexedTotal    *prometheus.CounterVec
	RowsSkippedTotal    *prometheus.CounterVec
	WatermarkTimestamp  prometheus.Gauge
	RetriesTotal        *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

// New creates all collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_cycles_total",
				Help: "Total synchronization cycles by outcome.",
			},
			[]string{"status"},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "etl_cycle_duration_seconds",
				Help:    "Wall time of one synchronization cycle in seconds.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
			},
		),
		ChangedKeysTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_changed_keys_total",
				Help: "Keys discovered by producers and enrichers per entity kind.",
			},
			[]string{"kind"},
		),
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_batches_total",
				Help: "Row batches fetched by mergers per entity kind.",
			},
			[]string{"kind"},
		),
		DocsIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_documents_indexed_total",
				Help: "Documents written to the search index per index.",
			},
			[]string{"index"},
		),
		RowsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_rows_skipped_total",
				Help: "Malformed rows dropped by transformers per entity kind.",
			},
			[]string{"kind"},
		),
		WatermarkTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "etl_watermark_timestamp_seconds",
				Help: "Unix time of the last persisted watermark.",
			},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_retries_total",
				Help: "Retries of transient failures per operation.",
			},
			[]string{"operation"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "etl_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_http_requests_total",
				Help: "Requests to the ops server by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "etl_http_request_duration_seconds",
				Help:    "Ops server request latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "etl_http_requests_in_flight",
				Help: "Ops server requests being served.",
			},
		),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.ChangedKeysTotal,
		m.BatchesTotal,
		m.DocsIndexedTotal,
		m.RowsSkippedTotal,
		m.WatermarkTimestamp,
		m.RetriesTotal,
		m.CircuitBreakerState,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
	)

	return m
}

func (m *Metrics) ObserveCycle(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(status).Inc()
	m.CycleDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) AddChangedKeys(kind string, n int) {
	if m == nil {
		return
	}
	m.ChangedKeysTotal.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) IncBatches(kind string) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) AddIndexed(index string, n int) {
	if m == nil {
		return
	}
	m.DocsIndexedTotal.WithLabelValues(index).Add(float64(n))
}

func (m *Metrics) AddSkipped(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RowsSkippedTotal.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) SetWatermark(t time.Time) {
	if m == nil {
		return
	}
	m.WatermarkTimestamp.Set(float64(t.Unix()))
}

func (m *Metrics) IncRetries(operation string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
