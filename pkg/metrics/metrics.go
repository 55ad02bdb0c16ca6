// Package metrics defines the Prometheus metric collectors used across the
// platform and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDuration        *prometheus.HistogramVec
	HTTPRequestsInFlight       prometheus.Gauge
	DocumentsTotal             *prometheus.CounterVec
	DocumentLatency            *prometheus.HistogramVec
	EntitiesPerDocument        *prometheus.HistogramVec
	SegmentsProcessedTotal     *prometheus.CounterVec
	SegmentFailuresTotal       *prometheus.CounterVec
	DisambiguationDegradations prometheus.Counter
	EnginesInUse               prometheus.Gauge
	EngineAcquireWait          prometheus.Histogram
	EngineExhaustedTotal       prometheus.Counter
	CacheHitsTotal             prometheus.Counter
	CacheMissesTotal           prometheus.Counter
	CircuitBreakerState        *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all metrics and registers them with reg. Tests pass
// a fresh prometheus.NewRegistry() to avoid duplicate registration panics.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		DocumentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "annotation_documents_total",
				Help: "Documents processed by input kind (pdf, text) and outcome (ok, degraded, rejected, unavailable, error).",
			},
			[]string{"kind", "outcome"},
		),
		DocumentLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "annotation_document_seconds",
				Help:    "End-to-end document processing latency in seconds.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"kind"},
		),
		EntitiesPerDocument: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "annotation_entities_per_document",
				Help:    "Number of entities returned per document by origin.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"origin"},
		),
		SegmentsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "annotation_segments_processed_total",
				Help: "Structural segments run through entity extraction by kind.",
			},
			[]string{"segment"},
		),
		SegmentFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "annotation_segment_failures_total",
				Help: "Segments whose extraction failed and contributed no mentions, by kind.",
			},
			[]string{"segment"},
		),
		DisambiguationDegradations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "annotation_disambiguation_degradations_total",
				Help: "Documents answered with recognition-only scores because linking failed.",
			},
		),
		EnginesInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_pool_in_use",
				Help: "Number of processing engines currently acquired.",
			},
		),
		EngineAcquireWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "engine_pool_acquire_seconds",
				Help:    "Time spent waiting for a processing engine.",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10},
			},
		),
		EngineExhaustedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "engine_pool_exhausted_total",
				Help: "Acquisitions that gave up because no engine became free in time.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of annotation cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of annotation cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.DocumentsTotal,
		m.DocumentLatency,
		m.EntitiesPerDocument,
		m.SegmentsProcessedTotal,
		m.SegmentFailuresTotal,
		m.DisambiguationDegradations,
		m.EnginesInUse,
		m.EngineAcquireWait,
		m.EngineExhaustedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
