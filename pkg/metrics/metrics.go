// Package metrics defines the Prometheus metric collectors used by the indexer,
// the search executor and the HTTP service, and exposes a scrape handler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Search outcomes used as the "outcome" label.
const (
	OutcomeMatches   = "matches"
	OutcomeZero      = "zero_matches"
	OutcomeMalformed = "malformed"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing, so library users that do not scrape pay nothing.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchesTotal        *prometheus.CounterVec
	SearchLatency        prometheus.Histogram
	VocabularyScan       prometheus.Histogram
	SearchMatches        prometheus.Histogram
	DocumentsProcessed   *prometheus.CounterVec
	BuildDuration        prometheus.Histogram
	IndexedDocuments     *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesearch_http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codesearch_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "codesearch_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesearch_searches_total",
				Help: "Total searches by outcome (matches, zero_matches, malformed, cancelled, error).",
			},
			[]string{"outcome"},
		),
		SearchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "codesearch_search_latency_seconds",
				Help:    "End-to-end search execution latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		VocabularyScan: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "codesearch_vocabulary_scan_seconds",
				Help:    "Time spent scanning the token vocabulary for wildcard atoms.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
		SearchMatches: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "codesearch_search_matches",
				Help:    "Number of match spans returned per search.",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
			},
		),
		DocumentsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesearch_documents_processed_total",
				Help: "Documents handled by the indexer by result (new, updated, unchanged, removed, failed).",
			},
			[]string{"result"},
		),
		BuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "codesearch_index_build_seconds",
				Help:    "Duration of index builds and refreshes.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		IndexedDocuments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "codesearch_indexed_documents",
				Help: "Number of documents held by the index of each root.",
			},
			[]string{"root"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchesTotal,
		m.SearchLatency,
		m.VocabularyScan,
		m.SearchMatches,
		m.DocumentsProcessed,
		m.BuildDuration,
		m.IndexedDocuments,
	)

	return m
}

// ObserveSearch records one finished search.
func (m *Metrics) ObserveSearch(outcome string, elapsed time.Duration, matches int) {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeMatches || outcome == OutcomeZero {
		m.SearchLatency.Observe(elapsed.Seconds())
		m.SearchMatches.Observe(float64(matches))
	}
}

// ObserveVocabularyScan records the wildcard vocabulary scan time.
func (m *Metrics) ObserveVocabularyScan(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.VocabularyScan.Observe(elapsed.Seconds())
}

// AddDocuments counts indexer results.
func (m *Metrics) AddDocuments(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.DocumentsProcessed.WithLabelValues(result).Add(float64(n))
}

// ObserveBuild records a finished build and the resulting document count.
func (m *Metrics) ObserveBuild(root string, elapsed time.Duration, documents int) {
	if m == nil {
		return
	}
	m.BuildDuration.Observe(elapsed.Seconds())
	m.IndexedDocuments.WithLabelValues(root).Set(float64(documents))
}
