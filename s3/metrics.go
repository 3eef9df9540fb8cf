package s3

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the listing counters. Each server owns its registry so
// tests can run several servers side by side.
type Metrics struct {
	registry *prometheus.Registry

	listRequests  *prometheus.CounterVec
	listEntries   *prometheus.CounterVec
	listTruncated prometheus.Counter
	listDuration  prometheus.Histogram
}

// NewMetrics registers the listing metrics on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		listRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lister_list_requests_total",
				Help: "ListObjects requests by outcome",
			},
			[]string{"outcome"},
		),
		listEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lister_list_entries_total",
				Help: "Entries returned by ListObjects, by kind",
			},
			[]string{"kind"},
		),
		listTruncated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lister_list_truncated_total",
				Help: "ListObjects responses with IsTruncated set",
			},
		),
		listDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lister_list_duration_seconds",
				Help:    "Time spent producing a ListObjects response",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	m.registry.MustRegister(
		m.listRequests,
		m.listEntries,
		m.listTruncated,
		m.listDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordList records one ListObjects call
func (m *Metrics) RecordList(outcome string, objects, prefixes int, truncated bool, elapsed time.Duration) {
	m.listRequests.WithLabelValues(outcome).Inc()
	m.listDuration.Observe(elapsed.Seconds())
	if outcome != "ok" {
		return
	}
	m.listEntries.WithLabelValues("object").Add(float64(objects))
	m.listEntries.WithLabelValues("common_prefix").Add(float64(prefixes))
	if truncated {
		m.listTruncated.Inc()
	}
}
