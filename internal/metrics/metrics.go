// Package metrics provides Prometheus metrics for the ingestion pipeline
// and the query API.
//
// Key metrics:
//   - collection cycles by outcome and attempts per cycle
//   - feed failures by error kind
//   - observations inserted
//   - HTTP requests by route and status
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle outcomes.
const (
	OutcomeDone    = "done"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Metrics owns a dedicated registry and the collectors registered on it.
type Metrics struct {
	registry     *prometheus.Registry
	cycles       *prometheus.CounterVec
	attempts     prometheus.Histogram
	fetchErrors  *prometheus.CounterVec
	inserted     prometheus.Counter
	httpRequests *prometheus.CounterVec
}

// New registers the pricefeed collectors plus Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricefeed",
			Name:      "cycles_total",
			Help:      "Collection cycles by outcome.",
		}, []string{"outcome"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pricefeed",
			Name:      "cycle_attempts",
			Help:      "Fetch-and-store attempts used per cycle.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 11},
		}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricefeed",
			Name:      "fetch_errors_total",
			Help:      "Failed attempts by error kind.",
		}, []string{"kind"}),
		inserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pricefeed",
			Name:      "observations_inserted_total",
			Help:      "Observations newly written to storage.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricefeed",
			Name:      "http_requests_total",
			Help:      "Query API requests by route and status.",
		}, []string{"route", "status"}),
	}

	m.registry.MustRegister(
		m.cycles,
		m.attempts,
		m.fetchErrors,
		m.inserted,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(outcome string, attempts int, inserted int64) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	if attempts > 0 {
		m.attempts.Observe(float64(attempts))
	}
	if inserted > 0 {
		m.inserted.Add(float64(inserted))
	}
}

// ObserveFailure counts one failed attempt of the given kind.
func (m *Metrics) ObserveFailure(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.fetchErrors.WithLabelValues(kind).Inc()
}

// ObserveRequest counts one served HTTP request.
func (m *Metrics) ObserveRequest(route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
