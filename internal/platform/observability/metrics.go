package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	graphqlRequests *prometheus.CounterVec
	graphqlDuration *prometheus.HistogramVec
	searches        prometheus.Counter
	fallbacks       *prometheus.CounterVec
	sessions        prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		graphqlRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "charsearch",
			Name:      "graphql_requests_total",
			Help:      "GraphQL operations issued, by operation and result.",
		}, []string{"operation", "result"}),
		graphqlDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "charsearch",
			Name:      "graphql_request_duration_seconds",
			Help:      "GraphQL operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		searches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "charsearch",
			Name:      "searches_total",
			Help:      "List queries issued by search sessions.",
		}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "charsearch",
			Name:      "fallbacks_total",
			Help:      "Fallback selections, by strategy and outcome status.",
		}, []string{"strategy", "status"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "charsearch",
			Name:      "view_sessions",
			Help:      "Search sessions currently running.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.graphqlRequests,
		m.graphqlDuration,
		m.searches,
		m.fallbacks,
		m.sessions,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The recording methods accept a nil receiver so services can run without metrics.

func (m *Metrics) ObserveGraphQL(operation, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.graphqlRequests.WithLabelValues(operation, result).Inc()
	m.graphqlDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) SearchIssued() {
	if m == nil {
		return
	}
	m.searches.Inc()
}

func (m *Metrics) FallbackSelected(strategy, status string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(strategy, status).Inc()
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}
