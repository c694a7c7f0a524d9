package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	providerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schemaforge_provider_requests_total",
			Help: "Total number of LLM provider requests by outcome.",
		},
		[]string{"provider", "outcome"},
	)
	providerRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schemaforge_provider_request_duration_seconds",
			Help:    "LLM provider request latency in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"provider"},
	)
	retryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schemaforge_retry_attempts_total",
			Help: "Total number of retried provider attempts (attempts after the first).",
		},
		[]string{"provider"},
	)
	translationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schemaforge_translations_total",
			Help: "Total number of natural language translations by outcome.",
		},
		[]string{"outcome"},
	)
	introspectionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schemaforge_introspection_duration_seconds",
			Help:    "Schema introspection latency by database kind.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	indexedTables = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "schemaforge_indexed_tables",
			Help: "Number of tables and views in the current schema model.",
		},
	)
	guardRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schemaforge_guard_rejections_total",
			Help: "Total number of statements rejected by the execution guard.",
		},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "schemaforge_query_duration_seconds",
			Help:    "Executed SQL statement latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// The metrics listener reports on itself; route is bounded by routes in http.go.
	listenerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schemaforge_metrics_listener_requests_total",
			Help: "Requests served by the metrics listener.",
		},
		[]string{"method", "route", "status"},
	)
	listenerRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schemaforge_metrics_listener_request_duration_seconds",
			Help:    "Latency of requests served by the metrics listener.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(
		providerRequestsTotal,
		providerRequestDurationSeconds,
		retryAttemptsTotal,
		translationsTotal,
		introspectionDurationSeconds,
		indexedTables,
		guardRejectionsTotal,
		queryDurationSeconds,
		listenerRequestsTotal,
		listenerRequestDurationSeconds,
	)
}

func ObserveProviderRequest(provider, outcome string, elapsed time.Duration) {
	providerRequestsTotal.WithLabelValues(provider, outcome).Inc()
	providerRequestDurationSeconds.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func ObserveRetries(provider string, attempts int) {
	if attempts > 1 {
		retryAttemptsTotal.WithLabelValues(provider).Add(float64(attempts - 1))
	}
}

func ObserveTranslation(outcome string) {
	translationsTotal.WithLabelValues(outcome).Inc()
}

func ObserveIntrospection(kind string, tables int, elapsed time.Duration) {
	introspectionDurationSeconds.WithLabelValues(kind).Observe(elapsed.Seconds())
	if tables < 0 {
		tables = 0
	}
	indexedTables.Set(float64(tables))
}

func IncrementGuardRejection() {
	guardRejectionsTotal.Inc()
}

func ObserveQuery(elapsed time.Duration) {
	queryDurationSeconds.Observe(elapsed.Seconds())
}

func observeListenerRequest(method, route string, status int, elapsed time.Duration) {
	listenerRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	listenerRequestDurationSeconds.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
