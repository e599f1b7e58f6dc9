package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Gateway metrics
	GatewayCallsTotal   *prometheus.CounterVec
	GatewayCallDuration *prometheus.HistogramVec

	// Payment metrics
	WebhooksTotal          *prometheus.CounterVec
	LedgerTransitionsTotal *prometheus.CounterVec
	RecoveryAttemptsTotal  *prometheus.CounterVec
	RecoveryTasks          *prometheus.GaugeVec
	SweepsTotal            *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
}

// New creates metrics registered with reg. A nil reg uses the default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "paygate"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		GatewayCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "calls_total",
				Help:      "Total number of payment provider calls",
			},
			[]string{"gateway", "operation", "outcome"},
		),
		GatewayCallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "call_duration_seconds",
				Help:      "Payment provider call duration in seconds, retries included",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"gateway", "operation"},
		),

		WebhooksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "webhooks_total",
				Help:      "Total number of provider webhooks by outcome",
			},
			[]string{"gateway", "outcome"}, // outcome: processed, ignored, unauthorized, invalid, deferred
		),
		LedgerTransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "ledger_transitions_total",
				Help:      "Total number of transaction status transitions",
			},
			[]string{"gateway", "from", "to"},
		),
		RecoveryAttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "recovery_attempts_total",
				Help:      "Total number of recovery task attempts",
			},
			[]string{"kind", "outcome"},
		),
		RecoveryTasks: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "recovery_tasks",
				Help:      "Recovery tasks by state",
			},
			[]string{"state"},
		),
		SweepsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "sweep_checks_total",
				Help:      "Total number of stale transactions re-verified",
			},
			[]string{"gateway", "outcome"},
		),

		CacheHitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"cache"},
		),
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCodeToString(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordGatewayCall records one outbound provider call.
func (m *Metrics) RecordGatewayCall(gateway, operation, outcome string, duration time.Duration) {
	m.GatewayCallsTotal.WithLabelValues(gateway, operation, outcome).Inc()
	m.GatewayCallDuration.WithLabelValues(gateway, operation).Observe(duration.Seconds())
}

// RecordWebhook records a webhook delivery.
func (m *Metrics) RecordWebhook(gateway, outcome string) {
	m.WebhooksTotal.WithLabelValues(gateway, outcome).Inc()
}

// RecordLedgerTransition records a status change. An empty from is a new transaction.
func (m *Metrics) RecordLedgerTransition(gateway, from, to string) {
	if from == "" {
		from = "NEW"
	}
	m.LedgerTransitionsTotal.WithLabelValues(gateway, from, to).Inc()
}

// RecordRecoveryAttempt records a recovery task attempt.
func (m *Metrics) RecordRecoveryAttempt(kind, outcome string) {
	m.RecoveryAttemptsTotal.WithLabelValues(kind, outcome).Inc()
}

// SetRecoveryTasks sets the number of recovery tasks in a state.
func (m *Metrics) SetRecoveryTasks(state string, count float64) {
	m.RecoveryTasks.WithLabelValues(state).Set(count)
}

// RecordSweep records one stale-transaction check.
func (m *Metrics) RecordSweep(gateway, outcome string) {
	m.SweepsTotal.WithLabelValues(gateway, outcome).Inc()
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit(cache string) {
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss(cache string) {
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// statusCodeToString converts an HTTP status code to a string category.
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
