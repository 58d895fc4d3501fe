package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "settlement"

// Metrics owns the service collectors and the registry they are exposed from.
// A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	httpRequests         *prometheus.CounterVec
	httpDuration         *prometheus.HistogramVec
	agreementTransitions *prometheus.CounterVec
	gatewayFailures      *prometheus.CounterVec
	payoutRequests       *prometheus.CounterVec
	payoutReviews        *prometheus.CounterVec
	clearanceRuns        *prometheus.CounterVec
	entriesCleared       prometheus.Counter
	clearanceDuration    prometheus.Histogram
	outboxEvents         *prometheus.CounterVec
}

// New builds every collector and registers it on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
			[]string{"method", "route"},
		),

		agreementTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "agreement",
				Name:      "transitions_total",
				Help:      "Agreement transitions committed, by event.",
			},
			[]string{"event"},
		),

		gatewayFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "failures_total",
				Help:      "Payment gateway calls that failed after the local state was committed.",
			},
			[]string{"operation"},
		),

		payoutRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payout",
				Name:      "requests_total",
				Help:      "Payout requests by outcome.",
			},
			[]string{"outcome"},
		),

		payoutReviews: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payout",
				Name:      "reviews_total",
				Help:      "Payout reviews by decision.",
			},
			[]string{"decision"},
		),

		clearanceRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "clearance",
				Name:      "runs_total",
				Help:      "Clearance runs by result.",
			},
			[]string{"result"},
		),

		entriesCleared: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "clearance",
				Name:      "entries_cleared_total",
				Help:      "Ledger entries moved from pending_clearance to cleared.",
			},
		),

		clearanceDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "clearance",
				Name:      "run_duration_seconds",
				Help:      "Duration of clearance runs.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
			},
		),

		outboxEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "events_total",
				Help:      "Outbox deliveries by result.",
			},
			[]string{"result"},
		),
	}

	m.Registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.agreementTransitions,
		m.gatewayFailures,
		m.payoutRequests,
		m.payoutReviews,
		m.clearanceRuns,
		m.entriesCleared,
		m.clearanceDuration,
		m.outboxEvents,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request. route is the matched route pattern,
// not the raw path, so ids do not explode label cardinality.
func (m *Metrics) ObserveHTTP(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	method = strings.ToUpper(method)
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) RecordTransition(event string) {
	if m == nil {
		return
	}
	m.agreementTransitions.WithLabelValues(event).Inc()
}

// RecordGatewayFailure counts a capture or cancel that needs reconciliation.
func (m *Metrics) RecordGatewayFailure(operation string) {
	if m == nil {
		return
	}
	m.gatewayFailures.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordPayoutRequest(outcome string) {
	if m == nil {
		return
	}
	m.payoutRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordPayoutReview(decision string) {
	if m == nil {
		return
	}
	m.payoutReviews.WithLabelValues(decision).Inc()
}

// RecordClearance records a finished or skipped clearance run.
func (m *Metrics) RecordClearance(cleared int, duration time.Duration, skipped bool) {
	if m == nil {
		return
	}
	if skipped {
		m.clearanceRuns.WithLabelValues("skipped").Inc()
		return
	}
	m.clearanceRuns.WithLabelValues("completed").Inc()
	m.entriesCleared.Add(float64(cleared))
	m.clearanceDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordOutbox(dispatched, failed int) {
	if m == nil {
		return
	}
	m.outboxEvents.WithLabelValues("dispatched").Add(float64(dispatched))
	m.outboxEvents.WithLabelValues("failed").Add(float64(failed))
}

// GatewayFailures reports the failure count for operation.
func (m *Metrics) GatewayFailures(operation string) float64 {
	if m == nil {
		return 0
	}
	return counterValue(m.gatewayFailures.WithLabelValues(operation))
}

func counterValue(c prometheus.Counter) float64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	return pb.GetCounter().GetValue()
}
