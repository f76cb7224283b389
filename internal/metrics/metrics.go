// Package metrics exposes Prometheus collectors for the approval gate.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	approvalsSubmitted   *prometheus.CounterVec
	approvalsResolved    *prometheus.CounterVec
	actionsExecuted      *prometheus.CounterVec
	actionDuration       *prometheus.HistogramVec
	notificationsDropped prometheus.Counter
	pendingApprovals     prometheus.Gauge
	oldestPendingAge     prometheus.Gauge
	rateLimitDenied      *prometheus.CounterVec
	ciFailuresDetected   *prometheus.CounterVec
	webhooksReceived     *prometheus.CounterVec
	httpRequests         *prometheus.CounterVec
	httpDuration         *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		approvalsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_approvals_submitted_total",
			Help: "Approval items submitted, by action",
		}, []string{"action"}),

		approvalsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_approvals_resolved_total",
			Help: "Approval items resolved, by action and decision",
		}, []string{"action", "decision"}),

		actionsExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_actions_executed_total",
			Help: "Action executions, by action and outcome",
		}, []string{"action", "outcome"}),

		actionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_action_duration_seconds",
			Help:    "Action execution duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"action"}),

		notificationsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_notifications_dropped_total",
			Help: "Queue notifications dropped because the channel was full",
		}),

		pendingApprovals: f.NewGauge(prometheus.GaugeOpts{
			Name: "warden_approvals_pending",
			Help: "Number of pending approval items",
		}),

		oldestPendingAge: f.NewGauge(prometheus.GaugeOpts{
			Name: "warden_approval_oldest_pending_seconds",
			Help: "Age of the oldest pending approval item in seconds",
		}),

		rateLimitDenied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_ratelimit_denied_total",
			Help: "Requests denied by the rate limiter, by kind",
		}, []string{"kind"}),

		ciFailuresDetected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_ci_failures_detected_total",
			Help: "Classified CI failures, by failure type",
		}, []string{"type"}),

		webhooksReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_webhooks_received_total",
			Help: "Webhook deliveries, by source and event",
		}, []string{"source", "event"}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_http_requests_total",
			Help: "HTTP requests, by method, route and status",
		}, []string{"method", "route", "status"}),

		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ApprovalSubmitted(action string) {
	if m == nil {
		return
	}
	m.approvalsSubmitted.WithLabelValues(action).Inc()
}

func (m *Metrics) ApprovalResolved(action, decision string) {
	if m == nil {
		return
	}
	m.approvalsResolved.WithLabelValues(action, decision).Inc()
}

// ActionExecuted records an execution outcome: success, failure or skipped.
func (m *Metrics) ActionExecuted(action, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.actionsExecuted.WithLabelValues(action, outcome).Inc()
	if outcome != "skipped" {
		m.actionDuration.WithLabelValues(action).Observe(d.Seconds())
	}
}

func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.notificationsDropped.Inc()
}

func (m *Metrics) SetPending(count int, oldest time.Duration) {
	if m == nil {
		return
	}
	m.pendingApprovals.Set(float64(count))
	m.oldestPendingAge.Set(oldest.Seconds())
}

func (m *Metrics) RateLimitDenied(kind string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.WithLabelValues(kind).Inc()
}

func (m *Metrics) CIFailureDetected(failureType string) {
	if m == nil {
		return
	}
	m.ciFailuresDetected.WithLabelValues(failureType).Inc()
}

func (m *Metrics) WebhookReceived(source, event string) {
	if m == nil {
		return
	}
	m.webhooksReceived.WithLabelValues(source, event).Inc()
}

func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
