package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the scaler. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Rule engine metrics
	RuleRuns        *prometheus.CounterVec
	RuleRunDuration *prometheus.HistogramVec
	ParseFailures   prometheus.Counter
	CampaignActions *prometheus.CounterVec

	// Platform metrics
	PlatformRequests *prometheus.CounterVec
	PlatformLatency  *prometheus.HistogramVec
	PlatformRetries  *prometheus.CounterVec

	// Log store metrics
	LogWriteFailures *prometheus.CounterVec

	// Scheduled action metrics
	ScheduledActions *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests  *prometheus.CounterVec
	RateLimitHits *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with reg. A nil reg uses the
// default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		RuleRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_runs_total",
				Help:      "Rule invocations by trigger and outcome",
			},
			[]string{"trigger", "status"},
		),
		RuleRunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rule_run_duration_seconds",
				Help:      "Duration of a single rule invocation",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300},
			},
			[]string{"trigger"},
		),
		ParseFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_parse_failures_total",
				Help:      "Rules excluded from a sweep because they failed to parse",
			},
		),
		CampaignActions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "campaign_actions_total",
				Help:      "Campaign mutations attempted by kind and result",
			},
			[]string{"source", "action", "result"},
		),
		PlatformRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "platform_requests_total",
				Help:      "Ads platform API requests by operation and status",
			},
			[]string{"operation", "status"},
		),
		PlatformLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "platform_request_duration_seconds",
				Help:      "Ads platform API latency",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		PlatformRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "platform_retries_total",
				Help:      "Retried platform calls after a transient error",
			},
			[]string{"operation"},
		),
		LogWriteFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "log_write_failures_total",
				Help:      "Execution log writes that failed, by store",
			},
			[]string{"store"},
		),
		ScheduledActions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduled_actions_total",
				Help:      "Scheduled actions processed by action and terminal status",
			},
			[]string{"action", "status"},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"method", "route", "code"},
		),
		RateLimitHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Requests rejected by the manual trigger rate limit",
			},
			[]string{"route"},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRuleRun records one rule invocation.
func (m *Metrics) RecordRuleRun(trigger, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RuleRuns.WithLabelValues(trigger, status).Inc()
	m.RuleRunDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

// RecordParseFailure records a rule dropped from a sweep.
func (m *Metrics) RecordParseFailure() {
	if m == nil {
		return
	}
	m.ParseFailures.Inc()
}

// RecordCampaignAction records one attempted mutation.
func (m *Metrics) RecordCampaignAction(source, action string, success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.CampaignActions.WithLabelValues(source, action, result).Inc()
}

// RecordPlatformRequest records a platform round trip.
func (m *Metrics) RecordPlatformRequest(operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.PlatformRequests.WithLabelValues(operation, status).Inc()
	m.PlatformLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordPlatformRetry records a retry after a transient error.
func (m *Metrics) RecordPlatformRetry(operation string) {
	if m == nil {
		return
	}
	m.PlatformRetries.WithLabelValues(operation).Inc()
}

// RecordLogWriteFailure records a failed execution log write.
func (m *Metrics) RecordLogWriteFailure(store string) {
	if m == nil {
		return
	}
	m.LogWriteFailures.WithLabelValues(store).Inc()
}

// RecordScheduledAction records a scheduled action reaching a terminal state.
func (m *Metrics) RecordScheduledAction(action, status string) {
	if m == nil {
		return
	}
	m.ScheduledActions.WithLabelValues(action, status).Inc()
}

// RecordHTTPRequest records a served request.
func (m *Metrics) RecordHTTPRequest(method, route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}

// RecordRateLimitHit records a rejected request.
func (m *Metrics) RecordRateLimitHit(route string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(route).Inc()
}
