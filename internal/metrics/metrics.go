package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Feed metrics
	FeedBatchesTotal *prometheus.CounterVec
	FeedErrorsTotal  *prometheus.CounterVec

	// Moderation action metrics
	ModerationActionTotal    *prometheus.CounterVec
	ModerationActionDuration *prometheus.HistogramVec

	// New submission alerts fired
	AlertsTotal prometheus.Counter

	// Dashboard gauges, refreshed on the operator's refresh interval
	SnapshotRecords prometheus.Gauge
	CardRecords     prometheus.Gauge
	OnlineUsers     prometheus.Gauge
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics creates a new Metrics instance with all required metrics
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	// Return existing instance if already created
	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		FeedBatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_batches_total",
			Help: "Total number of batches received from a remote feed",
		}, []string{"feed"}),

		FeedErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_errors_total",
			Help: "Total number of remote feed subscription errors",
		}, []string{"feed"}),

		ModerationActionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_actions_total",
			Help: "Total number of moderation actions",
		}, []string{"action", "status"}),

		ModerationActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moderation_action_duration_seconds",
			Help:    "Moderation action duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"action", "status"}),

		AlertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "new_submission_alerts_total",
			Help: "Total number of new submission alerts fired",
		}),

		SnapshotRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_notifications",
			Help: "Visible notifications in the held snapshot",
		}),

		CardRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_card_notifications",
			Help: "Visible notifications carrying a card number",
		}),

		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_online_users",
			Help: "Submitting users currently online",
		}),
	}

	registerMetrics(m)

	globalMetrics = m

	return m
}

// registerMetrics registers all metrics with the default registry
func registerMetrics(m *Metrics) {
	registerOrGet(m.HTTPRequestTotal)
	registerOrGet(m.HTTPRequestDuration)
	registerOrGet(m.FeedBatchesTotal)
	registerOrGet(m.FeedErrorsTotal)
	registerOrGet(m.ModerationActionTotal)
	registerOrGet(m.ModerationActionDuration)
	registerOrGet(m.AlertsTotal)
	registerOrGet(m.SnapshotRecords)
	registerOrGet(m.CardRecords)
	registerOrGet(m.OnlineUsers)
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}
