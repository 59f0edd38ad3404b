package diagnostics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector records sync engine counters.
type MetricsCollector interface {
	RecordSyncError(operation string, kind string)
	RecordAnomaly(operation string)
	RecordRateLimited()
	RecordPushEvent(kind string)
	SetPushConnections(n int)
	RecordGamesFetched(operation string, n int)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordSyncError(operation string, kind string) {}
func (NoOpMetricsCollector) RecordAnomaly(operation string)                {}
func (NoOpMetricsCollector) RecordRateLimited()                            {}
func (NoOpMetricsCollector) RecordPushEvent(kind string)                   {}
func (NoOpMetricsCollector) SetPushConnections(n int)                      {}
func (NoOpMetricsCollector) RecordGamesFetched(operation string, n int)    {}

// PrometheusMetrics implements MetricsCollector using Prometheus.
type PrometheusMetrics struct {
	syncErrors      *prometheus.CounterVec
	anomalies       *prometheus.CounterVec
	rateLimited     prometheus.Counter
	pushEvents      *prometheus.CounterVec
	pushConnections prometheus.Gauge
	gamesFetched    *prometheus.CounterVec
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		syncErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kifu_sync_errors_total",
				Help: "Terminal sync pipeline failures by operation and error kind",
			},
			[]string{"operation", "kind"},
		),
		anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kifu_consistency_anomalies_total",
				Help: "Non-fatal disagreements between the remote listing and game snapshots",
			},
			[]string{"operation"},
		),
		rateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kifu_rate_limited_total",
				Help: "Remote requests rejected with HTTP 429",
			},
		),
		pushEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kifu_push_events_total",
				Help: "Per-game push events applied to the store",
			},
			[]string{"kind"},
		),
		pushConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kifu_push_connections",
				Help: "Games with a live push connection",
			},
		),
		gamesFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kifu_games_fetched_total",
				Help: "Game snapshots fetched from the remote API",
			},
			[]string{"operation"},
		),
	}

	reg.MustRegister(
		m.syncErrors,
		m.anomalies,
		m.rateLimited,
		m.pushEvents,
		m.pushConnections,
		m.gamesFetched,
	)
	return m
}

func (m *PrometheusMetrics) RecordSyncError(operation string, kind string) {
	m.syncErrors.WithLabelValues(operation, kind).Inc()
}

func (m *PrometheusMetrics) RecordAnomaly(operation string) {
	m.anomalies.WithLabelValues(operation).Inc()
}

func (m *PrometheusMetrics) RecordRateLimited() {
	m.rateLimited.Inc()
}

func (m *PrometheusMetrics) RecordPushEvent(kind string) {
	m.pushEvents.WithLabelValues(kind).Inc()
}

func (m *PrometheusMetrics) SetPushConnections(n int) {
	m.pushConnections.Set(float64(n))
}

func (m *PrometheusMetrics) RecordGamesFetched(operation string, n int) {
	m.gamesFetched.WithLabelValues(operation).Add(float64(n))
}
