package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for watchdog-bridge.
type Metrics struct {
	registry               *prometheus.Registry
	runDurationSeconds     *prometheus.HistogramVec
	runsTotal              *prometheus.CounterVec
	datesTotal             *prometheus.CounterVec
	uploadsTotal           *prometheus.CounterVec
	providerFailuresTotal  *prometheus.CounterVec
	lastIntradayRunGauge   prometheus.Gauge
	notificationErrorTotal prometheus.Counter
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		runDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watchdog_bridge_run_duration_seconds",
			Help:    "Duration of worker runs in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"worker"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchdog_bridge_runs_total",
			Help: "Total worker runs by worker and outcome.",
		}, []string{"worker", "outcome"}),
		datesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchdog_bridge_dates_total",
			Help: "Total processed dates by worker and action.",
		}, []string{"worker", "action"}),
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchdog_bridge_uploads_total",
			Help: "Total ingest uploads by endpoint and result.",
		}, []string{"endpoint", "result"}),
		providerFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchdog_bridge_provider_read_failures_total",
			Help: "Total failed provider reads by record type and kind.",
		}, []string{"record_type", "kind"}),
		lastIntradayRunGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchdog_bridge_last_intraday_run_timestamp",
			Help: "Unix timestamp of the last intraday run.",
		}),
		notificationErrorTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchdog_bridge_notification_errors_total",
			Help: "Total run report notifications that failed to send.",
		}),
	}

	registry.MustRegister(
		m.runDurationSeconds,
		m.runsTotal,
		m.datesTotal,
		m.uploadsTotal,
		m.providerFailuresTotal,
		m.lastIntradayRunGauge,
		m.notificationErrorTotal,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRunDuration records the duration of a completed worker run.
func (m *Metrics) ObserveRunDuration(worker string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runDurationSeconds.WithLabelValues(worker).Observe(duration.Seconds())
}

// IncRuns increments the run counter for the given worker/outcome.
func (m *Metrics) IncRuns(worker string, outcome string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(worker, outcome).Inc()
}

// IncDates increments the processed date counter for the given worker/action.
func (m *Metrics) IncDates(worker string, action string) {
	if m == nil {
		return
	}
	m.datesTotal.WithLabelValues(worker, action).Inc()
}

// IncUploads increments the upload counter for the given endpoint/result.
func (m *Metrics) IncUploads(endpoint string, result string) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(endpoint, result).Inc()
}

// IncProviderReadFailures increments the provider failure counter.
func (m *Metrics) IncProviderReadFailures(recordType string, kind string) {
	if m == nil {
		return
	}
	m.providerFailuresTotal.WithLabelValues(recordType, kind).Inc()
}

// SetLastIntradayRun sets the last intraday run time.
func (m *Metrics) SetLastIntradayRun(t time.Time) {
	if m == nil {
		return
	}
	m.lastIntradayRunGauge.Set(float64(t.Unix()))
}

// IncNotificationErrors increments the notification error counter.
func (m *Metrics) IncNotificationErrors() {
	if m == nil {
		return
	}
	m.notificationErrorTotal.Inc()
}
