package export

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the Prometheus-backed counterpart to Stats: the export
// counters, export durations, pool occupancy and active bundle version are
// exposed on /metrics for scraping; uptime and the moving average are only
// on GET /health. Grounded on the teacher's pkg/metrics/prometheus.go.
type Metrics struct {
	ExportsAttempted *prometheus.CounterVec
	ExportsPerformed *prometheus.CounterVec
	ExportsFailed    *prometheus.CounterVec
	ExportDuration   *prometheus.HistogramVec

	PoolCurrent prometheus.Gauge
	PoolMax     prometheus.Gauge
	PoolWaiting prometheus.Gauge
	PoolRunning prometheus.Gauge

	CacheVersion *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics registers the export service's Prometheus collectors under
// the given namespace/subsystem.
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		ExportsAttempted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "exports_attempted_total",
				Help:      "Total number of export requests accepted for processing",
			},
			[]string{"format"},
		),
		ExportsPerformed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "exports_performed_total",
				Help:      "Total number of exports completed successfully",
			},
			[]string{"format"},
		),
		ExportsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "exports_failed_total",
				Help:      "Total number of exports that returned an error",
			},
			[]string{"format", "code"},
		),
		ExportDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "export_duration_seconds",
				Help:      "Duration of completed exports",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30},
			},
			[]string{"format"},
		),
		PoolCurrent: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "pool_current_workers", Help: "Current number of live workers",
		}),
		PoolMax: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "pool_max_workers", Help: "Configured maximum number of workers",
		}),
		PoolWaiting: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "pool_waiting_acquisitions", Help: "Current depth of the FIFO acquisition queue",
		}),
		PoolRunning: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "pool_running_jobs", Help: "Current number of busy workers",
		}),
		CacheVersion: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "cache_bundle_info", Help: "Currently active charting-library bundle version",
			},
			[]string{"version", "sha"},
		),
	}
	defaultMetrics = m
	return m
}

// Get returns the process-wide Metrics, lazily initializing with namespace
// "chartexport" and an empty subsystem if InitMetrics was never called.
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("chartexport", "")
	}
	return defaultMetrics
}

// RecordAttempt records an accepted export request.
func (m *Metrics) RecordAttempt(format string) {
	m.ExportsAttempted.WithLabelValues(format).Inc()
}

// RecordSuccess records a completed export and its duration.
func (m *Metrics) RecordSuccess(format string, duration time.Duration) {
	m.ExportsPerformed.WithLabelValues(format).Inc()
	m.ExportDuration.WithLabelValues(format).Observe(duration.Seconds())
}

// RecordFailure records a failed export.
func (m *Metrics) RecordFailure(format, code string) {
	m.ExportsFailed.WithLabelValues(format, code).Inc()
}

// SetPoolStats publishes current pool occupancy gauges.
func (m *Metrics) SetPoolStats(current, max, waiting, running int) {
	m.PoolCurrent.Set(float64(current))
	m.PoolMax.Set(float64(max))
	m.PoolWaiting.Set(float64(waiting))
	m.PoolRunning.Set(float64(running))
}

// SetCacheVersion publishes the active bundle's identity as a 1-valued
// gauge labeled with version/sha, the standard Prometheus "info" pattern.
func (m *Metrics) SetCacheVersion(version, sha string) {
	m.CacheVersion.Reset()
	m.CacheVersion.WithLabelValues(version, sha).Set(1)
}

// Handler returns the HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
