// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Cache metrics
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	CacheEvictions   prometheus.Counter
	CacheSize        prometheus.Gauge
	RecordsLoaded    prometheus.Counter
	RecordsSkipped   prometheus.Counter

	// Refresh metrics
	RefreshRunsTotal *prometheus.CounterVec
	RefreshDuration  *prometheus.HistogramVec

	// Recovery metrics
	ErrorsClassified  *prometheus.CounterVec
	StrategyAttempts  *prometheus.CounterVec
	NotificationsSent prometheus.Counter

	// Snapshot metrics
	SnapshotOps *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRefresh prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tradeboard"
	}

	return &Metrics{
		// Cache metrics
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache lookups served from an index",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache lookups with no matching records",
		}),
		CacheEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of entries removed by weighted eviction",
		}),
		CacheSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "size",
			Help:      "Current number of records in the cache",
		}),
		RecordsLoaded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "records_loaded_total",
			Help:      "Total number of records accepted by bulk loads",
		}),
		RecordsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "records_skipped_total",
			Help:      "Total number of malformed records dropped during loads",
		}),

		// Refresh metrics
		RefreshRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "runs_total",
			Help:      "Total number of refresh runs by kind and status",
		}, []string{"kind", "status"}),
		RefreshDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "duration_seconds",
			Help:      "Refresh execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		// Recovery metrics
		ErrorsClassified: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "errors_classified_total",
			Help:      "Total number of classified errors by kind",
		}, []string{"kind"}),
		StrategyAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "strategy_attempts_total",
			Help:      "Recovery strategy attempts and successes by strategy",
		}, []string{"strategy", "outcome"}),
		NotificationsSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "notifications_total",
			Help:      "Total number of user notifications recorded",
		}),

		// Snapshot metrics
		SnapshotOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "operations_total",
			Help:      "Durability snapshot operations by operation and status",
		}, []string{"operation", "status"}),

		// Health metrics
		LastSuccessfulRefresh: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_refresh_timestamp",
			Help:      "Unix timestamp of last successful refresh",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordCacheHit increments the cache hit counter.
func RecordCacheHit() {
	DefaultMetrics.CacheHits.Inc()
}

// RecordCacheMiss increments the cache miss counter.
func RecordCacheMiss() {
	DefaultMetrics.CacheMisses.Inc()
}

// RecordCacheEvictions adds to the eviction counter.
func RecordCacheEvictions(n int) {
	DefaultMetrics.CacheEvictions.Add(float64(n))
}

// SetCacheSize updates the cache size gauge.
func SetCacheSize(n int) {
	DefaultMetrics.CacheSize.Set(float64(n))
}

// RecordCacheLoad records the outcome of a bulk load.
func RecordCacheLoad(loaded, skipped int) {
	DefaultMetrics.RecordsLoaded.Add(float64(loaded))
	DefaultMetrics.RecordsSkipped.Add(float64(skipped))
}

// RecordRefreshRun records a refresh run.
func RecordRefreshRun(kind, status string, durationSeconds float64) {
	DefaultMetrics.RefreshRunsTotal.WithLabelValues(kind, status).Inc()
	DefaultMetrics.RefreshDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordErrorClassified records a classified error by kind.
func RecordErrorClassified(kind string) {
	DefaultMetrics.ErrorsClassified.WithLabelValues(kind).Inc()
}

// RecordStrategyAttempt records a recovery strategy attempt or success.
func RecordStrategyAttempt(strategy, outcome string) {
	DefaultMetrics.StrategyAttempts.WithLabelValues(strategy, outcome).Inc()
}

// RecordNotification increments the notification counter.
func RecordNotification() {
	DefaultMetrics.NotificationsSent.Inc()
}

// RecordSnapshotOp records a durability snapshot operation.
func RecordSnapshotOp(operation, status string) {
	DefaultMetrics.SnapshotOps.WithLabelValues(operation, status).Inc()
}

// SetLastSuccessfulRefresh updates the last successful refresh timestamp.
func SetLastSuccessfulRefresh(unixSeconds int64) {
	DefaultMetrics.LastSuccessfulRefresh.Set(float64(unixSeconds))
}
