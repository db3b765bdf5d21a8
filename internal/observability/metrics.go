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
	// RPC metrics
	RPCRequests    *prometheus.CounterVec
	RPCCallLatency *prometheus.HistogramVec

	// Cache metrics
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter
	CacheResident  prometheus.Gauge

	// Refresh metrics
	RefreshRuns  *prometheus.CounterVec
	RefreshKeys  *prometheus.CounterVec
	RefreshEpoch prometheus.Gauge

	// Monitoring metrics
	PollCycles  *prometheus.CounterVec
	HolderCount prometheus.Gauge
	AlertsFired *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "holder_watch"
	}

	return &Metrics{
		RPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total number of RPC fetches by outcome",
		}, []string{"method", "status"}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "RPC call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		}),
		CacheEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of capacity evictions",
		}),
		CacheResident: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "resident_keys",
			Help:      "Number of keys currently resident in the cache",
		}),

		RefreshRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "runs_total",
			Help:      "Total number of background refresh ticks",
		}, []string{"status"}),
		RefreshKeys: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "keys_total",
			Help:      "Total number of per-key refresh attempts by outcome",
		}, []string{"status"}),
		RefreshEpoch: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "last_tick_timestamp",
			Help:      "Unix timestamp of the last refresh tick",
		}),

		PollCycles: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "poll_cycles_total",
			Help:      "Total number of monitoring cycles by outcome",
		}, []string{"status"}),
		HolderCount: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "holder_count",
			Help:      "Most recently observed holder count",
		}),
		AlertsFired: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "alerts_total",
			Help:      "Total number of alerts fired by kind",
		}, []string{"kind"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status class",
		}, []string{"route", "status"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordRPCFetch records one logical RPC fetch and its latency.
func RecordRPCFetch(method, status string, seconds float64) {
	DefaultMetrics.RPCRequests.WithLabelValues(method, status).Inc()
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordCacheHit increments the cache hit counter.
func RecordCacheHit() {
	DefaultMetrics.CacheHits.Inc()
}

// RecordCacheMiss increments the cache miss counter.
func RecordCacheMiss() {
	DefaultMetrics.CacheMisses.Inc()
}

// RecordCacheEviction increments the eviction counter.
func RecordCacheEviction() {
	DefaultMetrics.CacheEvictions.Inc()
}

// UpdateCacheResident updates the resident-keys gauge.
func UpdateCacheResident(n int) {
	DefaultMetrics.CacheResident.Set(float64(n))
}

// RecordRefreshKey records a per-key background refresh outcome.
func RecordRefreshKey(status string) {
	DefaultMetrics.RefreshKeys.WithLabelValues(status).Inc()
}

// RecordRefreshTick records one refresh tick.
func RecordRefreshTick(status string, epoch int64) {
	DefaultMetrics.RefreshRuns.WithLabelValues(status).Inc()
	DefaultMetrics.RefreshEpoch.Set(float64(epoch))
}

// RecordPollCycle records one monitoring cycle.
func RecordPollCycle(status string) {
	DefaultMetrics.PollCycles.WithLabelValues(status).Inc()
}

// UpdateHolderCount updates the observed holder count gauge.
func UpdateHolderCount(n int) {
	DefaultMetrics.HolderCount.Set(float64(n))
}

// RecordAlert records an alert by kind ("growth" or "drop").
func RecordAlert(kind string) {
	DefaultMetrics.AlertsFired.WithLabelValues(kind).Inc()
}

// RecordHTTPRequest records an HTTP request by route and status class.
func RecordHTTPRequest(route, status string) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, status).Inc()
}
