// Package metrics exposes the indexer's Prometheus surface: ingestion
// throughput, sync lag, query latency, and live subscription counts.
// Grounded on the teacher's metrics package layout (cuemby-warren's
// pkg/metrics/metrics.go): package-level collectors, an init registering
// them all, and a Timer helper for histogram observations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "almanac_events_ingested_total",
			Help: "Total number of events ingested by chain and event type",
		},
		[]string{"chain", "event_type"},
	)

	IngestionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "almanac_ingestion_errors_total",
			Help: "Total number of ingestion errors by chain",
		},
		[]string{"chain"},
	)

	SyncLagBlocks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "almanac_sync_lag_blocks",
			Help: "Difference between the hot store and warm store latest block, per chain",
		},
		[]string{"chain"},
	)

	LatestBlockHeight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "almanac_latest_block_height",
			Help: "Latest observed block height, per chain and store tier",
		},
		[]string{"chain", "tier"},
	)

	QueryRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "almanac_query_requests_total",
			Help: "Total number of query engine requests by strategy",
		},
		[]string{"strategy"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "almanac_query_duration_seconds",
			Help:    "Query engine request duration in seconds by strategy",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "almanac_query_cache_hits_total",
			Help: "Total number of query cache hits",
		},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "almanac_query_cache_misses_total",
			Help: "Total number of query cache misses",
		},
	)

	ActiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "almanac_active_subscriptions",
			Help: "Current number of live WebSocket connections",
		},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "almanac_api_requests_total",
			Help: "Total number of API requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "almanac_api_request_duration_seconds",
			Help:    "API request duration in seconds by method and route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	ChainHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "almanac_chain_healthy",
			Help: "Whether the chain adapter's connection is healthy (1) or not (0)",
		},
		[]string{"chain"},
	)

	SMTRootUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "almanac_smt_root_updates_total",
			Help: "Total number of causality SMT root updates by chain",
		},
		[]string{"chain"},
	)
)

func init() {
	prometheus.MustRegister(EventsIngestedTotal)
	prometheus.MustRegister(IngestionErrorsTotal)
	prometheus.MustRegister(SyncLagBlocks)
	prometheus.MustRegister(LatestBlockHeight)
	prometheus.MustRegister(QueryRequestsTotal)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(ActiveSubscriptions)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ChainHealthy)
	prometheus.MustRegister(SMTRootUpdatesTotal)
}

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an in-flight operation for later histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a plain histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
