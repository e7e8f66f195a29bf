package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the refresh pipeline.
type Metrics struct {
	refreshes             *prometheus.CounterVec
	refreshDuration       prometheus.Histogram
	lastRefreshDurationMs prometheus.Gauge
	poolsAnalyzed         prometheus.Gauge
	inProgress            prometheus.Gauge
}

// NewMetrics registers the refresh metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hornet_cache_refreshes_total",
				Help: "Total number of cache refresh cycles by outcome",
			},
			[]string{"outcome"},
		),
		refreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hornet_cache_refresh_duration_seconds",
				Help:    "Refresh cycle duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		lastRefreshDurationMs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hornet_cache_last_refresh_duration_ms",
				Help: "Duration of the last successful refresh in milliseconds",
			},
		),
		poolsAnalyzed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hornet_cache_pools_analyzed",
				Help: "Number of pools sent to analysis in the last refresh",
			},
		),
		inProgress: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hornet_cache_refresh_in_progress",
				Help: "Whether a refresh cycle is currently running",
			},
		),
	}

	reg.MustRegister(
		m.refreshes,
		m.refreshDuration,
		m.lastRefreshDurationMs,
		m.poolsAnalyzed,
		m.inProgress,
	)
	return m
}
