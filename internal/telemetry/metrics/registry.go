package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Registry holds the Prometheus metrics exposed on /metrics.
type Registry struct {
	// Cache performance
	CacheHitRatio prometheus.Gauge
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec

	// Upstream providers
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec

	// Analysis pipeline
	FumbleAnalyses    prometheus.Counter
	LeaderboardBuilds prometheus.Counter
	BuildDuration     *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewRegistry creates and registers all jeetboard metrics.
func NewRegistry() *Registry {
	r := &Registry{
		CacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jeetboard_cache_hit_ratio",
			Help: "Current cache hit ratio (0.0 to 1.0)",
		}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jeetboard_cache_hits_total",
			Help: "Cache hits by operation",
		}, []string{"operation"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jeetboard_cache_misses_total",
			Help: "Cache misses by operation",
		}, []string{"operation"}),
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jeetboard_provider_requests_total",
			Help: "Upstream provider requests by provider and result",
		}, []string{"provider", "result"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jeetboard_provider_latency_seconds",
			Help:    "Upstream provider request latency in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"provider"}),
		FumbleAnalyses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jeetboard_fumble_analyses_total",
			Help: "Completed wallet fumble analyses",
		}),
		LeaderboardBuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jeetboard_leaderboard_builds_total",
			Help: "Completed leaderboard snapshot builds",
		}),
		BuildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jeetboard_build_duration_seconds",
			Help:    "Duration of analysis pipeline stages in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0},
		}, []string{"stage"}),
		registry: prometheus.NewRegistry(),
	}

	collectors := []prometheus.Collector{
		r.CacheHitRatio, r.CacheHits, r.CacheMisses,
		r.ProviderRequests, r.ProviderLatency,
		r.FumbleAnalyses, r.LeaderboardBuilds, r.BuildDuration,
	}
	for _, c := range collectors {
		if err := r.registry.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}

	return r
}

// Prometheus returns the underlying registry for the /metrics handler and
// for test gathering.
func (r *Registry) Prometheus() *prometheus.Registry { return r.registry }
