package app

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fumbled/jeetboard/internal/cache"
	"github.com/fumbled/jeetboard/internal/fumbles"
	"github.com/fumbled/jeetboard/internal/leaderboard"
	"github.com/fumbled/jeetboard/internal/models"
	"github.com/fumbled/jeetboard/internal/telemetry/metrics"
)

const (
	opFumbles     = "fumbles"
	opLeaderboard = "leaderboard"
)

// SnapshotStore persists leaderboard snapshots so a restarted instance can
// serve the last one while recomputing.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap models.LeaderboardSnapshot) error
	LoadSnapshot(ctx context.Context, tf models.Timeframe) (models.LeaderboardSnapshot, bool, error)
}

// Broadcaster pushes refreshed wallet results to subscribed clients.
type Broadcaster interface {
	BroadcastWalletUpdate(address string, result models.FumbleResult)
}

// Config holds the cache TTLs fronting the core operations.
type Config struct {
	WalletTTL   time.Duration
	SnapshotTTL time.Duration
}

// DefaultConfig returns the service TTL defaults.
func DefaultConfig() Config {
	return Config{
		WalletTTL:   10 * time.Minute,
		SnapshotTTL: 30 * time.Minute,
	}
}

// Service is the externally visible surface of the analysis core. Every
// read is fronted by the TTL cache with single-flight recomputation; a
// degraded FumbleResult is returned with a lower-than-true TotalLoss rather
// than an error, trading precision for availability.
type Service struct {
	detector   *fumbles.Detector
	aggregator *leaderboard.Aggregator
	cache      *cache.Service
	store      SnapshotStore
	hub        Broadcaster
	prom       *metrics.Registry
	config     Config
}

// NewService wires the detector, aggregator and cache together. store, hub
// and prom may be nil.
func NewService(detector *fumbles.Detector, directory leaderboard.UserDirectory, aggConfig leaderboard.Config,
	cacheSvc *cache.Service, store SnapshotStore, hub Broadcaster, prom *metrics.Registry, config Config) *Service {

	if config.WalletTTL <= 0 {
		config.WalletTTL = DefaultConfig().WalletTTL
	}
	if config.SnapshotTTL <= 0 {
		config.SnapshotTTL = DefaultConfig().SnapshotTTL
	}

	s := &Service{
		detector: detector,
		cache:    cacheSvc,
		store:    store,
		hub:      hub,
		prom:     prom,
		config:   config,
	}
	// The aggregator analyzes wallets through the service so per-wallet
	// results share the same cache entries as direct API reads.
	s.aggregator = leaderboard.NewAggregator(directory, s, aggConfig)
	return s
}

// ComputeFumbles returns the cached or freshly computed FumbleResult for
// one wallet and timeframe.
func (s *Service) ComputeFumbles(ctx context.Context, address string, tf models.Timeframe) (models.FumbleResult, error) {
	address = strings.ToLower(address)
	key := cache.Key(opFumbles, address, tf.String())

	v, err := s.cache.GetOrCompute(key, s.config.WalletTTL, func() (interface{}, error) {
		start := time.Now()
		result, err := s.detector.Detect(ctx, address, tf)
		if err != nil {
			return nil, err
		}

		if s.prom != nil {
			s.prom.FumbleAnalyses.Inc()
			s.prom.BuildDuration.WithLabelValues("fumbles").Observe(time.Since(start).Seconds())
		}
		if s.hub != nil {
			s.hub.BroadcastWalletUpdate(address, result)
		}
		return result, nil
	})
	if err != nil {
		return models.FumbleResult{}, err
	}
	return v.(models.FumbleResult), nil
}

// ComputeLeaderboard returns the cached or freshly built snapshot for tf.
// When a rebuild fails, the last persisted snapshot is served instead so
// the leaderboard degrades to stale rather than absent.
func (s *Service) ComputeLeaderboard(ctx context.Context, tf models.Timeframe) (models.LeaderboardSnapshot, error) {
	key := cache.Key(opLeaderboard, "global", tf.String())

	v, err := s.cache.GetOrCompute(key, s.config.SnapshotTTL, func() (interface{}, error) {
		start := time.Now()
		snap, err := s.aggregator.Build(ctx, tf)
		if err != nil {
			if s.store != nil {
				if stored, ok, loadErr := s.store.LoadSnapshot(ctx, tf); loadErr == nil && ok {
					log.Warn().Err(err).Str("timeframe", tf.String()).
						Msg("Leaderboard rebuild failed, serving persisted snapshot")
					return stored, nil
				}
			}
			return nil, err
		}

		if s.prom != nil {
			s.prom.LeaderboardBuilds.Inc()
			s.prom.BuildDuration.WithLabelValues("leaderboard").Observe(time.Since(start).Seconds())
		}
		if s.store != nil {
			if err := s.store.SaveSnapshot(ctx, snap); err != nil {
				log.Warn().Err(err).Msg("Failed to persist leaderboard snapshot")
			}
		}
		return snap, nil
	})
	if err != nil {
		return models.LeaderboardSnapshot{}, err
	}
	return v.(models.LeaderboardSnapshot), nil
}

// GetUserRank returns the user's rank in the tf leaderboard, 0 if the user
// is not on it.
func (s *Service) GetUserRank(ctx context.Context, userID string, tf models.Timeframe) (int, error) {
	snap, err := s.ComputeLeaderboard(ctx, tf)
	if err != nil {
		return 0, err
	}
	for _, e := range snap.Entries {
		if e.UserID == userID {
			return e.Rank, nil
		}
	}
	return 0, nil
}

// InvalidateWallet drops every cached view of a wallet after a mutation.
// The leaderboard snapshot is deliberately left to expire on its own TTL;
// that staleness window is accepted.
func (s *Service) InvalidateWallet(address string) {
	s.cache.InvalidateSubject(opFumbles, strings.ToLower(address))
}

// CacheStats exposes cache counters and refreshes the hit-ratio gauge.
func (s *Service) CacheStats() cache.Stats {
	stats := s.cache.Stats()
	if s.prom != nil {
		if total := stats.Hits + stats.Misses; total > 0 {
			s.prom.CacheHitRatio.Set(float64(stats.Hits) / float64(total))
		}
	}
	return stats
}
