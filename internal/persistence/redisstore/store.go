package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fumbled/jeetboard/internal/models"
)

// Store persists leaderboard snapshots in Redis so a restarted instance can
// serve the last computed leaderboard while the first rebuild runs.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis at addr. Persisted snapshots expire after ttl.
func New(addr, password string, db int, ttl time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewWithClient(client, ttl), nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl}
}

func snapshotKey(tf models.Timeframe) string {
	return "jeetboard:snapshot:" + tf.String()
}

// SaveSnapshot replaces the persisted snapshot for its timeframe.
func (s *Store) SaveSnapshot(ctx context.Context, snap models.LeaderboardSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := s.client.Set(ctx, snapshotKey(snap.Timeframe), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// LoadSnapshot returns the persisted snapshot for tf, if any.
func (s *Store) LoadSnapshot(ctx context.Context, tf models.Timeframe) (models.LeaderboardSnapshot, bool, error) {
	val, err := s.client.Get(ctx, snapshotKey(tf)).Result()
	if err != nil {
		if err == redis.Nil {
			return models.LeaderboardSnapshot{}, false, nil
		}
		return models.LeaderboardSnapshot{}, false, fmt.Errorf("redis get: %w", err)
	}

	var snap models.LeaderboardSnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return models.LeaderboardSnapshot{}, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
