package cache

import (
	"fmt"
	"time"
)

// Service fronts every externally observable read of the analysis core with
// TTL memoization plus single-flight stampede control. It has an explicit
// lifecycle: construct with New, inject where needed, Stop on shutdown.
// There is deliberately no package-level instance.
type Service struct {
	ttl    *TTLCache
	flight *Flight
}

// New creates a cache service bounded to maxEntries.
func New(maxEntries int) *Service {
	return &Service{
		ttl:    NewTTLCache(maxEntries),
		flight: NewFlight(),
	}
}

// Key builds the canonical cache key for (operation, subject, timeframe).
func Key(op, subject, timeframe string) string {
	return fmt.Sprintf("%s:%s:%s", op, subject, timeframe)
}

// KeyPrefix builds the prefix covering every timeframe of (operation, subject).
func KeyPrefix(op, subject string) string {
	return fmt.Sprintf("%s:%s:", op, subject)
}

// GetOrCompute returns the cached value for key, or runs compute exactly once
// across concurrent callers and caches its result for ttl. Errors are not
// cached: a failed computation leaves the key empty so the next caller
// retries.
func (s *Service) GetOrCompute(key string, ttl time.Duration, compute func() (interface{}, error)) (interface{}, error) {
	if v, ok := s.ttl.Get(key); ok {
		return v, nil
	}

	return s.flight.Do(key, func() (interface{}, error) {
		// Re-check under the flight: another caller may have finished
		// while this one was waiting to start. The outer Get already
		// counted this lookup, so the re-check stays off the stats.
		if v, ok := s.ttl.peek(key); ok {
			return v, nil
		}

		v, err := compute()
		if err != nil {
			return nil, err
		}
		s.ttl.Set(key, v, ttl)
		return v, nil
	})
}

// Invalidate drops one exact key.
func (s *Service) Invalidate(key string) { s.ttl.Invalidate(key) }

// InvalidateSubject drops every cached view of (operation, subject) across
// all timeframes.
func (s *Service) InvalidateSubject(op, subject string) {
	s.ttl.InvalidatePrefix(KeyPrefix(op, subject))
}

// Stats exposes the underlying cache counters.
func (s *Service) Stats() Stats { return s.ttl.Stats() }

// Stop shuts down background cleanup.
func (s *Service) Stop() { s.ttl.Stop() }
