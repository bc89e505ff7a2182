package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter provides per-provider rate limiting using a token bucket. Each
// upstream service (transaction history, price history) gets its own bucket
// so one noisy consumer cannot starve the other.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter creates a limiter handing out rps tokens per second with the
// given burst capacity per provider.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *Limiter) getLimiter(provider string) *rate.Limiter {
	l.mu.RLock()
	limiter, ok := l.limiters[provider]
	l.mu.RUnlock()
	if ok {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[provider]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[provider] = limiter
	return limiter
}

// Allow reports whether a request for the provider may proceed immediately.
func (l *Limiter) Allow(provider string) bool {
	return l.getLimiter(provider).Allow()
}

// Wait blocks until a request for the provider is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, provider string) error {
	return l.getLimiter(provider).Wait(ctx)
}

// SetRPS updates the refill rate for all existing provider buckets.
func (l *Limiter) SetRPS(rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rps = rps
	for _, limiter := range l.limiters {
		limiter.SetLimit(rate.Limit(rps))
	}
}

// Tokens returns the tokens currently available for the provider.
func (l *Limiter) Tokens(provider string) float64 {
	return l.getLimiter(provider).Tokens()
}
