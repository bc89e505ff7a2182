package httpclient

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ClientConfig bounds outbound request behavior toward one upstream API.
type ClientConfig struct {
	MaxConcurrency int
	RequestTimeout time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	UserAgent      string
}

// ClientPool wraps an http.Client with a concurrency ceiling and retry with
// exponential backoff. Both upstream providers share this so a burst of
// wallet analyses cannot flood an external API past its rate limits.
type ClientPool struct {
	config    ClientConfig
	semaphore chan struct{}
	client    *http.Client
	mu        sync.Mutex
	stats     ClientStats
}

// ClientStats counts request outcomes for the stats endpoint.
type ClientStats struct {
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	RetriedRequests int64
}

// NewClientPool creates a pool bounded to config.MaxConcurrency in-flight
// requests.
func NewClientPool(config ClientConfig) *ClientPool {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	return &ClientPool{
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrency),
		client: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}
}

// Do executes the request under the pool's concurrency ceiling, retrying
// retryable failures with backoff. The context cancels both the semaphore
// wait and in-flight attempts.
func (cp *ClientPool) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	select {
	case cp.semaphore <- struct{}{}:
		defer func() { <-cp.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if cp.config.UserAgent != "" {
		req.Header.Set("User-Agent", cp.config.UserAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= cp.config.MaxRetries; attempt++ {
		if attempt > 0 {
			cp.incrementStat("retried")

			backoff := cp.calculateBackoff(attempt)
			log.Debug().
				Dur("backoff", backoff).
				Int("attempt", attempt).
				Str("url", req.URL.String()).
				Msg("Retrying HTTP request")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := cp.client.Do(req.WithContext(ctx))
		if err != nil {
			lastErr = err
			if isRetryableError(err) && ctx.Err() == nil {
				continue
			}
			break
		}

		if isRetryableStatus(resp.StatusCode) && attempt < cp.config.MaxRetries {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
			continue
		}

		cp.incrementStat("success")
		return resp, nil
	}

	cp.incrementStat("failed")
	return nil, lastErr
}

func (cp *ClientPool) calculateBackoff(attempt int) time.Duration {
	backoff := cp.config.BackoffBase * time.Duration(1<<uint(attempt))
	if backoff > cp.config.BackoffMax {
		backoff = cp.config.BackoffMax
	}

	// Up to 10% jitter to avoid synchronized retries
	jitter := time.Duration(rand.Float64() * 0.1 * float64(backoff))
	return backoff + jitter
}

// GetStats returns a copy of the request counters.
func (cp *ClientPool) GetStats() ClientStats {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.stats
}

func (cp *ClientPool) incrementStat(statType string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	cp.stats.TotalRequests++

	switch statType {
	case "success":
		cp.stats.SuccessRequests++
	case "failed":
		cp.stats.FailedRequests++
	case "retried":
		cp.stats.RetriedRequests++
	}
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryable := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"network is unreachable",
		"no such host",
	}

	for _, s := range retryable {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
