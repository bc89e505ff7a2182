package metrics

import (
	"sync"
	"time"
)

// ProviderHealth tracks request outcomes for one upstream provider. It backs
// both the /health endpoint and degraded-state decisions.
type ProviderHealth struct {
	mu             sync.RWMutex
	provider       string
	requests       int64
	failures       int64
	degraded       bool
	degradedReason string
	lastLatency    time.Duration
	lastCheck      time.Time
}

// NewProviderHealth creates a health tracker for the named provider.
func NewProviderHealth(provider string) *ProviderHealth {
	return &ProviderHealth{provider: provider}
}

// RecordRequest notes one request outcome. A success clears any degraded
// flag.
func (h *ProviderHealth) RecordRequest(success bool, latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.requests++
	if !success {
		h.failures++
	} else {
		h.degraded = false
		h.degradedReason = ""
	}
	h.lastLatency = latency
	h.lastCheck = time.Now()
}

// SetDegraded marks the provider degraded with a reason.
func (h *ProviderHealth) SetDegraded(degraded bool, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.degraded = degraded
	h.degradedReason = reason
}

// IsHealthy reports whether the provider is currently usable.
func (h *ProviderHealth) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.degraded
}

// Snapshot returns the current health view for reporting.
func (h *ProviderHealth) Snapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if h.degraded {
		status = "degraded"
	}
	return HealthSnapshot{
		Provider:    h.provider,
		Status:      status,
		Reason:      h.degradedReason,
		Requests:    h.requests,
		Failures:    h.failures,
		LastLatency: h.lastLatency,
		LastCheck:   h.lastCheck,
	}
}

// HealthSnapshot is the JSON view of one provider's health.
type HealthSnapshot struct {
	Provider    string        `json:"provider"`
	Status      string        `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	Requests    int64         `json:"requests"`
	Failures    int64         `json:"failures"`
	LastLatency time.Duration `json:"last_latency_ms"`
	LastCheck   time.Time     `json:"last_check"`
}
