package breakers

import (
	"time"

	cb "github.com/sony/gobreaker"
)

// Breaker wraps a sony/gobreaker circuit breaker with the trip policy used
// for all upstream providers: three consecutive failures, or a >5% failure
// rate once enough traffic has been seen.
type Breaker struct{ cb *cb.CircuitBreaker }

// New creates a named breaker.
func New(name string) *Breaker {
	st := cb.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}
	return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

// Execute runs fn through the breaker.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) { return b.cb.Execute(fn) }

// State returns the breaker's current state name.
func (b *Breaker) State() string { return b.cb.State().String() }
