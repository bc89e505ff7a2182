package prices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fumbled/jeetboard/internal/cache"
	"github.com/fumbled/jeetboard/internal/models"
)

// Source is the external price history collaborator.
type Source interface {
	PriceHistory(ctx context.Context, tokenID string, from, to time.Time) ([]models.PricePoint, error)
}

// Quote is a resolved price. Known is false when the lookup degraded to the
// zero fallback, so callers can tell "confirmed zero" from "lookup failed".
type Quote struct {
	Price float64
	Known bool
}

// unknownQuote is the degraded result for any failed or empty lookup.
var unknownQuote = Quote{Price: 0, Known: false}

// errUnknown keeps degraded quotes out of the cache so a transient upstream
// failure does not pin zeroed losses for a whole TTL.
var errUnknown = errors.New("price unknown")

// Config tunes the resolver.
type Config struct {
	// LookbackWindow bounds how far back PriceAt searches for the nearest
	// preceding observation.
	LookbackWindow time.Duration
	// CacheTTL scopes memoized quotes.
	CacheTTL time.Duration
}

// DefaultConfig returns the resolver defaults.
func DefaultConfig() Config {
	return Config{
		LookbackWindow: 7 * 24 * time.Hour,
		CacheTTL:       10 * time.Minute,
	}
}

// Resolver answers point-in-time and windowed-peak price queries against an
// external source, insulated by the shared TTL cache. Transport and parse
// failures are absorbed here and surfaced as unknown quotes, never as
// errors: one bad lookup must not abort a whole wallet's analysis, at the
// documented cost of undercounting loss.
type Resolver struct {
	source Source
	cache  *cache.Service
	config Config
}

// NewResolver creates a resolver over the given source.
func NewResolver(source Source, cacheSvc *cache.Service, config Config) *Resolver {
	if config.LookbackWindow <= 0 {
		config.LookbackWindow = DefaultConfig().LookbackWindow
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultConfig().CacheTTL
	}
	return &Resolver{source: source, cache: cacheSvc, config: config}
}

// PriceAt returns the price of tokenID at ts, or the nearest preceding
// observation within the lookback window. Duplicate observations at the
// same timestamp resolve last-wins.
func (r *Resolver) PriceAt(ctx context.Context, tokenID string, ts time.Time) Quote {
	key := cache.Key("price_at", tokenID, fmt.Sprintf("%d", ts.Unix()))

	v, err := r.cache.GetOrCompute(key, r.config.CacheTTL, func() (interface{}, error) {
		q := r.priceAt(ctx, tokenID, ts)
		if !q.Known {
			return nil, errUnknown
		}
		return q, nil
	})
	if err != nil {
		return unknownQuote
	}
	return v.(Quote)
}

func (r *Resolver) priceAt(ctx context.Context, tokenID string, ts time.Time) Quote {
	points, err := r.source.PriceHistory(ctx, tokenID, ts.Add(-r.config.LookbackWindow), ts)
	if err != nil {
		log.Warn().Err(err).Str("token", tokenID).Time("ts", ts).Msg("Price lookup degraded to unknown")
		return unknownQuote
	}

	quote := unknownQuote
	for _, p := range points {
		if p.Timestamp.After(ts) {
			continue
		}
		// Points arrive timestamp-ascending; the last qualifying one is
		// the nearest preceding observation.
		quote = Quote{Price: p.Price, Known: true}
	}
	return quote
}

// PeakPriceInWindow returns the maximum observed price in [from, to]. The
// window is split at its midpoint (the sale timestamp for the detector's
// symmetric windows) into two independent sub-queries whose results are
// combined with max, because paginated history APIs bound a single query's
// range. Either half failing degrades that half to unknown without
// discarding the other.
func (r *Resolver) PeakPriceInWindow(ctx context.Context, tokenID string, from, to time.Time) Quote {
	key := cache.Key("peak_price", tokenID, fmt.Sprintf("%d-%d", from.Unix(), to.Unix()))

	v, err := r.cache.GetOrCompute(key, r.config.CacheTTL, func() (interface{}, error) {
		mid := from.Add(to.Sub(from) / 2)
		before := r.maxInRange(ctx, tokenID, from, mid)
		after := r.maxInRange(ctx, tokenID, mid, to)
		q := combineMax(before, after)
		if !q.Known {
			return nil, errUnknown
		}
		return q, nil
	})
	if err != nil {
		return unknownQuote
	}
	return v.(Quote)
}

func (r *Resolver) maxInRange(ctx context.Context, tokenID string, from, to time.Time) Quote {
	points, err := r.source.PriceHistory(ctx, tokenID, from, to)
	if err != nil {
		log.Warn().Err(err).Str("token", tokenID).Msg("Peak lookup degraded to unknown")
		return unknownQuote
	}
	if len(points) == 0 {
		return unknownQuote
	}

	peak := points[0].Price
	for _, p := range points[1:] {
		if p.Price > peak {
			peak = p.Price
		}
	}
	return Quote{Price: peak, Known: true}
}

func combineMax(a, b Quote) Quote {
	if !a.Known {
		return b
	}
	if !b.Known {
		return a
	}
	if b.Price > a.Price {
		return b
	}
	return a
}
