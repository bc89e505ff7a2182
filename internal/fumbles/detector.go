package fumbles

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fumbled/jeetboard/internal/models"
	"github.com/fumbled/jeetboard/internal/prices"
)

// TransactionSource is the external transaction history collaborator.
type TransactionSource interface {
	Transactions(ctx context.Context, address string, since time.Time) ([]models.Transaction, error)
}

// PriceResolver is the price lookup surface the detector needs.
type PriceResolver interface {
	PriceAt(ctx context.Context, tokenID string, ts time.Time) prices.Quote
	PeakPriceInWindow(ctx context.Context, tokenID string, from, to time.Time) prices.Quote
}

// Config tunes fumble detection.
type Config struct {
	// Window is the symmetric lookback/lookahead around each sale when
	// searching for the peak.
	Window time.Duration
	// RallyMultiplier is the minimum peak/sale ratio for a sale to count
	// as a fumble rather than noise. Fixed design constant, not derived
	// per token.
	RallyMultiplier float64
	// MaxConcurrency bounds per-wallet concurrent price lookups.
	MaxConcurrency int
}

// DefaultConfig returns the detection defaults.
func DefaultConfig() Config {
	return Config{
		Window:          30 * 24 * time.Hour,
		RallyMultiplier: 1.2,
		MaxConcurrency:  8,
	}
}

// Detector flags a wallet's outgoing sales that preceded a qualifying price
// rally and quantifies the missed gain.
type Detector struct {
	txs      TransactionSource
	resolver PriceResolver
	config   Config
}

// NewDetector creates a detector over the given collaborators.
func NewDetector(txs TransactionSource, resolver PriceResolver, config Config) *Detector {
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	if config.RallyMultiplier <= 0 {
		config.RallyMultiplier = DefaultConfig().RallyMultiplier
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	return &Detector{txs: txs, resolver: resolver, config: config}
}

// Detect analyzes address over the timeframe and returns its scored
// FumbleResult. Price lookups for individual transactions run concurrently
// under the configured ceiling; a single lookup failure degrades that
// transaction to zero loss without aborting the batch. An error is returned
// only when the transaction history itself cannot be enumerated or the
// context is cancelled.
func (d *Detector) Detect(ctx context.Context, address string, tf models.Timeframe) (models.FumbleResult, error) {
	since := tf.WindowStart(time.Now().UTC())

	txs, err := d.txs.Transactions(ctx, address, since)
	if err != nil {
		return models.FumbleResult{}, fmt.Errorf("failed to fetch transactions for %s: %w", address, err)
	}

	var sells []models.Transaction
	for _, tx := range txs {
		if tx.Direction == models.DirectionOut {
			sells = append(sells, tx)
		}
	}

	// Fan out per-transaction analysis; slots keep transaction order so
	// the merge is deterministic regardless of completion order.
	slots := make([]*models.Fumble, len(sells))
	degraded := make([]bool, len(sells))
	sem := make(chan struct{}, d.config.MaxConcurrency)
	var wg sync.WaitGroup

	for i, tx := range sells {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return models.FumbleResult{}, ctx.Err()
		}

		wg.Add(1)
		go func(i int, tx models.Transaction) {
			defer wg.Done()
			defer func() { <-sem }()
			slots[i], degraded[i] = d.analyze(ctx, tx)
		}(i, tx)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return models.FumbleResult{}, err
	}

	var found []models.Fumble
	anyDegraded := false
	for i, f := range slots {
		if f != nil {
			found = append(found, *f)
		}
		anyDegraded = anyDegraded || degraded[i]
	}

	result := BuildResult(address, tf, found)
	result.Degraded = anyDegraded

	log.Debug().
		Str("address", address).
		Str("timeframe", tf.String()).
		Int("sells", len(sells)).
		Int("fumbles", len(found)).
		Float64("total_loss", result.TotalLoss).
		Msg("Wallet fumble analysis complete")

	return result, nil
}

// analyze evaluates one sale. It returns nil when the sale is not a fumble,
// and reports whether any price lookup degraded to unknown.
func (d *Detector) analyze(ctx context.Context, tx models.Transaction) (*models.Fumble, bool) {
	sale := d.resolver.PriceAt(ctx, tx.TokenID, tx.Timestamp)
	peak := d.resolver.PeakPriceInWindow(ctx, tx.TokenID,
		tx.Timestamp.Add(-d.config.Window), tx.Timestamp.Add(d.config.Window))

	lookupDegraded := !sale.Known || !peak.Known

	// The rally threshold separates real fumbles from noise.
	if peak.Price <= sale.Price*d.config.RallyMultiplier {
		return nil, lookupDegraded
	}

	loss := (peak.Price - sale.Price) * tx.Amount
	if loss <= 0 {
		return nil, lookupDegraded
	}

	classification := models.ClassLate
	if peak.Price > sale.Price {
		classification = models.ClassEarly
	}

	return &models.Fumble{
		TokenID:        tx.TokenID,
		TokenSymbol:    tx.TokenSymbol,
		SaleTimestamp:  tx.Timestamp,
		SalePrice:      sale.Price,
		PeakPrice:      peak.Price,
		Amount:         tx.Amount,
		Loss:           loss,
		Classification: classification,
		PriceKnown:     sale.Known && peak.Known,
	}, lookupDegraded
}
