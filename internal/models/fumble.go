package models

import "time"

// Direction indicates whether a transaction moved tokens into or out of
// the analyzed wallet.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Transaction is one historical transfer as reported by the transaction
// history provider. Immutable once fetched.
type Transaction struct {
	Hash         string    `json:"hash"`
	TokenID      string    `json:"token_id"`
	TokenSymbol  string    `json:"token_symbol"`
	Amount       float64   `json:"amount"`
	UnitPrice    float64   `json:"unit_price"`
	Timestamp    time.Time `json:"timestamp"`
	Direction    Direction `json:"direction"`
	Counterparty string    `json:"counterparty"`
}

// PricePoint is a single observation in a token's price history.
type PricePoint struct {
	TokenID   string    `json:"token_id"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

// Classification labels a fumble relative to the rally that made it one.
type Classification string

const (
	ClassEarly Classification = "Early" // sold before the run-up
	ClassLate  Classification = "Late"  // sold after the peak had passed
)

// Fumble is a sale that preceded a qualifying price rally. Loss is always
// non-negative; zero-loss sales are never emitted as fumbles.
type Fumble struct {
	TokenID        string         `json:"token_id"`
	TokenSymbol    string         `json:"token_symbol"`
	SaleTimestamp  time.Time      `json:"sale_timestamp"`
	SalePrice      float64        `json:"sale_price"`
	PeakPrice      float64        `json:"peak_price"`
	Amount         float64        `json:"amount"`
	Loss           float64        `json:"loss"`
	Classification Classification `json:"classification"`

	// PriceKnown is false when either price lookup degraded to the
	// zero fallback. A fumble with PriceKnown=false undercounts loss.
	PriceKnown bool `json:"price_known"`
}

// FumbleResult is the full analysis for one (wallet, timeframe). Recomputed
// wholesale on refresh, never patched incrementally.
type FumbleResult struct {
	WalletAddress string    `json:"wallet_address"`
	Timeframe     Timeframe `json:"timeframe"`
	Fumbles       []Fumble  `json:"fumbles"`
	TotalLoss     float64   `json:"total_loss"`
	JeetScore     int       `json:"jeet_score"`
	RankTier      int       `json:"rank_tier"`

	// Degraded is true when one or more price lookups fell back to the
	// unknown-price sentinel, so TotalLoss is a lower bound.
	Degraded bool `json:"degraded,omitempty"`
}

// BiggestFumble returns the highest-loss fumble, or false if there are none.
func (r FumbleResult) BiggestFumble() (Fumble, bool) {
	if len(r.Fumbles) == 0 {
		return Fumble{}, false
	}
	best := r.Fumbles[0]
	for _, f := range r.Fumbles[1:] {
		if f.Loss > best.Loss {
			best = f
		}
	}
	return best, true
}
