package fumbles

import (
	"math"
	"sort"

	"github.com/fumbled/jeetboard/internal/models"
)

// JeetScore computes the canonical ratio-based score:
// round(totalLoss / maxPossibleLoss * 100), where maxPossibleLoss is the sum
// of peakPrice*amount over the fumbles. Scale-invariant across wallet sizes;
// clamped to [0,100]; a zero denominator scores 0.
//
// A magnitude/frequency formula existed historically. It is intentionally
// not implemented here and must not be blended with this one.
func JeetScore(fumbles []models.Fumble) int {
	var totalLoss, maxPossible float64
	for _, f := range fumbles {
		totalLoss += f.Loss
		maxPossible += f.PeakPrice * f.Amount
	}

	if maxPossible <= 0 {
		return 0
	}

	score := int(math.Round(totalLoss / maxPossible * 100))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// RankTier maps a jeet score to its discrete tier. Boundaries are inclusive
// on the lower bound of each tier.
func RankTier(jeetScore int) int {
	switch {
	case jeetScore >= 90:
		return 1 // Diamond Hands (ironic)
	case jeetScore >= 70:
		return 2 // Paper Hands
	case jeetScore >= 50:
		return 3 // Weak Hands
	case jeetScore >= 30:
		return 4 // Shaky Hands
	default:
		return 5 // Normal Trader
	}
}

// TotalLoss sums the loss over a set of fumbles.
func TotalLoss(fumbles []models.Fumble) float64 {
	var total float64
	for _, f := range fumbles {
		total += f.Loss
	}
	return total
}

// BuildResult assembles the scored FumbleResult for one wallet. Fumbles are
// re-sorted by loss descending for reporting; the sort is stable so equal
// losses keep transaction order.
func BuildResult(address string, tf models.Timeframe, fumbles []models.Fumble) models.FumbleResult {
	sorted := make([]models.Fumble, len(fumbles))
	copy(sorted, fumbles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Loss > sorted[j].Loss
	})

	score := JeetScore(sorted)
	return models.FumbleResult{
		WalletAddress: address,
		Timeframe:     tf,
		Fumbles:       sorted,
		TotalLoss:     TotalLoss(sorted),
		JeetScore:     score,
		RankTier:      RankTier(score),
	}
}
