package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fumbled/jeetboard/internal/fumbles"
	"github.com/fumbled/jeetboard/internal/models"
)

// UserDirectory supplies the opted-in user set and their wallets. Backed by
// user/wallet persistence.
type UserDirectory interface {
	OptedInUsers(ctx context.Context) ([]models.User, error)
	UserWallets(ctx context.Context, userID string) ([]models.Wallet, error)
}

// Analyzer produces a wallet's FumbleResult, typically through the cache so
// per-wallet results are independently memoized.
type Analyzer interface {
	ComputeFumbles(ctx context.Context, address string, tf models.Timeframe) (models.FumbleResult, error)
}

// Config bounds aggregation fan-out.
type Config struct {
	// MaxConcurrentUsers bounds user-level fan-out.
	MaxConcurrentUsers int
	// MaxConcurrentWallets is a global budget across all users' wallet
	// analyses, protecting the upstream price and portfolio services.
	MaxConcurrentWallets int
}

// DefaultConfig returns the aggregation defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentUsers:   8,
		MaxConcurrentWallets: 16,
	}
}

// Aggregator builds ranked leaderboard snapshots by fanning out the
// per-wallet analysis across every opted-in user.
type Aggregator struct {
	directory UserDirectory
	analyzer  Analyzer
	config    Config
}

// NewAggregator creates an aggregator over the given collaborators.
func NewAggregator(directory UserDirectory, analyzer Analyzer, config Config) *Aggregator {
	if config.MaxConcurrentUsers <= 0 {
		config.MaxConcurrentUsers = DefaultConfig().MaxConcurrentUsers
	}
	if config.MaxConcurrentWallets <= 0 {
		config.MaxConcurrentWallets = DefaultConfig().MaxConcurrentWallets
	}
	return &Aggregator{directory: directory, analyzer: analyzer, config: config}
}

// userResult carries one user's merged analysis out of the fan-out.
type userResult struct {
	entry   models.LeaderboardEntry
	partial bool
}

// Build produces the snapshot for tf. It returns a hard error only when the
// user directory itself cannot be enumerated; individual wallet failures
// are isolated and flagged via the snapshot's Partial field.
func (a *Aggregator) Build(ctx context.Context, tf models.Timeframe) (models.LeaderboardSnapshot, error) {
	now := time.Now().UTC()

	users, err := a.directory.OptedInUsers(ctx)
	if err != nil {
		return models.LeaderboardSnapshot{}, fmt.Errorf("failed to enumerate opted-in users: %w", err)
	}

	results := make([]*userResult, len(users))
	userSem := make(chan struct{}, a.config.MaxConcurrentUsers)
	walletSem := make(chan struct{}, a.config.MaxConcurrentWallets)
	var wg sync.WaitGroup

	for i, user := range users {
		select {
		case userSem <- struct{}{}:
		case <-ctx.Done():
			return models.LeaderboardSnapshot{}, ctx.Err()
		}

		wg.Add(1)
		go func(i int, user models.User) {
			defer wg.Done()
			defer func() { <-userSem }()
			results[i] = a.aggregateUser(ctx, user, tf, walletSem)
		}(i, user)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return models.LeaderboardSnapshot{}, err
	}

	entries := make([]models.LeaderboardEntry, 0, len(results))
	partial := false
	for _, r := range results {
		if r == nil {
			continue
		}
		entries = append(entries, r.entry)
		partial = partial || r.partial
	}

	// Total order: loss descending, then userID ascending so equal losses
	// resolve the same way on every run.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].TotalLoss != entries[j].TotalLoss {
			return entries[i].TotalLoss > entries[j].TotalLoss
		}
		return entries[i].UserID < entries[j].UserID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	// Stats are computed before truncation: TotalUsers is the qualifying
	// population, not the visible page.
	stats := models.LeaderboardStats{TotalUsers: len(entries)}
	for _, e := range entries {
		stats.TotalLoss += e.TotalLoss
	}
	if stats.TotalUsers > 0 {
		stats.AverageLoss = stats.TotalLoss / float64(stats.TotalUsers)
		stats.TopEntry = entries[0]
	}

	if len(entries) > models.MaxLeaderboardEntries {
		entries = entries[:models.MaxLeaderboardEntries]
	}

	log.Info().
		Str("timeframe", tf.String()).
		Int("users", stats.TotalUsers).
		Float64("total_loss", stats.TotalLoss).
		Bool("partial", partial).
		Msg("Leaderboard snapshot built")

	return models.LeaderboardSnapshot{
		Timeframe:   tf,
		WindowStart: tf.WindowStart(now),
		WindowEnd:   now,
		Entries:     entries,
		Stats:       stats,
		Partial:     partial,
		GeneratedAt: now,
	}, nil
}

// aggregateUser merges one user's wallets. A failed wallet analysis is
// skipped and flagged; a failed wallet listing yields a zero-loss entry
// flagged partial so the user still appears rather than vanishing.
func (a *Aggregator) aggregateUser(ctx context.Context, user models.User, tf models.Timeframe, walletSem chan struct{}) *userResult {
	wallets, err := a.directory.UserWallets(ctx, user.UserID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", user.UserID).Msg("Failed to list user wallets")
		return &userResult{
			entry:   models.LeaderboardEntry{UserID: user.UserID, DisplayName: user.DisplayName()},
			partial: true,
		}
	}

	walletResults := make([]*models.FumbleResult, len(wallets))
	var wg sync.WaitGroup
	partial := false
	var mu sync.Mutex

	for i, w := range wallets {
		select {
		case walletSem <- struct{}{}:
		case <-ctx.Done():
			return &userResult{
				entry:   models.LeaderboardEntry{UserID: user.UserID, DisplayName: user.DisplayName()},
				partial: true,
			}
		}

		wg.Add(1)
		go func(i int, address string) {
			defer wg.Done()
			defer func() { <-walletSem }()

			result, err := a.analyzer.ComputeFumbles(ctx, address, tf)
			if err != nil {
				log.Warn().Err(err).Str("address", address).Msg("Wallet analysis failed, skipping")
				mu.Lock()
				partial = true
				mu.Unlock()
				return
			}
			walletResults[i] = &result
		}(i, w.Address)
	}
	wg.Wait()

	var merged []models.Fumble
	var totalLoss float64
	var topWallet string
	var biggest models.Fumble

	for i, r := range walletResults {
		if r == nil {
			continue
		}
		totalLoss += r.TotalLoss
		merged = append(merged, r.Fumbles...)
		partial = partial || r.Degraded
		if f, ok := r.BiggestFumble(); ok && f.Loss > biggest.Loss {
			biggest = f
			topWallet = wallets[i].Address
		}
	}

	return &userResult{
		entry: models.LeaderboardEntry{
			UserID:        user.UserID,
			WalletAddress: topWallet,
			DisplayName:   user.DisplayName(),
			TotalLoss:     totalLoss,
			JeetScore:     fumbles.JeetScore(merged),
			BiggestFumble: biggest,
			WalletCount:   len(wallets),
		},
		partial: partial,
	}
}
