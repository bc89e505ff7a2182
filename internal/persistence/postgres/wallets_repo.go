package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fumbled/jeetboard/internal/models"
)

// ErrDuplicateWallet is returned when a user tracks the same address twice.
var ErrDuplicateWallet = errors.New("wallet already tracked")

// WalletsRepo is the PostgreSQL store for tracked wallets.
type WalletsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewWalletsRepo creates a PostgreSQL wallets repository.
func NewWalletsRepo(db *sqlx.DB, timeout time.Duration) *WalletsRepo {
	return &WalletsRepo{db: db, timeout: timeout}
}

// Add tracks a new wallet for a user. Addresses are stored lowercased so
// lookups are case-insensitive.
func (r *WalletsRepo) Add(ctx context.Context, wallet models.Wallet) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if !models.ValidTag(string(wallet.Tag)) {
		return fmt.Errorf("invalid wallet tag: %s", wallet.Tag)
	}

	addedAt := wallet.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO wallets (user_id, address, nickname, tag, added_at, is_pinned)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		wallet.UserID, strings.ToLower(wallet.Address), wallet.Nickname,
		wallet.Tag, addedAt, wallet.IsPinned)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateWallet
		}
		return fmt.Errorf("failed to add wallet: %w", err)
	}
	return nil
}

// Get loads one tracked wallet.
func (r *WalletsRepo) Get(ctx context.Context, userID, address string) (models.Wallet, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT user_id, address, nickname, tag, added_at, is_pinned
		FROM wallets
		WHERE user_id = $1 AND address = $2`

	var wallet models.Wallet
	err := r.db.GetContext(ctx, &wallet, query, userID, strings.ToLower(address))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Wallet{}, ErrNotFound
		}
		return models.Wallet{}, fmt.Errorf("failed to load wallet: %w", err)
	}
	return wallet, nil
}

// List returns all wallets tracked by a user, pinned first.
func (r *WalletsRepo) List(ctx context.Context, userID string) ([]models.Wallet, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT user_id, address, nickname, tag, added_at, is_pinned
		FROM wallets
		WHERE user_id = $1
		ORDER BY is_pinned DESC, added_at ASC`

	var wallets []models.Wallet
	if err := r.db.SelectContext(ctx, &wallets, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return wallets, nil
}

// Update replaces a wallet's nickname, tag and pin flag.
func (r *WalletsRepo) Update(ctx context.Context, wallet models.Wallet) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if !models.ValidTag(string(wallet.Tag)) {
		return fmt.Errorf("invalid wallet tag: %s", wallet.Tag)
	}

	query := `
		UPDATE wallets
		SET nickname = $3, tag = $4, is_pinned = $5
		WHERE user_id = $1 AND address = $2`

	res, err := r.db.ExecContext(ctx, query,
		wallet.UserID, strings.ToLower(wallet.Address),
		wallet.Nickname, wallet.Tag, wallet.IsPinned)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Remove untracks a wallet.
func (r *WalletsRepo) Remove(ctx context.Context, userID, address string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `DELETE FROM wallets WHERE user_id = $1 AND address = $2`
	res, err := r.db.ExecContext(ctx, query, userID, strings.ToLower(address))
	if err != nil {
		return fmt.Errorf("failed to remove wallet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
