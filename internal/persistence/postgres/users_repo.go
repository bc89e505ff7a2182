package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/fumbled/jeetboard/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// userRow flattens User and its prefs into one queryable shape.
type userRow struct {
	UserID          string    `db:"user_id"`
	Email           string    `db:"email"`
	GoogleID        string    `db:"google_id"`
	Nickname        string    `db:"nickname"`
	CreatedAt       time.Time `db:"created_at"`
	ShowLeaderboard bool      `db:"show_leaderboard"`
	HideSmall       bool      `db:"hide_small"`
	FumbleTheme     string    `db:"fumble_theme"`
}

func (r userRow) toUser() models.User {
	return models.User{
		UserID:    r.UserID,
		Email:     r.Email,
		GoogleID:  r.GoogleID,
		Nickname:  r.Nickname,
		CreatedAt: r.CreatedAt,
		Prefs: models.UserPrefs{
			ShowLeaderboard: r.ShowLeaderboard,
			HideSmall:       r.HideSmall,
			FumbleTheme:     r.FumbleTheme,
		},
	}
}

// UsersRepo is the PostgreSQL user store. It also serves as the
// leaderboard's user directory.
type UsersRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewUsersRepo creates a PostgreSQL users repository.
func NewUsersRepo(db *sqlx.DB, timeout time.Duration) *UsersRepo {
	return &UsersRepo{db: db, timeout: timeout}
}

const userColumns = `u.user_id, u.email, u.google_id, u.nickname, u.created_at,
	u.show_leaderboard, u.hide_small, u.fumble_theme`

// GetByID loads one user.
func (r *UsersRepo) GetByID(ctx context.Context, userID string) (models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row userRow
	query := `SELECT ` + userColumns + ` FROM users u WHERE u.user_id = $1`
	if err := r.db.GetContext(ctx, &row, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("failed to load user: %w", err)
	}
	return row.toUser(), nil
}

// Upsert inserts a user or updates its profile fields on conflict.
func (r *UsersRepo) Upsert(ctx context.Context, user models.User) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO users (user_id, email, google_id, nickname, created_at,
			show_leaderboard, hide_small, fumble_theme)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			nickname = EXCLUDED.nickname,
			show_leaderboard = EXCLUDED.show_leaderboard,
			hide_small = EXCLUDED.hide_small,
			fumble_theme = EXCLUDED.fumble_theme`

	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		user.UserID, user.Email, user.GoogleID, user.Nickname, createdAt,
		user.Prefs.ShowLeaderboard, user.Prefs.HideSmall, user.Prefs.FumbleTheme)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// UpdatePrefs replaces a user's preferences.
func (r *UsersRepo) UpdatePrefs(ctx context.Context, userID string, prefs models.UserPrefs) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE users
		SET show_leaderboard = $2, hide_small = $3, fumble_theme = $4
		WHERE user_id = $1`

	res, err := r.db.ExecContext(ctx, query, userID,
		prefs.ShowLeaderboard, prefs.HideSmall, prefs.FumbleTheme)
	if err != nil {
		return fmt.Errorf("failed to update prefs: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// OptedInUsers lists every user whose prefs opt into the public leaderboard
// and who has at least one tracked wallet.
func (r *UsersRepo) OptedInUsers(ctx context.Context) ([]models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + userColumns + `
		FROM users u
		WHERE u.show_leaderboard = TRUE
		  AND EXISTS (SELECT 1 FROM wallets w WHERE w.user_id = u.user_id)
		ORDER BY u.user_id`

	var rows []userRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list opted-in users: %w", err)
	}

	users := make([]models.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toUser())
	}
	return users, nil
}

// UserWallets lists a user's tracked wallets, pinned first.
func (r *UsersRepo) UserWallets(ctx context.Context, userID string) ([]models.Wallet, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT user_id, address, nickname, tag, added_at, is_pinned
		FROM wallets
		WHERE user_id = $1
		ORDER BY is_pinned DESC, added_at ASC`

	var wallets []models.Wallet
	if err := r.db.SelectContext(ctx, &wallets, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list wallets for user: %w", err)
	}
	return wallets, nil
}

// isUniqueViolation reports whether err is a Postgres duplicate-key error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
