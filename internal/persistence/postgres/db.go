package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens and pings a PostgreSQL database.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id          TEXT PRIMARY KEY,
	email            TEXT NOT NULL DEFAULT '',
	google_id        TEXT NOT NULL DEFAULT '',
	nickname         TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	show_leaderboard BOOLEAN NOT NULL DEFAULT FALSE,
	hide_small       BOOLEAN NOT NULL DEFAULT FALSE,
	fumble_theme     TEXT NOT NULL DEFAULT 'classic'
);

CREATE TABLE IF NOT EXISTS wallets (
	user_id   TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
	address   TEXT NOT NULL,
	nickname  TEXT NOT NULL DEFAULT '',
	tag       TEXT NOT NULL DEFAULT 'Other',
	added_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	is_pinned BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (user_id, address)
);

CREATE INDEX IF NOT EXISTS idx_wallets_user ON wallets (user_id, is_pinned DESC, added_at);
CREATE INDEX IF NOT EXISTS idx_users_opted_in ON users (user_id) WHERE show_leaderboard = TRUE;
`

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
