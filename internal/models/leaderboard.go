package models

import "time"

// LeaderboardEntry is one ranked user inside a snapshot. Ephemeral: it only
// exists as part of a LeaderboardSnapshot.
type LeaderboardEntry struct {
	UserID        string  `json:"user_id"`
	WalletAddress string  `json:"wallet_address"`
	DisplayName   string  `json:"display_name"`
	TotalLoss     float64 `json:"total_loss"`
	JeetScore     int     `json:"jeet_score"`
	Rank          int     `json:"rank"`

	// BiggestFumble is the single highest-loss fumble across all of the
	// user's wallets, kept as a display fact.
	BiggestFumble Fumble `json:"biggest_fumble"`
	WalletCount   int    `json:"wallet_count"`
}

// LeaderboardStats summarizes a snapshot. TotalUsers counts every
// qualifying user, not just the truncated top page.
type LeaderboardStats struct {
	TotalUsers  int              `json:"total_users"`
	TotalLoss   float64          `json:"total_loss"`
	AverageLoss float64          `json:"average_loss"`
	TopEntry    LeaderboardEntry `json:"top_entry"`
}

// LeaderboardSnapshot is an immutable, fully computed leaderboard for one
// timeframe. Replaced atomically on refresh; entries are rank-ascending and
// capped at MaxLeaderboardEntries.
type LeaderboardSnapshot struct {
	Timeframe   Timeframe          `json:"timeframe"`
	WindowStart time.Time          `json:"window_start"`
	WindowEnd   time.Time          `json:"window_end"`
	Entries     []LeaderboardEntry `json:"entries"`
	Stats       LeaderboardStats   `json:"stats"`

	// Partial is true when at least one user's wallets could not be fully
	// analyzed and their contribution is a lower bound.
	Partial     bool      `json:"partial,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// MaxLeaderboardEntries caps the entries kept in a snapshot.
const MaxLeaderboardEntries = 100

// User is the profile record owned by user persistence.
type User struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Email     string    `json:"email" db:"email"`
	GoogleID  string    `json:"google_id" db:"google_id"`
	Nickname  string    `json:"nickname" db:"nickname"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Prefs     UserPrefs `json:"prefs"`
}

// UserPrefs holds per-user settings. ShowLeaderboard is the opt-in flag the
// aggregator filters on.
type UserPrefs struct {
	ShowLeaderboard bool   `json:"show_leaderboard" db:"show_leaderboard"`
	HideSmall       bool   `json:"hide_small" db:"hide_small"`
	FumbleTheme     string `json:"fumble_theme" db:"fumble_theme"`
}

// DisplayName falls back to a truncated user ID when no nickname is set.
func (u User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	id := u.UserID
	if len(id) > 6 {
		id = id[:6]
	}
	return "User_" + id
}

// WalletTag categorizes a tracked wallet.
type WalletTag string

const (
	TagMe     WalletTag = "Me"
	TagWhale  WalletTag = "Whale"
	TagFriend WalletTag = "Friend"
	TagOther  WalletTag = "Other"
)

// ValidTag reports whether s is one of the accepted wallet tags.
func ValidTag(s string) bool {
	switch WalletTag(s) {
	case TagMe, TagWhale, TagFriend, TagOther:
		return true
	}
	return false
}

// Wallet is a tracked wallet owned by a user.
type Wallet struct {
	UserID   string    `json:"user_id" db:"user_id"`
	Address  string    `json:"address" db:"address"`
	Nickname string    `json:"nickname" db:"nickname"`
	Tag      WalletTag `json:"tag" db:"tag"`
	AddedAt  time.Time `json:"added_at" db:"added_at"`
	IsPinned bool      `json:"is_pinned" db:"is_pinned"`
}
