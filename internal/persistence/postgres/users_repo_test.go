package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/fumbled/jeetboard/internal/leaderboard"
)

// The aggregator consumes UsersRepo directly as its directory.
var _ leaderboard.UserDirectory = (*UsersRepo)(nil)

func TestUserRowToUser(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	row := userRow{
		UserID:          "u-42",
		Email:           "alice@example.com",
		GoogleID:        "g-123",
		Nickname:        "alice",
		CreatedAt:       created,
		ShowLeaderboard: true,
		FumbleTheme:     "dark",
	}

	user := row.toUser()
	assert.Equal(t, "u-42", user.UserID)
	assert.Equal(t, "alice", user.Nickname)
	assert.Equal(t, created, user.CreatedAt)
	assert.True(t, user.Prefs.ShowLeaderboard)
	assert.False(t, user.Prefs.HideSmall)
	assert.Equal(t, "dark", user.Prefs.FumbleTheme)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("plain error")))
	assert.False(t, isUniqueViolation(nil))
}
