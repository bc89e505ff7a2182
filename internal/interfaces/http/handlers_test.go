package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fumbled/jeetboard/internal/auth"
	"github.com/fumbled/jeetboard/internal/cache"
	"github.com/fumbled/jeetboard/internal/models"
	"github.com/fumbled/jeetboard/internal/persistence/postgres"
)

const testAddress = "0x1234567890abcdef1234567890abcdef12345678"

type stubCore struct {
	fumbles     models.FumbleResult
	fumblesErr  error
	snapshot    models.LeaderboardSnapshot
	snapshotErr error
	rank        int
	invalidated []string
}

func (s *stubCore) ComputeFumbles(_ context.Context, address string, tf models.Timeframe) (models.FumbleResult, error) {
	if s.fumblesErr != nil {
		return models.FumbleResult{}, s.fumblesErr
	}
	out := s.fumbles
	out.WalletAddress = address
	out.Timeframe = tf
	return out, nil
}

func (s *stubCore) ComputeLeaderboard(_ context.Context, tf models.Timeframe) (models.LeaderboardSnapshot, error) {
	if s.snapshotErr != nil {
		return models.LeaderboardSnapshot{}, s.snapshotErr
	}
	out := s.snapshot
	out.Timeframe = tf
	return out, nil
}

func (s *stubCore) GetUserRank(context.Context, string, models.Timeframe) (int, error) {
	return s.rank, nil
}

func (s *stubCore) InvalidateWallet(address string) {
	s.invalidated = append(s.invalidated, address)
}

func (s *stubCore) CacheStats() cache.Stats { return cache.Stats{} }

type stubUsers struct {
	users map[string]models.User
}

func (s *stubUsers) GetByID(_ context.Context, userID string) (models.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return models.User{}, postgres.ErrNotFound
	}
	return u, nil
}

func (s *stubUsers) UpdatePrefs(_ context.Context, userID string, prefs models.UserPrefs) error {
	u, ok := s.users[userID]
	if !ok {
		return postgres.ErrNotFound
	}
	u.Prefs = prefs
	s.users[userID] = u
	return nil
}

type stubWallets struct {
	byUser map[string][]models.Wallet
	addErr error
}

func (s *stubWallets) Add(_ context.Context, w models.Wallet) error {
	if s.addErr != nil {
		return s.addErr
	}
	s.byUser[w.UserID] = append(s.byUser[w.UserID], w)
	return nil
}

func (s *stubWallets) List(_ context.Context, userID string) ([]models.Wallet, error) {
	return s.byUser[userID], nil
}

func (s *stubWallets) Update(_ context.Context, w models.Wallet) error {
	for i, existing := range s.byUser[w.UserID] {
		if existing.Address == w.Address {
			s.byUser[w.UserID][i] = w
			return nil
		}
	}
	return postgres.ErrNotFound
}

func (s *stubWallets) Remove(_ context.Context, userID, address string) error {
	for i, existing := range s.byUser[userID] {
		if existing.Address == address {
			s.byUser[userID] = append(s.byUser[userID][:i], s.byUser[userID][i+1:]...)
			return nil
		}
	}
	return postgres.ErrNotFound
}

func testJWT() auth.JWT {
	return auth.JWT{Secret: []byte("test-secret"), TokenTTL: time.Hour}
}

func newTestServer(t *testing.T, core *stubCore, users *stubUsers, wallets *stubWallets) *Server {
	t.Helper()
	if users == nil {
		users = &stubUsers{users: map[string]models.User{}}
	}
	if wallets == nil {
		wallets = &stubWallets{byUser: map[string][]models.Wallet{}}
	}
	cfg := DefaultServerConfig()
	cfg.Port = 0
	srv, err := NewServer(cfg, NewHandlers(core, users, wallets), testJWT(), nil, nil)
	require.NoError(t, err)
	return srv
}

func bearerFor(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := testJWT().Sign(auth.Claims{UserID: userID})
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &stubCore{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestLeaderboard(t *testing.T) {
	core := &stubCore{snapshot: models.LeaderboardSnapshot{
		Entries: []models.LeaderboardEntry{{UserID: "u1", Rank: 1, TotalLoss: 500}},
		Stats:   models.LeaderboardStats{TotalUsers: 1, TotalLoss: 500, AverageLoss: 500},
	}}
	srv := newTestServer(t, core, nil, nil)

	t.Run("serves the snapshot", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/leaderboard/weekly", nil)
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var snap models.LeaderboardSnapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		assert.Equal(t, models.TimeframeWeekly, snap.Timeframe)
		require.Len(t, snap.Entries, 1)
		assert.Equal(t, "u1", snap.Entries[0].UserID)
	})

	t.Run("rejects unknown timeframe", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/leaderboard/hourly", nil)
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("maps computation failure to 503", func(t *testing.T) {
		failing := &stubCore{snapshotErr: errors.New("providers down")}
		srv := newTestServer(t, failing, nil, nil)

		req := httptest.NewRequest(http.MethodGet, "/leaderboard/daily", nil)
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestWalletFumbles(t *testing.T) {
	core := &stubCore{fumbles: models.FumbleResult{TotalLoss: 500, JeetScore: 33, RankTier: 4}}
	srv := newTestServer(t, core, nil, nil)

	t.Run("defaults to monthly", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/wallets/"+testAddress+"/fumbles", nil)
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var result models.FumbleResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, models.TimeframeMonthly, result.Timeframe)
		assert.Equal(t, testAddress, result.WalletAddress)
	})

	t.Run("honors the timeframe query", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/wallets/"+testAddress+"/fumbles?timeframe=allTime", nil)
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var result models.FumbleResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, models.TimeframeAllTime, result.Timeframe)
	})

	t.Run("rejects malformed address", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/wallets/nonsense/fumbles", nil)
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUserRank(t *testing.T) {
	srv := newTestServer(t, &stubCore{rank: 7}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/users/u1/rank/monthly", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(7), body["rank"])
	assert.Equal(t, true, body["ranked"])

	t.Run("unranked user", func(t *testing.T) {
		srv := newTestServer(t, &stubCore{rank: 0}, nil, nil)
		req := httptest.NewRequest(http.MethodGet, "/users/ghost/rank/daily", nil)
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, float64(0), body["rank"])
		assert.Equal(t, false, body["ranked"])
	})
}

func TestWalletCRUD(t *testing.T) {
	core := &stubCore{}
	wallets := &stubWallets{byUser: map[string][]models.Wallet{}}
	srv := newTestServer(t, core, nil, wallets)
	authz := bearerFor(t, "u1")

	t.Run("requires auth", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me/wallets", nil)
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("add then list", func(t *testing.T) {
		payload, _ := json.Marshal(walletRequest{Address: testAddress, Nickname: "main", Tag: "Me"})
		req := httptest.NewRequest(http.MethodPost, "/me/wallets", bytes.NewReader(payload))
		req.Header.Set("Authorization", authz)
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, core.invalidated, testAddress)

		req = httptest.NewRequest(http.MethodGet, "/me/wallets", nil)
		req.Header.Set("Authorization", authz)
		rec = httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var list []models.Wallet
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Len(t, list, 1)
		assert.Equal(t, testAddress, list[0].Address)
		assert.Equal(t, models.TagMe, list[0].Tag)
	})

	t.Run("rejects bad tag", func(t *testing.T) {
		payload, _ := json.Marshal(walletRequest{Address: testAddress, Tag: "Degen"})
		req := httptest.NewRequest(http.MethodPost, "/me/wallets", bytes.NewReader(payload))
		req.Header.Set("Authorization", authz)
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("duplicate maps to conflict", func(t *testing.T) {
		dup := &stubWallets{byUser: map[string][]models.Wallet{}, addErr: postgres.ErrDuplicateWallet}
		srv := newTestServer(t, &stubCore{}, nil, dup)

		payload, _ := json.Marshal(walletRequest{Address: testAddress, Tag: "Me"})
		req := httptest.NewRequest(http.MethodPost, "/me/wallets", bytes.NewReader(payload))
		req.Header.Set("Authorization", authz)
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("update", func(t *testing.T) {
		before := len(core.invalidated)
		payload, _ := json.Marshal(walletRequest{Nickname: "cold storage", Tag: "Whale", IsPinned: true})
		req := httptest.NewRequest(http.MethodPut, "/me/wallets/"+testAddress, bytes.NewReader(payload))
		req.Header.Set("Authorization", authz)
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var updated models.Wallet
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
		assert.Equal(t, models.TagWhale, updated.Tag)
		assert.True(t, updated.IsPinned)

		require.Len(t, core.invalidated, before+1, "update must drop the cached analysis")
		assert.Equal(t, testAddress, core.invalidated[before])
	})

	t.Run("remove then missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/me/wallets/"+testAddress, nil)
		req.Header.Set("Authorization", authz)
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		req = httptest.NewRequest(http.MethodDelete, "/me/wallets/"+testAddress, nil)
		req.Header.Set("Authorization", authz)
		rec = httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestProfileAndPrefs(t *testing.T) {
	users := &stubUsers{users: map[string]models.User{
		"u1": {UserID: "u1", Nickname: "alice"},
	}}
	srv := newTestServer(t, &stubCore{}, users, nil)
	authz := bearerFor(t, "u1")

	t.Run("profile", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", authz)
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var user models.User
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
		assert.Equal(t, "alice", user.Nickname)
	})

	t.Run("update prefs", func(t *testing.T) {
		payload, _ := json.Marshal(models.UserPrefs{ShowLeaderboard: true})
		req := httptest.NewRequest(http.MethodPut, "/me/prefs", bytes.NewReader(payload))
		req.Header.Set("Authorization", authz)
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, users.users["u1"].Prefs.ShowLeaderboard)
	})

	t.Run("unknown user", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", bearerFor(t, "ghost"))
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestNotFound(t *testing.T) {
	srv := newTestServer(t, &stubCore{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
