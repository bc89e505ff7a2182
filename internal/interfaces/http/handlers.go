package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/fumbled/jeetboard/internal/auth"
	"github.com/fumbled/jeetboard/internal/cache"
	"github.com/fumbled/jeetboard/internal/models"
	"github.com/fumbled/jeetboard/internal/persistence/postgres"
)

// Core is the analysis surface the API exposes.
type Core interface {
	ComputeFumbles(ctx context.Context, address string, tf models.Timeframe) (models.FumbleResult, error)
	ComputeLeaderboard(ctx context.Context, tf models.Timeframe) (models.LeaderboardSnapshot, error)
	GetUserRank(ctx context.Context, userID string, tf models.Timeframe) (int, error)
	InvalidateWallet(address string)
	CacheStats() cache.Stats
}

// UserStore is the user persistence surface the API needs.
type UserStore interface {
	GetByID(ctx context.Context, userID string) (models.User, error)
	UpdatePrefs(ctx context.Context, userID string, prefs models.UserPrefs) error
}

// WalletStore is the wallet persistence surface the API needs.
type WalletStore interface {
	Add(ctx context.Context, wallet models.Wallet) error
	List(ctx context.Context, userID string) ([]models.Wallet, error)
	Update(ctx context.Context, wallet models.Wallet) error
	Remove(ctx context.Context, userID, address string) error
}

// Handlers bundles the API route implementations.
type Handlers struct {
	core    Core
	users   UserStore
	wallets WalletStore
	started time.Time
}

// NewHandlers creates the route handler set.
func NewHandlers(core Core, users UserStore, wallets WalletStore) *Handlers {
	return &Handlers{
		core:    core,
		users:   users,
		wallets: wallets,
		started: time.Now(),
	}
}

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

func validAddress(s string) bool { return addressPattern.MatchString(s) }

// Health reports liveness plus cache counters.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if h.core != nil {
		resp["cache"] = h.core.CacheStats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Leaderboard serves the snapshot for the path timeframe.
func (h *Handlers) Leaderboard(w http.ResponseWriter, r *http.Request) {
	tf, err := models.ParseTimeframe(mux.Vars(r)["timeframe"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.core.ComputeLeaderboard(r.Context(), tf)
	if err != nil {
		log.Error().Err(err).Str("timeframe", tf.String()).Msg("Leaderboard computation failed")
		writeError(w, http.StatusServiceUnavailable, "leaderboard unavailable")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// WalletFumbles serves one wallet's fumble analysis. Timeframe comes from
// the query string and defaults to monthly.
func (h *Handlers) WalletFumbles(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if !validAddress(address) {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	tfParam := r.URL.Query().Get("timeframe")
	if tfParam == "" {
		tfParam = string(models.TimeframeMonthly)
	}
	tf, err := models.ParseTimeframe(tfParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.core.ComputeFumbles(r.Context(), address, tf)
	if err != nil {
		log.Error().Err(err).Str("address", address).Msg("Fumble analysis failed")
		writeError(w, http.StatusServiceUnavailable, "analysis unavailable")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// UserRank serves a user's leaderboard rank, 0 when unranked.
func (h *Handlers) UserRank(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tf, err := models.ParseTimeframe(vars["timeframe"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rank, err := h.core.GetUserRank(r.Context(), vars["id"], tf)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "rank unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":   vars["id"],
		"timeframe": tf,
		"rank":      rank,
		"ranked":    rank > 0,
	})
}

// Profile serves the authenticated user's record.
func (h *Handlers) Profile(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	user, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdatePrefs replaces the authenticated user's preferences.
func (h *Handlers) UpdatePrefs(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var prefs models.UserPrefs
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.users.UpdatePrefs(r.Context(), claims.UserID, prefs); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update preferences")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// ListWallets serves the authenticated user's tracked wallets.
func (h *Handlers) ListWallets(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	wallets, err := h.wallets.List(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list wallets")
		return
	}
	if wallets == nil {
		wallets = []models.Wallet{}
	}
	writeJSON(w, http.StatusOK, wallets)
}

type walletRequest struct {
	Address  string `json:"address"`
	Nickname string `json:"nickname"`
	Tag      string `json:"tag"`
	IsPinned bool   `json:"is_pinned"`
}

// AddWallet tracks a new wallet for the authenticated user.
func (h *Handlers) AddWallet(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var req walletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validAddress(req.Address) {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}
	if req.Tag == "" {
		req.Tag = string(models.TagOther)
	}
	if !models.ValidTag(req.Tag) {
		writeError(w, http.StatusBadRequest, "invalid wallet tag")
		return
	}

	wallet := models.Wallet{
		UserID:   claims.UserID,
		Address:  strings.ToLower(req.Address),
		Nickname: req.Nickname,
		Tag:      models.WalletTag(req.Tag),
		IsPinned: req.IsPinned,
	}
	if err := h.wallets.Add(r.Context(), wallet); err != nil {
		if errors.Is(err, postgres.ErrDuplicateWallet) {
			writeError(w, http.StatusConflict, "wallet already tracked")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to add wallet")
		return
	}

	h.core.InvalidateWallet(wallet.Address)
	writeJSON(w, http.StatusCreated, wallet)
}

// UpdateWallet edits a tracked wallet's nickname, tag or pin flag.
func (h *Handlers) UpdateWallet(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	address := mux.Vars(r)["address"]
	if !validAddress(address) {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	var req walletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Tag != "" && !models.ValidTag(req.Tag) {
		writeError(w, http.StatusBadRequest, "invalid wallet tag")
		return
	}
	if req.Tag == "" {
		req.Tag = string(models.TagOther)
	}

	wallet := models.Wallet{
		UserID:   claims.UserID,
		Address:  strings.ToLower(address),
		Nickname: req.Nickname,
		Tag:      models.WalletTag(req.Tag),
		IsPinned: req.IsPinned,
	}
	if err := h.wallets.Update(r.Context(), wallet); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			writeError(w, http.StatusNotFound, "wallet not tracked")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update wallet")
		return
	}
	h.core.InvalidateWallet(wallet.Address)
	writeJSON(w, http.StatusOK, wallet)
}

// RemoveWallet untracks a wallet and drops its cached analysis.
func (h *Handlers) RemoveWallet(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	address := mux.Vars(r)["address"]
	if !validAddress(address) {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	if err := h.wallets.Remove(r.Context(), claims.UserID, address); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			writeError(w, http.StatusNotFound, "wallet not tracked")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to remove wallet")
		return
	}

	h.core.InvalidateWallet(address)
	w.WriteHeader(http.StatusNoContent)
}

// NotFound is the JSON 404 handler.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
