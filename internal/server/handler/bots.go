// Package handler contains the operator HTTP API handlers.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// BotController is the slice of the engine manager the API exposes.
type BotController interface {
	Start(ctx context.Context, userID string, cfg domain.BotConfig) error
	Stop(ctx context.Context, userID string) error
	Status(ctx context.Context, userID string) (domain.BotState, int, error)
}

// BotHandler serves the per-user bot lifecycle endpoints.
type BotHandler struct {
	bots   BotController
	oplog  domain.OpLogStore
	trades domain.CopyTradeStore
	fees   domain.FeeEventStore
	sweeps domain.SweepStore
	logger *slog.Logger
}

// NewBotHandler creates a BotHandler.
func NewBotHandler(bots BotController, oplog domain.OpLogStore, trades domain.CopyTradeStore, fees domain.FeeEventStore, sweeps domain.SweepStore, logger *slog.Logger) *BotHandler {
	return &BotHandler{
		bots:   bots,
		oplog:  oplog,
		trades: trades,
		fees:   fees,
		sweeps: sweeps,
		logger: logHandler(logger, "bots"),
	}
}

type startRequest struct {
	WatchedAddresses  []string `json:"watched_addresses"`
	Multiplier        float64  `json:"multiplier"`
	MinOrderUSD       float64  `json:"min_order_usd"`
	AutoTakeProfitPct float64  `json:"auto_take_profit_pct"`
	RetentionCapUSD   float64  `json:"retention_cap_usd"`
	ColdAddress       string   `json:"cold_address"`
	RiskProfile       string   `json:"risk_profile"`
	FailClosed        bool     `json:"fail_closed"`
}

// Start launches a bot for the user.
// POST /api/bots/{user}/start
func (h *BotHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.WatchedAddresses) == 0 {
		writeError(w, http.StatusBadRequest, "watched_addresses must not be empty")
		return
	}
	if req.Multiplier <= 0 {
		req.Multiplier = 1.0
	}
	if req.MinOrderUSD <= 0 {
		req.MinOrderUSD = 1.0
	}

	err := h.bots.Start(r.Context(), userID, domain.BotConfig{
		WatchedAddresses:  req.WatchedAddresses,
		Multiplier:        req.Multiplier,
		MinOrderUSD:       req.MinOrderUSD,
		AutoTakeProfitPct: req.AutoTakeProfitPct,
		RetentionCapUSD:   req.RetentionCapUSD,
		ColdAddress:       req.ColdAddress,
		RiskProfile:       req.RiskProfile,
		FailClosed:        req.FailClosed,
	})
	switch {
	case errors.Is(err, domain.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "bot already running")
		return
	case err != nil:
		h.logger.Error("start failed", slog.String("user", userID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "start failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"user": userID, "status": "starting"})
}

// Stop shuts the user's bot down.
// POST /api/bots/{user}/stop
func (h *BotHandler) Stop(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "user")

	err := h.bots.Stop(r.Context(), userID)
	switch {
	case errors.Is(err, domain.ErrNotRunning):
		writeError(w, http.StatusConflict, "bot not running")
		return
	case err != nil:
		h.logger.Error("stop failed", slog.String("user", userID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "stop failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"user": userID, "status": "stopped"})
}

// Status reports the user's persisted state, live phase, open position count
// and recent operational log entries.
// GET /api/bots/{user}/status
func (h *BotHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "user")

	state, openPositions, err := h.bots.Status(r.Context(), userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown user")
		return
	case err != nil:
		h.logger.Error("status failed", slog.String("user", userID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "status failed")
		return
	}

	logs, err := h.oplog.ListByUser(r.Context(), userID, domain.ListOpts{Limit: 20})
	if err != nil {
		h.logger.Warn("recent log fetch failed", slog.String("user", userID), slog.String("error", err.Error()))
	}
	feeEvents, err := h.fees.ListByUser(r.Context(), userID, domain.ListOpts{Limit: 5})
	if err != nil {
		h.logger.Warn("fee event fetch failed", slog.String("user", userID), slog.String("error", err.Error()))
	}
	sweeps, err := h.sweeps.ListByUser(r.Context(), userID, domain.ListOpts{Limit: 5})
	if err != nil {
		h.logger.Warn("sweep fetch failed", slog.String("user", userID), slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":           userID,
		"is_running":     state.IsRunning,
		"phase":          state.Phase,
		"wallet":         state.Wallet,
		"open_positions": openPositions,
		"stats": map[string]any{
			"trade_count":   state.Stats.TradeCount,
			"volume_usd":    state.Stats.VolumeUSD,
			"realized_pnl":  state.Stats.RealizedPnL,
			"fees_paid_usd": state.Stats.FeesPaidUSD,
		},
		"recent_logs":   logs,
		"recent_fees":   feeEvents,
		"recent_sweeps": sweeps,
	})
}

// Trades lists the user's copy trade history, newest first.
// GET /api/bots/{user}/trades?limit=&offset=
func (h *BotHandler) Trades(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "user")

	trades, err := h.trades.ListByUser(r.Context(), userID, parseListOpts(r))
	if err != nil {
		h.logger.Error("trade list failed", slog.String("user", userID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "trade list failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":   userID,
		"trades": trades,
		"count":  len(trades),
	})
}
