package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

type fakeController struct {
	started map[string]domain.BotConfig
	stopErr error
	state   domain.BotState
	stateErr error
}

func (f *fakeController) Start(_ context.Context, userID string, cfg domain.BotConfig) error {
	if _, ok := f.started[userID]; ok {
		return domain.ErrAlreadyRunning
	}
	f.started[userID] = cfg
	return nil
}

func (f *fakeController) Stop(_ context.Context, userID string) error {
	if f.stopErr != nil {
		return f.stopErr
	}
	delete(f.started, userID)
	return nil
}

func (f *fakeController) Status(context.Context, string) (domain.BotState, int, error) {
	return f.state, 2, f.stateErr
}

type fakeTrades struct {
	lastOpts domain.ListOpts
}

func (f *fakeTrades) Create(context.Context, domain.CopyTrade) error { return nil }
func (f *fakeTrades) GetLastExecuted(context.Context, string) (domain.CopyTrade, error) {
	return domain.CopyTrade{}, domain.ErrNotFound
}
func (f *fakeTrades) ListByUser(_ context.Context, userID string, opts domain.ListOpts) ([]domain.CopyTrade, error) {
	f.lastOpts = opts
	return []domain.CopyTrade{{ID: "t1", UserID: userID}, {ID: "t2", UserID: userID}}, nil
}
func (f *fakeTrades) ListBefore(context.Context, time.Time, int) ([]domain.CopyTrade, error) {
	return nil, nil
}
func (f *fakeTrades) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeFees struct{}

func (fakeFees) Create(context.Context, domain.FeeDistributionEvent) error { return nil }
func (fakeFees) ListByUser(context.Context, string, domain.ListOpts) ([]domain.FeeDistributionEvent, error) {
	return nil, nil
}

type fakeSweeps struct{}

func (fakeSweeps) Create(context.Context, domain.SweepRecord) error { return nil }
func (fakeSweeps) ListByUser(context.Context, string, domain.ListOpts) ([]domain.SweepRecord, error) {
	return []domain.SweepRecord{{ID: "s1"}}, nil
}

type fakeOpLog struct{}

func (fakeOpLog) Log(context.Context, string, string, map[string]any) error { return nil }
func (fakeOpLog) ListByUser(context.Context, string, domain.ListOpts) ([]domain.OpLogEntry, error) {
	return []domain.OpLogEntry{{ID: 1, Event: "phase_change"}}, nil
}
func (fakeOpLog) ListBefore(context.Context, time.Time, int) ([]domain.OpLogEntry, error) {
	return nil, nil
}
func (fakeOpLog) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func newMux(ctrl BotController) *http.ServeMux {
	mux, _ := newMuxWithTrades(ctrl)
	return mux
}

func newMuxWithTrades(ctrl BotController) (*http.ServeMux, *fakeTrades) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	trades := &fakeTrades{}
	h := NewBotHandler(ctrl, fakeOpLog{}, trades, fakeFees{}, fakeSweeps{}, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/bots/{user}/start", h.Start)
	mux.HandleFunc("POST /api/bots/{user}/stop", h.Stop)
	mux.HandleFunc("GET /api/bots/{user}/status", h.Status)
	mux.HandleFunc("GET /api/bots/{user}/trades", h.Trades)
	return mux, trades
}

func TestStartBot(t *testing.T) {
	ctrl := &fakeController{started: make(map[string]domain.BotConfig)}
	mux := newMux(ctrl)

	body := `{"watched_addresses":["0xwhale"],"multiplier":2.0,"auto_take_profit_pct":25}`
	req := httptest.NewRequest(http.MethodPost, "/api/bots/alice/start", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	cfg, ok := ctrl.started["alice"]
	if !ok {
		t.Fatal("controller never started alice")
	}
	if cfg.Multiplier != 2.0 || cfg.AutoTakeProfitPct != 25 {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.MinOrderUSD != 1.0 {
		t.Errorf("min order default = %v, want 1.0", cfg.MinOrderUSD)
	}
}

func TestStartBotRejectsEmptyAddresses(t *testing.T) {
	ctrl := &fakeController{started: make(map[string]domain.BotConfig)}
	mux := newMux(ctrl)

	req := httptest.NewRequest(http.MethodPost, "/api/bots/alice/start", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStartBotConflictWhenRunning(t *testing.T) {
	ctrl := &fakeController{started: map[string]domain.BotConfig{"alice": {}}}
	mux := newMux(ctrl)

	body := `{"watched_addresses":["0xwhale"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/bots/alice/start", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestStopBotNotRunning(t *testing.T) {
	ctrl := &fakeController{started: make(map[string]domain.BotConfig), stopErr: domain.ErrNotRunning}
	mux := newMux(ctrl)

	req := httptest.NewRequest(http.MethodPost, "/api/bots/alice/stop", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestStatusIncludesStatsAndLogs(t *testing.T) {
	ctrl := &fakeController{
		started: make(map[string]domain.BotConfig),
		state: domain.BotState{
			UserID:    "alice",
			IsRunning: true,
			Phase:     domain.PhaseRunning,
			Stats:     domain.BotStats{TradeCount: 7, VolumeUSD: 1234.5},
		},
	}
	mux := newMux(ctrl)

	req := httptest.NewRequest(http.MethodGet, "/api/bots/alice/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var out struct {
		IsRunning     bool            `json:"is_running"`
		Phase         string          `json:"phase"`
		OpenPositions int             `json:"open_positions"`
		Stats         map[string]any  `json:"stats"`
		RecentLogs    []domain.OpLogEntry `json:"recent_logs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.IsRunning || out.Phase != "running" || out.OpenPositions != 2 {
		t.Errorf("body = %+v", out)
	}
	if len(out.RecentLogs) != 1 {
		t.Errorf("recent logs = %d, want 1", len(out.RecentLogs))
	}
}

func TestTradesHonorsListOpts(t *testing.T) {
	ctrl := &fakeController{started: make(map[string]domain.BotConfig)}
	mux, trades := newMuxWithTrades(ctrl)

	req := httptest.NewRequest(http.MethodGet, "/api/bots/alice/trades?limit=5&offset=10", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if trades.lastOpts.Limit != 5 || trades.lastOpts.Offset != 10 {
		t.Errorf("opts = %+v, want limit 5 offset 10", trades.lastOpts)
	}

	var out struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 2 {
		t.Errorf("count = %d, want 2", out.Count)
	}
}

func TestStatusUnknownUser(t *testing.T) {
	ctrl := &fakeController{started: make(map[string]domain.BotConfig), stateErr: domain.ErrNotFound}
	mux := newMux(ctrl)

	req := httptest.NewRequest(http.MethodGet, "/api/bots/ghost/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
