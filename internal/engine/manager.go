package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// Manager supervises one Engine per user. All operator controls (start, stop,
// status) and crash recovery go through it.
type Manager struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	engines map[string]*Engine

	// baseCtx parents every engine so a request context ending cannot kill
	// a running bot.
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewManager creates a Manager. Engines started from it outlive the contexts
// of the calls that started them and stop on Shutdown.
func NewManager(deps Deps, cfg Config, logger *slog.Logger) *Manager {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Manager{
		deps:       deps,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "manager")),
		engines:    make(map[string]*Engine),
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
}

// Start launches a bot for the user with the given configuration. The
// persisted state is created or updated first so a crash mid-start is
// recoverable. Returns domain.ErrAlreadyRunning when an engine exists.
func (m *Manager) Start(ctx context.Context, userID string, botCfg domain.BotConfig) error {
	m.mu.Lock()
	if _, ok := m.engines[userID]; ok {
		m.mu.Unlock()
		return domain.ErrAlreadyRunning
	}
	m.mu.Unlock()

	state, err := m.deps.States.Get(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		state = domain.BotState{UserID: userID}
	case err != nil:
		return fmt.Errorf("engine: load state: %w", err)
	}
	state.Config = botCfg
	state.IsRunning = true
	state.Phase = domain.PhaseFundingWait
	state.Wallet = m.deps.Exchange.FunderAddress()
	if err := m.deps.States.Upsert(ctx, state); err != nil {
		return fmt.Errorf("engine: persist state: %w", err)
	}

	resume, err := m.resumeCursor(ctx, userID)
	if err != nil {
		return err
	}
	m.launch(userID, botCfg, resume, state.Stats)
	return nil
}

// Stop cancels the user's engine and waits briefly for it to wind down.
// In-flight order attempts complete; no new signals are accepted.
func (m *Manager) Stop(ctx context.Context, userID string) error {
	m.mu.Lock()
	eng, ok := m.engines[userID]
	if !ok {
		m.mu.Unlock()
		return domain.ErrNotRunning
	}
	delete(m.engines, userID)
	m.mu.Unlock()

	eng.cancel()
	select {
	case <-eng.done:
	case <-time.After(stopWaitLimit):
		m.logger.Warn("engine stop timed out", slog.String("user", userID))
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Status reports the persisted state overlaid with the live phase and open
// position count when the engine is in this process.
func (m *Manager) Status(ctx context.Context, userID string) (domain.BotState, int, error) {
	state, err := m.deps.States.Get(ctx, userID)
	if err != nil {
		return domain.BotState{}, 0, err
	}

	m.mu.Lock()
	eng, ok := m.engines[userID]
	m.mu.Unlock()
	if !ok {
		return state, 0, nil
	}

	state.Phase = eng.Phase()
	state.IsRunning = state.Phase != domain.PhaseStopped
	return state, len(eng.tracker.Open()), nil
}

// Recover restarts every bot whose persisted state says it should be
// running. Called once at process start; each engine resumes from its last
// recorded trade so the outage window is replayed but older history is not.
func (m *Manager) Recover(ctx context.Context) error {
	states, err := m.deps.States.FindRunning(ctx)
	if err != nil {
		return fmt.Errorf("engine: find running: %w", err)
	}

	for _, state := range states {
		resume, err := m.resumeCursor(ctx, state.UserID)
		if err != nil {
			m.logger.Error("recovery failed for user",
				slog.String("user", state.UserID),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.logger.Info("recovering bot",
			slog.String("user", state.UserID),
			slog.Time("resume_cursor", resume),
		)
		m.launch(state.UserID, state.Config, resume, state.Stats)
	}
	return nil
}

// Shutdown stops every engine and blocks until they finish or the context
// expires.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, eng := range m.engines {
		engines = append(engines, eng)
	}
	m.engines = make(map[string]*Engine)
	m.mu.Unlock()

	m.cancelBase()
	for _, eng := range engines {
		select {
		case <-eng.done:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) launch(userID string, botCfg domain.BotConfig, resume time.Time, stats domain.BotStats) {
	eng := newEngine(userID, botCfg, resume, m.deps, m.cfg, m.logger)
	eng.stats = stats

	engCtx, cancel := context.WithCancel(m.baseCtx)
	eng.cancel = cancel

	m.mu.Lock()
	m.engines[userID] = eng
	m.mu.Unlock()

	go func() {
		eng.run(engCtx)
		cancel()
		m.mu.Lock()
		if m.engines[userID] == eng {
			delete(m.engines, userID)
		}
		m.mu.Unlock()
	}()
}

// resumeCursor picks the history boundary for a starting engine: the newer
// of the persisted detector cursor and the last recorded trade, or a short
// grace window back when the user has neither. The detector advances its
// cursor on every observed signal, traded or not, so the persisted cursor
// usually leads the last trade; the trade timestamp covers states written
// before a crash could persist the cursor. The detector's staleness filter
// does the rest.
func (m *Manager) resumeCursor(ctx context.Context, userID string) (time.Time, error) {
	var cursor time.Time

	state, err := m.deps.States.Get(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return time.Time{}, fmt.Errorf("engine: load state: %w", err)
	default:
		cursor = state.ResumeCursor
	}

	last, err := m.deps.Trades.GetLastExecuted(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return time.Time{}, fmt.Errorf("engine: last trade lookup: %w", err)
	default:
		if last.ExecutedAt.After(cursor) {
			cursor = last.ExecutedAt
		}
	}

	if cursor.IsZero() {
		return m.deps.Clock.Now().Add(-m.cfg.ResumeGraceWindow), nil
	}
	return cursor, nil
}
