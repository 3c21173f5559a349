package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// BotStateStore implements domain.BotStateStore using PostgreSQL.
type BotStateStore struct {
	pool *pgxpool.Pool
}

// NewBotStateStore creates a new BotStateStore backed by the given pool.
func NewBotStateStore(pool *pgxpool.Pool) *BotStateStore {
	return &BotStateStore{pool: pool}
}

const botStateSelectCols = `user_id, wallet, is_running, phase, approved, config,
	trade_count, volume_usd, realized_pnl, fees_paid_usd, resume_cursor, updated_at`

func scanBotState(row pgx.Row) (domain.BotState, error) {
	var (
		st         domain.BotState
		phase      string
		configJSON []byte
		cursor     *time.Time
	)
	err := row.Scan(
		&st.UserID, &st.Wallet, &st.IsRunning, &phase, &st.Approved, &configJSON,
		&st.Stats.TradeCount, &st.Stats.VolumeUSD, &st.Stats.RealizedPnL,
		&st.Stats.FeesPaidUSD, &cursor, &st.UpdatedAt,
	)
	if err != nil {
		return domain.BotState{}, err
	}

	st.Phase = domain.BotPhase(phase)
	if cursor != nil {
		st.ResumeCursor = *cursor
	}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &st.Config); err != nil {
			return domain.BotState{}, fmt.Errorf("decode config: %w", err)
		}
	}
	return st, nil
}

// Get returns the persisted state for a user, or domain.ErrNotFound.
func (s *BotStateStore) Get(ctx context.Context, userID string) (domain.BotState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+botStateSelectCols+` FROM bot_states WHERE user_id = $1`, userID)

	st, err := scanBotState(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BotState{}, domain.ErrNotFound
		}
		return domain.BotState{}, fmt.Errorf("postgres: get bot state %s: %w", userID, err)
	}
	return st, nil
}

// Upsert writes the full state row, inserting it if the user is new.
func (s *BotStateStore) Upsert(ctx context.Context, st domain.BotState) error {
	configJSON, err := json.Marshal(st.Config)
	if err != nil {
		return fmt.Errorf("postgres: encode bot config: %w", err)
	}

	var cursor *time.Time
	if !st.ResumeCursor.IsZero() {
		cursor = &st.ResumeCursor
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO bot_states (
			user_id, wallet, is_running, phase, approved, config,
			trade_count, volume_usd, realized_pnl, fees_paid_usd,
			resume_cursor, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			wallet        = EXCLUDED.wallet,
			is_running    = EXCLUDED.is_running,
			phase         = EXCLUDED.phase,
			approved      = EXCLUDED.approved,
			config        = EXCLUDED.config,
			trade_count   = EXCLUDED.trade_count,
			volume_usd    = EXCLUDED.volume_usd,
			realized_pnl  = EXCLUDED.realized_pnl,
			fees_paid_usd = EXCLUDED.fees_paid_usd,
			resume_cursor = EXCLUDED.resume_cursor,
			updated_at    = NOW()`,
		st.UserID, st.Wallet, st.IsRunning, string(st.Phase), st.Approved, configJSON,
		st.Stats.TradeCount, st.Stats.VolumeUSD, st.Stats.RealizedPnL,
		st.Stats.FeesPaidUSD, cursor,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert bot state %s: %w", st.UserID, err)
	}
	return nil
}

// SetRunning flips the running flag and phase without touching the rest of
// the row. Returns domain.ErrNotFound for an unknown user.
func (s *BotStateStore) SetRunning(ctx context.Context, userID string, running bool, phase domain.BotPhase) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bot_states
		SET is_running = $2, phase = $3, updated_at = NOW()
		WHERE user_id = $1`,
		userID, running, string(phase),
	)
	if err != nil {
		return fmt.Errorf("postgres: set running %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStats overwrites the accumulated stats for a user.
func (s *BotStateStore) UpdateStats(ctx context.Context, userID string, stats domain.BotStats) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bot_states
		SET trade_count = $2, volume_usd = $3, realized_pnl = $4,
		    fees_paid_usd = $5, updated_at = NOW()
		WHERE user_id = $1`,
		userID, stats.TradeCount, stats.VolumeUSD, stats.RealizedPnL, stats.FeesPaidUSD,
	)
	if err != nil {
		return fmt.Errorf("postgres: update stats %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateCursor persists the detector's resume cursor.
func (s *BotStateStore) UpdateCursor(ctx context.Context, userID string, cursor time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bot_states
		SET resume_cursor = $2, updated_at = NOW()
		WHERE user_id = $1`,
		userID, cursor,
	)
	if err != nil {
		return fmt.Errorf("postgres: update cursor %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FindRunning returns every user whose persisted state says the bot should
// be running. Called once at process start for crash recovery.
func (s *BotStateStore) FindRunning(ctx context.Context) ([]domain.BotState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+botStateSelectCols+` FROM bot_states WHERE is_running ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: find running: %w", err)
	}
	defer rows.Close()

	var states []domain.BotState
	for rows.Next() {
		st, err := scanBotState(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan running state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// Compile-time interface check.
var _ domain.BotStateStore = (*BotStateStore)(nil)
