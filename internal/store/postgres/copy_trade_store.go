package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// CopyTradeStore implements domain.CopyTradeStore using PostgreSQL.
type CopyTradeStore struct {
	pool *pgxpool.Pool
}

// NewCopyTradeStore creates a new CopyTradeStore backed by the given pool.
func NewCopyTradeStore(pool *pgxpool.Pool) *CopyTradeStore {
	return &CopyTradeStore{pool: pool}
}

const copyTradeSelectCols = `id, user_id, original_tx_id, original_trader,
	market_id, token_id, outcome, side, intended_usd, filled_usd, filled_units,
	avg_price, shares, realized_pnl, result, skip_reason, order_ids, executed_at`

func scanCopyTrade(row pgx.Row) (domain.CopyTrade, error) {
	var (
		t      domain.CopyTrade
		side   string
		result string
	)
	err := row.Scan(
		&t.ID, &t.UserID, &t.OriginalTxID, &t.OriginalTrader,
		&t.MarketID, &t.TokenID, &t.Outcome, &side,
		&t.IntendedUSD, &t.FilledUSD, &t.FilledUnits,
		&t.AvgPrice, &t.Shares, &t.RealizedPnL,
		&result, &t.SkipReason, &t.OrderIDs, &t.ExecutedAt,
	)
	if err != nil {
		return domain.CopyTrade{}, err
	}
	t.Side = domain.OrderSide(side)
	t.Result = domain.SignalOutcome(result)
	return t, nil
}

func scanCopyTradeRows(rows pgx.Rows) ([]domain.CopyTrade, error) {
	var trades []domain.CopyTrade
	for rows.Next() {
		t, err := scanCopyTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Create inserts one copy trade record. Re-inserting the same original
// transaction for a user returns domain.ErrAlreadyExists.
func (s *CopyTradeStore) Create(ctx context.Context, t domain.CopyTrade) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO copy_trades (
			id, user_id, original_tx_id, original_trader,
			market_id, token_id, outcome, side,
			intended_usd, filled_usd, filled_units,
			avg_price, shares, realized_pnl,
			result, skip_reason, order_ids, executed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18
		) ON CONFLICT (user_id, original_tx_id) DO NOTHING`,
		t.ID, t.UserID, t.OriginalTxID, t.OriginalTrader,
		t.MarketID, t.TokenID, t.Outcome, string(t.Side),
		t.IntendedUSD, t.FilledUSD, t.FilledUnits,
		t.AvgPrice, t.Shares, t.RealizedPnL,
		string(t.Result), t.SkipReason, t.OrderIDs, t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create copy trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// GetLastExecuted returns the most recent executed trade for a user, used to
// seed the resume cursor after a crash. Returns domain.ErrNotFound when the
// user has no executed trades.
func (s *CopyTradeStore) GetLastExecuted(ctx context.Context, userID string) (domain.CopyTrade, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+copyTradeSelectCols+`
		FROM copy_trades
		WHERE user_id = $1 AND result = $2
		ORDER BY executed_at DESC
		LIMIT 1`,
		userID, string(domain.SignalExecuted),
	)

	t, err := scanCopyTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CopyTrade{}, domain.ErrNotFound
		}
		return domain.CopyTrade{}, fmt.Errorf("postgres: get last executed %s: %w", userID, err)
	}
	return t, nil
}

// ListByUser returns a user's trades, newest first, with pagination and
// optional time filtering.
func (s *CopyTradeStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.CopyTrade, error) {
	query := `SELECT ` + copyTradeSelectCols + ` FROM copy_trades WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY executed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list copy trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanCopyTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan copy trades: %w", err)
	}
	return trades, nil
}

// ListBefore returns trades executed strictly before the given time, oldest
// first, for archiving. A limit of 0 means no limit.
func (s *CopyTradeStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.CopyTrade, error) {
	query := `SELECT ` + copyTradeSelectCols + ` FROM copy_trades WHERE executed_at < $1 ORDER BY executed_at ASC`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list copy trades before: %w", err)
	}
	defer rows.Close()
	return scanCopyTradeRows(rows)
}

// DeleteBefore deletes trades executed before the given time. Returns the
// number deleted.
func (s *CopyTradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM copy_trades WHERE executed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete copy trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.CopyTradeStore = (*CopyTradeStore)(nil)
