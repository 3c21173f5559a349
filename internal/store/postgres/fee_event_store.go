package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// FeeEventStore implements domain.FeeEventStore using PostgreSQL.
type FeeEventStore struct {
	pool *pgxpool.Pool
}

// NewFeeEventStore creates a new FeeEventStore backed by the given pool.
func NewFeeEventStore(pool *pgxpool.Pool) *FeeEventStore {
	return &FeeEventStore{pool: pool}
}

// Create inserts a fee distribution event. Events are written only after
// both transfers settled, so there is no update path.
func (s *FeeEventStore) Create(ctx context.Context, evt domain.FeeDistributionEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fee_events (
			id, user_id, trade_id, profit_usd,
			lister_share_usd, platform_share_usd,
			lister_units, platform_units,
			lister_address, platform_address,
			lister_tx_ref, platform_tx_ref, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		evt.ID, evt.UserID, evt.TradeID, evt.ProfitUSD,
		evt.ListerShareUSD, evt.PlatformShareUSD,
		evt.ListerUnits, evt.PlatformUnits,
		evt.ListerAddress, evt.PlatformAddress,
		evt.ListerTxRef, evt.PlatformTxRef, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create fee event: %w", err)
	}
	return nil
}

// ListByUser returns a user's fee events, newest first.
func (s *FeeEventStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.FeeDistributionEvent, error) {
	query := `
		SELECT id, user_id, trade_id, profit_usd,
		       lister_share_usd, platform_share_usd,
		       lister_units, platform_units,
		       lister_address, platform_address,
		       lister_tx_ref, platform_tx_ref, created_at
		FROM fee_events WHERE user_id = $1 ORDER BY created_at DESC`
	args := []any{userID}

	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fee events: %w", err)
	}
	defer rows.Close()

	var events []domain.FeeDistributionEvent
	for rows.Next() {
		var e domain.FeeDistributionEvent
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.TradeID, &e.ProfitUSD,
			&e.ListerShareUSD, &e.PlatformShareUSD,
			&e.ListerUnits, &e.PlatformUnits,
			&e.ListerAddress, &e.PlatformAddress,
			&e.ListerTxRef, &e.PlatformTxRef, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan fee event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Compile-time interface check.
var _ domain.FeeEventStore = (*FeeEventStore)(nil)
