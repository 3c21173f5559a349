package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// SweepStore implements domain.SweepStore using PostgreSQL.
type SweepStore struct {
	pool *pgxpool.Pool
}

// NewSweepStore creates a new SweepStore backed by the given pool.
func NewSweepStore(pool *pgxpool.Pool) *SweepStore {
	return &SweepStore{pool: pool}
}

// Create inserts one sweep record.
func (s *SweepStore) Create(ctx context.Context, rec domain.SweepRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sweeps (id, user_id, amount_usd, amount_units, destination, tx_ref, swept_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.UserID, rec.AmountUSD, rec.AmountUnits,
		rec.Destination, rec.TxRef, rec.SweptAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create sweep: %w", err)
	}
	return nil
}

// ListByUser returns a user's sweeps, newest first.
func (s *SweepStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.SweepRecord, error) {
	query := `
		SELECT id, user_id, amount_usd, amount_units, destination, tx_ref, swept_at
		FROM sweeps WHERE user_id = $1 ORDER BY swept_at DESC`
	args := []any{userID}

	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sweeps: %w", err)
	}
	defer rows.Close()

	var sweeps []domain.SweepRecord
	for rows.Next() {
		var r domain.SweepRecord
		if err := rows.Scan(
			&r.ID, &r.UserID, &r.AmountUSD, &r.AmountUnits,
			&r.Destination, &r.TxRef, &r.SweptAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan sweep: %w", err)
		}
		sweeps = append(sweeps, r)
	}
	return sweeps, rows.Err()
}

// Compile-time interface check.
var _ domain.SweepStore = (*SweepStore)(nil)
