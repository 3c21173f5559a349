package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// OpLogStore implements domain.OpLogStore using PostgreSQL.
type OpLogStore struct {
	pool *pgxpool.Pool
}

// NewOpLogStore creates a new OpLogStore backed by the given pool.
func NewOpLogStore(pool *pgxpool.Pool) *OpLogStore {
	return &OpLogStore{pool: pool}
}

// Log appends one entry to the operational log.
func (s *OpLogStore) Log(ctx context.Context, userID, event string, detail map[string]any) error {
	detailJSON := []byte("{}")
	if len(detail) > 0 {
		var err error
		detailJSON, err = json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("postgres: encode op log detail: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO op_log (user_id, event, detail) VALUES ($1, $2, $3)`,
		userID, event, detailJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: op log %s/%s: %w", userID, event, err)
	}
	return nil
}

func scanOpLogRows(rows pgx.Rows) ([]domain.OpLogEntry, error) {
	var entries []domain.OpLogEntry
	for rows.Next() {
		var (
			e          domain.OpLogEntry
			detailJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Event, &detailJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("decode detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListByUser returns a user's log entries, newest first.
func (s *OpLogStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.OpLogEntry, error) {
	query := `SELECT id, user_id, event, detail, created_at FROM op_log WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list op log: %w", err)
	}
	defer rows.Close()

	entries, err := scanOpLogRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan op log: %w", err)
	}
	return entries, nil
}

// ListBefore returns entries created strictly before the given time, oldest
// first, for archiving. A limit of 0 means no limit.
func (s *OpLogStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.OpLogEntry, error) {
	query := `SELECT id, user_id, event, detail, created_at FROM op_log WHERE created_at < $1 ORDER BY created_at ASC`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list op log before: %w", err)
	}
	defer rows.Close()
	return scanOpLogRows(rows)
}

// DeleteBefore deletes entries created before the given time. Returns the
// number deleted.
func (s *OpLogStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM op_log WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete op log before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.OpLogStore = (*OpLogStore)(nil)
