package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL. The listings
// table is written by the marketplace service; this process only reads it.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a new ListingStore backed by the given pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

// ListerOf returns the lister's payout address for a watched trader address.
// Addresses are compared case-insensitively. Returns domain.ErrNotFound when
// the trader was never listed.
func (s *ListingStore) ListerOf(ctx context.Context, traderAddress string) (string, error) {
	var lister string
	err := s.pool.QueryRow(ctx,
		`SELECT lister_address FROM listings WHERE LOWER(trader_address) = $1`,
		strings.ToLower(traderAddress),
	).Scan(&lister)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("postgres: lister of %s: %w", traderAddress, err)
	}
	return lister, nil
}

// Compile-time interface check.
var _ domain.ListingStore = (*ListingStore)(nil)
