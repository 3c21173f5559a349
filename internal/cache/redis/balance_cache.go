package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// BalanceCache implements domain.BalanceCache using plain Redis strings with
// a per-entry TTL. Sizing reads a counterparty's bankroll from here and only
// falls back to the data API on a miss.
type BalanceCache struct {
	rdb *redis.Client
}

// NewBalanceCache creates a BalanceCache backed by the given Client.
func NewBalanceCache(c *Client) *BalanceCache {
	return &BalanceCache{rdb: c.Underlying()}
}

func balanceKey(address string) string {
	return "balance:" + address
}

// Set stores a bankroll estimate for an address, expiring after ttl.
func (bc *BalanceCache) Set(ctx context.Context, address string, usd float64, ttl time.Duration) error {
	val := strconv.FormatFloat(usd, 'f', -1, 64)
	if err := bc.rdb.Set(ctx, balanceKey(address), val, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set balance %s: %w", address, err)
	}
	return nil
}

// Get retrieves a cached bankroll estimate. The second return value is false
// when the entry is missing or expired.
func (bc *BalanceCache) Get(ctx context.Context, address string) (float64, bool, error) {
	val, err := bc.rdb.Get(ctx, balanceKey(address)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("redis: get balance %s: %w", address, err)
	}

	usd, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis: parse balance %s: %w", address, err)
	}
	return usd, true, nil
}

// Compile-time interface check.
var _ domain.BalanceCache = (*BalanceCache)(nil)
