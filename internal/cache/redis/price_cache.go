package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// priceTTL bounds how long a stale bid survives after the websocket feed
// stops updating it. Readers fall back to REST when the key is gone.
const priceTTL = 2 * time.Minute

// PriceCache implements domain.PriceCache using Redis hashes. Each token's
// best bid is stored at key "bid:{tokenID}" with fields "price" and "ts"
// (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func bidKey(tokenID string) string {
	return "bid:" + tokenID
}

// SetBid stores the latest best-bid price and timestamp for a token.
func (pc *PriceCache) SetBid(ctx context.Context, tokenID string, price float64, ts time.Time) error {
	key := bidKey(tokenID)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set bid %s: %w", tokenID, err)
	}
	return nil
}

// GetBid retrieves the latest best-bid price and timestamp for a token.
// It returns domain.ErrNotFound when no bid is cached.
func (pc *PriceCache) GetBid(ctx context.Context, tokenID string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, bidKey(tokenID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get bid %s: %w", tokenID, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse bid %s: %w", tokenID, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse bid ts %s: %w", tokenID, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
