package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest best-bid prices, fed by the
// websocket market feed with REST as the fallback.
type PriceCache interface {
	SetBid(ctx context.Context, tokenID string, price float64, ts time.Time) error
	GetBid(ctx context.Context, tokenID string) (float64, time.Time, error)
}

// BalanceCache caches counterparty bankroll estimates so sizing does not
// need a network round trip on every signal. Freshness within the TTL is
// sufficient for proportional sizing.
type BalanceCache interface {
	Set(ctx context.Context, address string, usd float64, ttl time.Duration) error
	Get(ctx context.Context, address string) (float64, bool, error)
}

// RateLimiter provides distributed rate limiting shared by all engines.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking; one lock per user's engine
// prevents two processes from trading the same account.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockLease, error)
}

// LockLease is a held distributed lock. Extend pushes the expiry out so a
// holder outliving the TTL keeps ownership; it fails once the lock belongs
// to someone else. Release is safe to call more than once.
type LockLease interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release()
}

// SignalBus publishes operational events for dashboard consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
