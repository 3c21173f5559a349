package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// BotStateStore persists per-user bot runtime state.
type BotStateStore interface {
	Get(ctx context.Context, userID string) (BotState, error)
	Upsert(ctx context.Context, state BotState) error
	SetRunning(ctx context.Context, userID string, running bool, phase BotPhase) error
	UpdateStats(ctx context.Context, userID string, stats BotStats) error
	UpdateCursor(ctx context.Context, userID string, cursor time.Time) error
	// FindRunning returns every user whose persisted state says the bot
	// should be running; used for crash recovery at process start.
	FindRunning(ctx context.Context) ([]BotState, error)
}

// CopyTradeStore persists the append-only copy trade history.
type CopyTradeStore interface {
	Create(ctx context.Context, trade CopyTrade) error
	GetLastExecuted(ctx context.Context, userID string) (CopyTrade, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]CopyTrade, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]CopyTrade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OpLogStore persists the append-only operational log stream.
type OpLogStore interface {
	Log(ctx context.Context, userID, event string, detail map[string]any) error
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]OpLogEntry, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]OpLogEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// FeeEventStore persists fee distribution events.
type FeeEventStore interface {
	Create(ctx context.Context, evt FeeDistributionEvent) error
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]FeeDistributionEvent, error)
}

// SweepStore persists fund sweep records.
type SweepStore interface {
	Create(ctx context.Context, rec SweepRecord) error
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]SweepRecord, error)
}

// ListingStore answers who listed a traded address in the copy marketplace.
// The marketplace itself is managed elsewhere; the pipeline only reads it.
type ListingStore interface {
	// ListerOf returns the lister's payout address for a watched trader
	// address, or ErrNotFound when the address was never listed.
	ListerOf(ctx context.Context, traderAddress string) (string, error)
}
