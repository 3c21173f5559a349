package domain

import "time"

// CopyTrade is the persisted record of one copy attempt, successful or not.
type CopyTrade struct {
	ID             string
	UserID         string
	OriginalTxID   string
	OriginalTrader string
	MarketID       string
	TokenID        string
	Outcome        string
	Side           OrderSide
	IntendedUSD    float64 // target notional after sizing
	FilledUSD      float64 // what the sweep actually filled
	FilledUnits    int64   // filled notional in USDC base units
	AvgPrice       float64
	Shares         float64
	RealizedPnL    float64 // non-zero only on closing trades
	Result         SignalOutcome
	SkipReason     string
	OrderIDs       []string
	ExecutedAt     time.Time
}

// OpLogEntry is one row of the append-only operational log stream.
type OpLogEntry struct {
	ID        int64
	UserID    string
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}
