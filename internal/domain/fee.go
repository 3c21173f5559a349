package domain

import "time"

// FeeDistributionEvent records a profit-triggered payout to the lister of a
// copied account and to the platform. Immutable after creation; created only
// when both transfers settled.
type FeeDistributionEvent struct {
	ID              string
	UserID          string
	TradeID         string
	ProfitUSD       float64
	ListerShareUSD  float64
	PlatformShareUSD float64
	ListerUnits     int64 // lister share in USDC base units
	PlatformUnits   int64
	ListerAddress   string
	PlatformAddress string
	ListerTxRef     string
	PlatformTxRef   string
	CreatedAt       time.Time
}

// SweepRecord records a cold-storage sweep of balance above the retention cap.
type SweepRecord struct {
	ID          string
	UserID      string
	AmountUSD   float64
	AmountUnits int64
	Destination string
	TxRef       string
	SweptAt     time.Time
}
