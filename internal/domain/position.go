package domain

import "time"

// PositionStatus tracks the lifecycle of a locally held position.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing"
	PositionStatusClosed  PositionStatus = "closed"
)

// ActivePosition is an open exposure created when a copied BUY executes.
// It is owned by exactly one user's engine and never shared.
type ActivePosition struct {
	ID         string
	UserID     string
	MarketID   string
	TokenID    string
	Outcome    string
	Trader     string // counterparty whose buy opened this position
	EntryPrice float64
	SizeUSD    float64 // entry notional
	SizeUnits  int64   // entry notional in USDC base units
	Shares     float64 // outcome tokens held
	Status     PositionStatus
	OpenedAt   time.Time
}

// GainPct returns the unrealized gain percentage versus entry at the given
// current price.
func (p ActivePosition) GainPct(current float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (current - p.EntryPrice) / p.EntryPrice * 100
}

// RealizedPnL computes the profit for a full exit at exitPrice.
func (p ActivePosition) RealizedPnL(exitPrice float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return p.SizeUSD * (exitPrice - p.EntryPrice) / p.EntryPrice
}
