package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
)

// Market is the prediction-market metadata the pipeline needs: question for
// risk analysis, tick/minimum constraints for order normalization, and
// status for the watchdog's closed-market check.
type Market struct {
	ID           string
	Question     string
	Slug         string
	Outcomes     []string
	TokenIDs     []string
	NegRisk      bool
	TickSize     float64
	MinOrderSize float64 // minimum order size in shares
	Status       MarketStatus
	ClosedAt     *time.Time
}

// Tradable reports whether orders can still be placed on the market.
func (m Market) Tradable() bool {
	return m.Status == MarketStatusActive
}
