package domain

import "time"

// TradeSignal is a normalized trade observed on a watched trader's public
// activity feed. It is immutable once created; TxID is the dedup key.
type TradeSignal struct {
	TxID       string // transaction hash from the activity feed
	Trader     string // watched address the trade was observed on
	MarketID   string // condition ID of the market
	TokenID    string // outcome token being traded
	Outcome    string // outcome label, e.g. "Yes"
	Side       OrderSide
	NotionalUSD   float64 // USD value of the counterpart's trade
	NotionalUnits int64   // same value in USDC base units (1e6)
	Price      float64 // 0..1 probability the counterpart traded at
	Question   string  // market question, for risk analysis and alerts
	Timestamp  time.Time
}

// SignalOutcome records what the pipeline did with a detected signal.
type SignalOutcome string

const (
	SignalExecuted SignalOutcome = "executed"
	SignalSkipped  SignalOutcome = "skipped"
	SignalFailed   SignalOutcome = "failed"
)
