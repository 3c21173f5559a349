package domain

import (
	"context"
	"time"
)

// ExchangeAdapter is the capability interface the engine trades through.
// One concrete implementation exists per exchange; the engine depends only
// on this interface.
type ExchangeAdapter interface {
	// Authenticate performs the exchange handshake, deriving and caching
	// trading credentials for the custody wallet.
	Authenticate(ctx context.Context) error
	// Reauthenticate discards cached credentials and derives fresh ones.
	// Used by the executor's single auth-expiry retry.
	Reauthenticate(ctx context.Context) error
	// EnsureApprovals runs the one-time custody deployment and token
	// allowance steps required before the first order.
	EnsureApprovals(ctx context.Context) error

	FetchBalance(ctx context.Context, address string) (float64, error)
	FetchPositionsValue(ctx context.Context, address string) (float64, error)
	FetchPublicTrades(ctx context.Context, address string, limit int) ([]TradeSignal, error)
	GetMarket(ctx context.Context, marketID string) (Market, error)
	GetOrderBook(ctx context.Context, tokenID string) (OrderBook, error)
	CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	// Cashout transfers base units of collateral to dest and returns the
	// settlement transaction reference.
	Cashout(ctx context.Context, amountUnits int64, dest string) (string, error)
	FunderAddress() string
}

// RiskVerdict is the risk analyzer's answer for one signal.
type RiskVerdict struct {
	ShouldCopy bool
	Reasoning  string
	RiskScore  float64 // 0 (safe) .. 1 (reject)
}

// RiskAnalyzer scores a candidate copy trade. Implementations may call an
// external model; the engine's policy when the analyzer is unavailable is
// configured explicitly (fail-open by default).
type RiskAnalyzer interface {
	Analyze(ctx context.Context, sig TradeSignal, sizedUSD float64, riskProfile string) (RiskVerdict, error)
}

// Clock abstracts time for deterministic tests of staleness and throttling.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

// Now returns the current UTC time.
func (RealClock) Now() time.Time { return time.Now().UTC() }
