package domain

import "math"

// UsdcScale is the number of base units per USDC (6 decimals).
const UsdcScale = 1_000_000

// ToBaseUnits converts a USD amount to integer USDC base units, flooring so
// settlement never exceeds the intended notional.
func ToBaseUnits(usd float64) int64 {
	return int64(math.Floor(usd * UsdcScale))
}

// FromBaseUnits converts integer USDC base units to a display USD amount.
func FromBaseUnits(units int64) float64 {
	return float64(units) / UsdcScale
}

// OrderSide indicates whether an order buys or sells outcome tokens.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderRequest is a single exchange order sized to one price level.
type OrderRequest struct {
	TokenID  string
	Side     OrderSide
	Price    float64 // tick-aligned probability
	Shares   float64 // outcome tokens, floored to the market's min increment
	NegRisk  bool
}

// NotionalUSD returns the USD value of the request.
func (r OrderRequest) NotionalUSD() float64 {
	return r.Price * r.Shares
}

// OrderResult wraps the exchange response after order submission.
type OrderResult struct {
	Success bool
	OrderID string
	Status  string
	Message string
	// AuthExpired marks rejections caused by stale API credentials; the
	// executor re-derives credentials and retries exactly once.
	AuthExpired bool
}

// Fill summarizes what an order-book sweep actually bought or sold.
type Fill struct {
	Shares      float64
	NotionalUSD float64
	AvgPrice    float64
	OrderIDs    []string
	Levels      int // price levels consumed
}
