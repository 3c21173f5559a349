package domain

import "time"

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price float64
	Size  float64 // shares available at this price
}

// OrderBook is a snapshot of one outcome token's book together with the
// market constraints needed to normalize orders against it.
type OrderBook struct {
	TokenID      string
	Bids         []PriceLevel // descending by price
	Asks         []PriceLevel // ascending by price
	TickSize     float64
	MinOrderSize float64
	Timestamp    time.Time
}

// BestBid returns the highest bid, or false when the bid side is empty.
func (b OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask, or false when the ask side is empty.
func (b OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}
