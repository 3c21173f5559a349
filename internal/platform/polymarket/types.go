package polymarket

import (
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// ---------------------------------------------------------------------------
// Data API
// ---------------------------------------------------------------------------

// APIActivity is one entry of the public activity feed.
type APIActivity struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Timestamp       int64   `json:"timestamp"` // unix seconds
	ConditionID     string  `json:"conditionId"`
	Type            string  `json:"type"`
	Asset           string  `json:"asset"`
	Side            string  `json:"side"`
	Outcome         string  `json:"outcome"`
	Title           string  `json:"title"`
	Size            float64 `json:"size"`
	UsdcSize        float64 `json:"usdcSize"`
	Price           float64 `json:"price"`
	TransactionHash string  `json:"transactionHash"`
}

// ToSignal converts an activity entry into a normalized trade signal.
func (a APIActivity) ToSignal() domain.TradeSignal {
	return domain.TradeSignal{
		TxID:          a.TransactionHash,
		Trader:        strings.ToLower(a.ProxyWallet),
		MarketID:      a.ConditionID,
		TokenID:       a.Asset,
		Outcome:       a.Outcome,
		Side:          domain.OrderSide(strings.ToUpper(a.Side)),
		NotionalUSD:   a.UsdcSize,
		NotionalUnits: domain.ToBaseUnits(a.UsdcSize),
		Price:         a.Price,
		Question:      a.Title,
		Timestamp:     time.Unix(a.Timestamp, 0).UTC(),
	}
}

// ---------------------------------------------------------------------------
// Gamma API
// ---------------------------------------------------------------------------

// APIMarket is the Gamma market object, trimmed to the fields the pipeline
// reads. Numeric fields arrive as JSON strings.
type APIMarket struct {
	ConditionID   string `json:"conditionId"`
	Question      string `json:"question"`
	Slug          string `json:"slug"`
	Outcomes      string `json:"outcomes"`      // JSON-encoded array, e.g. `["Yes","No"]`
	ClobTokenIDs  string `json:"clobTokenIds"`  // JSON-encoded array
	NegRisk       bool   `json:"negRisk"`
	Active        bool   `json:"active"`
	Closed        bool   `json:"closed"`
	EndDate       string `json:"endDate"`
	OrderMinSize  any    `json:"orderMinSize"`      // string or number depending on endpoint
	TickSize      any    `json:"orderPriceMinTickSize"`
	UmaResolution string `json:"umaResolutionStatus"`
}

// ToDomainMarket converts the Gamma payload into a domain Market.
func (m APIMarket) ToDomainMarket() domain.Market {
	out := domain.Market{
		ID:           m.ConditionID,
		Question:     m.Question,
		Slug:         m.Slug,
		Outcomes:     decodeStringArray(m.Outcomes),
		TokenIDs:     decodeStringArray(m.ClobTokenIDs),
		NegRisk:      m.NegRisk,
		TickSize:     anyToFloat(m.TickSize, 0.01),
		MinOrderSize: anyToFloat(m.OrderMinSize, 5),
		Status:       domain.MarketStatusActive,
	}

	if m.Closed {
		out.Status = domain.MarketStatusClosed
		if m.UmaResolution == "resolved" {
			out.Status = domain.MarketStatusResolved
		}
		if ts, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			out.ClosedAt = &ts
		}
	} else if !m.Active {
		out.Status = domain.MarketStatusClosed
	}

	return out
}

// decodeStringArray parses Gamma's stringified JSON arrays without pulling in
// a decoder for the two-element common case. Falls back to an empty slice on
// malformed input.
func decodeStringArray(s string) []string {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil
	}
	inner := s[1 : len(s)-1]
	if inner == "" {
		return nil
	}
	parts := strings.Split(inner, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, `"`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func anyToFloat(v any, fallback float64) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	return fallback
}

// ---------------------------------------------------------------------------
// CLOB API
// ---------------------------------------------------------------------------

// APIBookLevel is one price level of the CLOB book response.
type APIBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// APIBook is the CLOB order book response.
type APIBook struct {
	Market       string         `json:"market"`
	AssetID      string         `json:"asset_id"`
	Bids         []APIBookLevel `json:"bids"`
	Asks         []APIBookLevel `json:"asks"`
	TickSize     string         `json:"tick_size"`
	MinOrderSize string         `json:"min_order_size"`
	Timestamp    string         `json:"timestamp"` // unix millis
}

// ToDomainBook converts the CLOB payload, sorting bids descending and asks
// ascending so sweep execution can walk them front to back.
func (b APIBook) ToDomainBook() domain.OrderBook {
	out := domain.OrderBook{
		TokenID:      b.AssetID,
		Bids:         toLevels(b.Bids),
		Asks:         toLevels(b.Asks),
		TickSize:     parseFloat(b.TickSize, 0.01),
		MinOrderSize: parseFloat(b.MinOrderSize, 5),
		Timestamp:    time.Now().UTC(),
	}
	if ms, err := strconv.ParseInt(b.Timestamp, 10, 64); err == nil && ms > 0 {
		out.Timestamp = time.UnixMilli(ms).UTC()
	}

	sortLevels(out.Bids, true)
	sortLevels(out.Asks, false)
	return out
}

func toLevels(in []APIBookLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, l := range in {
		price := parseFloat(l.Price, 0)
		size := parseFloat(l.Size, 0)
		if price <= 0 || size <= 0 {
			continue
		}
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	return out
}

// sortLevels is an insertion sort; books rarely exceed a few dozen levels
// and usually arrive ordered already.
func sortLevels(levels []domain.PriceLevel, desc bool) {
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0; j-- {
			swap := levels[j].Price > levels[j-1].Price
			if desc == swap {
				levels[j], levels[j-1] = levels[j-1], levels[j]
			} else {
				break
			}
		}
	}
}

func parseFloat(s string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return fallback
}

// APIOrderResult is the CLOB response to order submission.
type APIOrderResult struct {
	Success  bool   `json:"success"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
	ErrorMsg string `json:"errorMsg"`
}

// ToDomainOrderResult converts the CLOB response, flagging auth-expiry
// rejections so the executor can re-derive credentials.
func (r APIOrderResult) ToDomainOrderResult() domain.OrderResult {
	return domain.OrderResult{
		Success:     r.Success,
		OrderID:     r.OrderID,
		Status:      r.Status,
		Message:     r.ErrorMsg,
		AuthExpired: isAuthExpiredMessage(r.ErrorMsg),
	}
}

func isAuthExpiredMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "unauthorized") ||
		strings.Contains(m, "api key") ||
		strings.Contains(m, "invalid signature") ||
		strings.Contains(m, "not authenticated")
}

// ---------------------------------------------------------------------------
// WebSocket market channel
// ---------------------------------------------------------------------------

// WSCommand is a subscription command on the market channel.
type WSCommand struct {
	Type     string   `json:"type"`
	Channel  string   `json:"channel"`
	AssetIDs []string `json:"assets_ids"`
}

// BookMessage is a full book snapshot pushed on the "book" event.
type BookMessage struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Bids      []APIBookLevel `json:"bids"`
	Asks      []APIBookLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
}

// PriceChangeMessage is an incremental level update on "price_change".
type PriceChangeMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Changes   []struct {
		Price string `json:"price"`
		Side  string `json:"side"`
		Size  string `json:"size"`
	} `json:"changes"`
	Timestamp string `json:"timestamp"`
}
