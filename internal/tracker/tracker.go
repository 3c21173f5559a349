// Package tracker maintains the set of open copy positions for one user and
// runs the auto take-profit watchdog over them.
package tracker

import (
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// residualShares is the share tail below which a partially filled exit
// counts as a full close; the exchange cannot fill below its increment, so
// the tail could never be sold anyway.
const residualShares = 0.01

// Tracker is the in-memory position book for one user's engine. All
// mutation goes through its mutex; the watchdog and the execution path
// never race on a position.
type Tracker struct {
	mu        sync.Mutex
	userID    string
	clock     domain.Clock
	logger    *slog.Logger
	positions map[string]domain.ActivePosition // keyed by token ID
}

// New creates an empty Tracker for the given user.
func New(userID string, clock domain.Clock, logger *slog.Logger) *Tracker {
	return &Tracker{
		userID:    userID,
		clock:     clock,
		logger:    logger.With(slog.String("component", "tracker")),
		positions: make(map[string]domain.ActivePosition),
	}
}

// RecordBuy opens a position from a buy fill, or folds the fill into an
// existing position on the same token with a size-weighted entry price.
func (t *Tracker) RecordBuy(sig domain.TradeSignal, fill domain.Fill) domain.ActivePosition {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[sig.TokenID]
	if !ok {
		pos = domain.ActivePosition{
			ID:         uuid.New().String(),
			UserID:     t.userID,
			MarketID:   sig.MarketID,
			TokenID:    sig.TokenID,
			Outcome:    sig.Outcome,
			Trader:     sig.Trader,
			EntryPrice: fill.AvgPrice,
			SizeUSD:    fill.NotionalUSD,
			SizeUnits:  domain.ToBaseUnits(fill.NotionalUSD),
			Shares:     fill.Shares,
			Status:     domain.PositionStatusOpen,
			OpenedAt:   t.clock.Now(),
		}
		t.positions[sig.TokenID] = pos
		return pos
	}

	total := pos.SizeUSD + fill.NotionalUSD
	if total > 0 {
		pos.EntryPrice = (pos.EntryPrice*pos.SizeUSD + fill.AvgPrice*fill.NotionalUSD) / total
	}
	pos.SizeUSD = total
	pos.SizeUnits = domain.ToBaseUnits(total)
	pos.Shares += fill.Shares
	t.positions[sig.TokenID] = pos
	return pos
}

// RecordSell applies a sell fill to the tracked position on a token. The
// realized PnL covers only the sold fraction of the position; a fill smaller
// than the held size leaves the remainder OPEN with its entry price intact.
// The returned position describes the closed slice, and remaining reports
// the shares still held afterwards.
//
// A sell with no tracked position reports zero PnL and false; the trade
// still happened, we just cannot attribute a profit to it.
func (t *Tracker) RecordSell(tokenID string, fill domain.Fill) (pnl float64, closed domain.ActivePosition, remaining float64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, tracked := t.positions[tokenID]
	if !tracked {
		t.logger.Warn("sell with no tracked position, recording zero pnl",
			slog.String("token", tokenID),
		)
		return 0, domain.ActivePosition{}, 0, false
	}

	sold := math.Min(fill.Shares, pos.Shares)
	fraction := 1.0
	if pos.Shares > 0 {
		fraction = sold / pos.Shares
	}
	closedUSD := pos.SizeUSD * fraction
	if pos.EntryPrice > 0 {
		pnl = closedUSD * (fill.AvgPrice - pos.EntryPrice) / pos.EntryPrice
	}

	remaining = pos.Shares - sold
	if remaining < residualShares {
		pos.Status = domain.PositionStatusClosed
		delete(t.positions, tokenID)
		return pnl, pos, 0, true
	}

	closed = pos
	closed.Shares = sold
	closed.SizeUSD = closedUSD
	closed.SizeUnits = domain.ToBaseUnits(closedUSD)
	closed.Status = domain.PositionStatusClosed

	pos.Shares = remaining
	pos.SizeUSD -= closedUSD
	pos.SizeUnits = domain.ToBaseUnits(pos.SizeUSD)
	pos.Status = domain.PositionStatusOpen
	t.positions[tokenID] = pos

	t.logger.Info("partial exit, remainder stays open",
		slog.String("token", tokenID),
		slog.Float64("sold_shares", sold),
		slog.Float64("remaining_shares", remaining),
	)
	return pnl, closed, remaining, true
}

// MarkClosing transitions a position to CLOSING so concurrent signal
// processing leaves it alone while the watchdog exits it. Returns false when
// the position is gone or already closing.
func (t *Tracker) MarkClosing(tokenID string) (domain.ActivePosition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[tokenID]
	if !ok || pos.Status != domain.PositionStatusOpen {
		return domain.ActivePosition{}, false
	}
	pos.Status = domain.PositionStatusClosing
	t.positions[tokenID] = pos
	return pos, true
}

// Reopen reverts a CLOSING position back to OPEN after a failed exit.
func (t *Tracker) Reopen(tokenID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if pos, ok := t.positions[tokenID]; ok && pos.Status == domain.PositionStatusClosing {
		pos.Status = domain.PositionStatusOpen
		t.positions[tokenID] = pos
	}
}

// Drop removes a position without recording PnL. Used when the market
// closed under us and the tokens will settle on-chain instead.
func (t *Tracker) Drop(tokenID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.positions, tokenID)
}

// Held reports whether any position, in any status, is tracked for the
// token.
func (t *Tracker) Held(tokenID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.positions[tokenID]
	return ok
}

// Open returns a snapshot of all open positions.
func (t *Tracker) Open() []domain.ActivePosition {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.ActivePosition, 0, len(t.positions))
	for _, pos := range t.positions {
		if pos.Status == domain.PositionStatusOpen {
			out = append(out, pos)
		}
	}
	return out
}

// Len returns the number of tracked positions in any status.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.positions)
}
