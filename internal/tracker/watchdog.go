package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// MarketReader is the slice of the exchange adapter the watchdog needs to
// judge whether a position can still be exited on the book.
type MarketReader interface {
	GetMarket(ctx context.Context, marketID string) (domain.Market, error)
	GetOrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error)
}

// PositionSeller exits a full position at or above a floor price.
type PositionSeller interface {
	SellPosition(ctx context.Context, pos domain.ActivePosition, minPrice float64) (domain.Fill, error)
}

// ExitFunc is invoked after the watchdog closes a position, with the closing
// fill and the realized PnL. Implementations record the trade, append to the
// op log and notify; errors there must not block further scans.
type ExitFunc func(ctx context.Context, pos domain.ActivePosition, fill domain.Fill, pnl float64)

// WatchdogConfig tunes the take-profit scan.
type WatchdogConfig struct {
	Interval     time.Duration // scan cadence
	BidMaxAge    time.Duration // cached bid older than this falls back to REST
	TakeProfitPct float64      // gain threshold in percent; 0 disables exits
}

// Watchdog periodically scans open positions and exits the ones whose best
// bid has gained past the configured threshold. Positions on markets that
// closed or resolved are dropped; their tokens settle on-chain.
type Watchdog struct {
	tracker *Tracker
	markets MarketReader
	seller  PositionSeller
	prices  domain.PriceCache
	clock   domain.Clock
	logger  *slog.Logger
	cfg     WatchdogConfig
	onExit  ExitFunc
}

// NewWatchdog creates a Watchdog over the given tracker. prices may be nil,
// in which case every bid comes from a REST book fetch.
func NewWatchdog(tracker *Tracker, markets MarketReader, seller PositionSeller, prices domain.PriceCache, clock domain.Clock, logger *slog.Logger, cfg WatchdogConfig, onExit ExitFunc) *Watchdog {
	return &Watchdog{
		tracker: tracker,
		markets: markets,
		seller:  seller,
		prices:  prices,
		clock:   clock,
		logger:  logger.With(slog.String("component", "watchdog")),
		cfg:     cfg,
		onExit:  onExit,
	}
}

// Run scans on the configured interval until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Scan(ctx)
		}
	}
}

// Scan walks the open positions once. Exported so the engine can force a
// pass right after recovery.
func (w *Watchdog) Scan(ctx context.Context) {
	if w.cfg.TakeProfitPct <= 0 {
		return
	}
	for _, pos := range w.tracker.Open() {
		if ctx.Err() != nil {
			return
		}
		w.check(ctx, pos)
	}
}

func (w *Watchdog) check(ctx context.Context, pos domain.ActivePosition) {
	market, err := w.markets.GetMarket(ctx, pos.MarketID)
	if err != nil {
		w.logger.Warn("market lookup failed",
			slog.String("market", pos.MarketID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !market.Tradable() {
		w.logger.Info("market no longer tradable, dropping position for settlement",
			slog.String("position", pos.ID),
			slog.String("market", pos.MarketID),
			slog.String("status", string(market.Status)),
		)
		w.tracker.Drop(pos.TokenID)
		return
	}

	bid, ok := w.bestBid(ctx, pos.TokenID)
	if !ok {
		return
	}

	gain := pos.GainPct(bid)
	if gain < w.cfg.TakeProfitPct {
		return
	}

	closing, ok := w.tracker.MarkClosing(pos.TokenID)
	if !ok {
		return
	}

	w.logger.Info("take-profit threshold hit",
		slog.String("position", closing.ID),
		slog.Float64("entry", closing.EntryPrice),
		slog.Float64("bid", bid),
		slog.Float64("gain_pct", gain),
	)

	// Never exit below entry; a bid that fades mid-sweep must not turn a
	// take-profit into a realized loss.
	fill, err := w.seller.SellPosition(ctx, closing, closing.EntryPrice)
	if err != nil {
		w.logger.Warn("take-profit exit failed, keeping position open",
			slog.String("position", closing.ID),
			slog.String("error", err.Error()),
		)
		w.tracker.Reopen(pos.TokenID)
		return
	}

	pnl, closed, remaining, ok := w.tracker.RecordSell(pos.TokenID, fill)
	if !ok {
		return
	}
	if remaining > 0 {
		// Thin bids left a tail; the next scan retries it.
		w.logger.Info("take-profit exit partially filled",
			slog.String("position", closing.ID),
			slog.Float64("remaining_shares", remaining),
		)
	}
	if w.onExit != nil {
		w.onExit(ctx, closed, fill, pnl)
	}
}

// bestBid prefers the websocket-fed cache and falls back to a REST book
// fetch when the cache misses or the entry has gone stale.
func (w *Watchdog) bestBid(ctx context.Context, tokenID string) (float64, bool) {
	if w.prices != nil {
		price, ts, err := w.prices.GetBid(ctx, tokenID)
		if err == nil && w.clock.Now().Sub(ts) <= w.cfg.BidMaxAge {
			return price, true
		}
	}

	book, err := w.markets.GetOrderBook(ctx, tokenID)
	if err != nil {
		w.logger.Warn("book fetch failed",
			slog.String("token", tokenID),
			slog.String("error", err.Error()),
		)
		return 0, false
	}
	level, ok := book.BestBid()
	if !ok {
		return 0, false
	}
	return level.Price, true
}
