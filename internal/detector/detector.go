// Package detector polls watched traders' public activity and turns new,
// fresh, never-seen trades into signals for the execution pipeline.
package detector

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// TradeFetcher is the slice of the exchange adapter the detector needs.
type TradeFetcher interface {
	FetchPublicTrades(ctx context.Context, address string, limit int) ([]domain.TradeSignal, error)
}

// Config tunes one detector instance.
type Config struct {
	PollInterval    time.Duration
	ActivityLimit   int           // feed entries fetched per address per tick
	StalenessWindow time.Duration // signals older than this are never copied
	DedupTTL        time.Duration
	DedupMaxEntries int
	// FanoutThreshold is the watched-address count above which the detector
	// inserts InterAddressDelay between per-address fetches to stay under
	// the feed's rate limit.
	FanoutThreshold   int
	InterAddressDelay time.Duration
	QueueSize         int
}

// Detector polls the activity feeds of a fixed set of watched addresses and
// emits deduplicated, fresh signals on its output channel. One Detector runs
// per user engine.
type Detector struct {
	fetcher   TradeFetcher
	clock     domain.Clock
	logger    *slog.Logger
	cfg       Config
	addresses []string
	dedup     *DedupCache

	// resume separates history from live trades: signals at or before it
	// are marked but never dispatched. Fixed for the detector's lifetime.
	resume time.Time

	// cursor tracks the newest signal timestamp observed, persisted so a
	// restart knows where history ends.
	cursor time.Time

	// onCursor, when set, is called after each tick that advanced the
	// cursor so the engine can persist it for crash recovery.
	onCursor func(time.Time)

	out chan domain.TradeSignal
}

// New creates a Detector for the given watched addresses. resumeCursor marks
// the boundary between history and live trades; pass the persisted cursor on
// restart or a recent timestamp on a fresh start.
func New(fetcher TradeFetcher, clock domain.Clock, logger *slog.Logger, cfg Config, addresses []string, resumeCursor time.Time) *Detector {
	return &Detector{
		fetcher:   fetcher,
		clock:     clock,
		logger:    logger.With(slog.String("component", "detector")),
		cfg:       cfg,
		addresses: addresses,
		dedup:     NewDedupCache(cfg.DedupTTL, cfg.DedupMaxEntries, cfg.StalenessWindow),
		resume:    resumeCursor,
		cursor:    resumeCursor,
		out:       make(chan domain.TradeSignal, cfg.QueueSize),
	}
}

// OnCursorAdvance registers a callback invoked with the new cursor after any
// tick that advanced it. Must be called before Run.
func (d *Detector) OnCursorAdvance(fn func(time.Time)) {
	d.onCursor = fn
}

// Signals returns the output channel. It is closed when Run returns.
func (d *Detector) Signals() <-chan domain.TradeSignal {
	return d.out
}

// Run polls until the context is cancelled. The first tick fires immediately.
func (d *Detector) Run(ctx context.Context) error {
	defer close(d.out)

	d.tick(ctx)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("detector stopped")
			return ctx.Err()
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick fetches every watched address once. A failing address is logged and
// skipped; the rest of the fan-out proceeds so one flaky feed cannot stall
// the others.
func (d *Detector) tick(ctx context.Context) {
	throttled := len(d.addresses) > d.cfg.FanoutThreshold

	for i, addr := range d.addresses {
		if ctx.Err() != nil {
			return
		}
		if throttled && i > 0 {
			timer := time.NewTimer(d.cfg.InterAddressDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		signals, err := d.fetcher.FetchPublicTrades(ctx, addr, d.cfg.ActivityLimit)
		if err != nil {
			d.logger.Warn("activity fetch failed",
				slog.String("address", addr),
				slog.String("error", err.Error()),
			)
			continue
		}

		d.process(signals)
	}

	d.dedup.Sweep(d.clock.Now())
}

// process walks one address's feed oldest-first so copies execute in the
// order the counterpart traded. The batch is sorted by timestamp rather than
// trusting the feed's ordering.
func (d *Detector) process(signals []domain.TradeSignal) {
	now := d.clock.Now()
	advanced := false

	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Timestamp.Before(signals[j].Timestamp)
	})

	for _, sig := range signals {
		if sig.TxID == "" {
			continue
		}

		if sig.Timestamp.After(d.cursor) {
			d.cursor = sig.Timestamp
			advanced = true
		}

		if d.dedup.Seen(sig.TxID, now) {
			continue
		}
		d.dedup.Mark(sig.TxID, now)

		// History from before this engine session is never copied.
		if !sig.Timestamp.After(d.resume) {
			continue
		}

		if now.Sub(sig.Timestamp) > d.cfg.StalenessWindow {
			d.logger.Debug("stale signal skipped",
				slog.String("tx", sig.TxID),
				slog.Time("observed", sig.Timestamp),
			)
			continue
		}

		d.enqueue(sig)
	}

	if advanced && d.onCursor != nil {
		d.onCursor(d.cursor)
	}
}

// enqueue pushes a signal onto the bounded queue, dropping the oldest queued
// signal when full. Losing the oldest is preferable to blocking the poll
// loop or losing the newest.
func (d *Detector) enqueue(sig domain.TradeSignal) {
	for {
		select {
		case d.out <- sig:
			return
		default:
		}

		select {
		case dropped := <-d.out:
			d.logger.Warn("signal queue full, dropping oldest",
				slog.String("dropped_tx", dropped.TxID),
				slog.String("incoming_tx", sig.TxID),
			)
		default:
		}
	}
}
