// Package engine runs one copy-trading bot per user: the lifecycle state
// machine, the signal-to-order pipeline, and the periodic watchdog and sweep
// tasks, supervised across users by a Manager.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/copybot/internal/detector"
	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/executor"
	"github.com/alanyoungcy/copybot/internal/fees"
	"github.com/alanyoungcy/copybot/internal/risk"
	"github.com/alanyoungcy/copybot/internal/sweeper"
	"github.com/alanyoungcy/copybot/internal/tracker"
)

const (
	lockTTL = 5 * time.Minute
	// lockRenewEvery keeps the lease alive well inside its TTL; two
	// renewals can fail transiently before the lock actually expires.
	lockRenewEvery = lockTTL / 3
	oplogChannel   = "oplog"
	stopWaitLimit  = 15 * time.Second
)

// Notifier is the fire-and-forget alert surface. Failures are logged by the
// implementation and never block the pipeline.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// MarketFeed keeps live book subscriptions aligned with the tokens the
// engine holds. Implementations push best bids into the shared price cache,
// which the watchdog reads before falling back to REST.
type MarketFeed interface {
	Watch(tokenIDs ...string) error
	Unwatch(tokenIDs ...string) error
}

// Deps bundles the external collaborators an Engine trades through. Bus,
// Prices, Limiter, Balances, Feed and Notifier may be nil; the engine
// degrades to direct calls and silence.
type Deps struct {
	Exchange  domain.ExchangeAdapter
	States    domain.BotStateStore
	Trades    domain.CopyTradeStore
	OpLog     domain.OpLogStore
	FeeEvents domain.FeeEventStore
	Sweeps    domain.SweepStore
	Listings  domain.ListingStore
	Locks     domain.LockManager
	Limiter   domain.RateLimiter
	Balances  domain.BalanceCache
	Prices    domain.PriceCache
	Bus       domain.SignalBus
	Feed      MarketFeed
	Notifier  Notifier
	RiskGate  *risk.Gate
	Clock     domain.Clock
}

// Config holds the engine parameters shared by every user.
type Config struct {
	Detector            detector.Config
	FundingThresholdUSD float64
	FundingPollInterval time.Duration
	WatchdogInterval    time.Duration
	SweepInterval       time.Duration
	SweepDustUSD        float64
	ResumeGraceWindow   time.Duration
	CallTimeout         time.Duration
	BalanceCacheTTL     time.Duration
	MaxOrderRejects     int
	Fees                fees.Config
}

// Engine is one user's running bot. It owns the position tracker and every
// periodic task; nothing outside the engine mutates its state.
type Engine struct {
	userID string
	deps   Deps
	cfg    Config
	logger *slog.Logger

	botCfg domain.BotConfig
	resume time.Time

	tracker *tracker.Tracker
	sizer   *executor.Sizer
	exec    *executor.Executor
	sweep   *sweeper.Sweeper
	fees    *fees.Distributor

	mu    sync.Mutex
	phase domain.BotPhase
	stats domain.BotStats

	cancel context.CancelFunc
	done   chan struct{}
}

func newEngine(userID string, botCfg domain.BotConfig, resume time.Time, deps Deps, cfg Config, logger *slog.Logger) *Engine {
	logger = logger.With(slog.String("component", "engine"), slog.String("user", userID))

	e := &Engine{
		userID: userID,
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		botCfg: botCfg,
		resume: resume,
		phase:  domain.PhaseStopped,
		done:   make(chan struct{}),
	}
	e.tracker = tracker.New(userID, deps.Clock, logger)
	e.sizer = executor.NewSizer(deps.Exchange, deps.Balances, logger, deps.Exchange.FunderAddress(), cfg.BalanceCacheTTL)
	e.exec = executor.New(deps.Exchange, deps.Limiter, logger, cfg.MaxOrderRejects)
	e.sweep = sweeper.New(deps.Exchange, deps.Sweeps, deps.Clock, logger, userID, deps.Exchange.FunderAddress(), cfg.SweepDustUSD)
	e.fees = fees.New(deps.Exchange, deps.Listings, deps.FeeEvents, deps.Clock, logger, cfg.Fees)
	return e
}

// Phase returns the engine's current lifecycle phase.
func (e *Engine) Phase() domain.BotPhase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// run drives the state machine to completion. It returns when the context is
// cancelled or a setup step fails fatally.
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	lease, err := e.deps.Locks.Acquire(ctx, "engine:"+e.userID, lockTTL)
	if err != nil {
		e.logger.Error("engine lock unavailable, another process owns this user",
			slog.String("error", err.Error()),
		)
		e.transition(ctx, domain.PhaseStopped, false)
		return
	}
	defer lease.Release()

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go e.renewLock(hbCtx, lease, lockRenewEvery)

	e.transition(ctx, domain.PhaseFundingWait, true)
	if err := e.waitForFunding(ctx); err != nil {
		e.fatal(ctx, "funding wait aborted", err)
		return
	}

	e.transition(ctx, domain.PhaseAuthenticating, true)
	if err := e.deps.Exchange.EnsureApprovals(ctx); err != nil {
		e.fatal(ctx, "approvals failed", err)
		return
	}
	if err := e.deps.Exchange.Authenticate(ctx); err != nil {
		e.fatal(ctx, "authentication failed", err)
		return
	}

	e.transition(ctx, domain.PhaseRunning, true)
	e.runPipeline(ctx)

	e.transition(context.WithoutCancel(ctx), domain.PhaseStopped, false)
	e.logger.Info("engine stopped")
}

// renewLock extends the engine lease on a cadence well inside its TTL so a
// session longer than the TTL keeps exclusive ownership of the user. Losing
// the lease means another process owns this user now; trading on must stop,
// so the engine cancels itself.
func (e *Engine) renewLock(ctx context.Context, lease domain.LockLease, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lease.Extend(ctx, lockTTL); err != nil {
				if ctx.Err() != nil {
					return
				}
				e.logger.Error("engine lock lost, shutting down",
					slog.String("error", err.Error()),
				)
				if e.cancel != nil {
					e.cancel()
				}
				return
			}
		}
	}
}

// waitForFunding polls the custody balance until it clears the threshold. No
// authentication or feed traffic happens while unfunded.
func (e *Engine) waitForFunding(ctx context.Context) error {
	funder := e.deps.Exchange.FunderAddress()
	for {
		balance, err := e.deps.Exchange.FetchBalance(ctx, funder)
		if err != nil {
			e.logger.Warn("funding check failed", slog.String("error", err.Error()))
		} else if balance >= e.cfg.FundingThresholdUSD {
			e.logger.Info("account funded", slog.Float64("balance_usd", balance))
			return nil
		} else {
			e.logger.Info("waiting for funding",
				slog.Float64("balance_usd", balance),
				slog.Float64("threshold_usd", e.cfg.FundingThresholdUSD),
			)
		}

		timer := time.NewTimer(e.cfg.FundingPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// runPipeline starts the detector, the signal consumer, the take-profit
// watchdog and the sweep loop, then blocks until the context is cancelled.
func (e *Engine) runPipeline(ctx context.Context) {
	det := detector.New(e.deps.Exchange, e.deps.Clock, e.logger, e.cfg.Detector, e.botCfg.WatchedAddresses, e.resume)
	det.OnCursorAdvance(func(cursor time.Time) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
		defer cancel()
		if err := e.deps.States.UpdateCursor(cctx, e.userID, cursor); err != nil {
			e.logger.Warn("cursor persist failed", slog.String("error", err.Error()))
		}
	})

	dog := tracker.NewWatchdog(e.tracker, e.deps.Exchange, e.exec, e.deps.Prices, e.deps.Clock, e.logger,
		tracker.WatchdogConfig{
			Interval:      e.cfg.WatchdogInterval,
			BidMaxAge:     e.cfg.WatchdogInterval,
			TakeProfitPct: e.botCfg.AutoTakeProfitPct,
		}, e.onWatchdogExit)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		det.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		dog.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		e.sweepLoop(ctx)
	}()

	// One forced sweep check on entry; a bot restarted after weeks away may
	// be sitting on a large excess.
	if _, err := e.sweep.SweepIfDue(ctx, e.botCfg, true); err != nil {
		e.logger.Warn("startup sweep failed", slog.String("error", err.Error()))
	}

	for sig := range det.Signals() {
		e.handleSignal(ctx, sig)
	}
	wg.Wait()
}

func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec, err := e.sweep.SweepIfDue(ctx, e.botCfg, false)
			if err != nil {
				e.logger.Warn("sweep failed", slog.String("error", err.Error()))
				continue
			}
			if rec != nil {
				e.logOp(ctx, "sweep", map[string]any{
					"amount_usd": rec.AmountUSD,
					"dest":       rec.Destination,
					"tx":         rec.TxRef,
				})
				e.notify(ctx, "cashout", "Funds swept",
					"Swept excess balance to cold storage")
			}
		}
	}
}

// transition records a phase change in memory, in the store and on the op
// log. Store failures are logged; the in-process machine is authoritative
// while running.
func (e *Engine) transition(ctx context.Context, phase domain.BotPhase, running bool) {
	e.mu.Lock()
	from := e.phase
	e.phase = phase
	e.mu.Unlock()

	e.logger.Info("phase transition",
		slog.String("from", string(from)),
		slog.String("to", string(phase)),
	)

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
	defer cancel()
	if err := e.deps.States.SetRunning(cctx, e.userID, running, phase); err != nil {
		e.logger.Warn("phase persist failed", slog.String("error", err.Error()))
	}
	e.logOp(ctx, "phase_change", map[string]any{"from": string(from), "to": string(phase)})
}

// fatal handles an unrecoverable setup error: log, stop, surface on the op
// log. The engine requires an explicit restart afterwards.
func (e *Engine) fatal(ctx context.Context, msg string, err error) {
	if ctx.Err() != nil {
		// A cancelled start is a stop, not a failure.
		e.transition(context.WithoutCancel(ctx), domain.PhaseStopped, false)
		return
	}
	e.logger.Error(msg, slog.String("error", err.Error()))
	e.logOp(ctx, "startup_failed", map[string]any{"reason": msg, "error": err.Error()})
	e.notify(ctx, "error", "Bot startup failed", msg+": "+err.Error())
	e.transition(context.WithoutCancel(ctx), domain.PhaseStopped, false)
}

// logOp appends to the persistent op log and mirrors the entry onto the
// signal bus for live dashboards.
func (e *Engine) logOp(ctx context.Context, event string, detail map[string]any) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
	defer cancel()

	if err := e.deps.OpLog.Log(cctx, e.userID, event, detail); err != nil {
		e.logger.Warn("op log append failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
	if e.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"user":   e.userID,
		"event":  event,
		"detail": detail,
	})
	if err != nil {
		return
	}
	if err := e.deps.Bus.Publish(cctx, oplogChannel, payload); err != nil {
		e.logger.Debug("op log publish failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) notify(ctx context.Context, event, title, message string) {
	if e.deps.Notifier == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
	defer cancel()
	if err := e.deps.Notifier.Notify(cctx, event, title, message); err != nil {
		e.logger.Debug("notification failed", slog.String("error", err.Error()))
	}
}

// recordStats folds one trade into the cumulative stats and persists them.
func (e *Engine) recordStats(ctx context.Context, volumeUSD, pnl, feesPaid float64) {
	e.mu.Lock()
	e.stats.TradeCount++
	e.stats.VolumeUSD += volumeUSD
	e.stats.RealizedPnL += pnl
	e.stats.FeesPaidUSD += feesPaid
	stats := e.stats
	e.mu.Unlock()

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
	defer cancel()
	if err := e.deps.States.UpdateStats(cctx, e.userID, stats); err != nil {
		e.logger.Warn("stats persist failed", slog.String("error", err.Error()))
	}
}
