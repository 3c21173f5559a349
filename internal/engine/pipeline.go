package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// handleSignal runs one detected signal through size, risk, execute, track
// and fees. Business rejections produce a skip record and the pipeline moves
// on; only context cancellation stops it.
func (e *Engine) handleSignal(ctx context.Context, sig domain.TradeSignal) {
	if ctx.Err() != nil {
		return
	}

	switch sig.Side {
	case domain.OrderSideSell:
		e.handleSell(ctx, sig)
	default:
		e.handleBuy(ctx, sig)
	}
}

func (e *Engine) handleBuy(ctx context.Context, sig domain.TradeSignal) {
	target, err := e.sizer.Size(ctx, sig, e.botCfg)
	switch {
	case errors.Is(err, domain.ErrTooSmall), errors.Is(err, domain.ErrInsufficientBalance):
		e.recordSkip(ctx, sig, 0, err.Error())
		return
	case err != nil:
		e.logger.Warn("sizing failed", slog.String("tx", sig.TxID), slog.String("error", err.Error()))
		return
	}

	if e.deps.RiskGate != nil {
		verdict := e.deps.RiskGate.Evaluate(ctx, sig, target, e.botCfg)
		if !verdict.ShouldCopy {
			e.recordSkip(ctx, sig, target, "risk: "+verdict.Reasoning)
			return
		}
	}

	market, err := e.deps.Exchange.GetMarket(ctx, sig.MarketID)
	if err != nil {
		e.logger.Warn("market lookup failed", slog.String("market", sig.MarketID), slog.String("error", err.Error()))
		return
	}
	if !market.Tradable() {
		e.recordSkip(ctx, sig, target, domain.ErrMarketClosed.Error())
		return
	}

	fill, err := e.exec.Execute(ctx, sig.TokenID, domain.OrderSideBuy, target, market.NegRisk)
	switch {
	case errors.Is(err, domain.ErrInsufficientLiquidity), errors.Is(err, domain.ErrBelowMinimum):
		e.recordSkip(ctx, sig, target, err.Error())
		return
	case err != nil:
		e.recordFailure(ctx, sig, target, err)
		return
	}

	pos := e.tracker.RecordBuy(sig, fill)
	e.watchToken(sig.TokenID)
	e.recordExecution(ctx, sig, target, fill, 0)
	e.logOp(ctx, "trade_executed", map[string]any{
		"tx":         sig.TxID,
		"side":       string(sig.Side),
		"token":      sig.TokenID,
		"filled_usd": fill.NotionalUSD,
		"avg_price":  fill.AvgPrice,
		"position":   pos.ID,
	})
	e.notify(ctx, "trade_executed", "Copy trade executed",
		fmt.Sprintf("Bought $%.2f of %q at %.3f (copying %s)", fill.NotionalUSD, sig.Outcome, fill.AvgPrice, sig.Trader))
}

// handleSell follows the counterpart out of a position we copied in. With no
// tracked position there is nothing to exit; the signal is skipped.
func (e *Engine) handleSell(ctx context.Context, sig domain.TradeSignal) {
	pos, ok := e.tracker.MarkClosing(sig.TokenID)
	if !ok {
		e.recordSkip(ctx, sig, 0, "no tracked position")
		return
	}

	// Follow them out at whatever the book pays; the copy's thesis left
	// with the counterparty.
	fill, err := e.exec.SellPosition(ctx, pos, 0)
	if err != nil {
		e.tracker.Reopen(sig.TokenID)
		e.recordFailure(ctx, sig, pos.SizeUSD, err)
		return
	}

	pnl, closed, remaining, _ := e.tracker.RecordSell(sig.TokenID, fill)
	if remaining == 0 {
		e.unwatchToken(sig.TokenID)
	}
	e.recordExecution(ctx, sig, pos.SizeUSD, fill, pnl)
	e.settleProfit(ctx, sig.TxID, sig.Trader, closed, fill, pnl, "signal")
}

// onWatchdogExit records a take-profit close driven by the watchdog rather
// than a counterpart signal. The position remembers which counterparty's buy
// opened it, so the close settles fees exactly like a signal-driven exit.
func (e *Engine) onWatchdogExit(ctx context.Context, pos domain.ActivePosition, fill domain.Fill, pnl float64) {
	trade := domain.CopyTrade{
		ID:             uuid.New().String(),
		UserID:         e.userID,
		OriginalTxID:   "auto-tp:" + pos.ID,
		OriginalTrader: pos.Trader,
		MarketID:       pos.MarketID,
		TokenID:        pos.TokenID,
		Outcome:        pos.Outcome,
		Side:           domain.OrderSideSell,
		IntendedUSD:    pos.SizeUSD,
		FilledUSD:      fill.NotionalUSD,
		FilledUnits:    domain.ToBaseUnits(fill.NotionalUSD),
		AvgPrice:       fill.AvgPrice,
		Shares:         fill.Shares,
		RealizedPnL:    pnl,
		Result:         domain.SignalExecuted,
		OrderIDs:       fill.OrderIDs,
		ExecutedAt:     e.deps.Clock.Now(),
	}
	e.persistTrade(ctx, trade)
	if !e.tracker.Held(pos.TokenID) {
		e.unwatchToken(pos.TokenID)
	}
	e.recordStats(ctx, fill.NotionalUSD, pnl, 0)
	e.settleProfit(ctx, trade.ID, pos.Trader, pos, fill, pnl, "auto_take_profit")
}

// watchToken subscribes the live market feed to a token we just bought into.
// The subscription keeps the price cache warm for the watchdog.
func (e *Engine) watchToken(tokenID string) {
	if e.deps.Feed == nil {
		return
	}
	if err := e.deps.Feed.Watch(tokenID); err != nil {
		e.logger.Warn("feed subscribe failed", slog.String("token", tokenID), slog.String("error", err.Error()))
	}
}

func (e *Engine) unwatchToken(tokenID string) {
	if e.deps.Feed == nil {
		return
	}
	if err := e.deps.Feed.Unwatch(tokenID); err != nil {
		e.logger.Warn("feed unsubscribe failed", slog.String("token", tokenID), slog.String("error", err.Error()))
	}
}

// settleProfit distributes fees on a profitable close and emits the op log
// and notification for the exit.
func (e *Engine) settleProfit(ctx context.Context, tradeID, trader string, pos domain.ActivePosition, fill domain.Fill, pnl float64, cause string) {
	var feesPaid float64
	if trader != "" {
		evt, err := e.fees.Distribute(ctx, e.userID, tradeID, trader, pnl)
		if err != nil {
			e.logger.Error("fee distribution failed", slog.String("trade", tradeID), slog.String("error", err.Error()))
		}
		if evt != nil {
			feesPaid = evt.ListerShareUSD + evt.PlatformShareUSD
			e.recordStats(ctx, 0, 0, feesPaid)
			e.logOp(ctx, "fees_paid", map[string]any{
				"trade":        tradeID,
				"lister_usd":   evt.ListerShareUSD,
				"platform_usd": evt.PlatformShareUSD,
			})
		}
	}

	e.logOp(ctx, "position_closed", map[string]any{
		"position":   pos.ID,
		"token":      pos.TokenID,
		"pnl_usd":    pnl,
		"cause":      cause,
		"filled_usd": fill.NotionalUSD,
	})
	e.notify(ctx, "position_closed", "Position closed",
		fmt.Sprintf("Closed %q for $%.2f PnL (%s)", pos.Outcome, pnl, cause))
}

func (e *Engine) recordExecution(ctx context.Context, sig domain.TradeSignal, intended float64, fill domain.Fill, pnl float64) {
	e.persistTrade(ctx, domain.CopyTrade{
		ID:             uuid.New().String(),
		UserID:         e.userID,
		OriginalTxID:   sig.TxID,
		OriginalTrader: sig.Trader,
		MarketID:       sig.MarketID,
		TokenID:        sig.TokenID,
		Outcome:        sig.Outcome,
		Side:           sig.Side,
		IntendedUSD:    intended,
		FilledUSD:      fill.NotionalUSD,
		FilledUnits:    domain.ToBaseUnits(fill.NotionalUSD),
		AvgPrice:       fill.AvgPrice,
		Shares:         fill.Shares,
		RealizedPnL:    pnl,
		Result:         domain.SignalExecuted,
		OrderIDs:       fill.OrderIDs,
		ExecutedAt:     e.deps.Clock.Now(),
	})
	e.recordStats(ctx, fill.NotionalUSD, pnl, 0)
}

func (e *Engine) recordSkip(ctx context.Context, sig domain.TradeSignal, intended float64, reason string) {
	e.logger.Info("signal skipped",
		slog.String("tx", sig.TxID),
		slog.String("reason", reason),
	)
	e.persistTrade(ctx, domain.CopyTrade{
		ID:             uuid.New().String(),
		UserID:         e.userID,
		OriginalTxID:   sig.TxID,
		OriginalTrader: sig.Trader,
		MarketID:       sig.MarketID,
		TokenID:        sig.TokenID,
		Outcome:        sig.Outcome,
		Side:           sig.Side,
		IntendedUSD:    intended,
		Result:         domain.SignalSkipped,
		SkipReason:     reason,
		ExecutedAt:     e.deps.Clock.Now(),
	})
	e.logOp(ctx, "signal_skipped", map[string]any{"tx": sig.TxID, "reason": reason})
}

func (e *Engine) recordFailure(ctx context.Context, sig domain.TradeSignal, intended float64, cause error) {
	e.logger.Error("copy trade failed",
		slog.String("tx", sig.TxID),
		slog.String("error", cause.Error()),
	)
	e.persistTrade(ctx, domain.CopyTrade{
		ID:             uuid.New().String(),
		UserID:         e.userID,
		OriginalTxID:   sig.TxID,
		OriginalTrader: sig.Trader,
		MarketID:       sig.MarketID,
		TokenID:        sig.TokenID,
		Outcome:        sig.Outcome,
		Side:           sig.Side,
		IntendedUSD:    intended,
		Result:         domain.SignalFailed,
		SkipReason:     cause.Error(),
		ExecutedAt:     e.deps.Clock.Now(),
	})
	e.logOp(ctx, "trade_failed", map[string]any{"tx": sig.TxID, "error": cause.Error()})
	e.notify(ctx, "error", "Copy trade failed", cause.Error())
}

// persistTrade writes one trade record. A duplicate means another code path
// already recorded this transaction; that is fine, the unique index is the
// cross-restart dedup of last resort.
func (e *Engine) persistTrade(ctx context.Context, trade domain.CopyTrade) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
	defer cancel()

	err := e.deps.Trades.Create(cctx, trade)
	if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		e.logger.Warn("trade persist failed",
			slog.String("tx", trade.OriginalTxID),
			slog.String("error", err.Error()),
		)
	}
}
