// Package executor sizes copy trades proportionally to the counterparty's
// bankroll and fills them by sweeping the order book.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// BankrollFetcher is the slice of the exchange adapter the sizer needs.
type BankrollFetcher interface {
	FetchBalance(ctx context.Context, address string) (float64, error)
	FetchPositionsValue(ctx context.Context, address string) (float64, error)
}

// Sizer computes the USD notional for one copy trade. The idea is to mirror
// the counterparty's conviction, not their dollar amount: a trader betting
// 5% of their bankroll moves 5% of ours (times the configured multiplier).
type Sizer struct {
	fetcher    BankrollFetcher
	balances   domain.BalanceCache
	logger     *slog.Logger
	funder     string
	balanceTTL time.Duration
}

// NewSizer creates a Sizer. funder is our own collateral address; balanceTTL
// bounds how stale a cached counterparty bankroll may be.
func NewSizer(fetcher BankrollFetcher, balances domain.BalanceCache, logger *slog.Logger, funder string, balanceTTL time.Duration) *Sizer {
	return &Sizer{
		fetcher:    fetcher,
		balances:   balances,
		logger:     logger.With(slog.String("component", "sizer")),
		funder:     funder,
		balanceTTL: balanceTTL,
	}
}

// Size returns the target USD notional for copying sig under botCfg.
//
// It returns domain.ErrTooSmall when the proportional size lands below the
// minimum order, and domain.ErrInsufficientBalance when our own balance
// cannot cover even a minimum order. Both are skips, not failures.
func (s *Sizer) Size(ctx context.Context, sig domain.TradeSignal, cfg domain.BotConfig) (float64, error) {
	ourBalance, err := s.fetcher.FetchBalance(ctx, s.funder)
	if err != nil {
		return 0, fmt.Errorf("executor: fetch own balance: %w", err)
	}
	if ourBalance < cfg.MinOrderUSD {
		return 0, fmt.Errorf("executor: balance %.2f below minimum order %.2f: %w",
			ourBalance, cfg.MinOrderUSD, domain.ErrInsufficientBalance)
	}

	theirBankroll, err := s.counterpartyBankroll(ctx, sig.Trader)
	if err != nil {
		return 0, fmt.Errorf("executor: counterparty bankroll: %w", err)
	}

	// The trade itself is already part of their exposure; folding it into
	// the denominator keeps a whale's first trade from sizing at 100%.
	denom := theirBankroll + sig.NotionalUSD
	if denom < 1 {
		denom = 1
	}
	ratio := ourBalance / denom

	target := sig.NotionalUSD * ratio * cfg.Multiplier
	// Floor in base units so settlement never exceeds the target.
	target = domain.FromBaseUnits(domain.ToBaseUnits(target))

	if target > ourBalance {
		target = ourBalance
	}
	if target < cfg.MinOrderUSD {
		return 0, fmt.Errorf("executor: sized %.2f below minimum order %.2f: %w",
			target, cfg.MinOrderUSD, domain.ErrTooSmall)
	}

	s.logger.Debug("sized copy trade",
		slog.String("trader", sig.Trader),
		slog.Float64("their_trade_usd", sig.NotionalUSD),
		slog.Float64("their_bankroll_usd", theirBankroll),
		slog.Float64("our_balance_usd", ourBalance),
		slog.Float64("target_usd", target),
	)
	return target, nil
}

// counterpartyBankroll returns the counterparty's open-position value,
// floored at $1 so a fresh wallet cannot force a divide-by-zero blowup.
// Values are cached; a poll loop sizing several of their trades in a row
// should not hammer the data API.
func (s *Sizer) counterpartyBankroll(ctx context.Context, trader string) (float64, error) {
	if cached, ok, err := s.balances.Get(ctx, trader); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.logger.Warn("balance cache read failed",
			slog.String("trader", trader),
			slog.String("error", err.Error()),
		)
	}

	value, err := s.fetcher.FetchPositionsValue(ctx, trader)
	if err != nil {
		return 0, err
	}
	if value < 1 {
		value = 1
	}

	if err := s.balances.Set(ctx, trader, value, s.balanceTTL); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("balance cache write failed",
			slog.String("trader", trader),
			slog.String("error", err.Error()),
		)
	}
	return value, nil
}
