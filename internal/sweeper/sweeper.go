// Package sweeper moves balance above a retention cap to cold storage.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/copybot/internal/domain"
)

const (
	// minInterval throttles balance queries; the data API rate limits them.
	minInterval = time.Hour

	// defaultDustUSD is the smallest excess worth a settlement transfer.
	defaultDustUSD = 10.0
)

// Wallet is the slice of the exchange adapter the sweeper needs.
type Wallet interface {
	FetchBalance(ctx context.Context, address string) (float64, error)
	Cashout(ctx context.Context, amountUnits int64, dest string) (string, error)
}

// Sweeper checks one user's hot balance and sweeps the excess over the
// retention cap to the configured cold address.
type Sweeper struct {
	wallet  Wallet
	sweeps  domain.SweepStore
	clock   domain.Clock
	logger  *slog.Logger
	userID  string
	funder  string
	dustUSD float64

	mu       sync.Mutex
	lastSweep time.Time
}

// New creates a Sweeper for one user. funder is the hot wallet whose balance
// is checked; dustUSD caps how small an excess is still worth a transfer and
// falls back to the default when not positive.
func New(wallet Wallet, sweeps domain.SweepStore, clock domain.Clock, logger *slog.Logger, userID, funder string, dustUSD float64) *Sweeper {
	if dustUSD <= 0 {
		dustUSD = defaultDustUSD
	}
	return &Sweeper{
		wallet:  wallet,
		sweeps:  sweeps,
		clock:   clock,
		logger:  logger.With(slog.String("component", "sweeper")),
		userID:  userID,
		funder:  funder,
		dustUSD: dustUSD,
	}
}

// SweepIfDue checks the balance and sweeps the excess over cfg.RetentionCapUSD.
// It runs at most once per hour unless force is set, and returns nil on every
// no-op: throttled, no cold address configured, or excess within dust.
func (s *Sweeper) SweepIfDue(ctx context.Context, cfg domain.BotConfig, force bool) (*domain.SweepRecord, error) {
	if cfg.ColdAddress == "" {
		return nil, nil
	}

	now := s.clock.Now()
	s.mu.Lock()
	if !force && now.Sub(s.lastSweep) < minInterval {
		s.mu.Unlock()
		return nil, nil
	}
	// The check itself counts against the throttle, swept or not.
	s.lastSweep = now
	s.mu.Unlock()

	balance, err := s.wallet.FetchBalance(ctx, s.funder)
	if err != nil {
		return nil, fmt.Errorf("sweeper: fetch balance: %w", err)
	}

	excess := balance - cfg.RetentionCapUSD
	if excess <= s.dustUSD {
		return nil, nil
	}

	units := domain.ToBaseUnits(excess)
	txRef, err := s.wallet.Cashout(ctx, units, cfg.ColdAddress)
	if err != nil {
		return nil, fmt.Errorf("sweeper: cashout: %w", err)
	}

	rec := domain.SweepRecord{
		ID:          uuid.New().String(),
		UserID:      s.userID,
		AmountUSD:   domain.FromBaseUnits(units),
		AmountUnits: units,
		Destination: cfg.ColdAddress,
		TxRef:       txRef,
		SweptAt:     now,
	}
	if err := s.sweeps.Create(ctx, rec); err != nil {
		s.logger.Error("sweep record persist failed",
			slog.String("tx", txRef),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("excess balance swept",
		slog.Float64("balance_usd", balance),
		slog.Float64("swept_usd", rec.AmountUSD),
		slog.String("dest", cfg.ColdAddress),
		slog.String("tx", txRef),
	)
	return &rec, nil
}
