// Package fees pays the lister of a copied account and the platform their
// share of realized profit.
package fees

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// Payer is the slice of the exchange adapter that moves collateral.
type Payer interface {
	Cashout(ctx context.Context, amountUnits int64, dest string) (string, error)
}

// Config tunes fee distribution.
type Config struct {
	ListerPct       float64 // lister's cut of realized profit, e.g. 0.01
	PlatformPct     float64 // platform's cut
	PlatformAddress string
	DustUSD         float64 // shares below this are not worth a transfer
}

// Distributor turns a profitable closing trade into two settlement
// transfers. It produces an event only when both transfers settled; a
// partial failure is logged and yields no event so nothing is double counted
// on a later retry.
type Distributor struct {
	payer    Payer
	listings domain.ListingStore
	events   domain.FeeEventStore
	clock    domain.Clock
	logger   *slog.Logger
	cfg      Config
}

// New creates a Distributor.
func New(payer Payer, listings domain.ListingStore, events domain.FeeEventStore, clock domain.Clock, logger *slog.Logger, cfg Config) *Distributor {
	return &Distributor{
		payer:    payer,
		listings: listings,
		events:   events,
		clock:    clock,
		logger:   logger.With(slog.String("component", "fees")),
		cfg:      cfg,
	}
}

// Distribute pays out the fee shares for one closing trade. It returns
// (nil, nil) on every no-op: profit at or below zero, an unlisted
// counterparty, or a dust-sized share.
func (d *Distributor) Distribute(ctx context.Context, userID, tradeID, trader string, profitUSD float64) (*domain.FeeDistributionEvent, error) {
	if profitUSD <= 0 {
		return nil, nil
	}

	lister, err := d.listings.ListerOf(ctx, trader)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fees: lister lookup: %w", err)
	}

	listerUSD := profitUSD * d.cfg.ListerPct
	platformUSD := profitUSD * d.cfg.PlatformPct
	if listerUSD < d.cfg.DustUSD || platformUSD < d.cfg.DustUSD {
		d.logger.Debug("fee shares below dust, skipping",
			slog.String("trade", tradeID),
			slog.Float64("lister_usd", listerUSD),
			slog.Float64("platform_usd", platformUSD),
		)
		return nil, nil
	}

	listerUnits := domain.ToBaseUnits(listerUSD)
	platformUnits := domain.ToBaseUnits(platformUSD)

	var listerTx, platformTx string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ref, err := d.payer.Cashout(gctx, listerUnits, lister)
		if err != nil {
			return fmt.Errorf("lister transfer: %w", err)
		}
		listerTx = ref
		return nil
	})
	g.Go(func() error {
		ref, err := d.payer.Cashout(gctx, platformUnits, d.cfg.PlatformAddress)
		if err != nil {
			return fmt.Errorf("platform transfer: %w", err)
		}
		platformTx = ref
		return nil
	})
	if err := g.Wait(); err != nil {
		d.logger.Error("fee payout incomplete, no event recorded",
			slog.String("trade", tradeID),
			slog.String("lister_tx", listerTx),
			slog.String("platform_tx", platformTx),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("fees: %w", err)
	}

	evt := domain.FeeDistributionEvent{
		ID:               uuid.New().String(),
		UserID:           userID,
		TradeID:          tradeID,
		ProfitUSD:        profitUSD,
		ListerShareUSD:   listerUSD,
		PlatformShareUSD: platformUSD,
		ListerUnits:      listerUnits,
		PlatformUnits:    platformUnits,
		ListerAddress:    lister,
		PlatformAddress:  d.cfg.PlatformAddress,
		ListerTxRef:      listerTx,
		PlatformTxRef:    platformTx,
		CreatedAt:        d.clock.Now(),
	}
	if err := d.events.Create(ctx, evt); err != nil {
		// Money has moved; the missing row is a reporting gap, not a
		// reason to fail the pipeline.
		d.logger.Error("fee event persist failed",
			slog.String("trade", tradeID),
			slog.String("error", err.Error()),
		)
	}

	d.logger.Info("fees distributed",
		slog.String("trade", tradeID),
		slog.Float64("profit_usd", profitUSD),
		slog.Float64("lister_usd", listerUSD),
		slog.Float64("platform_usd", platformUSD),
		slog.String("lister", lister),
	)
	return &evt, nil
}
