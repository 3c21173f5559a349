package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/copybot/internal/crypto"
	"github.com/alanyoungcy/copybot/internal/detector"
	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/engine"
	"github.com/alanyoungcy/copybot/internal/fees"
	"github.com/alanyoungcy/copybot/internal/platform/polymarket"
	"github.com/alanyoungcy/copybot/internal/risk"
	"github.com/alanyoungcy/copybot/internal/server"
	"github.com/alanyoungcy/copybot/internal/server/handler"
)

// TradeMode runs engines headless: persisted bots are recovered and run
// until the context is cancelled. No HTTP surface.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	mgr, err := a.buildManager(ctx, deps)
	if err != nil {
		return err
	}

	if err := mgr.Recover(ctx); err != nil {
		a.logger.Warn("bot recovery incomplete", slog.String("error", err.Error()))
	}
	a.startArchiver(ctx, deps)

	<-ctx.Done()
	a.shutdownManager(mgr)
	return nil
}

// ServerMode runs the operator HTTP API with an engine manager behind it.
// Bots start only on request; nothing is auto-recovered, which makes this
// mode safe to run next to a trade-mode instance owning the same database.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	mgr, err := a.buildManager(ctx, deps)
	if err != nil {
		return err
	}
	return a.serveAPI(ctx, deps, mgr)
}

// FullMode is the single-process deployment: recovery, engines, archival and
// the operator API together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	mgr, err := a.buildManager(ctx, deps)
	if err != nil {
		return err
	}

	if err := mgr.Recover(ctx); err != nil {
		a.logger.Warn("bot recovery incomplete", slog.String("error", err.Error()))
	}
	a.startArchiver(ctx, deps)

	return a.serveAPI(ctx, deps, mgr)
}

// buildManager assembles the exchange adapter, live market feed, risk gate
// and engine manager from the wired dependencies.
func (a *App) buildManager(ctx context.Context, deps *Dependencies) (*engine.Manager, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("app: load wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(key, a.cfg.Polymarket.ChainID)
	if err != nil {
		return nil, fmt.Errorf("app: signer: %w", err)
	}

	adapter := polymarket.NewAdapter(polymarket.AdapterConfig{
		ClobHost:      a.cfg.Polymarket.ClobHost,
		GammaHost:     a.cfg.Polymarket.GammaHost,
		DataHost:      a.cfg.Polymarket.DataHost,
		RelayerHost:   a.cfg.Polymarket.RelayerHost,
		Funder:        a.cfg.Wallet.FunderAddress,
		SignatureType: a.cfg.Polymarket.SignatureType,
	}, signer)

	var feed engine.MarketFeed
	if a.cfg.Polymarket.WsHost != "" {
		ws := polymarket.NewWSClient(a.cfg.Polymarket.WsHost)
		ws.OnBid(func(tokenID string, price float64, ts time.Time) {
			if err := deps.Prices.SetBid(context.Background(), tokenID, price, ts); err != nil {
				a.logger.Warn("bid cache write failed",
					slog.String("token", tokenID),
					slog.String("error", err.Error()),
				)
			}
		})
		if err := ws.Connect(ctx); err != nil {
			// The watchdog falls back to REST quotes, so a dead feed
			// costs latency, not correctness.
			a.logger.Warn("market feed unavailable", slog.String("error", err.Error()))
		} else {
			a.closers = append(a.closers, func() { _ = ws.Close() })
			feed = ws
		}
	}

	var gate *risk.Gate
	if a.cfg.Risk.Enabled {
		analyzer := risk.NewClient(a.cfg.Risk.Endpoint, a.cfg.Risk.APIKey, a.cfg.Risk.Timeout.Duration)
		gate = risk.NewGate(analyzer, a.logger)
	}

	engDeps := engine.Deps{
		Exchange:  adapter,
		States:    deps.States,
		Trades:    deps.Trades,
		OpLog:     deps.OpLog,
		FeeEvents: deps.FeeEvents,
		Sweeps:    deps.Sweeps,
		Listings:  deps.Listings,
		Locks:     deps.Locks,
		Limiter:   deps.Limiter,
		Balances:  deps.Balances,
		Prices:    deps.Prices,
		Bus:       deps.Bus,
		Feed:      feed,
		Notifier:  deps.Notifier,
		RiskGate:  gate,
		Clock:     domain.RealClock{},
	}
	engCfg := engine.Config{
		Detector: detector.Config{
			PollInterval:      a.cfg.Copy.PollInterval.Duration,
			ActivityLimit:     a.cfg.Copy.ActivityLimit,
			StalenessWindow:   a.cfg.Copy.StalenessWindow.Duration,
			DedupTTL:          a.cfg.Copy.DedupTTL.Duration,
			DedupMaxEntries:   a.cfg.Copy.DedupMaxEntries,
			FanoutThreshold:   a.cfg.Copy.FanoutThreshold,
			InterAddressDelay: a.cfg.Copy.InterAddressDelay.Duration,
			QueueSize:         a.cfg.Copy.QueueSize,
		},
		FundingThresholdUSD: a.cfg.Engine.FundingThresholdUSD,
		FundingPollInterval: a.cfg.Engine.FundingPollInterval.Duration,
		WatchdogInterval:    a.cfg.Engine.WatchdogInterval.Duration,
		SweepInterval:       a.cfg.Engine.SweepInterval.Duration,
		SweepDustUSD:        a.cfg.Engine.SweepDustUSD,
		ResumeGraceWindow:   a.cfg.Engine.ResumeGraceWindow.Duration,
		CallTimeout:         a.cfg.Engine.CallTimeout.Duration,
		BalanceCacheTTL:     a.cfg.Copy.BalanceCacheTTL.Duration,
		MaxOrderRejects:     a.cfg.Copy.MaxSweepRetries,
		Fees: fees.Config{
			// Config percentages are human-scale (1.0 means 1%); the
			// distributor works in fractions.
			ListerPct:       a.cfg.Fees.ListerSharePct / 100,
			PlatformPct:     a.cfg.Fees.PlatformSharePct / 100,
			PlatformAddress: a.cfg.Fees.PlatformAddress,
			DustUSD:         a.cfg.Fees.DustThresholdUSD,
		},
	}

	return engine.NewManager(engDeps, engCfg, a.logger), nil
}

// serveAPI runs the HTTP server until the context is cancelled or the
// listener fails, then shuts down the server and the manager.
func (a *App) serveAPI(ctx context.Context, deps *Dependencies, mgr *engine.Manager) error {
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AuthToken:   a.cfg.Server.AuthToken,
		RateLimiter: deps.Limiter,
	}, server.Handlers{
		Health: handler.NewHealthHandler(deps.Health),
		Bots:   handler.NewBotHandler(mgr, deps.OpLog, deps.Trades, deps.FeeEvents, deps.Sweeps, a.logger),
	}, a.logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("server shutdown failed", slog.String("error", err.Error()))
	}
	a.shutdownManager(mgr)
	return serveErr
}

// startArchiver launches the cold-storage archival loop when enabled.
func (a *App) startArchiver(ctx context.Context, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	go deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration, retention)
}

func (a *App) shutdownManager(mgr *engine.Manager) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	mgr.Shutdown(shutdownCtx)
}
