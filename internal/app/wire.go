package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/copybot/internal/blob/s3"
	"github.com/alanyoungcy/copybot/internal/cache/redis"
	"github.com/alanyoungcy/copybot/internal/config"
	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/notify"
	"github.com/alanyoungcy/copybot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	States    domain.BotStateStore
	Trades    domain.CopyTradeStore
	OpLog     domain.OpLogStore
	FeeEvents domain.FeeEventStore
	Sweeps    domain.SweepStore
	Listings  domain.ListingStore

	// Caches and coordination
	Prices   domain.PriceCache
	Balances domain.BalanceCache
	Limiter  domain.RateLimiter
	Locks    domain.LockManager
	Bus      domain.SignalBus

	// Blob storage; nil unless archival is enabled. The concrete type is
	// kept so the modes can run its loop.
	Archiver *s3blob.Archiver

	// Health maps a dependency name to its ping function, consumed by the
	// health endpoint.
	Health map[string]func(context.Context) error

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Health: make(map[string]func(context.Context) error),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.States = postgres.NewBotStateStore(pool)
	deps.Trades = postgres.NewCopyTradeStore(pool)
	deps.OpLog = postgres.NewOpLogStore(pool)
	deps.FeeEvents = postgres.NewFeeEventStore(pool)
	deps.Sweeps = postgres.NewSweepStore(pool)
	deps.Listings = postgres.NewListingStore(pool)
	deps.Health["postgres"] = pool.Ping

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Prices = redis.NewPriceCache(redisClient)
	deps.Balances = redis.NewBalanceCache(redisClient)
	deps.Limiter = redis.NewRateLimiter(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.Bus = redis.NewSignalBus(redisClient)
	deps.Health["redis"] = redisClient.Ping

	// --- S3 archival ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Trades, deps.OpLog, logger)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
