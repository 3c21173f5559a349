package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COPYBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COPYBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "COPYBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.FunderAddress, "COPYBOT_WALLET_FUNDER_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "COPYBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "COPYBOT_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "COPYBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "COPYBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.DataHost, "COPYBOT_POLYMARKET_DATA_HOST")
	setStr(&cfg.Polymarket.WsHost, "COPYBOT_POLYMARKET_WS_HOST")
	setStr(&cfg.Polymarket.RelayerHost, "COPYBOT_POLYMARKET_RELAYER_HOST")
	setInt(&cfg.Polymarket.ChainID, "COPYBOT_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "COPYBOT_POLYMARKET_SIGNATURE_TYPE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "COPYBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "COPYBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "COPYBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "COPYBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "COPYBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "COPYBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "COPYBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "COPYBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "COPYBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "COPYBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "COPYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COPYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COPYBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COPYBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COPYBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COPYBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "COPYBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COPYBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "COPYBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COPYBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COPYBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COPYBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COPYBOT_S3_FORCE_PATH_STYLE")

	// ── Copy ──
	setDuration(&cfg.Copy.PollInterval, "COPYBOT_COPY_POLL_INTERVAL")
	setInt(&cfg.Copy.ActivityLimit, "COPYBOT_COPY_ACTIVITY_LIMIT")
	setDuration(&cfg.Copy.StalenessWindow, "COPYBOT_COPY_STALENESS_WINDOW")
	setDuration(&cfg.Copy.DedupTTL, "COPYBOT_COPY_DEDUP_TTL")
	setInt(&cfg.Copy.DedupMaxEntries, "COPYBOT_COPY_DEDUP_MAX_ENTRIES")
	setFloat64(&cfg.Copy.DefaultMultiplier, "COPYBOT_COPY_DEFAULT_MULTIPLIER")
	setFloat64(&cfg.Copy.MinOrderUSD, "COPYBOT_COPY_MIN_ORDER_USD")
	setInt(&cfg.Copy.MaxSweepRetries, "COPYBOT_COPY_MAX_SWEEP_RETRIES")
	setDuration(&cfg.Copy.BalanceCacheTTL, "COPYBOT_COPY_BALANCE_CACHE_TTL")

	// ── Engine ──
	setFloat64(&cfg.Engine.FundingThresholdUSD, "COPYBOT_ENGINE_FUNDING_THRESHOLD_USD")
	setDuration(&cfg.Engine.FundingPollInterval, "COPYBOT_ENGINE_FUNDING_POLL_INTERVAL")
	setDuration(&cfg.Engine.WatchdogInterval, "COPYBOT_ENGINE_WATCHDOG_INTERVAL")
	setDuration(&cfg.Engine.SweepInterval, "COPYBOT_ENGINE_SWEEP_INTERVAL")
	setFloat64(&cfg.Engine.SweepDustUSD, "COPYBOT_ENGINE_SWEEP_DUST_USD")
	setDuration(&cfg.Engine.CallTimeout, "COPYBOT_ENGINE_CALL_TIMEOUT")

	// ── Risk ──
	setBool(&cfg.Risk.Enabled, "COPYBOT_RISK_ENABLED")
	setStr(&cfg.Risk.Endpoint, "COPYBOT_RISK_ENDPOINT")
	setStr(&cfg.Risk.APIKey, "COPYBOT_RISK_API_KEY")
	setDuration(&cfg.Risk.Timeout, "COPYBOT_RISK_TIMEOUT")
	setBool(&cfg.Risk.FailClosed, "COPYBOT_RISK_FAIL_CLOSED")

	// ── Fees ──
	setFloat64(&cfg.Fees.ListerSharePct, "COPYBOT_FEES_LISTER_SHARE_PCT")
	setFloat64(&cfg.Fees.PlatformSharePct, "COPYBOT_FEES_PLATFORM_SHARE_PCT")
	setFloat64(&cfg.Fees.DustThresholdUSD, "COPYBOT_FEES_DUST_THRESHOLD_USD")
	setStr(&cfg.Fees.PlatformAddress, "COPYBOT_FEES_PLATFORM_ADDRESS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "COPYBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "COPYBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "COPYBOT_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "COPYBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "COPYBOT_SERVER_PORT")
	setStr(&cfg.Server.AuthToken, "COPYBOT_SERVER_AUTH_TOKEN")
	setStringSlice(&cfg.Server.CORSOrigins, "COPYBOT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COPYBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COPYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COPYBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COPYBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "COPYBOT_MODE")
	setStr(&cfg.LogLevel, "COPYBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				cleaned = append(cleaned, t)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
