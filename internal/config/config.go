// Package config defines the top-level configuration for the copy-trading
// bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by COPYBOT_* environment
// variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Copy       CopyConfig       `toml:"copy"`
	Engine     EngineConfig     `toml:"engine"`
	Risk       RiskConfig       `toml:"risk"`
	Fees       FeesConfig       `toml:"fees"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the custody wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	FunderAddress    string `toml:"funder_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	DataHost      string `toml:"data_host"`
	WsHost        string `toml:"ws_host"`
	RelayerHost   string `toml:"relayer_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// CopyConfig holds the signal-detection and sizing parameters shared by all
// engines. Per-user overrides live in the persisted BotConfig.
type CopyConfig struct {
	PollInterval      duration `toml:"poll_interval"`
	ActivityLimit     int      `toml:"activity_limit"`
	StalenessWindow   duration `toml:"staleness_window"`
	DedupTTL          duration `toml:"dedup_ttl"`
	DedupMaxEntries   int      `toml:"dedup_max_entries"`
	FanoutThreshold   int      `toml:"fanout_threshold"`
	InterAddressDelay duration `toml:"inter_address_delay"`
	QueueSize         int      `toml:"queue_size"`
	DefaultMultiplier float64  `toml:"default_multiplier"`
	MinOrderUSD       float64  `toml:"min_order_usd"`
	MaxSweepRetries   int      `toml:"max_sweep_retries"`
	BalanceCacheTTL   duration `toml:"balance_cache_ttl"`
}

// EngineConfig holds bot lifecycle parameters.
type EngineConfig struct {
	FundingThresholdUSD float64  `toml:"funding_threshold_usd"`
	FundingPollInterval duration `toml:"funding_poll_interval"`
	WatchdogInterval    duration `toml:"watchdog_interval"`
	SweepInterval       duration `toml:"sweep_interval"`
	SweepDustUSD        float64  `toml:"sweep_dust_usd"`
	ResumeGraceWindow   duration `toml:"resume_grace_window"`
	CallTimeout         duration `toml:"call_timeout"`
}

// RiskConfig holds risk analyzer parameters.
type RiskConfig struct {
	Enabled  bool     `toml:"enabled"`
	Endpoint string   `toml:"endpoint"`
	APIKey   string   `toml:"api_key"`
	Timeout  duration `toml:"timeout"`
	// FailClosed skips trades when the analyzer errors. The documented
	// default is fail-open: copy the trade anyway.
	FailClosed bool `toml:"fail_closed"`
}

// FeesConfig holds profit-sharing parameters.
type FeesConfig struct {
	ListerSharePct   float64 `toml:"lister_share_pct"`
	PlatformSharePct float64 `toml:"platform_share_pct"`
	DustThresholdUSD float64 `toml:"dust_threshold_usd"`
	PlatformAddress  string  `toml:"platform_address"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds the operator HTTP API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	AuthToken   string   `toml:"auth_token"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			DataHost:      "https://data-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			RelayerHost:   "https://relayer-v2.polymarket.com",
			ChainID:       137,
			SignatureType: 2,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "copybot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "copybot-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Copy: CopyConfig{
			PollInterval:      duration{2 * time.Second},
			ActivityLimit:     25,
			StalenessWindow:   duration{5 * time.Minute},
			DedupTTL:          duration{10 * time.Minute},
			DedupMaxEntries:   1000,
			FanoutThreshold:   3,
			InterAddressDelay: duration{150 * time.Millisecond},
			QueueSize:         64,
			DefaultMultiplier: 1.0,
			MinOrderUSD:       1.0,
			MaxSweepRetries:   3,
			BalanceCacheTTL:   duration{5 * time.Minute},
		},
		Engine: EngineConfig{
			FundingThresholdUSD: 1.0,
			FundingPollInterval: duration{30 * time.Second},
			WatchdogInterval:    duration{10 * time.Second},
			SweepInterval:       duration{time.Hour},
			SweepDustUSD:        10.0,
			ResumeGraceWindow:   duration{2 * time.Minute},
			CallTimeout:         duration{10 * time.Second},
		},
		Risk: RiskConfig{
			Enabled:    false,
			Timeout:    duration{8 * time.Second},
			FailClosed: false,
		},
		Fees: FeesConfig{
			ListerSharePct:   1.0,
			PlatformSharePct: 1.0,
			DustThresholdUSD: 0.01,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "position_closed", "cashout", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":  true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — a credential source is required for trading modes.
	needsWallet := c.Mode == "trade" || c.Mode == "full"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.DataHost == "" {
		errs = append(errs, "polymarket: data_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType != 1 && c.Polymarket.SignatureType != 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 1 (EOA) or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.Copy.PollInterval.Duration <= 0 {
		errs = append(errs, "copy: poll_interval must be > 0")
	}
	if c.Copy.ActivityLimit < 1 {
		errs = append(errs, "copy: activity_limit must be >= 1")
	}
	// The dedup TTL must comfortably exceed the polling interval or an
	// evicted entry could let the same transaction back into the pipeline.
	if c.Copy.DedupTTL.Duration < 10*c.Copy.PollInterval.Duration {
		errs = append(errs, fmt.Sprintf("copy: dedup_ttl %s must be at least 10x poll_interval %s",
			c.Copy.DedupTTL, c.Copy.PollInterval))
	}
	if c.Copy.StalenessWindow.Duration <= 0 {
		errs = append(errs, "copy: staleness_window must be > 0")
	}
	if c.Copy.DefaultMultiplier <= 0 {
		errs = append(errs, "copy: default_multiplier must be > 0")
	}
	if c.Copy.MinOrderUSD <= 0 {
		errs = append(errs, "copy: min_order_usd must be > 0")
	}
	if c.Copy.QueueSize < 1 {
		errs = append(errs, "copy: queue_size must be >= 1")
	}

	if c.Engine.WatchdogInterval.Duration <= 0 {
		errs = append(errs, "engine: watchdog_interval must be > 0")
	}
	if c.Engine.CallTimeout.Duration <= 0 {
		errs = append(errs, "engine: call_timeout must be > 0")
	}

	if c.Risk.Enabled && c.Risk.Endpoint == "" {
		errs = append(errs, "risk: endpoint must not be empty when enabled")
	}

	if c.Fees.ListerSharePct < 0 || c.Fees.ListerSharePct > 100 {
		errs = append(errs, "fees: lister_share_pct must be 0-100")
	}
	if c.Fees.PlatformSharePct < 0 || c.Fees.PlatformSharePct > 100 {
		errs = append(errs, "fees: platform_share_pct must be 0-100")
	}
	if c.Fees.PlatformSharePct > 0 && c.Fees.PlatformAddress == "" && needsWallet {
		errs = append(errs, "fees: platform_address must be set when platform_share_pct > 0")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
