// Package config defines the top-level configuration for the trading engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TIDEBOT_* environment variables.
type Config struct {
	Exchange   ExchangeConfig   `toml:"exchange"`
	Trading    TradingConfig    `toml:"trading"`
	Backtest   BacktestConfig   `toml:"backtest"`
	Redis      RedisConfig      `toml:"redis"`
	Postgres   PostgresConfig   `toml:"postgres"`
	ClickHouse ClickHouseConfig `toml:"clickhouse"`
	S3         S3Config         `toml:"s3"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ExchangeConfig holds the spot exchange REST/stream endpoints and API
// credentials.
type ExchangeConfig struct {
	RestURL   string `toml:"rest_url"`
	StreamURL string `toml:"stream_url"`
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
}

// TradingConfig holds the live engine's position and risk parameters.
type TradingConfig struct {
	// Base is the quote asset everything is traded against, e.g. "USDT".
	Base string `toml:"base"`
	// Coins are the asset symbols in the basket, e.g. ["BTC", "ETH"].
	Coins []string `toml:"coins"`
	// BaseAmount is the base-currency notional committed per entry.
	BaseAmount float64 `toml:"base_amount"`
	// SinkLimitPct is the drawdown stop in percent below entry price.
	SinkLimitPct float64 `toml:"sink_limit_pct"`
	// MaxHold is the time stop.
	MaxHold duration `toml:"max_hold"`
	// MaxTradesPerMinute caps order submissions in any wall-clock minute.
	MaxTradesPerMinute int `toml:"max_trades_per_minute"`
	// EntryRule and ExitRule name registered strategy rules.
	EntryRule string `toml:"entry_rule"`
	ExitRule  string `toml:"exit_rule"`
	// Fee is the per-leg commission ratio. Zero means discover it from the
	// exchange at startup.
	Fee float64 `toml:"fee"`
	// EstSlip is the slippage ratio assumed when sizing entries.
	EstSlip float64 `toml:"est_slip"`
	// FeeAsset is the discount asset whose balance is reported in the ledger
	// (e.g. "BNB"). Empty disables the column.
	FeeAsset string `toml:"fee_asset"`
	// AwaitStart delays the first evaluation until the next minute edge.
	AwaitStart bool `toml:"await_start"`
}

// BacktestConfig holds the simulator's replay parameters.
type BacktestConfig struct {
	// Start trims history so trading begins at this instant; warmup bars
	// before it are still loaded. Zero starts at the first bar.
	Start time.Time `toml:"start"`
	// End bounds the history query. Zero means now.
	End time.Time `toml:"end"`
	// WarmupBars is the number of 1m bars rules see before trading starts.
	WarmupBars int     `toml:"warmup_bars"`
	Fee        float64 `toml:"fee"`
	EstSlip    float64 `toml:"est_slip"`
}

// RedisConfig holds Redis connection parameters for the recovery store.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters for the trade store.
// Enabled gates the whole store; the ledger CSV is always written.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// ClickHouseConfig holds the candle warehouse connection for backtests.
type ClickHouseConfig struct {
	Addr     string `toml:"addr"`
	Database string `toml:"database"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Table    string `toml:"table"`
}

// S3Config holds S3-compatible object storage parameters for ledger archival.
// Enabled gates the upload at shutdown.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	Prefix         string `toml:"prefix"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// LedgerConfig holds the local CSV ledger location.
type LedgerConfig struct {
	Dir string `toml:"dir"`
}

// MetricsConfig holds the Prometheus endpoint parameters.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds notification channel credentials. A channel is active
// when its credentials are set; Events filters which alerts go out.
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
		Exchange: ExchangeConfig{
			RestURL:   "https://api.binance.com",
			StreamURL: "wss://stream.binance.com:9443",
		},
		Trading: TradingConfig{
			Base:               "USDT",
			Coins:              []string{"BTC"},
			BaseAmount:         100,
			SinkLimitPct:       6,
			MaxHold:            duration{time.Hour},
			MaxTradesPerMinute: 2,
			EntryRule:          "mean_reversion_entry",
			ExitRule:           "mean_reversion_exit",
			EstSlip:            0.001,
			FeeAsset:           "BNB",
			AwaitStart:         true,
		},
		Backtest: BacktestConfig{
			WarmupBars: 180,
			Fee:        0.00075,
			EstSlip:    0.001,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tidebot",
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		ClickHouse: ClickHouseConfig{
			Addr:     "localhost:9000",
			Database: "default",
			Table:    "candles",
		},
		S3: S3Config{
			Region:         "us-east-1",
			Prefix:         "ledgers",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Ledger: LedgerConfig{
			Dir: "ledgers",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9100,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "position_closed", "trade_failed", "error"},
		},
		Mode:     "live",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":     true,
	"backtest": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, backtest)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Trading
	if c.Trading.Base == "" {
		errs = append(errs, "trading: base must not be empty")
	}
	if len(c.Trading.Coins) == 0 {
		errs = append(errs, "trading: coins must not be empty")
	}
	for _, coin := range c.Trading.Coins {
		if coin == c.Trading.Base {
			errs = append(errs, fmt.Sprintf("trading: coin %q equals the base asset", coin))
		}
	}
	if c.Trading.BaseAmount <= 0 {
		errs = append(errs, "trading: base_amount must be > 0")
	}
	if c.Trading.SinkLimitPct <= 0 || c.Trading.SinkLimitPct >= 100 {
		errs = append(errs, fmt.Sprintf("trading: sink_limit_pct must be in (0, 100), got %g", c.Trading.SinkLimitPct))
	}
	if c.Trading.MaxHold.Duration <= 0 {
		errs = append(errs, "trading: max_hold must be > 0")
	}
	if c.Trading.MaxTradesPerMinute < 1 {
		errs = append(errs, "trading: max_trades_per_minute must be >= 1")
	}
	if c.Trading.EntryRule == "" || c.Trading.ExitRule == "" {
		errs = append(errs, "trading: entry_rule and exit_rule must be set")
	}
	if c.Trading.Fee < 0 || c.Trading.Fee >= 0.1 {
		errs = append(errs, fmt.Sprintf("trading: fee must be in [0, 0.1), got %g", c.Trading.Fee))
	}
	if c.Trading.EstSlip < 0 || c.Trading.EstSlip >= 0.1 {
		errs = append(errs, fmt.Sprintf("trading: est_slip must be in [0, 0.1), got %g", c.Trading.EstSlip))
	}

	mode := strings.ToLower(c.Mode)

	// Live mode needs exchange credentials, Redis, and a ledger directory.
	if mode == "live" {
		if c.Exchange.RestURL == "" {
			errs = append(errs, "exchange: rest_url must not be empty")
		}
		if c.Exchange.StreamURL == "" {
			errs = append(errs, "exchange: stream_url must not be empty")
		}
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			errs = append(errs, "exchange: api_key and api_secret are required for live mode")
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Backtest mode needs the candle warehouse.
	if mode == "backtest" {
		if c.ClickHouse.Addr == "" {
			errs = append(errs, "clickhouse: addr must not be empty")
		}
		if c.Backtest.WarmupBars < 0 {
			errs = append(errs, "backtest: warmup_bars must be >= 0")
		}
		if !c.Backtest.Start.IsZero() && !c.Backtest.End.IsZero() && !c.Backtest.End.After(c.Backtest.Start) {
			errs = append(errs, "backtest: end must be after start")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Ledger
	if c.Ledger.Dir == "" {
		errs = append(errs, "ledger: dir must not be empty")
	}

	// Metrics
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			errs = append(errs, fmt.Sprintf("metrics: port must be 1-65535, got %d", c.Metrics.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
