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
// built-in defaults, applies TIDEBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known TIDEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.RestURL, "TIDEBOT_EXCHANGE_REST_URL")
	setStr(&cfg.Exchange.StreamURL, "TIDEBOT_EXCHANGE_STREAM_URL")
	setStr(&cfg.Exchange.APIKey, "TIDEBOT_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.APISecret, "TIDEBOT_EXCHANGE_API_SECRET")

	// ── Trading ──
	setStr(&cfg.Trading.Base, "TIDEBOT_TRADING_BASE")
	setStringSlice(&cfg.Trading.Coins, "TIDEBOT_TRADING_COINS")
	setFloat64(&cfg.Trading.BaseAmount, "TIDEBOT_TRADING_BASE_AMOUNT")
	setFloat64(&cfg.Trading.SinkLimitPct, "TIDEBOT_TRADING_SINK_LIMIT_PCT")
	setDuration(&cfg.Trading.MaxHold, "TIDEBOT_TRADING_MAX_HOLD")
	setInt(&cfg.Trading.MaxTradesPerMinute, "TIDEBOT_TRADING_MAX_TRADES_PER_MINUTE")
	setStr(&cfg.Trading.EntryRule, "TIDEBOT_TRADING_ENTRY_RULE")
	setStr(&cfg.Trading.ExitRule, "TIDEBOT_TRADING_EXIT_RULE")
	setFloat64(&cfg.Trading.Fee, "TIDEBOT_TRADING_FEE")
	setFloat64(&cfg.Trading.EstSlip, "TIDEBOT_TRADING_EST_SLIP")
	setStr(&cfg.Trading.FeeAsset, "TIDEBOT_TRADING_FEE_ASSET")
	setBool(&cfg.Trading.AwaitStart, "TIDEBOT_TRADING_AWAIT_START")

	// ── Backtest ──
	setInt(&cfg.Backtest.WarmupBars, "TIDEBOT_BACKTEST_WARMUP_BARS")
	setFloat64(&cfg.Backtest.Fee, "TIDEBOT_BACKTEST_FEE")
	setFloat64(&cfg.Backtest.EstSlip, "TIDEBOT_BACKTEST_EST_SLIP")
	setTime(&cfg.Backtest.Start, "TIDEBOT_BACKTEST_START")
	setTime(&cfg.Backtest.End, "TIDEBOT_BACKTEST_END")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TIDEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TIDEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TIDEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TIDEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TIDEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TIDEBOT_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TIDEBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "TIDEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TIDEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TIDEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TIDEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TIDEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TIDEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TIDEBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TIDEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TIDEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TIDEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── ClickHouse ──
	setStr(&cfg.ClickHouse.Addr, "TIDEBOT_CLICKHOUSE_ADDR")
	setStr(&cfg.ClickHouse.Database, "TIDEBOT_CLICKHOUSE_DATABASE")
	setStr(&cfg.ClickHouse.User, "TIDEBOT_CLICKHOUSE_USER")
	setStr(&cfg.ClickHouse.Password, "TIDEBOT_CLICKHOUSE_PASSWORD")
	setStr(&cfg.ClickHouse.Table, "TIDEBOT_CLICKHOUSE_TABLE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TIDEBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TIDEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TIDEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "TIDEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TIDEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TIDEBOT_S3_SECRET_KEY")
	setStr(&cfg.S3.Prefix, "TIDEBOT_S3_PREFIX")
	setBool(&cfg.S3.UseSSL, "TIDEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TIDEBOT_S3_FORCE_PATH_STYLE")

	// ── Ledger ──
	setStr(&cfg.Ledger.Dir, "TIDEBOT_LEDGER_DIR")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "TIDEBOT_METRICS_ENABLED")
	setInt(&cfg.Metrics.Port, "TIDEBOT_METRICS_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TIDEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TIDEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TIDEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TIDEBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TIDEBOT_MODE")
	setStr(&cfg.LogLevel, "TIDEBOT_LOG_LEVEL")
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

func setTime(dst *time.Time, key string) {
	if v := os.Getenv(key); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			*dst = t
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
