package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/jtersteeg/tidebot/internal/blob/s3"
	"github.com/jtersteeg/tidebot/internal/cache/redis"
	"github.com/jtersteeg/tidebot/internal/config"
	"github.com/jtersteeg/tidebot/internal/crypto"
	"github.com/jtersteeg/tidebot/internal/domain"
	"github.com/jtersteeg/tidebot/internal/exchange"
	"github.com/jtersteeg/tidebot/internal/exchange/binance"
	"github.com/jtersteeg/tidebot/internal/history"
	"github.com/jtersteeg/tidebot/internal/notify"
	"github.com/jtersteeg/tidebot/internal/store/postgres"
	"github.com/jtersteeg/tidebot/internal/strategy"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Exchange is the live trading venue. Nil in backtest mode.
	Exchange exchange.Exchange

	// Recovery persists the crash-recovery record. Nil in backtest mode.
	Recovery domain.RecoveryStore

	// History supplies warmup/backtest candles: the exchange REST API in
	// live mode, the candle warehouse in backtest mode.
	History domain.BarSource

	// TradeStore mirrors the ledger into PostgreSQL. Nil when disabled.
	TradeStore domain.TradeStore

	// Archiver uploads finished ledgers to object storage. Nil when
	// disabled.
	Archiver *s3blob.Archiver

	// Rules is the configured entry/exit rule pair.
	Rules strategy.RuleSet

	// Notifier dispatches operator alerts. Always non-nil; it is a no-op
	// when no channel is configured.
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	live := strings.ToLower(cfg.Mode) == "live"

	// --- Rules ---
	registry := strategy.NewRegistry()
	rules, err := registry.Build(cfg.Trading.EntryRule, cfg.Trading.ExitRule)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: rules: %w", err)
	}
	deps.Rules = rules

	// --- Exchange + Redis (live mode only) ---
	if live {
		auth := &crypto.HMACAuth{
			Key:    cfg.Exchange.APIKey,
			Secret: cfg.Exchange.APISecret,
		}
		client := binance.New(cfg.Exchange.RestURL, auth, logger)
		deps.Exchange = client
		deps.History = client

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
		deps.Recovery = redis.NewRecoveryStore(redisClient)
	}

	// --- ClickHouse candle warehouse (backtest mode only) ---
	if !live {
		source, err := history.NewClickHouseSource(ctx, history.ClickHouseConfig{
			Addr:     cfg.ClickHouse.Addr,
			Database: cfg.ClickHouse.Database,
			User:     cfg.ClickHouse.User,
			Password: cfg.ClickHouse.Password,
			Table:    cfg.ClickHouse.Table,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: clickhouse: %w", err)
		}
		closers = append(closers, func() { _ = source.Close() })
		deps.History = source
	}

	// --- PostgreSQL trade store (optional) ---
	if cfg.Postgres.Enabled {
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
		deps.TradeStore = postgres.NewTradeStore(pgClient)
	}

	// --- S3 ledger archival (optional) ---
	if cfg.S3.Enabled {
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
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3 bucket: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
