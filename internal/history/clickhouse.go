// Package history loads historical candles for backtests and live warmup.
// The primary source is a ClickHouse candles table; the live engine can also
// fall back to the exchange REST klines endpoint.
package history

import (
	"context"
	"fmt"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/jtersteeg/tidebot/internal/domain"
)

// ClickHouseConfig holds connection parameters for the candle warehouse.
type ClickHouseConfig struct {
	Addr     string
	Database string
	User     string
	Password string
	Table    string
}

// ClickHouseSource implements domain.BarSource over a ClickHouse candles
// table laid out as (symbol, interval, open_time_ms, o, h, l, c, volume).
type ClickHouseSource struct {
	conn  clickhouse.Conn
	db    string
	table string
}

// NewClickHouseSource opens a native-protocol connection and verifies it with
// a ping.
func NewClickHouseSource(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseSource, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("history: clickhouse addr is required")
	}
	table := cfg.Table
	if table == "" {
		table = "candles"
	}
	db := cfg.Database
	if db == "" {
		db = "default"
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: db,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history: clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("history: clickhouse ping: %w", err)
	}
	return &ClickHouseSource{conn: conn, db: db, table: table}, nil
}

// Close releases the underlying connection.
func (s *ClickHouseSource) Close() error {
	return s.conn.Close()
}

// Bars returns candles for ticker/tf with open times in [from, to), ordered
// ascending.
func (s *ClickHouseSource) Bars(ctx context.Context, ticker string, tf domain.Timeframe, from, to time.Time) ([]domain.Bar, error) {
	query := fmt.Sprintf(`
		SELECT open_time_ms, open, high, low, close, volume
		FROM %s.%s
		WHERE symbol = ? AND interval = ?
		  AND open_time_ms >= ? AND open_time_ms < ?
		ORDER BY open_time_ms`, s.db, s.table)

	rows, err := s.conn.Query(ctx, query,
		ticker, string(tf), from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("history: query %s %s bars: %w", ticker, tf, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var openMs uint64
		var b domain.Bar
		if err := rows.Scan(&openMs, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("history: scan bar: %w", err)
		}
		b.OpenTime = time.UnixMilli(int64(openMs)).UTC()
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate bars: %w", err)
	}
	return bars, nil
}
