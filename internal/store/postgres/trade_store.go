package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jtersteeg/tidebot/internal/domain"
)

// TradeStore implements domain.TradeStore on a PostgreSQL trades table.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given client.
func NewTradeStore(client *Client) *TradeStore {
	return &TradeStore{pool: client.Pool()}
}

const insertTradeSQL = `
	INSERT INTO trades (
		run_id, ts, close_price, buying, ticker,
		coin_amount, base_amount, profit_pct, time_held_min,
		cause, failure, slip_pct, fee_asset_amount, base
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

// InsertBatch writes the given records in a single batch under one run id.
func (s *TradeStore) InsertBatch(ctx context.Context, runID string, records []domain.TradeRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(insertTradeSQL,
			runID, r.Timestamp, r.Close, r.Buying, r.Ticker,
			r.CoinAmount, r.BaseAmount, r.ProfitPct, r.TimeHeldMin,
			r.Cause, string(r.Failure), r.SlipPct, r.FeeAssetAmount, r.Base,
		)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade %d/%d: %w", i+1, len(records), err)
		}
	}
	return nil
}

// ListByRun returns all records for a run ordered by timestamp.
func (s *TradeStore) ListByRun(ctx context.Context, runID string) ([]domain.TradeRecord, error) {
	const query = `
		SELECT ts, close_price, buying, ticker,
		       coin_amount, base_amount, profit_pct, time_held_min,
		       cause, failure, slip_pct, fee_asset_amount, base
		FROM trades
		WHERE run_id = $1
		ORDER BY ts`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var records []domain.TradeRecord
	for rows.Next() {
		var r domain.TradeRecord
		var failure string
		if err := rows.Scan(
			&r.Timestamp, &r.Close, &r.Buying, &r.Ticker,
			&r.CoinAmount, &r.BaseAmount, &r.ProfitPct, &r.TimeHeldMin,
			&r.Cause, &failure, &r.SlipPct, &r.FeeAssetAmount, &r.Base,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		r.Failure = domain.FailureKind(failure)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate trades: %w", err)
	}
	return records, nil
}
