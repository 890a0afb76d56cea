package domain

import (
	"context"
	"io"
	"time"
)

// TradeStore persists trade records durably, mirroring the run ledger for
// later querying.
type TradeStore interface {
	InsertBatch(ctx context.Context, runID string, records []TradeRecord) error
	ListByRun(ctx context.Context, runID string) ([]TradeRecord, error)
}

// RecoveryStore persists the small recovery record that survives restarts.
// Load returns ErrNotFound when no record has ever been saved.
type RecoveryStore interface {
	Save(ctx context.Context, rec RecoveryRecord) error
	Load(ctx context.Context) (RecoveryRecord, error)
}

// BarSource supplies historical candles for the backtester.
type BarSource interface {
	Bars(ctx context.Context, ticker string, tf Timeframe, from, to time.Time) ([]Bar, error)
}

// BlobWriter uploads a finished artifact (e.g. a run ledger) to object
// storage. PutMultipart is for payloads large enough to benefit from
// chunked uploads.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string) error
}
