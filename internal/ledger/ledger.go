// Package ledger writes the append-only trade ledger: one CSV file per run,
// keyed by the run-start timestamp, with exactly one row per trade attempt
// including rejected and timed-out ones.
package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/jtersteeg/tidebot/internal/domain"
)

// Ledger accumulates trade records and persists them after every append, so
// the on-disk file is always complete up to the last attempt.
type Ledger struct {
	mu      sync.Mutex
	path    string
	records []domain.TradeRecord
}

// New creates a Ledger writing to dir, creating it if needed. The file name
// is derived from runStart.
func New(dir string, runStart time.Time) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create dir: %w", err)
	}
	name := runStart.UTC().Format("20060102T150405") + ".csv"
	return &Ledger{path: filepath.Join(dir, name)}, nil
}

// Append adds one record and rewrites the run file. Records must arrive in
// timestamp order; the ledger never reorders or mutates them.
func (l *Ledger) Append(rec domain.TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)

	file, err := os.Create(l.path)
	if err != nil {
		return fmt.Errorf("ledger: open %s: %w", l.path, err)
	}
	defer file.Close()
	if err := gocsv.MarshalFile(&l.records, file); err != nil {
		return fmt.Errorf("ledger: write %s: %w", l.path, err)
	}
	return nil
}

// Records returns a copy of all appended records.
func (l *Ledger) Records() []domain.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.TradeRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Path returns the run file location.
func (l *Ledger) Path() string {
	return l.path
}

// Load reads a previously written run file back into records.
func Load(path string) ([]domain.TradeRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	defer file.Close()

	var records []domain.TradeRecord
	if err := gocsv.UnmarshalFile(file, &records); err != nil {
		return nil, fmt.Errorf("ledger: read %s: %w", path, err)
	}
	return records, nil
}
