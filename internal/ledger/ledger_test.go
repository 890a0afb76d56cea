package ledger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jtersteeg/tidebot/internal/domain"
)

func sampleRecords() []domain.TradeRecord {
	buyTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []domain.TradeRecord{
		{
			Timestamp:      buyTime,
			Close:          100.5,
			Buying:         true,
			Ticker:         "BTCUSDT",
			CoinAmount:     0.995,
			Cause:          "dip",
			SlipPct:        0.01,
			FeeAssetAmount: 1.2,
			Base:           "USDT",
		},
		{
			Timestamp:   buyTime.Add(12 * time.Minute),
			Close:       101.8,
			Ticker:      "BTCUSDT",
			BaseAmount:  101.1,
			ProfitPct:   1.1,
			TimeHeldMin: 12,
			Cause:       "peak",
			Base:        "USDT",
		},
		{
			Timestamp: buyTime.Add(30 * time.Minute),
			Close:     100.2,
			Buying:    true,
			Ticker:    "BTCUSDT",
			Cause:     "dip",
			Failure:   domain.FailSlowFill,
			Base:      "USDT",
		},
	}
}

func TestPathUsesRunStart(t *testing.T) {
	dir := t.TempDir()
	runStart := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	led, err := New(dir, runStart)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := filepath.Join(dir, "20240301T123045.csv")
	if led.Path() != want {
		t.Errorf("Path = %q, want %q", led.Path(), want)
	}
}

func TestAppendPersistsAfterEveryRow(t *testing.T) {
	led, err := New(t.TempDir(), time.Now())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i, rec := range sampleRecords() {
		if err := led.Append(rec); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		onDisk, err := Load(led.Path())
		if err != nil {
			t.Fatalf("Load after append %d: %v", i, err)
		}
		if len(onDisk) != i+1 {
			t.Fatalf("rows on disk = %d after append %d", len(onDisk), i)
		}
	}
}

func TestLoadRoundTrip(t *testing.T) {
	led, err := New(t.TempDir(), time.Now())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	records := sampleRecords()
	for _, rec := range records {
		if err := led.Append(rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	loaded, err := Load(led.Path())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != len(records) {
		t.Fatalf("loaded %d records, want %d", len(loaded), len(records))
	}
	for i, got := range loaded {
		want := records[i]
		if !got.Timestamp.Equal(want.Timestamp) {
			t.Errorf("record %d: Timestamp = %v, want %v", i, got.Timestamp, want.Timestamp)
		}
		if got.Close != want.Close || got.Buying != want.Buying || got.Ticker != want.Ticker {
			t.Errorf("record %d: %+v != %+v", i, got, want)
		}
		if got.Cause != want.Cause || got.Failure != want.Failure {
			t.Errorf("record %d: cause/failure %q/%q, want %q/%q",
				i, got.Cause, got.Failure, want.Cause, want.Failure)
		}
		if got.ProfitPct != want.ProfitPct || got.TimeHeldMin != want.TimeHeldMin {
			t.Errorf("record %d: profit/held %v/%v, want %v/%v",
				i, got.ProfitPct, got.TimeHeldMin, want.ProfitPct, want.TimeHeldMin)
		}
	}
}

func TestRecordsReturnsCopy(t *testing.T) {
	led, err := New(t.TempDir(), time.Now())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := led.Append(sampleRecords()[0]); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got := led.Records()
	got[0].Ticker = "mutated"
	if led.Records()[0].Ticker != "BTCUSDT" {
		t.Error("Records exposed internal slice")
	}
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.csv")
	if _, err := Load(path); err == nil {
		t.Fatal("Load succeeded on missing file")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("Load created the missing file")
	}
}
