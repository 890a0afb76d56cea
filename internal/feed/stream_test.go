package feed

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jtersteeg/tidebot/internal/domain"
)

func newTestStream(tickers ...string) *Stream {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStream("wss://example.invalid:9443", tickers, logger)
}

func klineFrame(symbol, interval string, openMs int64, close float64, closed bool) []byte {
	return []byte(fmt.Sprintf(
		`{"stream":"%s@kline_%s","data":{"e":"kline","s":"%s","k":{"t":%d,"i":"%s","o":"100.0","h":"101.0","l":"99.0","c":"%g","v":"12.5","x":%t}}}`,
		symbol, interval, symbol, openMs, interval, close, closed,
	))
}

func TestHandleMessageOpenCandleUpdatesLastPrice(t *testing.T) {
	s := newTestStream("BTCUSDT")
	openMs := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()

	s.handleMessage(klineFrame("BTCUSDT", "1m", openMs, 100.42, false))

	if got := s.LastPrice("BTCUSDT"); got != 100.42 {
		t.Errorf("LastPrice = %v, want 100.42", got)
	}
	if s.Updated(domain.Timeframe1m) {
		t.Error("open candle flipped the updated flag")
	}
	if s.LastSeen().IsZero() {
		t.Error("LastSeen not advanced")
	}
}

func TestHandleMessageClosedCandleKeyedByCloseTime(t *testing.T) {
	s := newTestStream("BTCUSDT")
	open := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	s.handleMessage(klineFrame("BTCUSDT", "1m", open.UnixMilli(), 100.5, true))

	if !s.Updated(domain.Timeframe1m) {
		t.Fatal("updated flag not set after a full 1m set")
	}
	bars := s.Take(domain.Timeframe1m)
	bar, ok := bars["BTCUSDT"]
	if !ok {
		t.Fatalf("bars = %v", bars)
	}
	if !bar.OpenTime.Equal(open.Add(time.Minute)) {
		t.Errorf("bar keyed at %v, want close time %v", bar.OpenTime, open.Add(time.Minute))
	}
	if bar.Close != 100.5 || bar.Open != 100 || bar.High != 101 || bar.Low != 99 || bar.Volume != 12.5 {
		t.Errorf("bar = %+v", bar)
	}

	// Take clears both the bucket and the flag.
	if s.Updated(domain.Timeframe1m) {
		t.Error("updated flag survived Take")
	}
	if got := s.Take(domain.Timeframe1m); len(got) != 0 {
		t.Errorf("second Take = %v, want empty", got)
	}
}

func TestHandleMessageWaitsForAllTickers(t *testing.T) {
	s := newTestStream("BTCUSDT", "ETHUSDT")
	openMs := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()

	s.handleMessage(klineFrame("BTCUSDT", "15m", openMs, 100, true))
	if s.Updated(domain.Timeframe15m) {
		t.Fatal("updated flag set with one of two tickers delivered")
	}

	s.handleMessage(klineFrame("ETHUSDT", "15m", openMs, 200, true))
	if !s.Updated(domain.Timeframe15m) {
		t.Fatal("updated flag not set after both tickers delivered")
	}
	bars := s.Take(domain.Timeframe15m)
	if len(bars) != 2 {
		t.Errorf("bars = %v", bars)
	}
	if bars["BTCUSDT"].OpenTime != bars["ETHUSDT"].OpenTime {
		t.Error("bars for the same period carry different timestamps")
	}
}

func TestHandleMessageTimeframesAreIndependent(t *testing.T) {
	s := newTestStream("BTCUSDT")
	openMs := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()

	s.handleMessage(klineFrame("BTCUSDT", "1h", openMs, 100, true))
	if s.Updated(domain.Timeframe1m) || s.Updated(domain.Timeframe15m) {
		t.Error("1h candle leaked into another timeframe")
	}
	if !s.Updated(domain.Timeframe1h) {
		t.Error("1h updated flag not set")
	}
}

func TestHandleMessageIgnoresGarbage(t *testing.T) {
	s := newTestStream("BTCUSDT")

	s.handleMessage([]byte(`not json`))
	s.handleMessage([]byte(`{"stream":"x","data":"nope"}`))
	s.handleMessage(klineFrame("BTCUSDT", "5m", 0, 100, true)) // untracked interval

	for _, tf := range domain.Timeframes() {
		if s.Updated(tf) {
			t.Errorf("updated flag set for %s by garbage input", tf)
		}
	}
}
