// Package feed delivers closed candles and live last-trade prices from the
// exchange's multiplexed kline websocket. The feed owns its buffers and hands
// immutable bar snapshots to the decision loop through per-timeframe
// updated flags, so the loop never shares mutable state with the socket
// goroutine.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jtersteeg/tidebot/internal/domain"
)

const (
	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = time.Minute
)

// streamEnvelope is the outer frame of a combined-stream message.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// klineEvent is the kline payload carried inside the envelope.
type klineEvent struct {
	Symbol string `json:"s"`
	Kline  struct {
		OpenTime int64       `json:"t"`
		Interval string      `json:"i"`
		Open     json.Number `json:"o"`
		High     json.Number `json:"h"`
		Low      json.Number `json:"l"`
		Close    json.Number `json:"c"`
		Volume   json.Number `json:"v"`
		Closed   bool        `json:"x"`
	} `json:"k"`
}

// Stream consumes kline streams for every (ticker, timeframe) pair. A
// timeframe's updated flag flips once every tracked ticker has delivered its
// closed candle for the period, mirroring the period boundary.
type Stream struct {
	wsURL   string
	tickers []string
	logger  *slog.Logger

	mu       sync.Mutex
	pending  map[domain.Timeframe]map[string]domain.Bar
	updated  map[domain.Timeframe]bool
	last     map[string]float64 // live last-trade price per ticker, 1m stream
	lastSeen time.Time
}

// NewStream creates a Stream for the given websocket root (e.g.
// "wss://stream.binance.com:9443") and tickers.
func NewStream(wsURL string, tickers []string, logger *slog.Logger) *Stream {
	s := &Stream{
		wsURL:   strings.TrimRight(wsURL, "/"),
		tickers: tickers,
		logger:  logger.With(slog.String("component", "feed")),
		pending: make(map[domain.Timeframe]map[string]domain.Bar),
		updated: make(map[domain.Timeframe]bool),
		last:    make(map[string]float64),
	}
	for _, tf := range domain.Timeframes() {
		s.pending[tf] = make(map[string]domain.Bar)
	}
	return s
}

// Run connects and consumes messages until the context is cancelled,
// reconnecting with exponential backoff on socket errors.
func (s *Stream) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (s *Stream) consume(ctx context.Context) error {
	streams := make([]string, 0, len(s.tickers)*len(domain.Timeframes()))
	for _, tf := range domain.Timeframes() {
		for _, ticker := range s.tickers {
			streams = append(streams, fmt.Sprintf("%s@kline_%s", strings.ToLower(ticker), tf))
		}
	}
	u := s.wsURL + "/stream?streams=" + strings.Join(streams, "/")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()
	s.logger.Info("feed connected", slog.Int("streams", len(streams)))

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", domain.ErrWSDisconnect)
		}
		s.handleMessage(message)
	}
}

func (s *Stream) handleMessage(raw []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	var ev klineEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return
	}
	tf := domain.Timeframe(ev.Kline.Interval)
	close, _ := ev.Kline.Close.Float64()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now()

	if !ev.Kline.Closed {
		// Live last-trade price from the still-open 1m candle.
		if tf == domain.Timeframe1m {
			s.last[ev.Symbol] = close
		}
		return
	}

	open, _ := ev.Kline.Open.Float64()
	high, _ := ev.Kline.High.Float64()
	low, _ := ev.Kline.Low.Float64()
	volume, _ := ev.Kline.Volume.Float64()
	bucket, ok := s.pending[tf]
	if !ok {
		return
	}
	bucket[ev.Symbol] = domain.Bar{
		// Key closed candles by close time so the newest bar's timestamp is
		// the end of the bucket just finished.
		OpenTime: time.UnixMilli(ev.Kline.OpenTime).Add(tf.Duration()),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    close,
		Volume:   volume,
	}
	if len(bucket) == len(s.tickers) {
		s.updated[tf] = true
	}
}

// Updated reports whether a full set of closed candles is waiting for tf.
func (s *Stream) Updated(tf domain.Timeframe) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updated[tf]
}

// Take returns the pending closed candles for tf and clears the updated
// flag. The returned map is a private copy the caller may keep.
func (s *Stream) Take(tf domain.Timeframe) map[string]domain.Bar {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.pending[tf]
	out := make(map[string]domain.Bar, len(bucket))
	for ticker, bar := range bucket {
		out[ticker] = bar
	}
	s.pending[tf] = make(map[string]domain.Bar)
	s.updated[tf] = false
	return out
}

// LastPrice returns the live last-trade price for ticker, or zero when no
// update has arrived yet.
func (s *Stream) LastPrice(ticker string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[ticker]
}

// LastSeen returns the wall-clock time of the most recent message, used by
// the loop's desync detection.
func (s *Stream) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}
