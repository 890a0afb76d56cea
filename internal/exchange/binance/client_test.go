package binance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jtersteeg/tidebot/internal/crypto"
	"github.com/jtersteeg/tidebot/internal/domain"
	"github.com/jtersteeg/tidebot/internal/exchange"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(srv.URL, &crypto.HMACAuth{Key: "test-key", Secret: "test-secret"}, logger)
}

const exchangeInfoBody = `{
  "symbols": [{
    "symbol": "BTCUSDT",
    "filters": [
      {"filterType": "PRICE_FILTER", "tickSize": "0.01000000"},
      {"filterType": "LOT_SIZE", "stepSize": "0.00001000", "minQty": "0.00001000"}
    ]
  }]
}`

func TestSymbolPrecisionParsesAndCaches(t *testing.T) {
	hits := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/exchangeInfo" {
			t.Errorf("path = %s", r.URL.Path)
		}
		hits++
		io.WriteString(w, exchangeInfoBody)
	}))

	p, err := c.SymbolPrecision(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("SymbolPrecision: %v", err)
	}
	if p.StepSize != 0.00001 || p.MinQty != 0.00001 {
		t.Errorf("lot size = %v/%v", p.StepSize, p.MinQty)
	}
	if p.PriceDecimals != 2 {
		t.Errorf("PriceDecimals = %d, want 2", p.PriceDecimals)
	}

	if _, err := c.SymbolPrecision(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("cached SymbolPrecision: %v", err)
	}
	if hits != 1 {
		t.Errorf("exchangeInfo hits = %d, want 1", hits)
	}
}

func TestSymbolPrecisionUnknownSymbol(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"symbols": []}`)
	}))
	_, err := c.SymbolPrecision(context.Background(), "NOPEUSDT")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDepthParsesLevels(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "10" {
			t.Errorf("limit = %s", got)
		}
		io.WriteString(w, `{
  "bids": [["100.00", "1.5"], ["99.99", "2.0"]],
  "asks": [["100.01", "0.5"]]
}`)
	}))

	snap, err := c.Depth(context.Background(), "BTCUSDT", 10)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if len(snap.Bids) != 2 || len(snap.Asks) != 1 {
		t.Fatalf("levels = %d/%d", len(snap.Bids), len(snap.Asks))
	}
	if snap.Bids[0].Price != 100 || snap.Bids[0].Quantity != 1.5 {
		t.Errorf("best bid = %+v", snap.Bids[0])
	}
	if snap.Asks[0].Price != 100.01 {
		t.Errorf("best ask = %+v", snap.Asks[0])
	}
}

func TestPlaceLimitOrderSignsAndFormats(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v3/exchangeInfo" {
			io.WriteString(w, exchangeInfoBody)
			return
		}
		if r.Method != http.MethodPost || r.URL.Path != "/api/v3/order" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-MBX-APIKEY") != "test-key" {
			t.Error("API key header missing")
		}
		q := r.URL.Query()
		if q.Get("signature") == "" || q.Get("timestamp") == "" {
			t.Error("unsigned order request")
		}
		if q.Get("quantity") != "0.99500" {
			t.Errorf("quantity = %s, want 0.99500", q.Get("quantity"))
		}
		if q.Get("price") != "100.40" {
			t.Errorf("price = %s, want 100.40", q.Get("price"))
		}
		if q.Get("timeInForce") != "GTC" || q.Get("type") != "LIMIT" {
			t.Errorf("order params = %v", q)
		}
		io.WriteString(w, `{
  "orderId": 42, "symbol": "BTCUSDT", "side": "BUY",
  "status": "NEW", "price": "100.40", "origQty": "0.99500", "executedQty": "0"
}`)
	}))

	order, err := c.PlaceLimitOrder(context.Background(), domain.SideBuy, "BTCUSDT", 0.995, 100.4)
	if err != nil {
		t.Fatalf("PlaceLimitOrder: %v", err)
	}
	if order.ID != 42 || order.Status != exchange.StatusNew {
		t.Errorf("order = %+v", order)
	}
	if order.Price != 100.4 || order.Quantity != 0.995 {
		t.Errorf("order = %+v", order)
	}
}

func TestAPIErrorDecoded(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v3/exchangeInfo" {
			io.WriteString(w, exchangeInfoBody)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code": -2010, "msg": "Account has insufficient balance for requested action."}`)
	}))

	_, err := c.PlaceLimitOrder(context.Background(), domain.SideBuy, "BTCUSDT", 1, 100)
	if err == nil {
		t.Fatal("PlaceLimitOrder succeeded on a rejection")
	}
	if !exchange.IsInsufficientBalance(err) {
		t.Errorf("err = %v, want insufficient-balance rejection", err)
	}
}

func TestBalancePicksAsset(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
  "balances": [
    {"asset": "BTC", "free": "0.5", "locked": "0.1"},
    {"asset": "USDT", "free": "250.25", "locked": "0"}
  ]
}`)
	}))

	bal, err := c.Balance(context.Background(), "USDT")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.Free != 250.25 || bal.Locked != 0 {
		t.Errorf("balance = %+v", bal)
	}

	missing, err := c.Balance(context.Background(), "DOGE")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if missing.Free != 0 {
		t.Errorf("missing asset balance = %+v", missing)
	}
}

func TestTradeFeeTakesWorstSide(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"symbol": "BTCUSDT", "makerCommission": "0.001", "takerCommission": "0.00075"}]`)
	}))

	fee, err := c.TradeFee(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("TradeFee: %v", err)
	}
	if fee != 0.001 {
		t.Errorf("fee = %v, want 0.001", fee)
	}
}

func TestBarsParsesKlines(t *testing.T) {
	open := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("interval") != "1m" || q.Get("symbol") != "BTCUSDT" {
			t.Errorf("query = %v", q)
		}
		io.WriteString(w, `[
  [1709294400000, "100.0", "101.0", "99.5", "100.5", "12.5", 1709294459999, "0", 0, "0", "0", "0"],
  [1709294460000, "100.5", "100.8", "100.1", "100.2", "8.0", 1709294519999, "0", 0, "0", "0", "0"]
]`)
	}))

	bars, err := c.Bars(context.Background(), "BTCUSDT", domain.Timeframe1m, open, open.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Bars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("bars = %d, want 2", len(bars))
	}
	if !bars[0].OpenTime.Equal(open) {
		t.Errorf("OpenTime = %v, want %v", bars[0].OpenTime, open)
	}
	if bars[0].Open != 100 || bars[0].High != 101 || bars[0].Low != 99.5 || bars[0].Close != 100.5 || bars[0].Volume != 12.5 {
		t.Errorf("bar = %+v", bars[0])
	}
}

func TestSignedRequestWithoutCredentials(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New("http://127.0.0.1:0", nil, logger)
	if _, err := c.Balance(context.Background(), "USDT"); err == nil {
		t.Fatal("signed request succeeded without credentials")
	}
}
