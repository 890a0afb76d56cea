// Package binance implements the exchange.Exchange interface against the
// Binance spot REST API.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jtersteeg/tidebot/internal/crypto"
	"github.com/jtersteeg/tidebot/internal/domain"
	"github.com/jtersteeg/tidebot/internal/exchange"
)

// Client is a REST client for the Binance spot API. Symbol precision lookups
// are cached for the lifetime of the client; everything else hits the API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
	logger     *slog.Logger

	mu        sync.Mutex
	precision map[string]domain.SymbolPrecision
}

// New creates a Client. baseURL is the API root, e.g.
// "https://api.binance.com".
func New(baseURL string, auth *crypto.HMACAuth, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		auth:      auth,
		logger:    logger.With(slog.String("component", "binance")),
		precision: make(map[string]domain.SymbolPrecision),
	}
}

// SymbolPrecision returns the quantity/price constraints for ticker, fetching
// them from /api/v3/exchangeInfo on first use.
func (c *Client) SymbolPrecision(ctx context.Context, ticker string) (domain.SymbolPrecision, error) {
	c.mu.Lock()
	if p, ok := c.precision[ticker]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	q := url.Values{"symbol": {ticker}}
	body, err := c.get(ctx, "/api/v3/exchangeInfo", q, false)
	if err != nil {
		return domain.SymbolPrecision{}, fmt.Errorf("binance: exchange info %s: %w", ticker, err)
	}

	var info exchangeInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return domain.SymbolPrecision{}, fmt.Errorf("binance: decode exchange info: %w", err)
	}
	for _, sym := range info.Symbols {
		if sym.Symbol != ticker {
			continue
		}
		p := domain.SymbolPrecision{Ticker: ticker}
		for _, f := range sym.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				p.StepSize, _ = strconv.ParseFloat(f.StepSize, 64)
				p.MinQty, _ = strconv.ParseFloat(f.MinQty, 64)
			case "PRICE_FILTER":
				if tick, err := strconv.ParseFloat(f.TickSize, 64); err == nil && tick > 0 {
					p.PriceDecimals = int32(math.Round(-math.Log10(tick)))
				}
			}
		}
		if p.StepSize == 0 {
			return domain.SymbolPrecision{}, fmt.Errorf("binance: %s: no LOT_SIZE filter", ticker)
		}
		c.mu.Lock()
		c.precision[ticker] = p
		c.mu.Unlock()
		return p, nil
	}
	return domain.SymbolPrecision{}, fmt.Errorf("binance: symbol %s: %w", ticker, domain.ErrNotFound)
}

// Depth fetches the top limit levels of the order book for ticker.
func (c *Client) Depth(ctx context.Context, ticker string, limit int) (domain.DepthSnapshot, error) {
	q := url.Values{
		"symbol": {ticker},
		"limit":  {strconv.Itoa(limit)},
	}
	body, err := c.get(ctx, "/api/v3/depth", q, false)
	if err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("binance: depth %s: %w", ticker, err)
	}

	var resp depthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("binance: decode depth: %w", err)
	}
	snap := domain.DepthSnapshot{
		Ticker:    ticker,
		Bids:      make([]domain.PriceLevel, 0, len(resp.Bids)),
		Asks:      make([]domain.PriceLevel, 0, len(resp.Asks)),
		Timestamp: time.Now(),
	}
	for _, lvl := range resp.Bids {
		price, _ := lvl[0].Float64()
		qty, _ := lvl[1].Float64()
		snap.Bids = append(snap.Bids, domain.PriceLevel{Price: price, Quantity: qty})
	}
	for _, lvl := range resp.Asks {
		price, _ := lvl[0].Float64()
		qty, _ := lvl[1].Float64()
		snap.Asks = append(snap.Asks, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return snap, nil
}

// PlaceLimitOrder submits a limit order. Quantity and price must already be
// quantized to the symbol's precision.
func (c *Client) PlaceLimitOrder(ctx context.Context, side domain.Side, ticker string, quantity, price float64) (exchange.Order, error) {
	p, err := c.SymbolPrecision(ctx, ticker)
	if err != nil {
		return exchange.Order{}, err
	}
	q := url.Values{
		"symbol":      {ticker},
		"side":        {string(side)},
		"type":        {"LIMIT"},
		"timeInForce": {"GTC"},
		"quantity":    {formatQty(quantity, p)},
		"price":       {strconv.FormatFloat(price, 'f', int(p.PriceDecimals), 64)},
	}
	body, err := c.signedRequest(ctx, http.MethodPost, "/api/v3/order", q)
	if err != nil {
		return exchange.Order{}, err
	}
	return decodeOrder(body)
}

// OrderStatus queries the current state of an order.
func (c *Client) OrderStatus(ctx context.Context, ticker string, orderID int64) (exchange.Order, error) {
	q := url.Values{
		"symbol":  {ticker},
		"orderId": {strconv.FormatInt(orderID, 10)},
	}
	body, err := c.signedRequest(ctx, http.MethodGet, "/api/v3/order", q)
	if err != nil {
		return exchange.Order{}, err
	}
	return decodeOrder(body)
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, ticker string, orderID int64) error {
	q := url.Values{
		"symbol":  {ticker},
		"orderId": {strconv.FormatInt(orderID, 10)},
	}
	if _, err := c.signedRequest(ctx, http.MethodDelete, "/api/v3/order", q); err != nil {
		return err
	}
	return nil
}

// Balance returns the free/locked balance of one asset.
func (c *Client) Balance(ctx context.Context, asset string) (domain.AssetBalance, error) {
	body, err := c.signedRequest(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return domain.AssetBalance{}, err
	}
	var acct accountResponse
	if err := json.Unmarshal(body, &acct); err != nil {
		return domain.AssetBalance{}, fmt.Errorf("binance: decode account: %w", err)
	}
	for _, b := range acct.Balances {
		if b.Asset == asset {
			free, _ := b.Free.Float64()
			locked, _ := b.Locked.Float64()
			return domain.AssetBalance{Free: free, Locked: locked}, nil
		}
	}
	return domain.AssetBalance{}, nil
}

// TradeFee returns the worst of the maker/taker commission for ticker as a
// ratio.
func (c *Client) TradeFee(ctx context.Context, ticker string) (float64, error) {
	q := url.Values{"symbol": {ticker}}
	body, err := c.signedRequest(ctx, http.MethodGet, "/sapi/v1/asset/tradeFee", q)
	if err != nil {
		return 0, err
	}
	var fees tradeFeeResponse
	if err := json.Unmarshal(body, &fees); err != nil {
		return 0, fmt.Errorf("binance: decode trade fee: %w", err)
	}
	if len(fees) == 0 {
		return 0, fmt.Errorf("binance: trade fee %s: %w", ticker, domain.ErrNotFound)
	}
	maker, _ := fees[0].MakerCommission.Float64()
	taker, _ := fees[0].TakerCommission.Float64()
	return math.Max(maker, taker), nil
}

// Bars fetches closed candles from /api/v3/klines with open times in
// [from, to). It implements domain.BarSource for live warmup.
func (c *Client) Bars(ctx context.Context, ticker string, tf domain.Timeframe, from, to time.Time) ([]domain.Bar, error) {
	q := url.Values{
		"symbol":    {ticker},
		"interval":  {string(tf)},
		"startTime": {strconv.FormatInt(from.UnixMilli(), 10)},
		"endTime":   {strconv.FormatInt(to.UnixMilli()-1, 10)},
		"limit":     {"1000"},
	}
	body, err := c.get(ctx, "/api/v3/klines", q, false)
	if err != nil {
		return nil, fmt.Errorf("binance: klines %s %s: %w", ticker, tf, err)
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance: decode klines: %w", err)
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		var openMs int64
		if err := json.Unmarshal(k[0], &openMs); err != nil {
			return nil, fmt.Errorf("binance: decode kline open time: %w", err)
		}
		b := domain.Bar{OpenTime: time.UnixMilli(openMs).UTC()}
		for i, dst := range []*float64{&b.Open, &b.High, &b.Low, &b.Close, &b.Volume} {
			var s string
			if err := json.Unmarshal(k[i+1], &s); err != nil {
				return nil, fmt.Errorf("binance: decode kline field: %w", err)
			}
			if *dst, err = strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("binance: parse kline field: %w", err)
			}
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func decodeOrder(body []byte) (exchange.Order, error) {
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.Order{}, fmt.Errorf("binance: decode order: %w", err)
	}
	price, _ := resp.Price.Float64()
	qty, _ := resp.OrigQty.Float64()
	executed, _ := resp.ExecutedQty.Float64()
	return exchange.Order{
		ID:          resp.OrderID,
		Ticker:      resp.Symbol,
		Side:        domain.Side(resp.Side),
		Status:      exchange.OrderStatus(resp.Status),
		Price:       price,
		Quantity:    qty,
		ExecutedQty: executed,
	}, nil
}

// formatQty renders quantity with the decimal places implied by the step
// size, never using exponent notation.
func formatQty(q float64, p domain.SymbolPrecision) string {
	decimals := 0
	if p.StepSize > 0 && p.StepSize < 1 {
		decimals = int(math.Round(-math.Log10(p.StepSize)))
	}
	return strconv.FormatFloat(q, 'f', decimals, 64)
}

func (c *Client) get(ctx context.Context, path string, q url.Values, signed bool) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, q.Encode(), signed)
}

func (c *Client) signedRequest(ctx context.Context, method, path string, q url.Values) ([]byte, error) {
	return c.do(ctx, method, path, q.Encode(), true)
}

func (c *Client) do(ctx context.Context, method, path, query string, signed bool) ([]byte, error) {
	if signed {
		if c.auth == nil {
			return nil, fmt.Errorf("binance: %s %s: no API credentials configured", method, path)
		}
		query = c.auth.SignedQuery(query)
	}
	u := c.baseURL + path
	if query != "" {
		u += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("binance: build request: %w", err)
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.auth.Key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("binance: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != 0 {
			return nil, &exchange.APIError{Code: apiErr.Code, Message: apiErr.Message}
		}
		return nil, &exchange.APIError{Code: resp.StatusCode, Message: string(body)}
	}
	return body, nil
}
