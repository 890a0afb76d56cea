// Package exchange defines the narrow order/account interface the engine
// consumes, together with the coded error type used to classify rejections.
package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/jtersteeg/tidebot/internal/domain"
)

// OrderStatus is the lifecycle state of an order as reported by the exchange.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Order is the exchange's view of a placed order.
type Order struct {
	ID          int64
	Ticker      string
	Side        domain.Side
	Status      OrderStatus
	Price       float64
	Quantity    float64
	ExecutedQty float64
}

// Exchange is the order and account surface of the venue. All calls are
// blocking and honor the passed context.
type Exchange interface {
	SymbolPrecision(ctx context.Context, ticker string) (domain.SymbolPrecision, error)
	Depth(ctx context.Context, ticker string, limit int) (domain.DepthSnapshot, error)
	PlaceLimitOrder(ctx context.Context, side domain.Side, ticker string, quantity, price float64) (Order, error)
	OrderStatus(ctx context.Context, ticker string, orderID int64) (Order, error)
	CancelOrder(ctx context.Context, ticker string, orderID int64) error
	Balance(ctx context.Context, asset string) (domain.AssetBalance, error)
	TradeFee(ctx context.Context, ticker string) (float64, error)
}

// codeInsufficientBalance is Binance's rejection code for an account balance
// that cannot cover the order.
const codeInsufficientBalance = -2010

// APIError is a coded rejection from the exchange.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange: code %d: %s", e.Code, e.Message)
}

// IsInsufficientBalance reports whether err is the exchange's
// insufficient-balance rejection.
func IsInsufficientBalance(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeInsufficientBalance
}
