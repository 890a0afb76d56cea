package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// maxPriceDeviation is the largest relative difference tolerated between a
// requested price and its quantized form.
const maxPriceDeviation = 0.001

// SymbolPrecision holds the per-ticker exchange constraints an order must
// satisfy. Fetched once per ticker and treated as read-only configuration.
type SymbolPrecision struct {
	Ticker        string
	StepSize      float64 // quantity granularity, e.g. 0.001
	MinQty        float64 // smallest accepted quantity
	PriceDecimals int32   // decimal places accepted for the price
}

// QuantizeQuantity floors q to the ticker's step size. It returns a
// PrecisionError (FailPrecision) when the result is below the exchange
// minimum.
func (p SymbolPrecision) QuantizeQuantity(q float64) (float64, error) {
	if p.StepSize <= 0 {
		return 0, &PrecisionError{Ticker: p.Ticker, Detail: "step size not set"}
	}
	step := decimal.NewFromFloat(p.StepSize)
	quantized, _ := decimal.NewFromFloat(q).Div(step).Floor().Mul(step).Float64()
	if quantized < p.MinQty || quantized <= 0 {
		return 0, &PrecisionError{
			Ticker: p.Ticker,
			Detail: fmt.Sprintf("quantity %v below minimum %v", quantized, p.MinQty),
		}
	}
	return quantized, nil
}

// QuantizePrice rounds price to the ticker's tick precision. It returns a
// PrecisionError when the rounded price deviates from the requested price by
// more than 0.1%.
func (p SymbolPrecision) QuantizePrice(price float64) (float64, error) {
	if price <= 0 {
		return 0, &PrecisionError{Ticker: p.Ticker, Detail: "price must be positive"}
	}
	quantized, _ := decimal.NewFromFloat(price).Round(p.PriceDecimals).Float64()
	if math.Abs(quantized/price-1) > maxPriceDeviation {
		return 0, &PrecisionError{
			Ticker: p.Ticker,
			Detail: fmt.Sprintf("rounded price %v deviates more than 0.1%% from %v", quantized, price),
		}
	}
	return quantized, nil
}

// PrecisionError marks a quantity or price that fails the exchange
// quantization rules. It aborts the attempted trade only.
type PrecisionError struct {
	Ticker string
	Detail string
}

func (e *PrecisionError) Error() string {
	return fmt.Sprintf("precision: %s: %s", e.Ticker, e.Detail)
}
