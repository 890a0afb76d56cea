// Package executor turns a rule signal into an executed exchange order: it
// discovers an achievable limit price from order-book depth, quantizes the
// order to the venue's precision rules, and runs the submit/poll/cancel
// sequence with a bounded fill window.
package executor

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/jtersteeg/tidebot/internal/domain"
)

const (
	// defaultAmountMargin oversizes the depth walk so partial fills at the
	// chosen level still cover the requested amount.
	defaultAmountMargin = 1.1

	// slipWarnPct is the slippage estimate above which a warning is logged.
	slipWarnPct = 0.05

	// depthLevels caps how much of the book the pricer requests.
	depthLevels = 10
)

// Quote is the pricer's answer for one intended order.
type Quote struct {
	// LimitPrice is the level at which cumulative depth crosses the margin
	// threshold. Placing the limit here rather than at the best price raises
	// fill probability within the execution window.
	LimitPrice float64
	// SlipPct is the absolute percentage difference between the
	// volume-weighted achievable price and the current price.
	SlipPct float64
}

// Pricer computes limit prices and slippage estimates from depth snapshots.
type Pricer struct {
	margin float64
	logger *slog.Logger
}

// NewPricer creates a Pricer with the given amount margin; zero or negative
// margin selects the default 1.1.
func NewPricer(margin float64, logger *slog.Logger) *Pricer {
	if margin <= 0 {
		margin = defaultAmountMargin
	}
	return &Pricer{
		margin: margin,
		logger: logger.With(slog.String("component", "pricer")),
	}
}

// DepthLevels returns the number of book levels the pricer wants fetched.
func (p *Pricer) DepthLevels() int { return depthLevels }

// Quote walks the relevant side of the book accumulating quantity and a
// running volume-weighted average price until the cumulative amount exceeds
// margin × amount. For buys the amount is base-currency notional and the walk
// covers asks; for sells it is coin quantity over bids. currentPrice is the
// live reference used for notional conversion and the slippage baseline.
func (p *Pricer) Quote(snap domain.DepthSnapshot, side domain.Side, amount, currentPrice float64) (Quote, error) {
	levels := snap.Asks
	if side == domain.SideSell {
		levels = snap.Bids
	}
	if len(levels) == 0 {
		return Quote{}, fmt.Errorf("pricer: %s: empty %s depth", snap.Ticker, side)
	}

	threshold := p.margin * amount
	var cumQty, cumNotional float64
	for _, lvl := range levels {
		cumQty += lvl.Quantity
		cumNotional += lvl.Quantity * lvl.Price

		cum := cumQty
		if side == domain.SideBuy {
			// Buy amounts are base-currency notional; convert the
			// accumulated quantity at the live price.
			cum = cumQty * currentPrice
		}
		if cum > threshold {
			vwap := cumNotional / cumQty
			slip := math.Abs(vwap/currentPrice*100 - 100)
			if slip > slipWarnPct {
				p.logger.Warn("slippage above tolerance",
					slog.String("ticker", snap.Ticker),
					slog.String("side", string(side)),
					slog.Float64("slip_pct", slip),
					slog.Float64("current", currentPrice),
					slog.Float64("vwap", vwap),
					slog.Float64("limit", lvl.Price),
				)
			}
			return Quote{LimitPrice: lvl.Price, SlipPct: slip}, nil
		}
	}
	return Quote{}, fmt.Errorf("pricer: %s: depth too thin for amount %v", snap.Ticker, amount)
}
