package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jtersteeg/tidebot/internal/domain"
	"github.com/jtersteeg/tidebot/internal/exchange"
)

const (
	// shrinkFactor trims every requested amount to tolerate fee and
	// precision rounding.
	shrinkFactor = 0.999

	// buyShrinkFactor additionally trims buy notional before the
	// notional-to-quantity conversion.
	buyShrinkFactor = 0.996

	defaultFillWindow   = 2 * time.Second
	defaultPollInterval = 500 * time.Millisecond
)

// Result is the structured outcome of one trade attempt. Failure is FailNone
// on success; every failure kind here is recoverable and the decision loop
// continues regardless.
type Result struct {
	Failure  domain.FailureKind
	OrderID  int64
	Quantity float64
	Price    float64
	SlipPct  float64
}

// OK reports whether the attempt ended with a confirmed fill.
func (r Result) OK() bool { return !r.Failure.Failed() }

// Sequencer executes a (side, ticker, amount) intent as a limit order with a
// bounded fill window. At most one order is live on the exchange at a time
// from this component's perspective; cancellation is always attempted on
// timeout so no resting order is left dangling.
type Sequencer struct {
	ex     exchange.Exchange
	pricer *Pricer
	logger *slog.Logger

	fillWindow   time.Duration
	pollInterval time.Duration
}

// NewSequencer creates a Sequencer with the default 2s fill window and 500ms
// status poll interval.
func NewSequencer(ex exchange.Exchange, pricer *Pricer, logger *slog.Logger) *Sequencer {
	return &Sequencer{
		ex:           ex,
		pricer:       pricer,
		logger:       logger.With(slog.String("component", "sequencer")),
		fillWindow:   defaultFillWindow,
		pollInterval: defaultPollInterval,
	}
}

// SetFillWindow overrides the fill window and poll interval. Intended for
// tests and simulated venues.
func (s *Sequencer) SetFillWindow(window, poll time.Duration) {
	s.fillWindow = window
	s.pollInterval = poll
}

// Execute runs the full trade sequence. amount is base-currency notional for
// buys and coin quantity for sells; currentPrice is the live reference price
// from the feed. All failures are absorbed into the Result; the error return
// is reserved for context cancellation.
func (s *Sequencer) Execute(ctx context.Context, side domain.Side, ticker string, amount, currentPrice float64) (Result, error) {
	amount *= shrinkFactor

	snap, err := s.ex.Depth(ctx, ticker, s.pricer.DepthLevels())
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		s.logger.Error("depth fetch failed", slog.String("ticker", ticker), slog.String("error", err.Error()))
		return Result{Failure: domain.FailExchange}, nil
	}
	quote, err := s.pricer.Quote(snap, side, amount, currentPrice)
	if err != nil {
		s.logger.Error("pricing failed", slog.String("ticker", ticker), slog.String("error", err.Error()))
		return Result{Failure: domain.FailExchange}, nil
	}
	res := Result{SlipPct: quote.SlipPct}

	quantity := amount
	if side == domain.SideBuy {
		quantity = amount * buyShrinkFactor / quote.LimitPrice
	}

	prec, err := s.ex.SymbolPrecision(ctx, ticker)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		s.logger.Error("precision fetch failed", slog.String("ticker", ticker), slog.String("error", err.Error()))
		res.Failure = domain.FailExchange
		return res, nil
	}
	qty, err := prec.QuantizeQuantity(quantity)
	if err != nil {
		s.logger.Error("quantity below exchange rules", slog.String("ticker", ticker), slog.String("error", err.Error()))
		res.Failure = domain.FailPrecision
		return res, nil
	}
	price, err := prec.QuantizePrice(quote.LimitPrice)
	if err != nil {
		s.logger.Error("price fails exchange rules", slog.String("ticker", ticker), slog.String("error", err.Error()))
		res.Failure = domain.FailPrecision
		return res, nil
	}

	s.logger.Info("placing limit order",
		slog.String("ticker", ticker),
		slog.String("side", string(side)),
		slog.Float64("quantity", qty),
		slog.Float64("price", price),
	)
	order, err := s.ex.PlaceLimitOrder(ctx, side, ticker, qty, price)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if exchange.IsInsufficientBalance(err) {
			s.logger.Error("insufficient balance", slog.String("ticker", ticker), slog.String("error", err.Error()))
			res.Failure = domain.FailInsufficientBalance
			return res, nil
		}
		s.logger.Error("order rejected", slog.String("ticker", ticker), slog.String("error", err.Error()))
		res.Failure = domain.FailExchange
		return res, nil
	}
	res.OrderID = order.ID

	filled, err := s.awaitFill(ctx, ticker, order.ID)
	if err != nil {
		return Result{}, err
	}
	if filled {
		res.Quantity = qty
		res.Price = price
		return res, nil
	}

	// Not filled inside the window: cancel so no resting order lingers. A
	// slow fill is an expected outcome under volatile conditions, not a
	// crash.
	if err := s.ex.CancelOrder(ctx, ticker, order.ID); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		s.logger.Error("cancel after timeout failed",
			slog.String("ticker", ticker),
			slog.Int64("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.Warn("order too slow to fill, cancelled",
		slog.String("ticker", ticker),
		slog.Int64("order_id", order.ID),
	)
	res.Failure = domain.FailSlowFill
	return res, nil
}

// awaitFill polls order status at the poll interval until the order reaches
// FILLED or the fill window elapses. The cancel round-trip is not counted
// against the window.
func (s *Sequencer) awaitFill(ctx context.Context, ticker string, orderID int64) (bool, error) {
	deadline := time.Now().Add(s.fillWindow)
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(s.pollInterval):
		}

		order, err := s.ex.OrderStatus(ctx, ticker, orderID)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			var apiErr *exchange.APIError
			if errors.As(err, &apiErr) {
				s.logger.Warn("order status poll failed",
					slog.Int64("order_id", orderID),
					slog.Int("code", apiErr.Code),
				)
			}
		} else if order.Status == exchange.StatusFilled {
			return true, nil
		} else if order.Status.Terminal() {
			// Cancelled or rejected out of band; no point polling further.
			return false, nil
		}

		if time.Now().After(deadline) {
			return false, nil
		}
	}
}
