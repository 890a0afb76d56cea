// Package backtest replays historical multi-timeframe bars through the same
// position transition rules as the live engine, with a deterministic fill
// model instead of exchange interaction. Given the same bars and rules, two
// runs produce identical ledgers.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jtersteeg/tidebot/internal/domain"
	"github.com/jtersteeg/tidebot/internal/engine"
)

// defaultWarmup is how many leading bars are skipped so trailing indicators
// inside the rules can stabilize before the first decision.
const defaultWarmup = 180

// Config parameterizes a simulation run.
type Config struct {
	Base         string
	BaseAmount   float64 // starting base-currency amount; 100 reads as percent
	SinkLimitPct float64
	MaxHold      time.Duration
	Fee          float64
	EstSlip      float64
	WarmupBars   int
	// Start optionally trims the series; a 180-minute lead-in before Start
	// is retained for the warm-up.
	Start time.Time
}

// Simulator replays bars through the engine's state machine.
type Simulator struct {
	cfg    Config
	entry  domain.Rule
	exit   domain.Rule
	logger *slog.Logger
}

// New creates a Simulator.
func New(cfg Config, entry, exit domain.Rule, logger *slog.Logger) *Simulator {
	if cfg.WarmupBars <= 0 {
		cfg.WarmupBars = defaultWarmup
	}
	return &Simulator{
		cfg:    cfg,
		entry:  entry,
		exit:   exit,
		logger: logger.With(slog.String("component", "backtest")),
	}
}

// Run replays the pre-aligned series in data (one MultiSeries per ticker)
// and returns the resulting trade ledger. The native-timeframe timeline is
// taken from the first ticker in sorted order; the 15m and 1h cursors advance
// monotonically to stay aligned with the native cursor's floored timestamp,
// never rewinding. At most one ticker transitions per bar: the first fired
// signal wins, mirroring the live loop's single-position constraint.
func (s *Simulator) Run(ctx context.Context, data map[string]domain.MultiSeries) ([]domain.TradeRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("backtest: no bar series")
	}
	tickers := make([]string, 0, len(data))
	for tkr := range data {
		tickers = append(tickers, tkr)
	}
	sort.Strings(tickers)

	if !s.cfg.Start.IsZero() {
		lead := s.cfg.Start.Add(-180 * time.Minute)
		for tkr, series := range data {
			data[tkr] = trimSeries(series, lead)
		}
	}

	master := data[tickers[0]]
	if len(master.M1) == 0 || len(master.M15) == 0 || len(master.H1) == 0 {
		return nil, fmt.Errorf("backtest: %s: incomplete series", tickers[0])
	}

	machine := engine.NewMachine(engine.StopConfig{
		SinkLimitPct: s.cfg.SinkLimitPct,
		MaxHold:      s.cfg.MaxHold,
	})
	session := domain.Session{LastBaseAmount: s.cfg.BaseAmount}
	baseAmount := s.cfg.BaseAmount
	var ledger []domain.TradeRecord
	var coinAmount float64

	idx15, idx1h := 0, 0
	for idx := range master.M1 {
		if idx < s.cfg.WarmupBars {
			continue
		}
		if ctx.Err() != nil {
			return ledger, ctx.Err()
		}
		ts := master.M1[idx].OpenTime

		var ok bool
		if idx1h, ok = advance(master.H1, idx1h, domain.Timeframe1h.Floor(ts)); !ok {
			return ledger, fmt.Errorf("backtest: 1h series exhausted at %s", ts)
		}
		if idx15, ok = advance(master.M15, idx15, domain.Timeframe15m.Floor(ts)); !ok {
			return ledger, fmt.Errorf("backtest: 15m series exhausted at %s", ts)
		}

		for _, tkr := range tickers {
			series := data[tkr]
			in := domain.RuleInput{
				Ticker: tkr,
				M1:     series.M1,
				M15:    series.M15,
				H1:     series.H1,
				Idx1m:  idx,
				Idx15m: idx15,
				Idx1h:  idx1h,
			}
			price := series.M1[idx].Close

			if !machine.Held() {
				fired, next := s.entry.Evaluate(in, session)
				session = next
				if !fired {
					continue
				}
				coinAmount = engine.EntryQuantity(baseAmount, price, s.cfg.Fee, s.cfg.EstSlip)
				if err := machine.Enter(domain.Position{
					Ticker:     tkr,
					EntryTime:  ts,
					EntryPrice: price,
					Quantity:   coinAmount,
					RefBalance: baseAmount,
				}); err != nil {
					return ledger, err
				}
				session.EntryTime = ts
				session.LastBuyPrice = price
				ledger = append(ledger, domain.TradeRecord{
					Timestamp:  ts,
					Close:      price,
					Buying:     true,
					Ticker:     tkr,
					CoinAmount: coinAmount,
					Cause:      s.causeLabel(session.EntryLabel, s.entry),
					Base:       s.cfg.Base,
				})
				break
			}

			if machine.Position().Ticker != tkr {
				continue
			}
			fired, next := s.exit.Evaluate(in, session)
			session = next
			decision := machine.Decide(price, ts, fired)
			if !decision.Exit {
				continue
			}

			pos, err := machine.Exit()
			if err != nil {
				return ledger, err
			}
			prevBase := baseAmount
			baseAmount = (1 - s.cfg.Fee - s.cfg.EstSlip) * (pos.Quantity * price)
			cause := string(decision.Cause)
			if decision.Cause == domain.ExitRuleFired {
				cause = s.causeLabel(session.ExitLabel, s.exit)
			}
			ledger = append(ledger, domain.TradeRecord{
				Timestamp:   ts,
				Close:       price,
				Buying:      false,
				Ticker:      tkr,
				BaseAmount:  baseAmount,
				ProfitPct:   (baseAmount/prevBase - 1) * 100,
				TimeHeldMin: ts.Sub(pos.EntryTime).Minutes(),
				Cause:       cause,
				Base:        s.cfg.Base,
			})
			session.LastBaseAmount = baseAmount
			break
		}
	}

	s.logger.Info("simulation finished",
		slog.Int("bars", len(master.M1)),
		slog.Int("legs", len(ledger)),
		slog.Float64("final_base", baseAmount),
	)
	return ledger, nil
}

func (s *Simulator) causeLabel(label string, rule domain.Rule) string {
	if label != "" {
		return label
	}
	return rule.Name()
}

// advance moves cursor forward until series[cursor].OpenTime equals want.
// Returns false when the series runs out before the match.
func advance(series []domain.Bar, cursor int, want time.Time) (int, bool) {
	for cursor < len(series) && !series[cursor].OpenTime.Equal(want) {
		cursor++
	}
	return cursor, cursor < len(series)
}

func trimSeries(series domain.MultiSeries, from time.Time) domain.MultiSeries {
	return domain.MultiSeries{
		M1:  trimBars(series.M1, from),
		M15: trimBars(series.M15, from),
		H1:  trimBars(series.H1, from),
	}
}

func trimBars(bars []domain.Bar, from time.Time) []domain.Bar {
	i := sort.Search(len(bars), func(i int) bool {
		return !bars[i].OpenTime.Before(from)
	})
	return bars[i:]
}
