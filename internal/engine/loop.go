package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jtersteeg/tidebot/internal/domain"
	"github.com/jtersteeg/tidebot/internal/executor"
	"github.com/jtersteeg/tidebot/internal/metrics"
)

const (
	defaultPollInterval = 10 * time.Millisecond
	lightDesyncAfter    = 60 * time.Second
	heavyDesyncAfter    = 70 * time.Second
)

// Feed is the streaming-data surface the loop polls. The implementation owns
// its buffers; everything returned here is an immutable snapshot.
type Feed interface {
	Updated(tf domain.Timeframe) bool
	Take(tf domain.Timeframe) map[string]domain.Bar
	LastPrice(ticker string) float64
}

// Trader executes one trade intent. Implemented by executor.Sequencer.
type Trader interface {
	Execute(ctx context.Context, side domain.Side, ticker string, amount, currentPrice float64) (executor.Result, error)
}

// Balances refreshes the authoritative portfolio snapshot.
type Balances interface {
	Refresh(ctx context.Context) (domain.PortfolioSnapshot, error)
}

// Recorder appends one row to the trade ledger.
type Recorder interface {
	Append(rec domain.TradeRecord) error
}

// LoopConfig parameterizes the live decision loop.
type LoopConfig struct {
	Base               string
	Coins              []string
	SinkLimitPct       float64
	MaxHold            time.Duration
	Fee                float64
	MaxTradesPerMinute int
	Keep1m             int
	Keep15m            int
	Keep1h             int
	PollInterval       time.Duration
}

func (c *LoopConfig) fillDefaults() {
	if c.MaxTradesPerMinute <= 0 {
		c.MaxTradesPerMinute = 2
	}
	if c.Keep1m <= 0 {
		c.Keep1m = 600
	}
	if c.Keep15m <= 0 {
		c.Keep15m = 64
	}
	if c.Keep1h <= 0 {
		c.Keep1h = 24
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
}

// Loop is the single-threaded decision loop. It polls the feed's updated
// flags at a short cadence, evaluates the pluggable rules against the latest
// bars, and drives the sequencer/portfolio/ledger on a firing signal. All
// position and portfolio state is confined to this loop; nothing else writes
// it.
type Loop struct {
	cfg      LoopConfig
	feed     Feed
	machine  *Machine
	entry    domain.Rule
	exit     domain.Rule
	trader   Trader
	view     Balances
	ledger   Recorder
	recovery domain.RecoveryStore
	history  domain.BarSource
	logger   *slog.Logger

	now func() time.Time

	data       map[string]*domain.MultiSeries
	session    domain.Session
	snap       domain.PortfolioSnapshot
	lastTime1m time.Time
	mins       int
	trades     int
	tradesMin  int
}

// NewLoop wires a Loop. history supplies the initial bar window before the
// stream takes over; recovery may be nil only in tests.
func NewLoop(
	cfg LoopConfig,
	feed Feed,
	machine *Machine,
	entry, exit domain.Rule,
	trader Trader,
	view Balances,
	ledger Recorder,
	recovery domain.RecoveryStore,
	history domain.BarSource,
	logger *slog.Logger,
) *Loop {
	cfg.fillDefaults()
	return &Loop{
		cfg:      cfg,
		feed:     feed,
		machine:  machine,
		entry:    entry,
		exit:     exit,
		trader:   trader,
		view:     view,
		ledger:   ledger,
		recovery: recovery,
		history:  history,
		logger:   logger.With(slog.String("component", "loop")),
		now:      time.Now,
		data:     make(map[string]*domain.MultiSeries),
	}
}

// Run bootstraps historical bars and recovery state, then iterates until the
// context is cancelled. Only a funds-consistency violation terminates the
// loop early; every trade-attempt failure is absorbed and iteration
// continues.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.bootstrap(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.tick(ctx); err != nil {
				return err
			}
		}
	}
}

func (l *Loop) bootstrap(ctx context.Context) error {
	now := l.now()
	for _, coin := range l.cfg.Coins {
		tkr := coin + l.cfg.Base
		series := &domain.MultiSeries{}
		for _, load := range []struct {
			tf   domain.Timeframe
			keep int
			dst  *[]domain.Bar
		}{
			{domain.Timeframe1m, l.cfg.Keep1m, &series.M1},
			{domain.Timeframe15m, l.cfg.Keep15m, &series.M15},
			{domain.Timeframe1h, l.cfg.Keep1h, &series.H1},
		} {
			bars, err := l.history.Bars(ctx, tkr, load.tf, now.Add(-time.Duration(load.keep)*load.tf.Duration()), now)
			if err != nil {
				return fmt.Errorf("loop: bootstrap %s %s: %w", tkr, load.tf, err)
			}
			*load.dst = bars
		}
		if len(series.M1) == 0 {
			return fmt.Errorf("loop: bootstrap %s: no 1m bars", tkr)
		}
		l.data[tkr] = series
	}
	l.lastTime1m = l.latest1mTime()

	snap, err := l.view.Refresh(ctx)
	if err != nil {
		return err
	}
	l.snap = snap

	if err := l.restoreSession(ctx); err != nil {
		return err
	}

	l.logger.Info("loop bootstrapped",
		slog.Time("last_1m", l.lastTime1m),
		slog.Bool("held", l.machine.Held()),
		slog.Float64("base_free", snap.BaseFree),
	)
	return nil
}

// restoreSession reconciles the persisted recovery record with the
// authoritative portfolio state. A held portfolio without a valid record is
// fatal: the stops cannot be computed without the entry reference.
func (l *Loop) restoreSession(ctx context.Context) error {
	rec, err := l.recovery.Load(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("loop: load recovery: %w", err)
	}

	if !l.snap.Held {
		if err == nil {
			l.session.LastBaseAmount = rec.LastBaseAmount
			l.session.LastBuyPrice = rec.LastBuyPrice
		}
		if l.session.LastBaseAmount == 0 {
			l.session.LastBaseAmount = l.snap.BaseFree
		}
		return nil
	}

	if errors.Is(err, domain.ErrNotFound) || rec.EntryTime.IsZero() || rec.LastBuyPrice <= 0 {
		return fmt.Errorf("loop: portfolio holds %s but recovery record is unusable: %w",
			l.snap.HeldTicker, domain.ErrInvalidRecord)
	}
	l.session.EntryTime = rec.EntryTime
	l.session.LastBaseAmount = rec.LastBaseAmount
	l.session.LastBuyPrice = rec.LastBuyPrice
	l.machine.Restore(domain.Position{
		Ticker:     l.snap.HeldTicker + l.cfg.Base,
		EntryTime:  rec.EntryTime,
		EntryPrice: rec.LastBuyPrice,
		Quantity:   l.snap.HeldQuantity(),
		RefBalance: rec.LastBaseAmount,
	})
	metrics.SetHeld(true)
	return nil
}

func (l *Loop) latest1mTime() time.Time {
	var latest time.Time
	for _, series := range l.data {
		if n := len(series.M1); n > 0 && series.M1[n-1].OpenTime.After(latest) {
			latest = series.M1[n-1].OpenTime
		}
	}
	return latest
}

// tick runs one poll iteration: absorb any pending bar updates, then
// evaluate trading logic unless this tick consumed a 1m update (the dataset
// is still settling), the feed is heavily desynced, or the per-minute trade
// budget is spent.
func (l *Loop) tick(ctx context.Context) error {
	now := l.now()

	sinceBar := now.Sub(l.lastTime1m)
	heavyDesync := sinceBar > heavyDesyncAfter
	if heavyDesync {
		metrics.RecordDesync("heavy")
		l.logger.Warn("heavy feed desync",
			slog.Duration("since_last_1m", sinceBar),
			slog.Time("last_1m", l.lastTime1m),
		)
	} else if sinceBar > lightDesyncAfter {
		metrics.RecordDesync("light")
	}

	updated1m := false
	for _, tf := range domain.Timeframes() {
		if !l.feed.Updated(tf) {
			continue
		}
		l.applyUpdate(tf, l.feed.Take(tf))
		if tf == domain.Timeframe1m {
			updated1m = true
			l.mins++
			l.tradesMin = 0
			l.lastTime1m = l.latest1mTime()
			l.logMinute()
		}
	}

	if l.mins == 0 || updated1m || heavyDesync || l.tradesMin >= l.cfg.MaxTradesPerMinute {
		return nil
	}
	return l.evaluate(ctx, now)
}

func (l *Loop) applyUpdate(tf domain.Timeframe, bars map[string]domain.Bar) {
	for ticker, bar := range bars {
		series, ok := l.data[ticker]
		if !ok {
			continue
		}
		var appended bool
		switch tf {
		case domain.Timeframe1m:
			series.M1, appended = domain.AppendBar(series.M1, bar, l.cfg.Keep1m)
		case domain.Timeframe15m:
			series.M15, appended = domain.AppendBar(series.M15, bar, l.cfg.Keep15m)
		case domain.Timeframe1h:
			series.H1, appended = domain.AppendBar(series.H1, bar, l.cfg.Keep1h)
		}
		if !appended {
			// Duplicate-timestamp delivery is a data-integrity warning, not
			// a hard failure.
			l.logger.Warn("duplicate bar dropped",
				slog.String("ticker", ticker),
				slog.String("timeframe", string(tf)),
				slog.Time("open_time", bar.OpenTime),
			)
		}
	}
}

func (l *Loop) logMinute() {
	minsHeld := -1
	if l.machine.Held() {
		minsHeld = int(l.now().Sub(l.machine.Position().EntryTime).Minutes())
	}
	l.logger.Info("1m update",
		slog.Int("minute", l.mins),
		slog.Bool("held", l.machine.Held()),
		slog.Int("mins_held", minsHeld),
		slog.Int("trades", l.trades),
	)
}

func (l *Loop) evaluate(ctx context.Context, now time.Time) error {
	for _, coin := range l.cfg.Coins {
		tkr := coin + l.cfg.Base
		series, ok := l.data[tkr]
		if !ok || len(series.M1) == 0 {
			continue
		}
		in := domain.RuleInput{
			Ticker: tkr,
			M1:     series.M1,
			M15:    series.M15,
			H1:     series.H1,
			Idx1m:  len(series.M1) - 1,
			Idx15m: len(series.M15) - 1,
			Idx1h:  len(series.H1) - 1,
		}
		closePrice := series.M1[in.Idx1m].Close

		if !l.machine.Held() {
			fired, next := l.entry.Evaluate(in, l.session)
			l.session = next
			if !fired {
				continue
			}
			l.logger.Info("entry rule fired", slog.String("ticker", tkr))
			return l.executeBuy(ctx, tkr, closePrice, now)
		}

		if l.machine.Position().Ticker != tkr {
			continue
		}
		fired, next := l.exit.Evaluate(in, l.session)
		l.session = next
		decision := l.machine.Decide(closePrice, now, fired)
		if !decision.Exit {
			continue
		}
		return l.executeSell(ctx, tkr, closePrice, now, decision.Cause)
	}
	return nil
}

func (l *Loop) executeBuy(ctx context.Context, tkr string, closePrice float64, now time.Time) error {
	baseAmount := l.snap.BaseFree
	cur := l.feed.LastPrice(tkr)
	if cur == 0 {
		cur = closePrice
	}

	res, err := l.trader.Execute(ctx, domain.SideBuy, tkr, baseAmount, cur)
	if err != nil {
		return err
	}
	snap, err := l.view.Refresh(ctx)
	if err != nil {
		return err
	}
	l.snap = snap
	l.tradesMin++
	metrics.RecordAttempt(domain.SideBuy, res.Failure)

	rec := domain.TradeRecord{
		Timestamp:      now,
		Close:          closePrice,
		Buying:         true,
		Ticker:         tkr,
		CoinAmount:     snap.HeldQuantity(),
		Cause:          l.entryCause(),
		Failure:        res.Failure,
		SlipPct:        res.SlipPct,
		FeeAssetAmount: snap.FeeAssetFree,
		Base:           l.cfg.Base,
	}

	if res.OK() {
		l.trades++
		l.session.EntryTime = now
		l.session.LastBaseAmount = baseAmount
		l.session.LastBuyPrice = res.Price
		if err := l.machine.Enter(domain.Position{
			Ticker:     tkr,
			EntryTime:  now,
			EntryPrice: res.Price,
			Quantity:   snap.HeldQuantity(),
			RefBalance: baseAmount,
		}); err != nil {
			return err
		}
		metrics.SetHeld(true)
		l.saveRecovery(ctx)
	}
	return l.append(rec)
}

func (l *Loop) executeSell(ctx context.Context, tkr string, closePrice float64, now time.Time, cause domain.ExitCause) error {
	pos := l.machine.Position()
	amount := l.snap.HeldQuantity()
	cur := l.feed.LastPrice(tkr)
	if cur == 0 {
		cur = closePrice
	}
	l.logger.Info("exit triggered",
		slog.String("ticker", tkr),
		slog.String("cause", string(cause)),
		slog.Float64("current", closePrice),
		slog.Float64("entry", pos.EntryPrice),
	)

	res, err := l.trader.Execute(ctx, domain.SideSell, tkr, amount, cur)
	if err != nil {
		return err
	}
	snap, err := l.view.Refresh(ctx)
	if err != nil {
		return err
	}
	l.snap = snap
	l.tradesMin++
	metrics.RecordAttempt(domain.SideSell, res.Failure)

	rec := domain.TradeRecord{
		Timestamp:      now,
		Close:          res.Price,
		Buying:         false,
		Ticker:         tkr,
		BaseAmount:     snap.BaseFree,
		ProfitPct:      (snap.BaseFree/l.session.LastBaseAmount - 1 - 2*l.cfg.Fee) * 100,
		TimeHeldMin:    now.Sub(pos.EntryTime).Minutes(),
		Cause:          l.exitCause(cause),
		Failure:        res.Failure,
		SlipPct:        res.SlipPct,
		FeeAssetAmount: snap.FeeAssetFree,
		Base:           l.cfg.Base,
	}
	if rec.Close == 0 {
		rec.Close = closePrice
	}

	if res.OK() {
		l.trades++
		if _, err := l.machine.Exit(); err != nil {
			return err
		}
		metrics.SetHeld(false)
		metrics.RecordExit(cause)
		l.session.LastBaseAmount = snap.BaseFree
		l.saveRecovery(ctx)
	}
	return l.append(rec)
}

func (l *Loop) entryCause() string {
	if l.session.EntryLabel != "" {
		return l.session.EntryLabel
	}
	return l.entry.Name()
}

func (l *Loop) exitCause(cause domain.ExitCause) string {
	if cause != domain.ExitRuleFired {
		return string(cause)
	}
	if l.session.ExitLabel != "" {
		return l.session.ExitLabel
	}
	return l.exit.Name()
}

func (l *Loop) saveRecovery(ctx context.Context) {
	err := l.recovery.Save(ctx, domain.RecoveryRecord{
		EntryTime:      l.session.EntryTime,
		LastBaseAmount: l.session.LastBaseAmount,
		LastBuyPrice:   l.session.LastBuyPrice,
	})
	if err != nil {
		l.logger.Error("recovery save failed", slog.String("error", err.Error()))
	}
}

func (l *Loop) append(rec domain.TradeRecord) error {
	if err := l.ledger.Append(rec); err != nil {
		l.logger.Error("ledger append failed", slog.String("error", err.Error()))
	}
	if rec.Failure.Failed() {
		l.logger.Info("trade failed", slog.String("failure", string(rec.Failure)))
	} else {
		l.logger.Info("new trade",
			slog.String("ticker", rec.Ticker),
			slog.Bool("buying", rec.Buying),
			slog.Float64("close", rec.Close),
			slog.Float64("profit_pct", rec.ProfitPct),
		)
	}
	return nil
}

// WaitForMinuteEdge blocks until just after a minute boundary so the first
// loop iteration starts with a fresh bar, or until the context is cancelled.
func WaitForMinuteEdge(ctx context.Context, now func() time.Time) error {
	for {
		sec := now().Second()
		if sec >= 1 && sec < 4 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}
