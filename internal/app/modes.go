package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jtersteeg/tidebot/internal/backtest"
	"github.com/jtersteeg/tidebot/internal/domain"
	"github.com/jtersteeg/tidebot/internal/engine"
	"github.com/jtersteeg/tidebot/internal/executor"
	"github.com/jtersteeg/tidebot/internal/feed"
	"github.com/jtersteeg/tidebot/internal/ledger"
	"github.com/jtersteeg/tidebot/internal/metrics"
	"github.com/jtersteeg/tidebot/internal/notify"
	"github.com/jtersteeg/tidebot/internal/portfolio"
)

// persistTimeout bounds the post-run flush of the ledger to Postgres/S3 after
// the main context is already cancelled.
const persistTimeout = 30 * time.Second

// LiveMode runs the streaming feed and the decision loop against the real
// exchange until the context is cancelled, then flushes the run ledger.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	t := a.cfg.Trading

	tickers := make([]string, len(t.Coins))
	for i, coin := range t.Coins {
		tickers[i] = coin + t.Base
	}

	fee := t.Fee
	if fee == 0 {
		discovered, err := deps.Exchange.TradeFee(ctx, tickers[0])
		if err != nil {
			return fmt.Errorf("app: discover trade fee: %w", err)
		}
		fee = discovered
		a.logger.Info("trade fee discovered", slog.Float64("fee", fee))
	}

	runStart := time.Now().UTC()
	led, err := ledger.New(a.cfg.Ledger.Dir, runStart)
	if err != nil {
		return fmt.Errorf("app: open ledger: %w", err)
	}

	stream := feed.NewStream(a.cfg.Exchange.StreamURL, tickers, a.logger)
	view := portfolio.NewView(deps.Exchange, t.Base, t.Coins, t.FeeAsset, a.logger)
	pricer := executor.NewPricer(0, a.logger)
	sequencer := executor.NewSequencer(deps.Exchange, pricer, a.logger)
	machine := engine.NewMachine(engine.StopConfig{
		SinkLimitPct: t.SinkLimitPct,
		MaxHold:      t.MaxHold.Duration,
	})
	loop := engine.NewLoop(
		engine.LoopConfig{
			Base:               t.Base,
			Coins:              t.Coins,
			SinkLimitPct:       t.SinkLimitPct,
			MaxHold:            t.MaxHold.Duration,
			Fee:                fee,
			MaxTradesPerMinute: t.MaxTradesPerMinute,
		},
		stream, machine, deps.Rules.Entry, deps.Rules.Exit,
		sequencer, view, notify.NewRecorder(led, deps.Notifier),
		deps.Recovery, deps.History, a.logger,
	)

	if t.AwaitStart {
		a.logger.Info("waiting for minute edge")
		if err := engine.WaitForMinuteEdge(ctx, time.Now); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return stream.Run(gctx) })
	g.Go(func() error { return loop.Run(gctx) })
	if a.cfg.Metrics.Enabled {
		g.Go(func() error { return a.serveMetrics(gctx) })
	}

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = deps.Notifier.Notify(nctx, notify.EventError, "Engine stopped", runErr.Error())
		cancel()
	}
	a.persistRun(deps, led)
	if errors.Is(runErr, context.Canceled) {
		return context.Canceled
	}
	return runErr
}

// BacktestMode loads historical bars from the candle warehouse, replays them
// through the simulator, and writes the resulting ledger.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	t := a.cfg.Trading
	bt := a.cfg.Backtest

	end := bt.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	from := bt.Start
	if !from.IsZero() {
		// Retain a warmup lead-in before the trading start.
		from = from.Add(-time.Duration(bt.WarmupBars) * time.Minute)
	}

	data := make(map[string]domain.MultiSeries, len(t.Coins))
	for _, coin := range t.Coins {
		tkr := coin + t.Base
		series := domain.MultiSeries{}
		var err error
		loadFrom := from
		if loadFrom.IsZero() {
			loadFrom = time.Unix(0, 0).UTC()
		}
		if series.M1, err = deps.History.Bars(ctx, tkr, domain.Timeframe1m, loadFrom, end); err != nil {
			return fmt.Errorf("app: load 1m bars %s: %w", tkr, err)
		}
		if series.M15, err = deps.History.Bars(ctx, tkr, domain.Timeframe15m, loadFrom, end); err != nil {
			return fmt.Errorf("app: load 15m bars %s: %w", tkr, err)
		}
		if series.H1, err = deps.History.Bars(ctx, tkr, domain.Timeframe1h, loadFrom, end); err != nil {
			return fmt.Errorf("app: load 1h bars %s: %w", tkr, err)
		}
		if len(series.M1) == 0 {
			return fmt.Errorf("app: no 1m bars for %s", tkr)
		}
		data[tkr] = series
	}

	sim := backtest.New(backtest.Config{
		Base:         t.Base,
		BaseAmount:   t.BaseAmount,
		SinkLimitPct: t.SinkLimitPct,
		MaxHold:      t.MaxHold.Duration,
		Fee:          bt.Fee,
		EstSlip:      bt.EstSlip,
		WarmupBars:   bt.WarmupBars,
		Start:        bt.Start,
	}, deps.Rules.Entry, deps.Rules.Exit, a.logger)

	records, err := sim.Run(ctx, data)
	if err != nil {
		return err
	}

	led, err := ledger.New(a.cfg.Ledger.Dir, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("app: open ledger: %w", err)
	}
	for _, rec := range records {
		if err := led.Append(rec); err != nil {
			return fmt.Errorf("app: write ledger: %w", err)
		}
	}
	a.logger.Info("backtest complete",
		slog.Int("trades", len(records)),
		slog.String("ledger", led.Path()),
	)

	a.persistRun(deps, led)
	return nil
}

// persistRun mirrors the finished ledger into Postgres and object storage,
// when those sinks are configured. It runs on a fresh context because the run
// context is typically already cancelled at this point.
func (a *App) persistRun(deps *Dependencies, led *ledger.Ledger) {
	records := led.Records()
	if len(records) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if deps.TradeStore != nil {
		runID := uuid.New().String()
		if err := deps.TradeStore.InsertBatch(ctx, runID, records); err != nil {
			a.logger.Error("trade store flush failed", slog.String("error", err.Error()))
		} else {
			a.logger.Info("trades stored", slog.String("run_id", runID), slog.Int("count", len(records)))
		}
	}
	if deps.Archiver != nil {
		if err := deps.Archiver.ArchiveLedger(ctx, led.Path()); err != nil {
			a.logger.Error("ledger archive failed", slog.String("error", err.Error()))
		} else {
			a.logger.Info("ledger archived", slog.String("path", led.Path()))
		}
	}
}

// serveMetrics exposes the Prometheus endpoint until the context is
// cancelled.
func (a *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Metrics.Port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	a.logger.Info("metrics listening", slog.Int("port", a.cfg.Metrics.Port))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: metrics server: %w", err)
	}
}
