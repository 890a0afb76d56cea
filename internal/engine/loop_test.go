package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jtersteeg/tidebot/internal/domain"
	"github.com/jtersteeg/tidebot/internal/executor"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeFeed struct {
	pending map[domain.Timeframe]map[string]domain.Bar
	last    map[string]float64
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		pending: make(map[domain.Timeframe]map[string]domain.Bar),
		last:    make(map[string]float64),
	}
}

func (f *fakeFeed) push(tf domain.Timeframe, ticker string, b domain.Bar) {
	if f.pending[tf] == nil {
		f.pending[tf] = make(map[string]domain.Bar)
	}
	f.pending[tf][ticker] = b
}

func (f *fakeFeed) Updated(tf domain.Timeframe) bool { return len(f.pending[tf]) > 0 }

func (f *fakeFeed) Take(tf domain.Timeframe) map[string]domain.Bar {
	out := f.pending[tf]
	f.pending[tf] = nil
	return out
}

func (f *fakeFeed) LastPrice(ticker string) float64 { return f.last[ticker] }

type fakeTrader struct {
	results []executor.Result
	calls   int
}

func (f *fakeTrader) Execute(_ context.Context, _ domain.Side, _ string, _, _ float64) (executor.Result, error) {
	if f.calls >= len(f.results) {
		return executor.Result{Failure: domain.FailExchange}, nil
	}
	res := f.results[f.calls]
	f.calls++
	return res, nil
}

type fakeView struct {
	snaps []domain.PortfolioSnapshot
	calls int
}

func (f *fakeView) Refresh(context.Context) (domain.PortfolioSnapshot, error) {
	if f.calls >= len(f.snaps) {
		return f.snaps[len(f.snaps)-1], nil
	}
	snap := f.snaps[f.calls]
	f.calls++
	return snap, nil
}

type memRecorder struct {
	records []domain.TradeRecord
}

func (m *memRecorder) Append(rec domain.TradeRecord) error {
	m.records = append(m.records, rec)
	return nil
}

type memRecovery struct {
	rec   domain.RecoveryRecord
	set   bool
	saves int
}

func (m *memRecovery) Save(_ context.Context, rec domain.RecoveryRecord) error {
	m.rec = rec
	m.set = true
	m.saves++
	return nil
}

func (m *memRecovery) Load(context.Context) (domain.RecoveryRecord, error) {
	if !m.set {
		return domain.RecoveryRecord{}, domain.ErrNotFound
	}
	return m.rec, nil
}

type fakeHistory struct{}

func (fakeHistory) Bars(_ context.Context, _ string, tf domain.Timeframe, _, to time.Time) ([]domain.Bar, error) {
	n := 30
	bars := make([]domain.Bar, 0, n)
	end := tf.Floor(to)
	for i := n; i > 0; i-- {
		bars = append(bars, domain.Bar{
			OpenTime: end.Add(-time.Duration(i) * tf.Duration()),
			Close:    100,
		})
	}
	return bars, nil
}

type stubRule struct {
	name  string
	fire  func() bool
	label string
}

func (r stubRule) Name() string { return r.name }

func (r stubRule) Evaluate(_ domain.RuleInput, s domain.Session) (bool, domain.Session) {
	if !r.fire() {
		return false, s
	}
	if r.label != "" {
		s.EntryLabel = r.label
		s.ExitLabel = r.label
	}
	return true, s
}

func always() bool { return true }
func never() bool  { return false }

func flatSnap(baseFree float64) domain.PortfolioSnapshot {
	return domain.PortfolioSnapshot{
		Base:     "USDT",
		BaseFree: baseFree,
		Assets:   map[string]domain.AssetBalance{"BTC": {}},
	}
}

func heldSnap(qty float64) domain.PortfolioSnapshot {
	return domain.PortfolioSnapshot{
		Base:       "USDT",
		Assets:     map[string]domain.AssetBalance{"BTC": {Free: qty}},
		Held:       true,
		HeldTicker: "BTC",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLoop(feed Feed, entry, exit domain.Rule, trader Trader, view Balances, rec *memRecorder, recovery domain.RecoveryStore) *Loop {
	machine := NewMachine(StopConfig{SinkLimitPct: 6, MaxHold: time.Hour})
	return NewLoop(
		LoopConfig{Base: "USDT", Coins: []string{"BTC"}, Fee: 0.00075, MaxTradesPerMinute: 2},
		feed, machine, entry, exit, trader, view, rec, recovery, fakeHistory{}, testLogger(),
	)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestBootstrapHeldWithoutRecordIsFatal(t *testing.T) {
	l := newTestLoop(newFakeFeed(), stubRule{name: "e", fire: never}, stubRule{name: "x", fire: never},
		&fakeTrader{}, &fakeView{snaps: []domain.PortfolioSnapshot{heldSnap(0.5)}},
		&memRecorder{}, &memRecovery{})

	err := l.bootstrap(context.Background())
	if !errors.Is(err, domain.ErrInvalidRecord) {
		t.Fatalf("bootstrap err = %v, want ErrInvalidRecord", err)
	}
}

func TestBootstrapRestoresHeldPosition(t *testing.T) {
	entryTime := time.Now().UTC().Add(-10 * time.Minute)
	recovery := &memRecovery{
		rec: domain.RecoveryRecord{EntryTime: entryTime, LastBaseAmount: 100, LastBuyPrice: 101},
		set: true,
	}
	l := newTestLoop(newFakeFeed(), stubRule{name: "e", fire: never}, stubRule{name: "x", fire: never},
		&fakeTrader{}, &fakeView{snaps: []domain.PortfolioSnapshot{heldSnap(0.5)}},
		&memRecorder{}, recovery)

	if err := l.bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !l.machine.Held() {
		t.Fatal("machine not held after restore")
	}
	pos := l.machine.Position()
	if pos.EntryPrice != 101 || pos.Quantity != 0.5 || pos.Ticker != "BTCUSDT" {
		t.Errorf("restored position = %+v", pos)
	}
}

func TestBootstrapFlatAdoptsRecordBalances(t *testing.T) {
	recovery := &memRecovery{
		rec: domain.RecoveryRecord{LastBaseAmount: 250, LastBuyPrice: 99},
		set: true,
	}
	l := newTestLoop(newFakeFeed(), stubRule{name: "e", fire: never}, stubRule{name: "x", fire: never},
		&fakeTrader{}, &fakeView{snaps: []domain.PortfolioSnapshot{flatSnap(250)}},
		&memRecorder{}, recovery)

	if err := l.bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if l.machine.Held() {
		t.Fatal("machine held after flat bootstrap")
	}
	if l.session.LastBaseAmount != 250 {
		t.Errorf("LastBaseAmount = %v, want 250", l.session.LastBaseAmount)
	}
}

func TestLoopBuyFlow(t *testing.T) {
	feed := newFakeFeed()
	feed.last["BTCUSDT"] = 100.5
	trader := &fakeTrader{results: []executor.Result{{Price: 100.4, Quantity: 0.99, SlipPct: 0.01}}}
	view := &fakeView{snaps: []domain.PortfolioSnapshot{flatSnap(100), heldSnap(0.99)}}
	rec := &memRecorder{}
	recovery := &memRecovery{}

	l := newTestLoop(feed, stubRule{name: "entry", fire: always, label: "dip"},
		stubRule{name: "exit", fire: never}, trader, view, rec, recovery)
	if err := l.bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	base := l.lastTime1m
	l.now = func() time.Time { return base.Add(30 * time.Second) }

	// First tick consumes the 1m update; no evaluation yet.
	feed.push(domain.Timeframe1m, "BTCUSDT", domain.Bar{OpenTime: base.Add(time.Minute), Close: 100.2})
	if err := l.tick(context.Background()); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if trader.calls != 0 {
		t.Fatal("trade executed on the update tick")
	}

	// Second tick has no pending update and evaluates.
	l.now = func() time.Time { return base.Add(90 * time.Second) }
	if err := l.tick(context.Background()); err != nil {
		t.Fatalf("tick 2: %v", err)
	}

	if trader.calls != 1 {
		t.Fatalf("trader calls = %d, want 1", trader.calls)
	}
	if !l.machine.Held() {
		t.Fatal("machine not held after fill")
	}
	if len(rec.records) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(rec.records))
	}
	row := rec.records[0]
	if !row.Buying || row.Ticker != "BTCUSDT" || row.Cause != "dip" {
		t.Errorf("row = %+v", row)
	}
	if row.CoinAmount != 0.99 {
		t.Errorf("CoinAmount = %v, want 0.99", row.CoinAmount)
	}
	if recovery.saves != 1 {
		t.Errorf("recovery saves = %d, want 1", recovery.saves)
	}
	if recovery.rec.LastBuyPrice != 100.4 {
		t.Errorf("recovery LastBuyPrice = %v, want 100.4", recovery.rec.LastBuyPrice)
	}
}

func TestLoopFailedBuyStaysFlatButIsLedgered(t *testing.T) {
	feed := newFakeFeed()
	trader := &fakeTrader{results: []executor.Result{{Failure: domain.FailSlowFill}}}
	view := &fakeView{snaps: []domain.PortfolioSnapshot{flatSnap(100), flatSnap(100)}}
	rec := &memRecorder{}
	recovery := &memRecovery{}

	l := newTestLoop(feed, stubRule{name: "entry", fire: always},
		stubRule{name: "exit", fire: never}, trader, view, rec, recovery)
	if err := l.bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	base := l.lastTime1m
	l.now = func() time.Time { return base.Add(30 * time.Second) }
	feed.push(domain.Timeframe1m, "BTCUSDT", domain.Bar{OpenTime: base.Add(time.Minute), Close: 100})
	if err := l.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if err := l.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if l.machine.Held() {
		t.Fatal("machine held after failed buy")
	}
	if len(rec.records) != 1 || rec.records[0].Failure != domain.FailSlowFill {
		t.Fatalf("records = %+v", rec.records)
	}
	if recovery.saves != 0 {
		t.Errorf("recovery saved on failed attempt")
	}
}

func TestLoopTradeBudgetPerMinute(t *testing.T) {
	feed := newFakeFeed()
	trader := &fakeTrader{results: []executor.Result{
		{Failure: domain.FailSlowFill},
		{Failure: domain.FailSlowFill},
		{Failure: domain.FailSlowFill},
	}}
	view := &fakeView{snaps: []domain.PortfolioSnapshot{flatSnap(100), flatSnap(100)}}

	l := newTestLoop(feed, stubRule{name: "entry", fire: always},
		stubRule{name: "exit", fire: never}, trader, view, &memRecorder{}, &memRecovery{})
	if err := l.bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	base := l.lastTime1m
	l.now = func() time.Time { return base.Add(30 * time.Second) }
	feed.push(domain.Timeframe1m, "BTCUSDT", domain.Bar{OpenTime: base.Add(time.Minute), Close: 100})
	if err := l.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	// Two attempts exhaust the default budget; the third tick must not trade.
	for i := 0; i < 3; i++ {
		if err := l.tick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	if trader.calls != 2 {
		t.Fatalf("trader calls = %d, want 2", trader.calls)
	}
}

func TestLoopHeavyDesyncSkipsEvaluation(t *testing.T) {
	feed := newFakeFeed()
	trader := &fakeTrader{results: []executor.Result{{}}}
	view := &fakeView{snaps: []domain.PortfolioSnapshot{flatSnap(100)}}

	l := newTestLoop(feed, stubRule{name: "entry", fire: always},
		stubRule{name: "exit", fire: never}, trader, view, &memRecorder{}, &memRecovery{})
	if err := l.bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	base := l.lastTime1m
	l.now = func() time.Time { return base.Add(30 * time.Second) }
	feed.push(domain.Timeframe1m, "BTCUSDT", domain.Bar{OpenTime: base.Add(time.Minute), Close: 100})
	if err := l.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	// Jump the clock 2 minutes past the last bar: heavy desync.
	l.now = func() time.Time { return l.lastTime1m.Add(2 * time.Minute) }
	if err := l.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if trader.calls != 0 {
		t.Fatalf("trader calls = %d, want 0 under heavy desync", trader.calls)
	}
}
