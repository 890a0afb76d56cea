package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/jtersteeg/tidebot/internal/domain"
)

func flatBars(n int, close float64) []domain.Bar {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{OpenTime: start.Add(time.Duration(i) * 15 * time.Minute), Close: close}
	}
	return bars
}

func TestTrailingStats(t *testing.T) {
	bars := flatBars(10, 0)
	for i, c := range []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10} {
		bars[i].Close = c
	}

	mean, stddev, ok := trailingStats(bars, 9, 4)
	if !ok {
		t.Fatal("trailingStats not ok")
	}
	// Window is 7,8,9,10: mean 8.5, population stddev sqrt(1.25).
	if mean != 8.5 {
		t.Errorf("mean = %v, want 8.5", mean)
	}
	if want := math.Sqrt(1.25); math.Abs(stddev-want) > 1e-12 {
		t.Errorf("stddev = %v, want %v", stddev, want)
	}
}

func TestTrailingStatsShortSeries(t *testing.T) {
	if _, _, ok := trailingStats(flatBars(3, 100), 2, 4); ok {
		t.Error("trailingStats ok on a series shorter than the lookback")
	}
	if _, _, ok := trailingStats(flatBars(5, 100), 7, 4); ok {
		t.Error("trailingStats ok with idx past the series")
	}
}

func meanRevInput(m15 []domain.Bar, close1m float64) domain.RuleInput {
	return domain.RuleInput{
		Ticker: "BTCUSDT",
		M1:     []domain.Bar{{Close: close1m}},
		M15:    m15,
		Idx1m:  0,
		Idx15m: len(m15) - 1,
	}
}

func TestMeanReversionEntryFiresOnDeepDip(t *testing.T) {
	// 20 bars oscillating around 100 with stddev 1.
	m15 := flatBars(20, 0)
	for i := range m15 {
		m15[i].Close = 100 + float64(1-2*(i%2)) // 99, 101, 99, ...
	}
	rule := NewMeanReversionEntry(DefaultMeanReversionParams())

	// Close three sigma below the mean fires.
	fired, s := rule.Evaluate(meanRevInput(m15, 97), domain.Session{})
	if !fired {
		t.Fatal("entry did not fire three sigma below the mean")
	}
	if s.EntryLabel != "mean_reversion" {
		t.Errorf("EntryLabel = %q", s.EntryLabel)
	}

	// One sigma below does not.
	if fired, _ := rule.Evaluate(meanRevInput(m15, 99), domain.Session{}); fired {
		t.Error("entry fired one sigma below the mean")
	}
}

func TestMeanReversionEntryFlatSeries(t *testing.T) {
	// Zero variance: the rule must stay quiet rather than divide by zero.
	rule := NewMeanReversionEntry(DefaultMeanReversionParams())
	if fired, _ := rule.Evaluate(meanRevInput(flatBars(20, 100), 50), domain.Session{}); fired {
		t.Error("entry fired on a zero-variance series")
	}
}

func TestMeanReversionExit(t *testing.T) {
	m15 := flatBars(20, 100)
	rule := NewMeanReversionExit(DefaultMeanReversionParams())

	if fired, _ := rule.Evaluate(meanRevInput(m15, 99.9), domain.Session{}); fired {
		t.Error("exit fired below the mean")
	}
	fired, s := rule.Evaluate(meanRevInput(m15, 100), domain.Session{})
	if !fired {
		t.Error("exit did not fire at the mean")
	}
	if s.ExitLabel != "mean_reversion" {
		t.Errorf("ExitLabel = %q", s.ExitLabel)
	}
}

func TestRegistryBuild(t *testing.T) {
	reg := NewRegistry()

	set, err := reg.Build("mean_reversion_entry", "momentum_exit")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if set.Entry.Name() != "mean_reversion_entry" || set.Exit.Name() != "momentum_exit" {
		t.Errorf("set = %s/%s", set.Entry.Name(), set.Exit.Name())
	}

	if _, err := reg.Build("nope", "momentum_exit"); err == nil {
		t.Error("Build resolved an unregistered entry rule")
	}

	names := reg.List()
	want := []string{"mean_reversion_entry", "mean_reversion_exit", "momentum_entry", "momentum_exit"}
	if len(names) != len(want) {
		t.Fatalf("List = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
