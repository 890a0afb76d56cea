package strategy

import (
	"math"

	"github.com/jtersteeg/tidebot/internal/domain"
)

// MeanReversionParams tunes the mean reversion rule pair. Lookback is in 15m
// bars; Threshold is the number of trailing standard deviations the 1m close
// must deviate from the 15m mean before a signal fires.
type MeanReversionParams struct {
	Lookback  int
	Threshold float64
}

// DefaultMeanReversionParams returns a 20-bar, 2-sigma configuration.
func DefaultMeanReversionParams() MeanReversionParams {
	return MeanReversionParams{Lookback: 20, Threshold: 2.0}
}

// MeanReversionEntry fires when the 1m close sits well below the trailing 15m
// mean, buying into short-term dips.
type MeanReversionEntry struct {
	params MeanReversionParams
}

func NewMeanReversionEntry(p MeanReversionParams) *MeanReversionEntry {
	return &MeanReversionEntry{params: p}
}

func (r *MeanReversionEntry) Name() string { return "mean_reversion_entry" }

func (r *MeanReversionEntry) Evaluate(in domain.RuleInput, s domain.Session) (bool, domain.Session) {
	mean, stddev, ok := trailingStats(in.M15, in.Idx15m, r.params.Lookback)
	if !ok || stddev == 0 {
		return false, s
	}
	close := in.M1[in.Idx1m].Close
	deviation := (close - mean) / stddev
	if deviation > -r.params.Threshold {
		return false, s
	}
	s = s.CloneScratch()
	s.EntryLabel = "mean_reversion"
	return true, s
}

// MeanReversionExit fires once price has reverted to (or beyond) the trailing
// 15m mean.
type MeanReversionExit struct {
	params MeanReversionParams
}

func NewMeanReversionExit(p MeanReversionParams) *MeanReversionExit {
	return &MeanReversionExit{params: p}
}

func (r *MeanReversionExit) Name() string { return "mean_reversion_exit" }

func (r *MeanReversionExit) Evaluate(in domain.RuleInput, s domain.Session) (bool, domain.Session) {
	mean, _, ok := trailingStats(in.M15, in.Idx15m, r.params.Lookback)
	if !ok {
		return false, s
	}
	if in.M1[in.Idx1m].Close < mean {
		return false, s
	}
	s = s.CloneScratch()
	s.ExitLabel = "mean_reversion"
	return true, s
}

// trailingStats computes mean and standard deviation of closes over the
// lookback window ending at idx inclusive. ok is false when the series does
// not reach back far enough.
func trailingStats(bars []domain.Bar, idx, lookback int) (mean, stddev float64, ok bool) {
	if lookback <= 0 || idx+1 < lookback || idx >= len(bars) {
		return 0, 0, false
	}
	window := bars[idx+1-lookback : idx+1]
	var sum float64
	for _, b := range window {
		sum += b.Close
	}
	mean = sum / float64(lookback)
	var sq float64
	for _, b := range window {
		d := b.Close - mean
		sq += d * d
	}
	stddev = math.Sqrt(sq / float64(lookback))
	return mean, stddev, true
}
