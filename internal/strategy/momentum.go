package strategy

import "github.com/jtersteeg/tidebot/internal/domain"

// MomentumParams tunes the momentum rule pair. FastBars and SlowBars are 15m
// SMA lengths; the 1h close must also sit above its previous close for an
// entry.
type MomentumParams struct {
	FastBars int
	SlowBars int
	// TrailPct is the exit's giveback from the session high, in percent.
	TrailPct float64
}

// DefaultMomentumParams returns a 4/16 crossover with a 1.5% trail.
func DefaultMomentumParams() MomentumParams {
	return MomentumParams{FastBars: 4, SlowBars: 16, TrailPct: 1.5}
}

// MomentumEntry fires on a fast-over-slow 15m SMA crossover confirmed by a
// rising 1h close.
type MomentumEntry struct {
	params MomentumParams
}

func NewMomentumEntry(p MomentumParams) *MomentumEntry {
	return &MomentumEntry{params: p}
}

func (r *MomentumEntry) Name() string { return "momentum_entry" }

func (r *MomentumEntry) Evaluate(in domain.RuleInput, s domain.Session) (bool, domain.Session) {
	fast, ok := sma(in.M15, in.Idx15m, r.params.FastBars)
	if !ok {
		return false, s
	}
	slow, ok := sma(in.M15, in.Idx15m, r.params.SlowBars)
	if !ok {
		return false, s
	}
	if fast <= slow {
		return false, s
	}
	if in.Idx1h < 1 || in.Idx1h >= len(in.H1) {
		return false, s
	}
	if in.H1[in.Idx1h].Close <= in.H1[in.Idx1h-1].Close {
		return false, s
	}
	s = s.CloneScratch()
	s.EntryLabel = "momentum"
	if s.Scratch == nil {
		s.Scratch = make(map[string]float64)
	}
	s.Scratch["momentum_high"] = in.M1[in.Idx1m].Close
	return true, s
}

// MomentumExit trails the session high: it fires when price gives back
// TrailPct from the highest 1m close seen since entry.
type MomentumExit struct {
	params MomentumParams
}

func NewMomentumExit(p MomentumParams) *MomentumExit {
	return &MomentumExit{params: p}
}

func (r *MomentumExit) Name() string { return "momentum_exit" }

func (r *MomentumExit) Evaluate(in domain.RuleInput, s domain.Session) (bool, domain.Session) {
	if in.Idx1m >= len(in.M1) {
		return false, s
	}
	close := in.M1[in.Idx1m].Close

	s = s.CloneScratch()
	if s.Scratch == nil {
		s.Scratch = make(map[string]float64)
	}
	high := s.Scratch["momentum_high"]
	if close > high {
		high = close
		s.Scratch["momentum_high"] = high
	}
	if high == 0 {
		s.Scratch["momentum_high"] = close
		return false, s
	}
	if close <= high*(1-r.params.TrailPct/100) {
		s.ExitLabel = "momentum_trail"
		return true, s
	}
	return false, s
}

// sma computes the simple moving average of closes over n bars ending at idx.
func sma(bars []domain.Bar, idx, n int) (float64, bool) {
	if n <= 0 || idx+1 < n || idx >= len(bars) {
		return 0, false
	}
	var sum float64
	for _, b := range bars[idx+1-n : idx+1] {
		sum += b.Close
	}
	return sum / float64(n), true
}
