// Package engine owns the position state machine and the live decision loop.
// The same transition rules drive both live trading and the backtest
// simulator, which is what keeps the two ledgers comparable.
package engine

import (
	"fmt"
	"time"

	"github.com/jtersteeg/tidebot/internal/domain"
)

// StopConfig holds the guardrail parameters of the state machine.
type StopConfig struct {
	// SinkLimitPct is the drawdown from the entry price, in percent, that
	// forces an exit.
	SinkLimitPct float64
	// MaxHold is the longest a position may stay open before a forced exit.
	MaxHold time.Duration
}

// ExitDecision classifies the held state for one bar.
type ExitDecision struct {
	Exit bool
	// Cause is which condition fired. The drawdown stop always takes
	// precedence, then the time stop, then the rule.
	Cause domain.ExitCause
}

// Machine is the Flat/Held position state machine. It is purely reactive: it
// classifies inputs into a transition decision once per processed bar and
// never initiates action on its own. A single instance exists per engine and
// is mutated only by the decision loop (or the simulator) after a confirmed
// trade.
type Machine struct {
	cfg  StopConfig
	held bool
	pos  domain.Position
}

// NewMachine creates a flat Machine.
func NewMachine(cfg StopConfig) *Machine {
	return &Machine{cfg: cfg}
}

// Held reports whether a position is open.
func (m *Machine) Held() bool { return m.held }

// Position returns the open position. Valid only while Held.
func (m *Machine) Position() domain.Position { return m.pos }

// EntryQuantity computes the starting coin quantity for a buy of baseAmount
// at price, net of the trading fee and estimated slippage.
func EntryQuantity(baseAmount, price, fee, estSlip float64) float64 {
	return baseAmount / price * (1 - fee - estSlip)
}

// Enter transitions Flat → Held. It fails when a position already exists
// (invariant: at most one position at any time).
func (m *Machine) Enter(pos domain.Position) error {
	if m.held {
		return fmt.Errorf("engine: enter %s: %w", pos.Ticker, domain.ErrAlreadyHeld)
	}
	m.held = true
	m.pos = pos
	return nil
}

// Exit transitions Held → Flat and returns the closed position.
func (m *Machine) Exit() (domain.Position, error) {
	if !m.held {
		return domain.Position{}, fmt.Errorf("engine: exit: %w", domain.ErrNoPosition)
	}
	pos := m.pos
	m.held = false
	m.pos = domain.Position{}
	return pos, nil
}

// Restore re-establishes a held position from the persisted recovery record
// after a process restart.
func (m *Machine) Restore(pos domain.Position) {
	m.held = true
	m.pos = pos
}

// Decide evaluates the three exit conditions in priority order for the bar at
// now with the given current price. ruleFired is the exit rule's output for
// this bar; the drawdown stop wins even when the rule would also have fired.
// The drawdown stop fires on the first bar strictly below the threshold
// (exactly at the threshold does not fire); the time stop fires on the first
// bar where the elapsed hold strictly exceeds MaxHold.
func (m *Machine) Decide(currentPrice float64, now time.Time, ruleFired bool) ExitDecision {
	if !m.held {
		return ExitDecision{}
	}
	if currentPrice/m.pos.EntryPrice < 1-m.cfg.SinkLimitPct/100 {
		return ExitDecision{Exit: true, Cause: domain.ExitDrawdownStop}
	}
	if now.Sub(m.pos.EntryTime) > m.cfg.MaxHold {
		return ExitDecision{Exit: true, Cause: domain.ExitTimeStop}
	}
	if ruleFired {
		return ExitDecision{Exit: true, Cause: domain.ExitRuleFired}
	}
	return ExitDecision{}
}
