package domain

import "time"

// Side is the direction of a trade leg.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ExitCause records which condition closed (or attempted to close) a
// position. The drawdown stop always takes precedence over the time stop,
// and both take precedence over a rule-fired exit.
type ExitCause string

const (
	ExitDrawdownStop ExitCause = "drawdown_stop"
	ExitTimeStop     ExitCause = "time_stop"
	ExitRuleFired    ExitCause = "rule"
)

// Position describes the single held position. Exactly one Position exists
// process-wide while the engine is in the held state; it is mutated only by
// the decision loop after a confirmed trade.
type Position struct {
	Ticker     string
	EntryTime  time.Time
	EntryPrice float64
	Quantity   float64
	// RefBalance is the base-currency amount committed at entry; profit on
	// the closing leg is computed relative to it.
	RefBalance float64
}

// RecoveryRecord is the small persisted state that keeps drawdown-stop and
// time-stop math correct across a process restart.
type RecoveryRecord struct {
	EntryTime      time.Time
	LastBaseAmount float64
	LastBuyPrice   float64
}
