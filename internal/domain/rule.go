package domain

import "time"

// Session is the strategy context threaded through rule evaluations. It is
// owned by the decision loop and passed by value: a rule receives the current
// session and returns the next one, so no hidden state is shared between
// invocations.
type Session struct {
	EntryTime      time.Time
	LastBaseAmount float64
	LastBuyPrice   float64
	// EntryLabel and ExitLabel name the sub-signal a rule fired on, for the
	// ledger's cause column.
	EntryLabel string
	ExitLabel  string
	// Scratch carries rule-private numeric state between bars.
	Scratch map[string]float64
}

// CloneScratch returns a copy of s with an independent Scratch map, so a rule
// can mutate its returned session without aliasing the caller's.
func (s Session) CloneScratch() Session {
	if s.Scratch == nil {
		return s
	}
	m := make(map[string]float64, len(s.Scratch))
	for k, v := range s.Scratch {
		m[k] = v
	}
	s.Scratch = m
	return s
}

// RuleInput is the immutable view of market data a rule evaluates against.
// The index cursors point at the bar under decision in each series; in live
// mode they are simply the last index of each slice.
type RuleInput struct {
	Ticker string
	M1     []Bar
	M15    []Bar
	H1     []Bar
	Idx1m  int
	Idx15m int
	Idx1h  int
}

// Rule is a pluggable entry or exit predicate. Evaluate must be pure with
// respect to its inputs: all carried state flows through the returned
// Session.
type Rule interface {
	Name() string
	Evaluate(in RuleInput, s Session) (bool, Session)
}
