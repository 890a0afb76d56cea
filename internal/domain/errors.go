package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrLockedFunds   = errors.New("locked funds: more than one asset balance in play")
	ErrNoPosition    = errors.New("no open position")
	ErrAlreadyHeld   = errors.New("position already held")
	ErrFeedStalled   = errors.New("feed stalled")
	ErrInvalidRecord = errors.New("invalid recovery record")
	ErrWSDisconnect  = errors.New("websocket disconnected")
)

// FailureKind classifies the outcome of a trade attempt. The zero value means
// the attempt succeeded. Every non-fatal kind is absorbed at the sequencer
// boundary and surfaces only as a ledger field.
type FailureKind string

const (
	FailNone                FailureKind = ""
	FailPrecision           FailureKind = "precision"
	FailInsufficientBalance FailureKind = "insufficient_balance"
	FailExchange            FailureKind = "exchange_error"
	FailSlowFill            FailureKind = "slow_fill"
)

// Failed reports whether the kind marks a failed attempt.
func (k FailureKind) Failed() bool { return k != FailNone }
