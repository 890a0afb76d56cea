// Package notify pushes operator alerts for trade activity over Telegram and
// Discord webhooks. Events are filtered by type so operators receive only the
// alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jtersteeg/tidebot/internal/domain"
)

// Event types the engine emits.
const (
	EventTradeExecuted  = "trade_executed"
	EventTradeFailed    = "trade_failed"
	EventPositionClosed = "position_closed"
	EventError          = "error"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. It maintains a set
// of allowed event types; Notify only forwards messages whose event type is in
// the allowed set, while NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded by Notify.
// If events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification to all senders only if the event type is in the
// allowed list. If no events were configured (empty list), all events pass.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// NotifyTrade formats one ledger row into an operator alert and dispatches
// it under the matching event type.
func (n *Notifier) NotifyTrade(ctx context.Context, rec domain.TradeRecord) error {
	if rec.Failure.Failed() {
		return n.Notify(ctx, EventTradeFailed,
			fmt.Sprintf("Trade failed: %s", rec.Ticker),
			fmt.Sprintf("side=%s failure=%s close=%.8g", rec.Side(), rec.Failure, rec.Close))
	}
	if rec.Buying {
		return n.Notify(ctx, EventTradeExecuted,
			fmt.Sprintf("Bought %s", rec.Ticker),
			fmt.Sprintf("qty=%.8g close=%.8g slip=%.4f%%", rec.CoinAmount, rec.Close, rec.SlipPct))
	}
	return n.Notify(ctx, EventPositionClosed,
		fmt.Sprintf("Sold %s (%s)", rec.Ticker, rec.Cause),
		fmt.Sprintf("profit=%.4f%% held=%.1fmin close=%.8g", rec.ProfitPct, rec.TimeHeldMin, rec.Close))
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
