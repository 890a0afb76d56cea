package notify

import (
	"context"
	"time"

	"github.com/jtersteeg/tidebot/internal/domain"
)

// sendTimeout bounds each webhook dispatch so a slow channel cannot stall the
// decision loop's ledger write.
const sendTimeout = 10 * time.Second

// Recorder wraps a trade recorder and pushes an alert for every appended row.
// Notification failures are logged by the Notifier and never surface to the
// caller; the ledger write is the only thing that can fail.
type Recorder struct {
	inner interface {
		Append(rec domain.TradeRecord) error
	}
	notifier *Notifier
}

// NewRecorder wraps inner with notification dispatch.
func NewRecorder(inner interface {
	Append(rec domain.TradeRecord) error
}, notifier *Notifier) *Recorder {
	return &Recorder{inner: inner, notifier: notifier}
}

// Append writes the row and then dispatches the alert.
func (r *Recorder) Append(rec domain.TradeRecord) error {
	if err := r.inner.Append(rec); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	_ = r.notifier.NotifyTrade(ctx, rec)
	return nil
}
