// Package metrics exposes the engine's Prometheus metrics: trade attempts by
// side and outcome, the held-position gauge, and feed desync counts. Served
// at /metrics when the metrics server is enabled.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jtersteeg/tidebot/internal/domain"
)

var (
	tradeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_trade_attempts_total",
			Help: "Trade attempts by side and outcome",
		},
		[]string{"side", "outcome"},
	)

	positionHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_position_held",
			Help: "1 while a position is open, 0 while flat",
		},
	)

	exitCauses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_exit_causes_total",
			Help: "Position exits by cause",
		},
		[]string{"cause"},
	)

	feedDesyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_feed_desyncs_total",
			Help: "Feed desync detections by severity",
		},
		[]string{"severity"},
	)
)

func init() {
	prometheus.MustRegister(tradeAttempts, positionHeld, exitCauses, feedDesyncs)
}

// RecordAttempt counts one trade attempt.
func RecordAttempt(side domain.Side, failure domain.FailureKind) {
	outcome := "filled"
	if failure.Failed() {
		outcome = string(failure)
	}
	tradeAttempts.WithLabelValues(string(side), outcome).Inc()
}

// SetHeld updates the position gauge.
func SetHeld(held bool) {
	if held {
		positionHeld.Set(1)
	} else {
		positionHeld.Set(0)
	}
}

// RecordExit counts a position exit by cause.
func RecordExit(cause domain.ExitCause) {
	exitCauses.WithLabelValues(string(cause)).Inc()
}

// RecordDesync counts a feed desync detection ("light" or "heavy").
func RecordDesync(severity string) {
	feedDesyncs.WithLabelValues(severity).Inc()
}

// Handler returns the Prometheus exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
