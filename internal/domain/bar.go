package domain

import "time"

// Timeframe identifies the bucket size of a candle series.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
)

// Timeframes lists every timeframe the engine tracks, lowest first.
func Timeframes() []Timeframe {
	return []Timeframe{Timeframe1m, Timeframe15m, Timeframe1h}
}

// Duration returns the bucket length of the timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	default:
		return time.Minute
	}
}

// Floor truncates t down to the start of the bucket containing it.
func (tf Timeframe) Floor(t time.Time) time.Time {
	return t.Truncate(tf.Duration())
}

// Bar is a single OHLCV candle for one ticker/timeframe pair, keyed by its
// open time. A bar is immutable once the candle has closed.
type Bar struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// MultiSeries bundles the three aligned candle series for one ticker.
// Slices are ordered by OpenTime ascending.
type MultiSeries struct {
	M1  []Bar
	M15 []Bar
	H1  []Bar
}

// AppendBar appends b to series, dropping the oldest element once the series
// exceeds keep entries. It returns false without appending when b repeats the
// open time of the last bar (duplicate delivery from the feed).
func AppendBar(series []Bar, b Bar, keep int) ([]Bar, bool) {
	if n := len(series); n > 0 && series[n-1].OpenTime.Equal(b.OpenTime) {
		return series, false
	}
	series = append(series, b)
	if keep > 0 && len(series) > keep {
		series = series[len(series)-keep:]
	}
	return series, true
}
