package domain

import "time"

// PriceLevel is a single price+quantity entry in an order book.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// DepthSnapshot is a point-in-time view of the top of the order book for one
// ticker. Levels are ordered best-first (ascending asks, descending bids).
// It is consumed transiently by the pricer and never retained.
type DepthSnapshot struct {
	Ticker    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}
