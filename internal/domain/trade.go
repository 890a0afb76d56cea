package domain

import "time"

// TradeRecord is one row of the append-only trade ledger: a single executed
// or attempted leg. Records are never mutated after creation and are strictly
// ordered by timestamp. Sell-only fields (profit, time held) stay zero on buy
// legs; live-only fields (slippage, failure) stay zero in backtests.
type TradeRecord struct {
	Timestamp      time.Time   `csv:"timestamp"`
	Close          float64     `csv:"close"`
	Buying         bool        `csv:"buying"`
	Ticker         string      `csv:"ticker"`
	CoinAmount     float64     `csv:"coin_amount"`
	BaseAmount     float64     `csv:"base_amount"`
	ProfitPct      float64     `csv:"profit_pct"`
	TimeHeldMin    float64     `csv:"time_held_min"`
	Cause          string      `csv:"cause"`
	Failure        FailureKind `csv:"failure"`
	SlipPct        float64     `csv:"slip_pct"`
	FeeAssetAmount float64     `csv:"fee_asset_amount"`
	Base           string      `csv:"base"`
}

// Side returns the leg direction implied by the Buying flag.
func (r TradeRecord) Side() Side {
	if r.Buying {
		return SideBuy
	}
	return SideSell
}
