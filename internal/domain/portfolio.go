package domain

// AssetBalance is the free/locked split of one asset in the account.
type AssetBalance struct {
	Free   float64
	Locked float64
}

// PortfolioSnapshot is an authoritative view of account balances, refreshed
// by querying the exchange after every trade attempt. It is never computed
// incrementally.
type PortfolioSnapshot struct {
	Base       string
	BaseFree   float64
	BaseLocked float64
	Assets     map[string]AssetBalance
	// FeeAssetFree is the free balance of the fee-discount asset (BNB on
	// Binance), carried into the ledger for bookkeeping.
	FeeAssetFree float64

	Held       bool
	HeldTicker string // asset symbol of the held coin, "" when flat
}

// HeldQuantity returns the free balance of the held asset, or zero when flat.
func (s PortfolioSnapshot) HeldQuantity() float64 {
	if !s.Held || s.HeldTicker == "" {
		return 0
	}
	return s.Assets[s.HeldTicker].Free
}
