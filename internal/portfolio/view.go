// Package portfolio reconciles authoritative account balances into a
// consistent snapshot for the decision loop.
package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/jtersteeg/tidebot/internal/domain"
	"github.com/jtersteeg/tidebot/internal/exchange"
)

// flatBaseEpsilon: a free base balance at or below this (after rounding to 4
// decimals) means the base is fully deployed, i.e. a position is held.
const flatBaseEpsilon = 1e-4

// View queries the exchange for base and per-asset balances and derives the
// held/flat state. It never computes balances incrementally; every snapshot
// is authoritative.
type View struct {
	ex       exchange.Exchange
	base     string
	assets   []string
	feeAsset string
	logger   *slog.Logger
}

// NewView creates a View over the given base currency and tracked assets.
// feeAsset (e.g. "BNB") is carried into snapshots for ledger bookkeeping; it
// may be empty.
func NewView(ex exchange.Exchange, base string, assets []string, feeAsset string, logger *slog.Logger) *View {
	return &View{
		ex:       ex,
		base:     base,
		assets:   assets,
		feeAsset: feeAsset,
		logger:   logger.With(slog.String("component", "portfolio")),
	}
}

// Refresh queries every tracked balance and derives the position state. It
// returns domain.ErrLockedFunds (fatal, wrapped) when more than one asset is
// simultaneously held or any tracked asset has a locked balance: continuing
// would risk a double position or an orphaned balance, so the caller must
// terminate rather than guess.
func (v *View) Refresh(ctx context.Context) (domain.PortfolioSnapshot, error) {
	snap := domain.PortfolioSnapshot{
		Base:   v.base,
		Assets: make(map[string]domain.AssetBalance, len(v.assets)),
	}

	baseBal, err := v.ex.Balance(ctx, v.base)
	if err != nil {
		return snap, fmt.Errorf("portfolio: base balance: %w", err)
	}
	snap.BaseFree = baseBal.Free
	snap.BaseLocked = baseBal.Locked

	if v.feeAsset != "" {
		feeBal, err := v.ex.Balance(ctx, v.feeAsset)
		if err != nil {
			return snap, fmt.Errorf("portfolio: fee asset balance: %w", err)
		}
		snap.FeeAssetFree = feeBal.Free
	}

	heldCount := 0
	lockedAsset := ""
	for _, asset := range v.assets {
		bal, err := v.ex.Balance(ctx, asset)
		if err != nil {
			return snap, fmt.Errorf("portfolio: %s balance: %w", asset, err)
		}
		snap.Assets[asset] = bal
		if bal.Free > 0 {
			heldCount++
			snap.HeldTicker = asset
		}
		if bal.Locked > 0 {
			lockedAsset = asset
		}
	}

	if heldCount > 1 {
		return snap, fmt.Errorf("portfolio: %d assets held: %w", heldCount, domain.ErrLockedFunds)
	}
	if lockedAsset != "" {
		return snap, fmt.Errorf("portfolio: asset %s locked: %w", lockedAsset, domain.ErrLockedFunds)
	}

	baseRounded := math.Round(snap.BaseFree*1e4) / 1e4
	snap.Held = baseRounded <= flatBaseEpsilon || heldCount > 0
	if !snap.Held {
		snap.HeldTicker = ""
	}

	v.logger.Debug("portfolio refreshed",
		slog.Float64("base_free", snap.BaseFree),
		slog.Float64("base_locked", snap.BaseLocked),
		slog.Bool("held", snap.Held),
		slog.String("held_ticker", snap.HeldTicker),
	)
	return snap, nil
}
