package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/model"
)

// SupplyLimiter bounds buys by the shares an asset can still issue.
//
// An asset's cap is its TotalIssuableShares, or DefaultCap when the asset
// defines none. Available supply is the cap minus shares already held
// across all users; it never goes below zero.
type SupplyLimiter struct {
	DefaultCap decimal.Decimal
}

// NewSupplyLimiter creates a limiter with the given default cap.
func NewSupplyLimiter(defaultCap decimal.Decimal) *SupplyLimiter {
	return &SupplyLimiter{DefaultCap: defaultCap}
}

// Cap returns the issuance cap that applies to asset.
func (l *SupplyLimiter) Cap(asset *model.Asset) decimal.Decimal {
	if asset.TotalIssuableShares != nil {
		return *asset.TotalIssuableShares
	}
	return l.DefaultCap
}

// Available returns the shares still issuable given held shares.
func (l *SupplyLimiter) Available(asset *model.Asset, held decimal.Decimal) decimal.Decimal {
	avail := l.Cap(asset).Sub(held)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// CheckBuy returns an InsufficientSupply error if quantity exceeds the
// available supply.
func (l *SupplyLimiter) CheckBuy(asset *model.Asset, held, quantity decimal.Decimal) error {
	avail := l.Available(asset, held)
	if quantity.GreaterThan(avail) {
		return insufficient(KindInsufficientSupply, avail,
			"buy of %s exceeds available supply of %s for asset %s", quantity, avail, asset.ID)
	}
	return nil
}
