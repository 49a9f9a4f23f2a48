// Package model defines the core domain types shared across the ledger service.
// All monetary values and share counts use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// OrderType selects how the execution price is resolved.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool { return t == OrderTypeMarket || t == OrderTypeLimit }

// OrderStatusFilled is the only status an order can have: there are no
// partial fills and no resting orders.
const OrderStatusFilled = "filled"

// Asset is a tokenized real-world asset that users can hold shares of.
// TotalIssuableShares bounds buy-side settlement; nil means the service's
// default issuance cap applies.
type Asset struct {
	ID                  string           `json:"id" db:"id"`
	Symbol              string           `json:"symbol" db:"symbol"`
	Name                string           `json:"name" db:"name"`
	CurrentPrice        decimal.Decimal  `json:"current_price" db:"current_price"`
	TotalIssuableShares *decimal.Decimal `json:"total_issuable_shares,omitempty" db:"total_issuable_shares"`
	CreatedAt           time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at" db:"updated_at"`
}

// User is a platform account bound to one wallet.
type User struct {
	ID            string    `json:"id" db:"id"`
	WalletAddress string    `json:"wallet_address" db:"wallet_address"` // EIP-55 checksummed
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Position is a user's aggregated holding in one asset.
// A position with zero shares is never stored; it is deleted instead.
type Position struct {
	UserID      string          `json:"user_id" db:"user_id"`
	AssetID     string          `json:"asset_id" db:"asset_id"`
	Shares      decimal.Decimal `json:"shares" db:"shares"`
	AverageCost decimal.Decimal `json:"average_cost" db:"average_cost"` // volume-weighted, fee-inclusive
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// TradeEvent is an immutable record of a settled trade.
// Once created, these are never modified or deleted.
type TradeEvent struct {
	ID               string          `json:"id" db:"id"`
	UserID           string          `json:"user_id" db:"user_id"`
	AssetID          string          `json:"asset_id" db:"asset_id"`
	Side             Side            `json:"side" db:"side"`
	Quantity         decimal.Decimal `json:"quantity" db:"quantity"`
	ExecutionPrice   decimal.Decimal `json:"execution_price" db:"execution_price"`
	GrossValue       decimal.Decimal `json:"gross_value" db:"gross_value"`
	Fee              decimal.Decimal `json:"fee" db:"fee"`
	NetConsideration decimal.Decimal `json:"net_consideration" db:"net_consideration"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl" db:"realized_pnl"` // zero for buys
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// OrderRecord is the settlement receipt for a TradeEvent.
type OrderRecord struct {
	ID         string           `json:"id" db:"id"`
	TradeID    string           `json:"trade_id" db:"trade_id"`
	UserID     string           `json:"user_id" db:"user_id"`
	AssetID    string           `json:"asset_id" db:"asset_id"`
	Side       Side             `json:"side" db:"side"`
	OrderType  OrderType        `json:"order_type" db:"order_type"`
	Quantity   decimal.Decimal  `json:"quantity" db:"quantity"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty" db:"limit_price"`
	Status     string           `json:"status" db:"status"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
}

// PortfolioPosition is a Position marked to the asset's current price.
type PortfolioPosition struct {
	Position
	Symbol        string          `json:"symbol"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"` // shares * currentPrice
	CostBasis     decimal.Decimal `json:"cost_basis"`   // shares * averageCost
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Portfolio aggregates all positions for a user.
type Portfolio struct {
	UserID           string              `json:"user_id"`
	Positions        []PortfolioPosition `json:"positions"`
	TotalMarketValue decimal.Decimal     `json:"total_market_value"`
	TotalCostBasis   decimal.Decimal     `json:"total_cost_basis"`
	TotalPnL         decimal.Decimal     `json:"total_pnl"`
}
