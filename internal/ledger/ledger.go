// Package ledger settles trades against users' positions.
//
// A settlement resolves the execution price, computes fee and consideration,
// checks issuable supply (buys) or holdings (sells), and then, inside one
// store unit of work, appends a TradeEvent and an OrderRecord and updates or
// deletes the user's Position. Validation failures never write anything and
// write failures roll back everything.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/id"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/model"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/store"
)

// DefaultFeeRate is charged on gross value when no rate is configured.
var DefaultFeeRate = decimal.RequireFromString("0.001")

// Request is one trade to settle. Price is required for limit orders and
// ignored for market orders.
type Request struct {
	UserID    string
	AssetID   string
	Side      model.Side
	Quantity  decimal.Decimal
	OrderType model.OrderType
	Price     *decimal.Decimal
}

// Validate checks the request shape without touching the store.
func (r Request) Validate() error {
	if r.UserID == "" {
		return invalidArgument("user_id is required")
	}
	if r.AssetID == "" {
		return invalidArgument("asset_id is required")
	}
	if !r.Side.Valid() {
		return invalidArgument("side must be buy or sell, got %q", r.Side)
	}
	if !r.Quantity.IsPositive() {
		return invalidArgument("quantity must be positive, got %s", r.Quantity)
	}
	if !r.OrderType.Valid() {
		return invalidArgument("order_type must be market or limit, got %q", r.OrderType)
	}
	if r.OrderType == model.OrderTypeLimit && (r.Price == nil || !r.Price.IsPositive()) {
		return invalidArgument("limit orders require a positive price")
	}
	return nil
}

// Result describes a completed settlement.
type Result struct {
	OrderID          string          `json:"order_id"`
	TradeID          string          `json:"trade_id"`
	ExecutionPrice   decimal.Decimal `json:"execution_price"`
	GrossValue       decimal.Decimal `json:"gross_value"`
	Fee              decimal.Decimal `json:"fee"`
	NetConsideration decimal.Decimal `json:"net_consideration"`
	ResultingShares  decimal.Decimal `json:"resulting_shares"`
	AverageCost      decimal.Decimal `json:"average_cost"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`

	TradeEvent  model.TradeEvent  `json:"trade"`
	OrderRecord model.OrderRecord `json:"order"`
}

// Ledger settles trades against a store.
type Ledger struct {
	store   store.Store
	feeRate decimal.Decimal
	supply  *SupplyLimiter
	now     func() time.Time
	newID   func() string
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator overrides how trade and order IDs are minted.
func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) { l.newID = fn }
}

// New creates a ledger. A negative feeRate falls back to DefaultFeeRate.
// A nil supply limiter means assets without an explicit cap cannot be bought.
func New(st store.Store, feeRate decimal.Decimal, supply *SupplyLimiter, opts ...Option) *Ledger {
	if feeRate.IsNegative() {
		feeRate = DefaultFeeRate
	}
	if supply == nil {
		supply = NewSupplyLimiter(decimal.Zero)
	}
	l := &Ledger{
		store:   st,
		feeRate: feeRate,
		supply:  supply,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   id.New,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FeeRate returns the rate charged on gross value.
func (l *Ledger) FeeRate() decimal.Decimal { return l.feeRate }

// Supply returns the limiter bounding buys.
func (l *Ledger) Supply() *SupplyLimiter { return l.supply }

// Quote is the priced consideration of a trade.
type Quote struct {
	ExecutionPrice   decimal.Decimal
	GrossValue       decimal.Decimal
	Fee              decimal.Decimal
	NetConsideration decimal.Decimal
}

// PriceTrade computes gross value, fee and net consideration. Buys pay the
// fee on top of gross value; sells receive gross value less the fee.
func PriceTrade(side model.Side, quantity, price, feeRate decimal.Decimal) Quote {
	gross := quantity.Mul(price)
	fee := gross.Mul(feeRate)
	net := gross.Add(fee)
	if side == model.SideSell {
		net = gross.Sub(fee)
	}
	return Quote{ExecutionPrice: price, GrossValue: gross, Fee: fee, NetConsideration: net}
}

// SettleTrade settles req and returns the resulting records.
//
// Buys lock the asset's supply before the position so concurrent buyers
// cannot jointly exceed the cap; every settlement locks its (user, asset)
// position for the duration of the unit.
func (l *Ledger) SettleTrade(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var res *Result
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		if req.Side == model.SideBuy {
			if err := tx.LockAssetSupply(ctx, req.AssetID); err != nil {
				return fromStore(err, "supply lock")
			}
		}
		if err := tx.LockPosition(ctx, req.UserID, req.AssetID); err != nil {
			return fromStore(err, "position lock")
		}

		if _, err := tx.GetUser(ctx, req.UserID); err != nil {
			return fromStore(err, "user "+req.UserID)
		}
		asset, err := tx.GetAsset(ctx, req.AssetID)
		if err != nil {
			return fromStore(err, "asset "+req.AssetID)
		}

		price, err := executionPrice(req, asset)
		if err != nil {
			return err
		}
		q := PriceTrade(req.Side, req.Quantity, price, l.feeRate)

		pos, err := tx.GetPosition(ctx, req.UserID, req.AssetID)
		if errors.Is(err, store.ErrNotFound) {
			pos, err = nil, nil
		}
		if err != nil {
			return fromStore(err, "position lookup")
		}

		switch req.Side {
		case model.SideBuy:
			held, err := tx.SumSharesHeld(ctx, asset.ID)
			if err != nil {
				return fromStore(err, "supply lookup")
			}
			if err := l.supply.CheckBuy(asset, held, req.Quantity); err != nil {
				return err
			}
		case model.SideSell:
			if pos == nil {
				return insufficient(KindInsufficientHoldings, decimal.Zero,
					"no position in asset %s to sell", req.AssetID)
			}
			if pos.Shares.LessThan(req.Quantity) {
				return insufficient(KindInsufficientHoldings, pos.Shares,
					"sell of %s exceeds holdings of %s", req.Quantity, pos.Shares)
			}
		}

		// Write phase: run to completion or roll back, regardless of the
		// caller going away.
		res, err = l.write(context.WithoutCancel(ctx), tx, req, q, pos)
		return err
	})
	if err != nil {
		return nil, fromStore(err, "settlement")
	}
	return res, nil
}

func executionPrice(req Request, asset *model.Asset) (decimal.Decimal, error) {
	if req.OrderType == model.OrderTypeLimit {
		return *req.Price, nil
	}
	if !asset.CurrentPrice.IsPositive() {
		return decimal.Zero, invalidArgument("asset %s has no market price", asset.ID)
	}
	return asset.CurrentPrice, nil
}

func (l *Ledger) write(ctx context.Context, tx store.Tx, req Request, q Quote, pos *model.Position) (*Result, error) {
	now := l.now()
	next, realized := applyToPosition(pos, req, q, now)

	trade := model.TradeEvent{
		ID:               l.newID(),
		UserID:           req.UserID,
		AssetID:          req.AssetID,
		Side:             req.Side,
		Quantity:         req.Quantity,
		ExecutionPrice:   q.ExecutionPrice,
		GrossValue:       q.GrossValue,
		Fee:              q.Fee,
		NetConsideration: q.NetConsideration,
		RealizedPnL:      realized,
		CreatedAt:        now,
	}
	order := model.OrderRecord{
		ID:        l.newID(),
		TradeID:   trade.ID,
		UserID:    req.UserID,
		AssetID:   req.AssetID,
		Side:      req.Side,
		OrderType: req.OrderType,
		Quantity:  req.Quantity,
		Status:    model.OrderStatusFilled,
		CreatedAt: now,
	}
	if req.OrderType == model.OrderTypeLimit {
		p := *req.Price
		order.LimitPrice = &p
	}

	if err := tx.AppendTradeEvent(ctx, &trade); err != nil {
		return nil, fromStore(err, "trade append")
	}
	if err := tx.AppendOrderRecord(ctx, &order); err != nil {
		return nil, fromStore(err, "order append")
	}

	res := &Result{
		OrderID:          order.ID,
		TradeID:          trade.ID,
		ExecutionPrice:   q.ExecutionPrice,
		GrossValue:       q.GrossValue,
		Fee:              q.Fee,
		NetConsideration: q.NetConsideration,
		ResultingShares:  decimal.Zero,
		AverageCost:      decimal.Zero,
		RealizedPnL:      realized,
		TradeEvent:       trade,
		OrderRecord:      order,
	}

	if next == nil {
		if err := tx.DeletePosition(ctx, req.UserID, req.AssetID); err != nil {
			return nil, fromStore(err, "position delete")
		}
		return res, nil
	}
	if err := tx.UpsertPosition(ctx, next); err != nil {
		return nil, fromStore(err, "position update")
	}
	res.ResultingShares = next.Shares
	res.AverageCost = next.AverageCost
	return res, nil
}

// applyToPosition returns the position after the trade (nil when it closes
// out) and the realized P&L (zero for buys).
//
// Buys recompute the volume-weighted average cost from net consideration,
// so fees are part of cost basis. Sells leave average cost untouched.
func applyToPosition(pos *model.Position, req Request, q Quote, now time.Time) (*model.Position, decimal.Decimal) {
	if req.Side == model.SideBuy {
		if pos == nil {
			return &model.Position{
				UserID:      req.UserID,
				AssetID:     req.AssetID,
				Shares:      req.Quantity,
				AverageCost: q.NetConsideration.Div(req.Quantity),
				UpdatedAt:   now,
			}, decimal.Zero
		}
		shares := pos.Shares.Add(req.Quantity)
		cost := pos.Shares.Mul(pos.AverageCost).Add(q.NetConsideration)
		return &model.Position{
			UserID:      pos.UserID,
			AssetID:     pos.AssetID,
			Shares:      shares,
			AverageCost: cost.Div(shares),
			UpdatedAt:   now,
		}, decimal.Zero
	}

	realized := req.Quantity.Mul(q.ExecutionPrice.Sub(pos.AverageCost)).Sub(q.Fee)
	shares := pos.Shares.Sub(req.Quantity)
	if shares.IsZero() {
		return nil, realized
	}
	return &model.Position{
		UserID:      pos.UserID,
		AssetID:     pos.AssetID,
		Shares:      shares,
		AverageCost: pos.AverageCost,
		UpdatedAt:   now,
	}, realized
}
