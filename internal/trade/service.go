// Package trade provides the HTTP handlers for settling trades, managing
// the asset catalogue and users, and querying portfolios, history and KYC.
//
// All monetary values use shopspring/decimal; never float64 for money.
package trade

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/events"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/kyc"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/ledger"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/metrics"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/model"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/store"
)

// Service serves the ledger API. Settlement concurrency is handled by the
// ledger's store locks, so handlers hold no locks of their own.
type Service struct {
	ledger    *ledger.Ledger
	store     store.Store
	kyc       *kyc.Service
	hub       *WSHub           // optional WebSocket hub for real-time broadcasts
	publisher events.Publisher // post-commit settlement notifications
}

// NewService creates a new trade service.
// hub and kycSvc may be nil; a nil publisher discards events.
func NewService(l *ledger.Ledger, st store.Store, kycSvc *kyc.Service, hub *WSHub, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		ledger:    l,
		store:     st,
		kyc:       kycSvc,
		hub:       hub,
		publisher: pub,
	}
}

// SettleRequest is the JSON body for POST /api/v1/trades. Price is read
// only for limit orders.
type SettleRequest struct {
	UserID    string           `json:"user_id"`
	AssetID   string           `json:"asset_id"`
	Side      model.Side       `json:"side"`
	Quantity  decimal.Decimal  `json:"quantity"`
	OrderType model.OrderType  `json:"order_type"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

// SettleTrade handles POST /api/v1/trades.
// Shape checks are left to the ledger so every rejection carries a kind.
func (s *Service) SettleTrade(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if forbidden(w, r, req.UserID) {
		return
	}

	side := sideLabel(req.Side)
	start := time.Now()
	res, err := s.ledger.SettleTrade(r.Context(), ledger.Request{
		UserID:    req.UserID,
		AssetID:   req.AssetID,
		Side:      req.Side,
		Quantity:  req.Quantity,
		OrderType: req.OrderType,
		Price:     req.Price,
	})
	metrics.SettlementLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())

	if err != nil {
		kind := ledger.KindOf(err)
		outcome := "rejected"
		if kind == ledger.KindContention || kind == ledger.KindStoreUnavailable || kind == "" {
			outcome = "failed"
			slog.Error("settlement failed",
				"user", req.UserID, "asset", req.AssetID, "side", req.Side, "kind", kind, "err", err)
		} else {
			slog.Info("settlement rejected",
				"user", req.UserID, "asset", req.AssetID, "side", req.Side, "kind", kind, "reason", err.Error())
		}
		metrics.SettlementsTotal.WithLabelValues(side, outcome).Inc()
		metrics.SettlementRejections.WithLabelValues(string(kind)).Inc()
		writeLedgerError(w, err)
		return
	}

	metrics.SettlementsTotal.WithLabelValues(side, "settled").Inc()
	metrics.SettlementVolume.WithLabelValues(req.AssetID, side).Add(res.TradeEvent.Quantity.InexactFloat64())

	slog.Info("trade settled",
		"trade_id", res.TradeID,
		"order_id", res.OrderID,
		"user", req.UserID,
		"asset", req.AssetID,
		"side", req.Side,
		"order_type", req.OrderType,
		"qty", req.Quantity.String(),
		"price", res.ExecutionPrice.String(),
		"fee", res.Fee.String(),
		"net", res.NetConsideration.String(),
		"shares", res.ResultingShares.String(),
		"realized_pnl", res.RealizedPnL.String(),
	)

	s.notify(r.Context(), res)
	writeJSON(w, http.StatusOK, res)
}

// notify runs after commit. Failures are logged and counted but never
// change the response.
func (s *Service) notify(ctx context.Context, res *ledger.Result) {
	ev := events.NewSettlement(res)
	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:    MsgTradeSettled,
			AssetID: res.TradeEvent.AssetID,
			UserID:  res.TradeEvent.UserID,
			Data:    ev,
		})
	}
	if err := s.publisher.PublishSettlement(context.WithoutCancel(ctx), ev); err != nil {
		metrics.EventPublishFailures.Inc()
		slog.Warn("settlement event not published", "trade_id", res.TradeID, "err", err)
	}
}

// sideLabel bounds the side metric label to known values.
func sideLabel(side model.Side) string {
	if side.Valid() {
		return string(side)
	}
	return "invalid"
}
