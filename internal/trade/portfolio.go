package trade

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/model"
)

// GetPortfolio handles GET /api/v1/portfolio/{userID}
// Marks every position to its asset's current price.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if forbidden(w, r, userID) {
		return
	}
	ctx := r.Context()

	if _, err := s.store.GetUser(ctx, userID); err != nil {
		writeStoreError(w, err, "user")
		return
	}
	positions, err := s.store.ListPositions(ctx, userID)
	if err != nil {
		writeStoreError(w, err, "positions")
		return
	}

	portfolio := model.Portfolio{
		UserID:           userID,
		Positions:        make([]model.PortfolioPosition, 0, len(positions)),
		TotalMarketValue: decimal.Zero,
		TotalCostBasis:   decimal.Zero,
		TotalPnL:         decimal.Zero,
	}
	for _, p := range positions {
		asset, err := s.store.GetAsset(ctx, p.AssetID)
		if err != nil {
			writeStoreError(w, err, "asset "+p.AssetID)
			return
		}
		pp := markToMarket(p, asset)
		portfolio.Positions = append(portfolio.Positions, pp)
		portfolio.TotalMarketValue = portfolio.TotalMarketValue.Add(pp.MarketValue)
		portfolio.TotalCostBasis = portfolio.TotalCostBasis.Add(pp.CostBasis)
		portfolio.TotalPnL = portfolio.TotalPnL.Add(pp.UnrealizedPnL)
	}

	writeJSON(w, http.StatusOK, portfolio)
}

func markToMarket(p model.Position, asset *model.Asset) model.PortfolioPosition {
	value := p.Shares.Mul(asset.CurrentPrice)
	cost := p.Shares.Mul(p.AverageCost)
	return model.PortfolioPosition{
		Position:      p,
		Symbol:        asset.Symbol,
		CurrentPrice:  asset.CurrentPrice,
		MarketValue:   value,
		CostBasis:     cost,
		UnrealizedPnL: value.Sub(cost),
	}
}

// ListTrades handles GET /api/v1/users/{userID}/trades
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if forbidden(w, r, userID) {
		return
	}
	trades, err := s.store.ListTradeEvents(r.Context(), userID)
	if err != nil {
		writeStoreError(w, err, "trades")
		return
	}
	if trades == nil {
		trades = []model.TradeEvent{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// ListOrders handles GET /api/v1/users/{userID}/orders
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if forbidden(w, r, userID) {
		return
	}
	orders, err := s.store.ListOrderRecords(r.Context(), userID)
	if err != nil {
		writeStoreError(w, err, "orders")
		return
	}
	if orders == nil {
		orders = []model.OrderRecord{}
	}
	writeJSON(w, http.StatusOK, orders)
}
