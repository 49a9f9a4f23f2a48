package trade_test

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/model"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/trade"
)

func TestCreateAsset(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env.router, http.MethodPost, "/api/v1/assets", map[string]any{
		"symbol":                " bldg ",
		"name":                  "Harbor Office Building",
		"current_price":         "250.50",
		"total_issuable_shares": "1000",
	}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var asset model.Asset
	json.Unmarshal(w.Body.Bytes(), &asset)
	if asset.ID == "" {
		t.Error("expected generated id")
	}
	if asset.Symbol != "BLDG" {
		t.Errorf("symbol = %q, want BLDG", asset.Symbol)
	}
	if !asset.CurrentPrice.Equal(d("250.5")) {
		t.Errorf("price = %s, want 250.5", asset.CurrentPrice)
	}
	if asset.TotalIssuableShares == nil || !asset.TotalIssuableShares.Equal(d("1000")) {
		t.Errorf("cap = %v, want 1000", asset.TotalIssuableShares)
	}

	w = do(t, env.router, http.MethodGet, "/api/v1/assets/"+asset.ID, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}

	w = do(t, env.router, http.MethodGet, "/api/v1/assets", nil, "")
	var list []model.Asset
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list) != 1 {
		t.Errorf("expected 1 asset, got %d", len(list))
	}
}

func TestCreateAsset_Validation(t *testing.T) {
	env := newTestEnv(t)
	w := do(t, env.router, http.MethodPost, "/api/v1/assets",
		map[string]any{"symbol": "DUP", "name": "First", "current_price": "1"}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("seed: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"missing symbol", map[string]any{"name": "X", "current_price": "1"}, http.StatusBadRequest},
		{"missing name", map[string]any{"symbol": "X", "current_price": "1"}, http.StatusBadRequest},
		{"zero price", map[string]any{"symbol": "X", "name": "X", "current_price": "0"}, http.StatusBadRequest},
		{"negative price", map[string]any{"symbol": "X", "name": "X", "current_price": "-3"}, http.StatusBadRequest},
		{"zero cap", map[string]any{"symbol": "X", "name": "X", "current_price": "1", "total_issuable_shares": "0"}, http.StatusBadRequest},
		{"duplicate symbol", map[string]any{"symbol": "dup", "name": "Second", "current_price": "1"}, http.StatusConflict},
		{"missing price", map[string]any{"symbol": "X", "name": "X"}, http.StatusBadRequest},
		{"tiny negative price", map[string]any{"symbol": "X", "name": "X", "current_price": "-1e-400"}, http.StatusBadRequest},
		{"tiny positive price", map[string]any{"symbol": "TINY", "name": "Tiny", "current_price": "1e-400"}, http.StatusCreated},
		{"fractional cap", map[string]any{"symbol": "FRAC", "name": "Frac", "current_price": "1", "total_issuable_shares": "0.000000000000000000001"}, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, env.router, http.MethodPost, "/api/v1/assets", tt.body, "")
			if w.Code != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
		})
	}
}

func TestGetAsset_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env.router, http.MethodGet, "/api/v1/assets/missing", nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if body := decodeError(t, w); body.Kind != "not_found" {
		t.Errorf("kind = %q, want not_found", body.Kind)
	}
}

func TestUpdateAssetPrice(t *testing.T) {
	env := newTestEnv(t)
	seedAsset(t, env.ms, "a1", "100", nil)

	w := do(t, env.router, http.MethodPut, "/api/v1/assets/a1/price", map[string]string{"price": "101.25"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var asset model.Asset
	json.Unmarshal(w.Body.Bytes(), &asset)
	if !asset.CurrentPrice.Equal(d("101.25")) {
		t.Errorf("price = %s, want 101.25", asset.CurrentPrice)
	}

	w = do(t, env.router, http.MethodPut, "/api/v1/assets/a1/price", map[string]string{"price": "0"}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("zero price: expected 400, got %d", w.Code)
	}
	if body := decodeError(t, w); !strings.Contains(body.Error, "price must be greater than 0") {
		t.Errorf("zero price: unexpected message %q", body.Error)
	}
	w = do(t, env.router, http.MethodPut, "/api/v1/assets/a1/price", map[string]string{"price": "0.000000000000000000000000000001"}, "")
	if w.Code != http.StatusOK {
		t.Errorf("tiny price: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = do(t, env.router, http.MethodPut, "/api/v1/assets/missing/price", map[string]string{"price": "5"}, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown asset: expected 404, got %d", w.Code)
	}
}

func TestGetSupply(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env.ms, "u1")
	seedAsset(t, env.ms, "capped", "10", ptr("100"))
	seedAsset(t, env.ms, "open", "10", nil)

	decodeResult(t, settle(t, env.router, trade.SettleRequest{
		UserID: "u1", AssetID: "capped", Side: model.SideBuy, Quantity: d("30"), OrderType: model.OrderTypeMarket,
	}))

	w := do(t, env.router, http.MethodGet, "/api/v1/assets/capped/supply", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var supply trade.SupplyResponse
	json.Unmarshal(w.Body.Bytes(), &supply)
	if !supply.Cap.Equal(d("100")) || !supply.Held.Equal(d("30")) || !supply.Available.Equal(d("70")) {
		t.Errorf("supply = %+v, want cap 100 held 30 available 70", supply)
	}

	// Uncapped assets fall back to the service default.
	w = do(t, env.router, http.MethodGet, "/api/v1/assets/open/supply", nil, "")
	json.Unmarshal(w.Body.Bytes(), &supply)
	if !supply.Cap.Equal(d("1000000")) || !supply.Available.Equal(d("1000000")) {
		t.Errorf("default supply = %+v, want 1000000", supply)
	}
}

func TestGetPortfolio(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env.ms, "u1")
	seedAsset(t, env.ms, "a1", "100", nil)
	seedAsset(t, env.ms, "a2", "20", nil)

	decodeResult(t, settle(t, env.router, trade.SettleRequest{
		UserID: "u1", AssetID: "a1", Side: model.SideBuy, Quantity: d("10"), OrderType: model.OrderTypeMarket,
	}))
	decodeResult(t, settle(t, env.router, trade.SettleRequest{
		UserID: "u1", AssetID: "a2", Side: model.SideBuy, Quantity: d("5"), OrderType: model.OrderTypeMarket,
	}))
	do(t, env.router, http.MethodPut, "/api/v1/assets/a1/price", map[string]string{"price": "110"}, "")

	w := do(t, env.router, http.MethodGet, "/api/v1/portfolio/u1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var p model.Portfolio
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode portfolio: %v", err)
	}
	if len(p.Positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(p.Positions))
	}

	a1 := p.Positions[0]
	if a1.AssetID != "a1" || a1.Symbol != "SYM-a1" {
		t.Fatalf("unexpected first position: %+v", a1)
	}
	// 10 shares at 110 against a cost basis of 10 * 100.1.
	if !a1.MarketValue.Equal(d("1100")) || !a1.CostBasis.Equal(d("1001")) || !a1.UnrealizedPnL.Equal(d("99")) {
		t.Errorf("a1 = value %s cost %s pnl %s, want 1100 / 1001 / 99", a1.MarketValue, a1.CostBasis, a1.UnrealizedPnL)
	}
	// 5 shares at 20 against 5 * 20.02.
	if !p.TotalMarketValue.Equal(d("1200")) || !p.TotalCostBasis.Equal(d("1101.1")) || !p.TotalPnL.Equal(d("98.9")) {
		t.Errorf("totals = value %s cost %s pnl %s, want 1200 / 1101.1 / 98.9",
			p.TotalMarketValue, p.TotalCostBasis, p.TotalPnL)
	}
}

func TestGetPortfolio_Empty(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env.ms, "u1")

	w := do(t, env.router, http.MethodGet, "/api/v1/portfolio/u1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var p model.Portfolio
	json.Unmarshal(w.Body.Bytes(), &p)
	if p.Positions == nil || len(p.Positions) != 0 || !p.TotalPnL.IsZero() {
		t.Errorf("expected empty portfolio, got %+v", p)
	}

	w = do(t, env.router, http.MethodGet, "/api/v1/portfolio/ghost", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown user: expected 404, got %d", w.Code)
	}
}
