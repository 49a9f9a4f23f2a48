package trade

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/model"
)

// CreateAssetRequest is the JSON body for asset creation.
type CreateAssetRequest struct {
	Symbol              string           `json:"symbol" validate:"required,max=16"`
	Name                string           `json:"name" validate:"required,max=200"`
	CurrentPrice        decimal.Decimal  `json:"current_price" validate:"dec_gt=0"`
	TotalIssuableShares *decimal.Decimal `json:"total_issuable_shares,omitempty" validate:"omitempty,dec_gt=0"`
}

// UpdatePriceRequest is the JSON body for PUT /api/v1/assets/{assetID}/price.
type UpdatePriceRequest struct {
	Price decimal.Decimal `json:"price" validate:"dec_gt=0"`
}

// SupplyResponse reports an asset's issuance cap and how much of it is held.
type SupplyResponse struct {
	AssetID   string          `json:"asset_id"`
	Cap       decimal.Decimal `json:"cap"`
	Held      decimal.Decimal `json:"held"`
	Available decimal.Decimal `json:"available"`
}

// CreateAsset handles POST /api/v1/assets
func (s *Service) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req CreateAssetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	now := time.Now().UTC()
	asset := &model.Asset{
		ID:                  uuid.NewString(),
		Symbol:              strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Name:                strings.TrimSpace(req.Name),
		CurrentPrice:        req.CurrentPrice,
		TotalIssuableShares: req.TotalIssuableShares,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.CreateAsset(r.Context(), asset); err != nil {
		writeStoreError(w, err, "asset")
		return
	}

	slog.Info("asset created",
		"id", asset.ID,
		"symbol", asset.Symbol,
		"price", asset.CurrentPrice.String(),
	)
	writeJSON(w, http.StatusCreated, asset)
}

// ListAssets handles GET /api/v1/assets
func (s *Service) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.store.ListAssets(r.Context())
	if err != nil {
		writeStoreError(w, err, "assets")
		return
	}
	if assets == nil {
		assets = []model.Asset{}
	}
	writeJSON(w, http.StatusOK, assets)
}

// GetAsset handles GET /api/v1/assets/{assetID}
func (s *Service) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.store.GetAsset(r.Context(), chi.URLParam(r, "assetID"))
	if err != nil {
		writeStoreError(w, err, "asset")
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

// UpdateAssetPrice handles PUT /api/v1/assets/{assetID}/price
// and broadcasts the new price to WebSocket clients.
func (s *Service) UpdateAssetPrice(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")
	var req UpdatePriceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	if err := s.store.UpdateAssetPrice(ctx, assetID, req.Price); err != nil {
		writeStoreError(w, err, "asset")
		return
	}
	asset, err := s.store.GetAsset(ctx, assetID)
	if err != nil {
		writeStoreError(w, err, "asset")
		return
	}

	slog.Info("asset price updated", "id", assetID, "price", req.Price.String())
	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:    MsgPriceUpdated,
			AssetID: assetID,
			Data:    map[string]decimal.Decimal{"current_price": asset.CurrentPrice},
		})
	}
	writeJSON(w, http.StatusOK, asset)
}

// GetSupply handles GET /api/v1/assets/{assetID}/supply
func (s *Service) GetSupply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	asset, err := s.store.GetAsset(ctx, chi.URLParam(r, "assetID"))
	if err != nil {
		writeStoreError(w, err, "asset")
		return
	}
	held, err := s.store.SumSharesHeld(ctx, asset.ID)
	if err != nil {
		writeStoreError(w, err, "supply")
		return
	}

	limiter := s.ledger.Supply()
	writeJSON(w, http.StatusOK, SupplyResponse{
		AssetID:   asset.ID,
		Cap:       limiter.Cap(asset),
		Held:      held,
		Available: limiter.Available(asset, held),
	})
}
