package trade

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/auth"
)

// Routes returns the /api/v1 handler. Asset reads and the WebSocket stay
// public; everything else goes through verifier, which may be nil to
// disable authentication. Catalogue writes and KYC review additionally
// require the admin role.
func (s *Service) Routes(verifier *auth.Verifier) http.Handler {
	r := chi.NewRouter()

	// WebSocket endpoint for settlement and price updates.
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	// Asset catalogue reads.
	r.Get("/assets", s.ListAssets)
	r.Get("/assets/{assetID}", s.GetAsset)
	r.Get("/assets/{assetID}/supply", s.GetSupply)

	r.Group(func(r chi.Router) {
		r.Use(verifier.Middleware)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Post("/assets", s.CreateAsset)
			r.Put("/assets/{assetID}/price", s.UpdateAssetPrice)
			if s.kyc != nil {
				r.Post("/kyc/submissions/{submissionID}/review", s.ReviewKYC)
			}
		})

		r.Post("/users", s.CreateUser)
		r.Get("/users/{userID}", s.GetUser)
		r.Get("/users/{userID}/trades", s.ListTrades)
		r.Get("/users/{userID}/orders", s.ListOrders)

		// Settlement.
		r.Post("/trades", s.SettleTrade)

		// Portfolio queries.
		r.Get("/portfolio/{userID}", s.GetPortfolio)

		if s.kyc != nil {
			r.Post("/kyc", s.SubmitKYC)
			r.Get("/kyc/{userID}", s.ListKYC)
		}
	})
	return r
}
