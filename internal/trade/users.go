package trade

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/auth"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/model"
)

// CreateUserRequest is the JSON body for POST /api/v1/users. Message must be
// auth.RegistrationMessage for the wallet, signed with personal_sign.
type CreateUserRequest struct {
	UserID        string `json:"user_id" validate:"required,max=128"`
	WalletAddress string `json:"wallet_address" validate:"required"`
	Message       string `json:"message" validate:"required"`
	Signature     string `json:"signature" validate:"required"`
}

// CreateUser handles POST /api/v1/users
func (s *Service) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if forbidden(w, r, req.UserID) {
		return
	}

	addr, err := auth.NormalizeAddress(req.WalletAddress)
	if err != nil {
		invalidArgument(w, err.Error())
		return
	}
	if req.Message != auth.RegistrationMessage(addr) {
		invalidArgument(w, "message must be: "+auth.RegistrationMessage(addr))
		return
	}
	if err := auth.VerifyPersonalSign(addr, req.Message, req.Signature); err != nil {
		if errors.Is(err, auth.ErrSignatureMismatch) {
			writeError(w, err.Error(), http.StatusUnauthorized)
			return
		}
		invalidArgument(w, err.Error())
		return
	}

	user := &model.User{
		ID:            req.UserID,
		WalletAddress: addr,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		writeStoreError(w, err, "user")
		return
	}

	slog.Info("user registered", "id", user.ID, "wallet", user.WalletAddress)
	writeJSON(w, http.StatusCreated, user)
}

// GetUser handles GET /api/v1/users/{userID}
func (s *Service) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if forbidden(w, r, userID) {
		return
	}
	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		writeStoreError(w, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
