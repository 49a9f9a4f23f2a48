package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/auth"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/kyc"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/ledger"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/store"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error     string           `json:"error"`
	Kind      string           `json:"kind,omitempty"`
	Available *decimal.Decimal `json:"available,omitempty"`
	Retryable bool             `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "err", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func ledgerStatus(k ledger.Kind) int {
	switch k {
	case ledger.KindInvalidArgument:
		return http.StatusBadRequest
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindInsufficientSupply, ledger.KindInsufficientHoldings:
		return http.StatusUnprocessableEntity
	case ledger.KindContention:
		return http.StatusConflict
	case ledger.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError maps a settlement failure to its status and body.
func writeLedgerError(w http.ResponseWriter, err error) {
	var le *ledger.Error
	if !errors.As(err, &le) {
		slog.Error("unclassified settlement error", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	msg := le.Message
	if msg == "" {
		msg = string(le.Kind)
	}
	writeJSON(w, ledgerStatus(le.Kind), ErrorResponse{
		Error:     msg,
		Kind:      string(le.Kind),
		Available: le.Available,
		Retryable: le.Kind.Retryable(),
	})
}

func invalidArgument(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error: message,
		Kind:  string(ledger.KindInvalidArgument),
	})
}

// writeStoreError maps errors from store reads and catalogue writes. what
// names the record for the not-found message.
func writeStoreError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: what + " not found", Kind: string(ledger.KindNotFound)})
	case errors.Is(err, store.ErrConflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Kind: "conflict"})
	case errors.Is(err, store.ErrContention):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: "concurrent update in progress, retry", Kind: string(ledger.KindContention), Retryable: true,
		})
	default:
		slog.Error("store failure", "what", what, "err", err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error: "store unavailable", Kind: string(ledger.KindStoreUnavailable),
		})
	}
}

func writeKYCError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, kyc.ErrInvalid):
		invalidArgument(w, err.Error())
	case errors.Is(err, kyc.ErrUnknownUser):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Kind: string(ledger.KindNotFound)})
	case errors.Is(err, kyc.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "submission not found", Kind: string(ledger.KindNotFound)})
	case errors.Is(err, kyc.ErrAlreadyReviewed):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Kind: "conflict"})
	default:
		writeStoreError(w, err, "kyc submission")
	}
}

// forbidden reports whether the authenticated caller may act for userID,
// writing a 403 when not.
func forbidden(w http.ResponseWriter, r *http.Request, userID string) bool {
	if err := auth.CheckUser(r.Context(), userID); err != nil {
		writeError(w, err.Error(), http.StatusForbidden)
		return true
	}
	return false
}
