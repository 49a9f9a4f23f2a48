package trade

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/auth"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/kyc"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/metrics"
)

// multipart overhead allowed on top of the document itself
const formOverhead = 1 << 20

type kycForm struct {
	UserID       string `json:"user_id" validate:"required,max=128"`
	DocumentType string `json:"document_type" validate:"required,oneof=passport national_id drivers_license proof_of_address"`
}

// ReviewRequest is the JSON body for a KYC review decision.
type ReviewRequest struct {
	Status string `json:"status" validate:"required,oneof=approved rejected"`
	Note   string `json:"note" validate:"max=1024"`
}

// SubmitKYC handles POST /api/v1/kyc (multipart/form-data).
func (s *Service) SubmitKYC(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, kyc.MaxDocumentBytes+formOverhead)
	if err := r.ParseMultipartForm(formOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, "document exceeds 10 MiB", http.StatusRequestEntityTooLarge)
			return
		}
		invalidArgument(w, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := kycForm{UserID: r.FormValue("user_id"), DocumentType: r.FormValue("document_type")}
	if !validStruct(w, &form) {
		return
	}
	if forbidden(w, r, form.UserID) {
		return
	}

	file, header, err := r.FormFile("document")
	if err != nil {
		invalidArgument(w, "document file is required")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(io.LimitReader(file, kyc.MaxDocumentBytes+1))
	if err != nil {
		invalidArgument(w, "read document: "+err.Error())
		return
	}

	sub, err := s.kyc.Submit(r.Context(), form.UserID, kyc.DocumentType(form.DocumentType), header.Filename, content)
	if err != nil {
		writeKYCError(w, err)
		return
	}
	metrics.KYCSubmissions.WithLabelValues(string(sub.DocumentType)).Inc()
	writeJSON(w, http.StatusCreated, sub)
}

// ListKYC handles GET /api/v1/kyc/{userID}
func (s *Service) ListKYC(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	// Reviewers read any user's submissions.
	if auth.CheckAdmin(r.Context()) != nil && forbidden(w, r, userID) {
		return
	}
	subs, err := s.kyc.List(r.Context(), userID)
	if err != nil {
		writeKYCError(w, err)
		return
	}
	if subs == nil {
		subs = []kyc.Submission{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// ReviewKYC handles POST /api/v1/kyc/submissions/{submissionID}/review
func (s *Service) ReviewKYC(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sub, err := s.kyc.Review(r.Context(), chi.URLParam(r, "submissionID"), kyc.Status(req.Status), req.Note)
	if err != nil {
		writeKYCError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
