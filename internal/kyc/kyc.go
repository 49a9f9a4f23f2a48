// Package kyc records identity documents submitted by users and their
// review outcome. Only metadata and a SHA-256 digest are kept; document
// bytes are not persisted.
package kyc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/model"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/store"
)

// MaxDocumentBytes bounds an uploaded document.
const MaxDocumentBytes = 10 << 20

var (
	ErrNotFound        = errors.New("kyc: submission not found")
	ErrUnknownUser     = errors.New("kyc: unknown user")
	ErrInvalid         = errors.New("kyc: invalid submission")
	ErrAlreadyReviewed = errors.New("kyc: submission already reviewed")
)

// DocumentType is the kind of identity document.
type DocumentType string

const (
	DocPassport       DocumentType = "passport"
	DocNationalID     DocumentType = "national_id"
	DocDriversLicense DocumentType = "drivers_license"
	DocProofOfAddress DocumentType = "proof_of_address"
)

func (t DocumentType) Valid() bool {
	switch t {
	case DocPassport, DocNationalID, DocDriversLicense, DocProofOfAddress:
		return true
	}
	return false
}

// Status is a submission's review state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

var allowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
}

// Submission is one uploaded document.
type Submission struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	DocumentType DocumentType `json:"document_type"`
	FileName     string       `json:"file_name"`
	ContentType  string       `json:"content_type"`
	SizeBytes    int64        `json:"size_bytes"`
	SHA256       string       `json:"sha256"`
	Status       Status       `json:"status"`
	ReviewNote   string       `json:"review_note,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	ReviewedAt   *time.Time   `json:"reviewed_at,omitempty"`
}

// Store persists submissions.
type Store interface {
	CreateSubmission(ctx context.Context, s *Submission) error
	GetSubmission(ctx context.Context, id string) (*Submission, error)

	// ListSubmissions returns a user's submissions, oldest first.
	ListSubmissions(ctx context.Context, userID string) ([]Submission, error)

	// ReviewSubmission moves a pending submission to status. Returns
	// ErrAlreadyReviewed if it is no longer pending.
	ReviewSubmission(ctx context.Context, id string, status Status, note string, at time.Time) error
}

// UserLookup resolves user IDs; store.Store satisfies it.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// Service validates and records submissions.
type Service struct {
	store Store
	users UserLookup
	now   func() time.Time
}

func NewService(st Store, users UserLookup) *Service {
	return &Service{
		store: st,
		users: users,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Submit records a document for userID. The content type is sniffed from
// the bytes, not taken from the client.
func (s *Service) Submit(ctx context.Context, userID string, docType DocumentType, fileName string, content []byte) (*Submission, error) {
	if !docType.Valid() {
		return nil, fmt.Errorf("%w: unknown document_type %q", ErrInvalid, docType)
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalid)
	}
	if len(content) > MaxDocumentBytes {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", ErrInvalid, MaxDocumentBytes)
	}
	ct := http.DetectContentType(content)
	if !allowedContentTypes[ct] {
		return nil, fmt.Errorf("%w: content type %s not accepted", ErrInvalid, ct)
	}
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
		}
		return nil, fmt.Errorf("kyc: user lookup: %w", err)
	}

	sum := sha256.Sum256(content)
	sub := &Submission{
		ID:           uuid.NewString(),
		UserID:       userID,
		DocumentType: docType,
		FileName:     fileName,
		ContentType:  ct,
		SizeBytes:    int64(len(content)),
		SHA256:       hex.EncodeToString(sum[:]),
		Status:       StatusPending,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		return nil, err
	}

	slog.Info("kyc submitted",
		"submission_id", sub.ID,
		"user_id", userID,
		"document_type", docType,
		"size_bytes", sub.SizeBytes,
	)
	return sub, nil
}

// List returns userID's submissions.
func (s *Service) List(ctx context.Context, userID string) ([]Submission, error) {
	return s.store.ListSubmissions(ctx, userID)
}

// Review approves or rejects a pending submission.
func (s *Service) Review(ctx context.Context, id string, status Status, note string) (*Submission, error) {
	if status != StatusApproved && status != StatusRejected {
		return nil, fmt.Errorf("%w: review status must be approved or rejected, got %q", ErrInvalid, status)
	}
	if err := s.store.ReviewSubmission(ctx, id, status, note, s.now()); err != nil {
		return nil, err
	}
	slog.Info("kyc reviewed", "submission_id", id, "status", status)
	return s.store.GetSubmission(ctx, id)
}
