package kyc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type submissionRow struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"index:kyc_submissions_user_idx;not null"`
	DocumentType string `gorm:"not null"`
	FileName     string
	ContentType  string `gorm:"not null"`
	SizeBytes    int64  `gorm:"not null"`
	SHA256       string `gorm:"column:sha256;not null"`
	Status       string `gorm:"index;not null"`
	ReviewNote   string
	CreatedAt    time.Time `gorm:"index:kyc_submissions_user_idx"`
	ReviewedAt   *time.Time
}

func (submissionRow) TableName() string { return "kyc_submissions" }

// GormStore persists submissions through GORM.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{db: db} }

// Migrate creates or updates the kyc_submissions table.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&submissionRow{})
}

func (s *GormStore) CreateSubmission(ctx context.Context, sub *Submission) error {
	row := submissionRow{
		ID:           sub.ID,
		UserID:       sub.UserID,
		DocumentType: string(sub.DocumentType),
		FileName:     sub.FileName,
		ContentType:  sub.ContentType,
		SizeBytes:    sub.SizeBytes,
		SHA256:       sub.SHA256,
		Status:       string(sub.Status),
		ReviewNote:   sub.ReviewNote,
		CreatedAt:    sub.CreatedAt,
		ReviewedAt:   sub.ReviewedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("kyc: create submission: %w", err)
	}
	return nil
}

func (s *GormStore) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	var row submissionRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kyc: get submission %s: %w", id, err)
	}
	sub := row.toModel()
	return &sub, nil
}

func (s *GormStore) ListSubmissions(ctx context.Context, userID string) ([]Submission, error) {
	var rows []submissionRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("kyc: list submissions: %w", err)
	}
	var out []Submission
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *GormStore) ReviewSubmission(ctx context.Context, id string, status Status, note string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&submissionRow{}).
		Where("id = ? AND status = ?", id, string(StatusPending)).
		Updates(map[string]any{"status": string(status), "review_note": note, "reviewed_at": at})
	if res.Error != nil {
		return fmt.Errorf("kyc: review submission %s: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := s.GetSubmission(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyReviewed
}

func (r submissionRow) toModel() Submission {
	return Submission{
		ID:           r.ID,
		UserID:       r.UserID,
		DocumentType: DocumentType(r.DocumentType),
		FileName:     r.FileName,
		ContentType:  r.ContentType,
		SizeBytes:    r.SizeBytes,
		SHA256:       r.SHA256,
		Status:       Status(r.Status),
		ReviewNote:   r.ReviewNote,
		CreatedAt:    r.CreatedAt,
		ReviewedAt:   r.ReviewedAt,
	}
}
