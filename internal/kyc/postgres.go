package kyc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `CREATE TABLE IF NOT EXISTS kyc_submissions (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	document_type TEXT NOT NULL,
	file_name     TEXT NOT NULL DEFAULT '',
	content_type  TEXT NOT NULL,
	size_bytes    BIGINT NOT NULL,
	sha256        TEXT NOT NULL,
	status        TEXT NOT NULL,
	review_note   TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	reviewed_at   TIMESTAMPTZ
)`

const selectSubmission = `SELECT id, user_id, document_type, file_name, content_type, size_bytes,
        sha256, status, review_note, created_at, reviewed_at
 FROM kyc_submissions`

// PostgresStore persists submissions with pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the kyc_submissions table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("kyc: migrate: %w", err)
	}
	_, err := s.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS kyc_submissions_user_idx ON kyc_submissions (user_id, created_at)`)
	if err != nil {
		return fmt.Errorf("kyc: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub *Submission) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kyc_submissions (id, user_id, document_type, file_name, content_type, size_bytes,
		                              sha256, status, review_note, created_at, reviewed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sub.ID, sub.UserID, string(sub.DocumentType), sub.FileName, sub.ContentType, sub.SizeBytes,
		sub.SHA256, string(sub.Status), sub.ReviewNote, sub.CreatedAt, sub.ReviewedAt,
	)
	if err != nil {
		return fmt.Errorf("kyc: create submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	sub, err := scanSubmission(s.pool.QueryRow(ctx, selectSubmission+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kyc: get submission %s: %w", id, err)
	}
	return sub, nil
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, userID string) ([]Submission, error) {
	rows, err := s.pool.Query(ctx, selectSubmission+` WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("kyc: list submissions: %w", err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("kyc: list submissions: %w", err)
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ReviewSubmission(ctx context.Context, id string, status Status, note string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE kyc_submissions SET status = $2, review_note = $3, reviewed_at = $4
		 WHERE id = $1 AND status = 'pending'`,
		id, string(status), note, at,
	)
	if err != nil {
		return fmt.Errorf("kyc: review submission %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetSubmission(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyReviewed
}

func scanSubmission(row pgx.Row) (*Submission, error) {
	var sub Submission
	var docType, status string
	if err := row.Scan(&sub.ID, &sub.UserID, &docType, &sub.FileName, &sub.ContentType, &sub.SizeBytes,
		&sub.SHA256, &status, &sub.ReviewNote, &sub.CreatedAt, &sub.ReviewedAt); err != nil {
		return nil, err
	}
	sub.DocumentType = DocumentType(docType)
	sub.Status = Status(status)
	return &sub, nil
}
