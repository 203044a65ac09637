package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNoSubmission = errors.New("network: no submission for dispute")

// Repository stores submission records. Records are superseded, never
// deleted; at most one record per dispute is active at a time.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const submissionColumns = `id, dispute_id, payload, payload_hash, attempts, status,
	last_error, case_ref, resolution, superseded, created_at, updated_at`

func scanSubmission(row pgx.Row) (SubmissionRecord, error) {
	var rec SubmissionRecord
	err := row.Scan(
		&rec.ID,
		&rec.DisputeID,
		&rec.Payload,
		&rec.PayloadHash,
		&rec.Attempts,
		&rec.Status,
		&rec.LastError,
		&rec.CaseRef,
		&rec.Resolution,
		&rec.Superseded,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}

// Create inserts a new active record, superseding any prior one for the
// dispute in the same transaction.
func (r *Repository) Create(ctx context.Context, rec SubmissionRecord) (SubmissionRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return SubmissionRecord{}, fmt.Errorf("network: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE submissions SET superseded = true, updated_at = now() WHERE dispute_id = $1 AND NOT superseded`,
		rec.DisputeID); err != nil {
		return SubmissionRecord{}, fmt.Errorf("network: supersede prior: %w", err)
	}

	query := `
		INSERT INTO submissions (id, dispute_id, payload, payload_hash, status)
		VALUES ($1, $2, $3::jsonb, $4, $5)
		RETURNING ` + submissionColumns

	saved, err := scanSubmission(tx.QueryRow(ctx, query,
		rec.ID, rec.DisputeID, string(rec.Payload), rec.PayloadHash, rec.Status))
	if err != nil {
		return SubmissionRecord{}, fmt.Errorf("network: insert submission: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return SubmissionRecord{}, fmt.Errorf("network: commit submission: %w", err)
	}
	return saved, nil
}

// Update records attempt progress on the active record. The payload and its
// hash are deliberately not part of the update: they are fixed at Create.
func (r *Repository) Update(ctx context.Context, rec SubmissionRecord) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE submissions
		SET attempts = $1, status = $2, last_error = $3, case_ref = $4, updated_at = now()
		WHERE id = $5
	`, rec.Attempts, rec.Status, rec.LastError, rec.CaseRef, rec.ID)
	if err != nil {
		return fmt.Errorf("network: update submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoSubmission
	}
	return nil
}

// Active returns the dispute's non-superseded record.
func (r *Repository) Active(ctx context.Context, disputeID string) (SubmissionRecord, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE dispute_id = $1 AND NOT superseded`
	rec, err := scanSubmission(r.pool.QueryRow(ctx, query, disputeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SubmissionRecord{}, ErrNoSubmission
		}
		return SubmissionRecord{}, fmt.Errorf("network: active submission: %w", err)
	}
	return rec, nil
}

// RecordResolution stores the final resolution on the active record.
func (r *Repository) RecordResolution(ctx context.Context, disputeID, resolution string) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE submissions SET resolution = $1, updated_at = now()
		WHERE dispute_id = $2 AND NOT superseded
	`, resolution, disputeID); err != nil {
		return fmt.Errorf("network: record resolution: %w", err)
	}
	return nil
}
