package dispute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("dispute: not found")
	// ErrVersionConflict signals that another orchestrator instance advanced
	// the dispute since it was read. The write is fully rejected.
	ErrVersionConflict = errors.New("dispute: version conflict")
)

// Repository persists disputes and their append-only audit trail.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const disputeColumns = `id, external_case_ref, phase, classification, reason_code, transaction_ref,
	amount_cents, currency, filed_at, deadline_at, enhanced_eligible, version, created_at, updated_at`

func scanDispute(row pgx.Row) (Dispute, error) {
	var d Dispute
	err := row.Scan(
		&d.ID,
		&d.ExternalCaseRef,
		&d.Phase,
		&d.Classification,
		&d.ReasonCode,
		&d.TransactionRef,
		&d.AmountCents,
		&d.Currency,
		&d.FiledAt,
		&d.DeadlineAt,
		&d.EnhancedEligible,
		&d.Version,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	return d, err
}

// Create opens a dispute in the classify phase at version 1.
func (r *Repository) Create(ctx context.Context, params CreateParams) (Dispute, error) {
	if params.TransactionRef == "" {
		return Dispute{}, fmt.Errorf("dispute: transaction ref required")
	}
	if params.ReasonCode == "" {
		return Dispute{}, fmt.Errorf("dispute: reason code required")
	}
	if params.AmountCents <= 0 {
		return Dispute{}, fmt.Errorf("dispute: invalid amount")
	}
	if params.Currency == "" {
		return Dispute{}, fmt.Errorf("dispute: currency required")
	}

	query := `
		INSERT INTO disputes (phase, reason_code, transaction_ref, amount_cents, currency, filed_at, deadline_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + disputeColumns

	d, err := scanDispute(r.pool.QueryRow(ctx, query,
		PhaseClassify, params.ReasonCode, params.TransactionRef, params.AmountCents,
		params.Currency, params.FiledAt, params.DeadlineAt))
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: create: %w", err)
	}
	return d, nil
}

// Get fetches one dispute by id.
func (r *Repository) Get(ctx context.Context, id string) (Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`
	d, err := scanDispute(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: get: %w", err)
	}
	return d, nil
}

// ListByPhase returns disputes currently in the given phase, oldest first.
func (r *Repository) ListByPhase(ctx context.Context, phase Phase) ([]Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE phase = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, phase)
	if err != nil {
		return nil, fmt.Errorf("dispute: list by phase: %w", err)
	}
	defer rows.Close()

	out := make([]Dispute, 0, 8)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

// ListOpen returns every dispute that has not reached a terminal phase.
func (r *Repository) ListOpen(ctx context.Context) ([]Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes
		WHERE phase NOT IN ($1, $2, $3, $4) ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, PhaseResolvedWon, PhaseResolvedLost, PhaseEscalated, PhaseExpired)
	if err != nil {
		return nil, fmt.Errorf("dispute: list open: %w", err)
	}
	defer rows.Close()

	out := make([]Dispute, 0, 8)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

// Transition applies one state-machine transition. The phase update and the
// audit-trail insert are committed in the same transaction, and the update is
// conditional on the version the caller read: a mismatch rejects the write
// without touching the row.
func (r *Repository) Transition(ctx context.Context, params TransitionParams) (Dispute, error) {
	current, err := r.Get(ctx, params.DisputeID)
	if err != nil {
		return Dispute{}, err
	}

	next, err := Next(current.Phase, params.Event)
	if err != nil {
		return Dispute{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE disputes
		SET phase = $1,
		    version = version + 1,
		    classification = COALESCE($2, classification),
		    enhanced_eligible = COALESCE($3, enhanced_eligible),
		    external_case_ref = COALESCE($4, external_case_ref),
		    updated_at = now()
		WHERE id = $5 AND version = $6
		RETURNING ` + disputeColumns

	updated, err := scanDispute(tx.QueryRow(ctx, query,
		next, params.Classification, params.EnhancedEligible, params.ExternalCaseRef,
		params.DisputeID, params.FromVersion))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrVersionConflict
		}
		return Dispute{}, fmt.Errorf("dispute: transition update: %w", err)
	}

	detail := params.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: marshal detail: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO dispute_events (dispute_id, seq, event, from_phase, to_phase, reason, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
	`, params.DisputeID, updated.Version, params.Event, current.Phase, next,
		params.Reason, string(detailJSON)); err != nil {
		return Dispute{}, fmt.Errorf("dispute: insert event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit transition: %w", err)
	}
	return updated, nil
}

// Events returns the audit trail for one dispute in transition order.
func (r *Repository) Events(ctx context.Context, disputeID string) ([]EventRecord, error) {
	const query = `
		SELECT id, dispute_id, seq, event, from_phase, to_phase, reason, detail, created_at
		FROM dispute_events
		WHERE dispute_id = $1
		ORDER BY seq
	`
	rows, err := r.pool.Query(ctx, query, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list events: %w", err)
	}
	defer rows.Close()

	out := make([]EventRecord, 0, 8)
	for rows.Next() {
		var rec EventRecord
		if err := rows.Scan(&rec.ID, &rec.DisputeID, &rec.Seq, &rec.Event, &rec.FromPhase,
			&rec.ToPhase, &rec.Reason, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan event: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate events: %w", err)
	}
	return out, nil
}
