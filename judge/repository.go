package judge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists panel results and their verdicts append-only, one
// result per validation attempt.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Save(ctx context.Context, result PanelResult) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("judge: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	blocking, err := json.Marshal(result.BlockingFailures)
	if err != nil {
		return fmt.Errorf("judge: marshal blocking failures: %w", err)
	}
	warnings, err := json.Marshal(result.Warnings)
	if err != nil {
		return fmt.Errorf("judge: marshal warnings: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO panel_results (id, dispute_id, package_id, attempt, passed, fabrication, blocking_failures, warnings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9)
	`, result.ID, result.DisputeID, result.PackageID, result.Attempt,
		result.Passed, result.Fabrication, string(blocking), string(warnings), result.CreatedAt); err != nil {
		return fmt.Errorf("judge: insert panel result: %w", err)
	}

	for _, v := range result.Verdicts {
		gaps, err := json.Marshal(v.Gaps)
		if err != nil {
			return fmt.Errorf("judge: marshal gaps: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO judge_verdicts (panel_result_id, judge, dimension, score, passed, timed_out, rationale, gaps)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		`, result.ID, v.Judge, v.Dimension, v.Score, v.Passed, v.TimedOut, v.Rationale, string(gaps)); err != nil {
			return fmt.Errorf("judge: insert verdict: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("judge: commit result: %w", err)
	}
	return nil
}
