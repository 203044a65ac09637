package evidence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNoPackage = errors.New("evidence: no package for dispute")

// Repository stores packages and fragments. Both tables are append-only;
// nothing here mutates a previously written row except the adoption of
// staged manual fragments into a new package.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SavePackage persists a package and its fragments in one transaction and
// adopts any staged manual fragments into it.
func (r *Repository) SavePackage(ctx context.Context, pkg Package) (Package, error) {
	if pkg.ID == "" {
		pkg.ID = uuid.NewString()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Package{}, fmt.Errorf("evidence: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO evidence_packages (id, dispute_id, attempt, planned, completeness, incomplete, enhanced_eligible, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, pkg.ID, pkg.DisputeID, pkg.Attempt, pkg.Planned, pkg.Completeness,
		pkg.Incomplete, pkg.EnhancedEligible, pkg.CreatedAt); err != nil {
		return Package{}, fmt.Errorf("evidence: insert package: %w", err)
	}

	for _, f := range pkg.Fragments {
		if f.Manual {
			// Adopt the staged row instead of duplicating it.
			if _, err := tx.Exec(ctx, `
				UPDATE evidence_fragments SET package_id = $1
				WHERE id = $2 AND package_id IS NULL
			`, pkg.ID, f.ID); err != nil {
				return Package{}, fmt.Errorf("evidence: adopt manual fragment: %w", err)
			}
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO evidence_fragments (id, dispute_id, package_id, kind, source, payload, payload_hash, collected_at, manual)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, false)
		`, f.ID, f.DisputeID, pkg.ID, f.Kind, f.Source, string(f.Payload), f.PayloadHash, f.CollectedAt); err != nil {
			return Package{}, fmt.Errorf("evidence: insert fragment: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Package{}, fmt.Errorf("evidence: commit package: %w", err)
	}
	return pkg, nil
}

// StageManual records a manually injected fragment awaiting the next gather
// attempt.
func (r *Repository) StageManual(ctx context.Context, frag Fragment) error {
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO evidence_fragments (id, dispute_id, package_id, kind, source, payload, payload_hash, collected_at, manual)
		VALUES ($1, $2, NULL, $3, $4, $5::jsonb, $6, $7, true)
	`, frag.ID, frag.DisputeID, frag.Kind, frag.Source, string(frag.Payload), frag.PayloadHash, frag.CollectedAt); err != nil {
		return fmt.Errorf("evidence: stage manual fragment: %w", err)
	}
	return nil
}

// StagedManual lists manual fragments not yet adopted by a package.
func (r *Repository) StagedManual(ctx context.Context, disputeID string) ([]Fragment, error) {
	const query = `
		SELECT id, dispute_id, kind, source, payload, payload_hash, collected_at
		FROM evidence_fragments
		WHERE dispute_id = $1 AND package_id IS NULL AND manual
		ORDER BY collected_at
	`
	rows, err := r.pool.Query(ctx, query, disputeID)
	if err != nil {
		return nil, fmt.Errorf("evidence: staged manual: %w", err)
	}
	defer rows.Close()

	out := make([]Fragment, 0, 4)
	for rows.Next() {
		var f Fragment
		if err := rows.Scan(&f.ID, &f.DisputeID, &f.Kind, &f.Source, &f.Payload, &f.PayloadHash, &f.CollectedAt); err != nil {
			return nil, fmt.Errorf("evidence: scan manual fragment: %w", err)
		}
		f.Manual = true
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("evidence: iterate manual fragments: %w", err)
	}
	return out, nil
}

// Latest returns the most recent package for a dispute with its fragments.
func (r *Repository) Latest(ctx context.Context, disputeID string) (Package, error) {
	const query = `
		SELECT id, dispute_id, attempt, planned, completeness, incomplete, enhanced_eligible, created_at
		FROM evidence_packages
		WHERE dispute_id = $1
		ORDER BY attempt DESC
		LIMIT 1
	`
	var pkg Package
	err := r.pool.QueryRow(ctx, query, disputeID).Scan(
		&pkg.ID, &pkg.DisputeID, &pkg.Attempt, &pkg.Planned,
		&pkg.Completeness, &pkg.Incomplete, &pkg.EnhancedEligible, &pkg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Package{}, ErrNoPackage
		}
		return Package{}, fmt.Errorf("evidence: latest package: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, dispute_id, kind, source, payload, payload_hash, collected_at, manual
		FROM evidence_fragments
		WHERE package_id = $1
		ORDER BY collected_at
	`, pkg.ID)
	if err != nil {
		return Package{}, fmt.Errorf("evidence: package fragments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f Fragment
		if err := rows.Scan(&f.ID, &f.DisputeID, &f.Kind, &f.Source, &f.Payload, &f.PayloadHash, &f.CollectedAt, &f.Manual); err != nil {
			return Package{}, fmt.Errorf("evidence: scan fragment: %w", err)
		}
		pkg.Fragments = append(pkg.Fragments, f)
	}
	if err := rows.Err(); err != nil {
		return Package{}, fmt.Errorf("evidence: iterate fragments: %w", err)
	}
	return pkg, nil
}

// Attempts counts the gather attempts already recorded for a dispute.
func (r *Repository) Attempts(ctx context.Context, disputeID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(attempt), 0) FROM evidence_packages WHERE dispute_id = $1`,
		disputeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("evidence: count attempts: %w", err)
	}
	return n, nil
}
