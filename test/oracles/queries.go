package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariants checked against a live database under load. A
// row returned by any query is a violation.
func All() []Oracle {
	return []Oracle{
		{
			// The audit seq written with each transition must equal the
			// dispute version; a version-1 dispute has no events yet.
			Name: "O1_version_event_parity",
			SQL: `SELECT d.id, d.version, COALESCE(MAX(e.seq), 1) AS max_seq
                  FROM disputes d
                  LEFT JOIN dispute_events e ON e.dispute_id = d.id
                  GROUP BY d.id, d.version
                  HAVING d.version <> COALESCE(MAX(e.seq), 1)`,
		},
		{
			// Audit trails are gapless: seq 2, 3, 4, ... per dispute.
			Name: "O2_audit_seq_gapless",
			SQL: `WITH seqs AS (
                      SELECT dispute_id, seq,
                             LAG(seq) OVER (PARTITION BY dispute_id ORDER BY seq) AS prev
                      FROM dispute_events)
                  SELECT * FROM seqs
                  WHERE (prev IS NULL AND seq <> 2)
                     OR (prev IS NOT NULL AND seq <> prev + 1)`,
		},
		{
			Name: "O3_terminal_phases_final",
			SQL: `SELECT id, dispute_id, event, from_phase FROM dispute_events
                  WHERE from_phase IN ('resolved_won','resolved_lost','escalated','expired')`,
		},
		{
			// The stored phase must match the last transition's target.
			Name: "O4_phase_matches_trail",
			SQL: `SELECT d.id, d.phase, COALESCE(e.to_phase, 'classify') AS trail_phase
                  FROM disputes d
                  LEFT JOIN LATERAL (
                      SELECT to_phase FROM dispute_events
                      WHERE dispute_id = d.id ORDER BY seq DESC LIMIT 1
                  ) e ON true
                  WHERE d.phase <> COALESCE(e.to_phase, 'classify')`,
		},
		{
			Name: "O5_single_active_submission",
			SQL: `SELECT dispute_id, COUNT(*) FROM submissions
                  WHERE superseded = false
                  GROUP BY dispute_id HAVING COUNT(*) > 1`,
		},
		{
			// Package attempts are dense per dispute: 1, 2, 3, ...
			Name: "O6_package_attempts_dense",
			SQL: `WITH attempts AS (
                      SELECT dispute_id, attempt,
                             LAG(attempt) OVER (PARTITION BY dispute_id ORDER BY attempt) AS prev
                      FROM evidence_packages)
                  SELECT * FROM attempts
                  WHERE (prev IS NULL AND attempt <> 1)
                     OR (prev IS NOT NULL AND attempt <> prev + 1)`,
		},
		{
			Name: "O7_fragment_package_same_dispute",
			SQL: `SELECT f.id FROM evidence_fragments f
                  JOIN evidence_packages p ON p.id = f.package_id
                  WHERE p.dispute_id <> f.dispute_id`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
