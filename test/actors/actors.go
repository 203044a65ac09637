package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"disputeflow/dispute"
)

// legalEvents lists the transition triggers an actor may attempt per phase.
// The real machine decides the target phase; actors only pick the trigger.
var legalEvents = map[dispute.Phase][]dispute.Event{
	dispute.PhaseClassify: {dispute.EventClassified, dispute.EventClassified, dispute.EventClassificationFailed},
	dispute.PhaseGather:   {dispute.EventPackageComplete, dispute.EventPackageComplete, dispute.EventDeadlineImminent, dispute.EventGatherExhausted},
	dispute.PhaseValidate: {dispute.EventAllJudgesPass, dispute.EventAllJudgesPass, dispute.EventRecoverableJudgeFail, dispute.EventFabricationFail},
	dispute.PhaseSubmit:   {dispute.EventAcknowledged, dispute.EventAcknowledged, dispute.EventRetriesExhausted},
	dispute.PhaseMonitor:  {dispute.EventResolutionWon, dispute.EventResolutionLost, dispute.EventSLABreach, dispute.EventCancelled},
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// transient reports errors the chaos actor is allowed to inflict: killed
// backends and dropped connections. Actors retry through them.
func transient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 57P01 admin shutdown, 08xxx connection exceptions.
		return pgErr.Code == "57P01" || strings.HasPrefix(pgErr.Code, "08")
	}
	msg := err.Error()
	return strings.Contains(msg, "conn closed") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "unexpected EOF") || strings.Contains(msg, "broken pipe")
}

// Filer keeps opening fresh disputes so terminal ones never starve the run.
func Filer(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `INSERT INTO disputes (reason_code, transaction_ref, amount_cents, currency, filed_at, deadline_at)
                                  VALUES ('10.4', $1, 1000 + floor(random()*9000)::bigint, 'USD', now(), now() + interval '14 days')`,
			fmt.Sprintf("txn-%d", rand.Int63()))
		if err != nil && !transient(err) {
			return fmt.Errorf("filer insert: %w", err)
		}
		time.Sleep(time.Duration(100+rand.Intn(200)) * time.Millisecond)
	}
}

// Advancer races other advancers to transition random open disputes. Every
// transition is conditional on the version it read; losing the race is the
// expected outcome under contention, never an error.
func Advancer(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := advanceOne(ctx, pool); err != nil && !transient(err) {
			return err
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

func advanceOne(ctx context.Context, pool *pgxpool.Pool) error {
	var (
		id      string
		phase   string
		version int64
	)
	err := pool.QueryRow(ctx, `SELECT id, phase, version FROM disputes
                               WHERE phase NOT IN ('resolved_won','resolved_lost','escalated','expired')
                               ORDER BY random() LIMIT 1`).Scan(&id, &phase, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("advancer pick: %w", err)
	}

	candidates := legalEvents[dispute.Phase(phase)]
	if len(candidates) == 0 {
		return nil
	}
	event := candidates[rand.Intn(len(candidates))]
	next, err := dispute.Next(dispute.Phase(phase), event)
	if err != nil {
		return fmt.Errorf("advancer machine: %w", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var newVersion int64
	err = tx.QueryRow(ctx, `UPDATE disputes SET phase=$1, version=version+1, updated_at=now()
                            WHERE id=$2 AND version=$3 RETURNING version`, string(next), id, version).Scan(&newVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the version race.
		return nil
	}
	if err != nil {
		return fmt.Errorf("advancer update: %w", err)
	}

	_, err = tx.Exec(ctx, `INSERT INTO dispute_events (dispute_id, seq, event, from_phase, to_phase)
                           VALUES ($1,$2,$3,$4,$5)`, id, newVersion, string(event), phase, string(next))
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("advancer event: %w", err)
	}
	return tx.Commit(ctx)
}

// EvidenceWriter appends evidence packages for gathering disputes. Attempt
// numbers come from max+1 under a unique constraint, so concurrent writers
// collide instead of overwriting.
func EvidenceWriter(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := writePackage(ctx, pool); err != nil && !transient(err) {
			return err
		}
		time.Sleep(time.Duration(20+rand.Intn(50)) * time.Millisecond)
	}
}

func writePackage(ctx context.Context, pool *pgxpool.Pool) error {
	var disputeID string
	err := pool.QueryRow(ctx, `SELECT id FROM disputes WHERE phase='gather_evidence' ORDER BY random() LIMIT 1`).Scan(&disputeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("evidence pick: %w", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var pkgID string
	err = tx.QueryRow(ctx, `INSERT INTO evidence_packages (id, dispute_id, attempt, planned, completeness, incomplete, enhanced_eligible)
                            SELECT gen_random_uuid(), $1, COALESCE(MAX(attempt),0)+1, 3, 1.0, false, false
                            FROM evidence_packages WHERE dispute_id=$1
                            RETURNING id`, disputeID).Scan(&pkgID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("evidence package: %w", err)
	}

	_, err = tx.Exec(ctx, `INSERT INTO evidence_fragments (id, dispute_id, package_id, kind, source, payload, payload_hash, collected_at)
                           VALUES (gen_random_uuid(), $1, $2, 'transaction_receipt', 'payment_platform', '{"ref":"stress"}'::jsonb, md5(random()::text), now())`,
		disputeID, pkgID)
	if err != nil {
		return fmt.Errorf("evidence fragment: %w", err)
	}
	return tx.Commit(ctx)
}

// ManualInjector stages operator fragments with no package; the next gather
// attempt is expected to adopt them.
func ManualInjector(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var disputeID string
		err := pool.QueryRow(ctx, `SELECT id FROM disputes WHERE phase='gather_evidence' ORDER BY random() LIMIT 1`).Scan(&disputeID)
		if err == nil {
			_, err = pool.Exec(ctx, `INSERT INTO evidence_fragments (id, dispute_id, kind, source, payload, payload_hash, collected_at, manual)
                                     VALUES (gen_random_uuid(), $1, 'communication_log', 'operator', '{"note":"stress"}'::jsonb, md5(random()::text), now(), true)`,
				disputeID)
			if err != nil && !transient(err) {
				return fmt.Errorf("manual inject: %w", err)
			}
		} else if !errors.Is(err, pgx.ErrNoRows) && !transient(err) {
			return fmt.Errorf("manual pick: %w", err)
		}
		time.Sleep(time.Duration(80+rand.Intn(120)) * time.Millisecond)
	}
}

// Submitter records submissions for submit-phase disputes, superseding any
// prior active record in the same transaction.
func Submitter(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := submitOne(ctx, pool); err != nil && !transient(err) {
			return err
		}
		time.Sleep(time.Duration(40+rand.Intn(80)) * time.Millisecond)
	}
}

func submitOne(ctx context.Context, pool *pgxpool.Pool) error {
	var disputeID string
	err := pool.QueryRow(ctx, `SELECT id FROM disputes WHERE phase='submit' ORDER BY random() LIMIT 1`).Scan(&disputeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("submitter pick: %w", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Serialise competing submitters per dispute so supersede-then-insert
	// leaves exactly one active record.
	if _, err := tx.Exec(ctx, `SELECT id FROM disputes WHERE id=$1 FOR UPDATE`, disputeID); err != nil {
		return fmt.Errorf("submitter lock: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE submissions SET superseded=true, updated_at=now()
                               WHERE dispute_id=$1 AND superseded=false`, disputeID); err != nil {
		return fmt.Errorf("submitter supersede: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO submissions (id, dispute_id, payload, payload_hash, attempts, status)
                               VALUES (gen_random_uuid(), $1, '{}'::jsonb, md5(random()::text), 1, 'pending')`, disputeID); err != nil {
		return fmt.Errorf("submitter insert: %w", err)
	}
	return tx.Commit(ctx)
}
