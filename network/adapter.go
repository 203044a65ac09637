package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"disputeflow/dispute"
	"disputeflow/evidence"
)

var (
	// ErrTransient marks a failure worth retrying (timeout, 5xx-shaped).
	ErrTransient = errors.New("network: transient failure")
	// ErrRejected marks a validation-shaped failure (4xx-shaped); it is
	// never retried.
	ErrRejected = errors.New("network: submission rejected")
	// ErrRetriesExhausted is returned once the attempt cap is reached.
	ErrRetriesExhausted = errors.New("network: retries exhausted")
	// ErrMissingField is returned by Translate when a required external
	// field has no internal value.
	ErrMissingField = errors.New("network: required field missing")
)

// Client is the narrow interface to the adjudicating network. Its wire format
// and authentication are its own concern.
type Client interface {
	Submit(ctx context.Context, payload Payload, idempotencyKey string) (caseRef string, err error)
	PollStatus(ctx context.Context, caseRef string) (Resolution, error)
}

// Translate maps the internal package and dispute to the network's field
// layout. It is total over valid inputs and fails fast on any required field
// it cannot fill.
func Translate(pkg evidence.Package, d dispute.Dispute) (Payload, error) {
	switch {
	case d.ID == "":
		return Payload{}, fmt.Errorf("%w: dispute id", ErrMissingField)
	case d.TransactionRef == "":
		return Payload{}, fmt.Errorf("%w: transaction ref", ErrMissingField)
	case d.Classification == "":
		return Payload{}, fmt.Errorf("%w: case type", ErrMissingField)
	case d.AmountCents <= 0:
		return Payload{}, fmt.Errorf("%w: amount", ErrMissingField)
	case d.Currency == "":
		return Payload{}, fmt.Errorf("%w: currency", ErrMissingField)
	case d.FiledAt.IsZero() || d.DeadlineAt.IsZero():
		return Payload{}, fmt.Errorf("%w: filing or deadline timestamp", ErrMissingField)
	case len(pkg.Fragments) == 0:
		return Payload{}, fmt.Errorf("%w: evidence items", ErrMissingField)
	}

	p := Payload{
		DisputeID:      d.ID,
		CaseType:       d.Classification,
		TransactionRef: d.TransactionRef,
		AmountCents:    d.AmountCents,
		Currency:       d.Currency,
		FiledAt:        d.FiledAt,
		DeadlineAt:     d.DeadlineAt,
		Enhanced:       pkg.EnhancedEligible,
	}
	for _, f := range pkg.Fragments {
		p.Evidence = append(p.Evidence, EvidenceItem{
			Kind:        string(f.Kind),
			Source:      f.Source,
			Hash:        f.PayloadHash,
			CollectedAt: f.CollectedAt,
			Content:     string(f.Payload),
		})
	}
	return p, nil
}

// Adapter submits evidence packages with bounded retry and records every
// attempt append-only.
type Adapter struct {
	client      Client
	repo        *Repository
	maxAttempts int
	delays      []time.Duration

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewAdapter(client Client, repo *Repository, maxAttempts int) *Adapter {
	return &Adapter{
		client:      client,
		repo:        repo,
		maxAttempts: maxAttempts,
		delays:      []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		sleep:       sleepCtx,
	}
}

// Submit translates and delivers the package. The payload is serialised and
// hashed exactly once; every retry sends the identical bytes under the same
// idempotency key so the network can de-duplicate. Only transient failures
// are retried, up to the attempt cap; validation-shaped failures return
// immediately. If an acknowledged record already exists for the dispute the
// call is a no-op returning it, which makes crash-recovery re-entry safe.
func (a *Adapter) Submit(ctx context.Context, pkg evidence.Package, d dispute.Dispute) (SubmissionRecord, error) {
	if a.repo != nil {
		if active, err := a.repo.Active(ctx, d.ID); err == nil && active.Status == StatusAcknowledged {
			return active, nil
		} else if err != nil && !errors.Is(err, ErrNoSubmission) {
			return SubmissionRecord{}, err
		}
	}

	payload, err := Translate(pkg, d)
	if err != nil {
		return SubmissionRecord{}, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return SubmissionRecord{}, fmt.Errorf("network: marshal payload: %w", err)
	}
	hash := evidence.HashPayload(raw)

	rec := SubmissionRecord{
		DisputeID:   d.ID,
		Payload:     raw,
		PayloadHash: hash,
		Status:      StatusPending,
	}
	if a.repo != nil {
		rec, err = a.repo.Create(ctx, rec)
		if err != nil {
			return SubmissionRecord{}, err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := a.sleep(ctx, a.delay(attempt-2)); err != nil {
				return rec, err
			}
		}

		caseRef, err := a.client.Submit(ctx, payload, hash)
		rec.Attempts = attempt
		if err == nil {
			rec.Status = StatusAcknowledged
			rec.CaseRef = &caseRef
			rec.LastError = nil
			if a.repo != nil {
				if err := a.repo.Update(ctx, rec); err != nil {
					return SubmissionRecord{}, err
				}
			}
			return rec, nil
		}

		msg := err.Error()
		rec.LastError = &msg
		lastErr = err

		if !errors.Is(err, ErrTransient) {
			rec.Status = StatusFailed
			if a.repo != nil {
				if err := a.repo.Update(ctx, rec); err != nil {
					return SubmissionRecord{}, err
				}
			}
			return rec, fmt.Errorf("%w: %s", ErrRejected, msg)
		}
		if a.repo != nil {
			if err := a.repo.Update(ctx, rec); err != nil {
				return SubmissionRecord{}, err
			}
		}
	}

	rec.Status = StatusFailed
	if a.repo != nil {
		if err := a.repo.Update(ctx, rec); err != nil {
			return SubmissionRecord{}, err
		}
	}
	return rec, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, a.maxAttempts, lastErr)
}

// Poll observes the network's current view of the dispute's case. It is a
// bounded, independent call with no side effects on the network.
func (a *Adapter) Poll(ctx context.Context, d dispute.Dispute) (Resolution, error) {
	if d.ExternalCaseRef == nil || *d.ExternalCaseRef == "" {
		return Resolution{}, fmt.Errorf("network: dispute %s has no case ref", d.ID)
	}
	res, err := a.client.PollStatus(ctx, *d.ExternalCaseRef)
	if err != nil {
		return Resolution{}, fmt.Errorf("network: poll %s: %w", *d.ExternalCaseRef, err)
	}
	if a.repo != nil && res.Status != ResolutionPending {
		if err := a.repo.RecordResolution(ctx, d.ID, string(res.Status)); err != nil {
			return Resolution{}, err
		}
	}
	return res, nil
}

func (a *Adapter) delay(i int) time.Duration {
	if i < 0 {
		i = 0
	}
	if i >= len(a.delays) {
		i = len(a.delays) - 1
	}
	return a.delays[i]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
