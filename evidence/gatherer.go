package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"disputeflow/dispute"
)

// Rules holds the configured thresholds the gatherer derives its verdicts
// from. It is immutable after construction.
type Rules struct {
	CompletenessFloor  float64
	Lookback           time.Duration
	MinPriorTxns       int
	MinMatchingSignals int
}

// Gatherer runs the plan for a dispute: one concurrent specialist invocation
// per item, partial-failure tolerant, joined before scoring.
type Gatherer struct {
	specialists map[string]*Specialist
	repo        *Repository
	rules       Rules
}

func NewGatherer(specialists map[string]*Specialist, repo *Repository, rules Rules) *Gatherer {
	return &Gatherer{specialists: specialists, repo: repo, rules: rules}
}

// Gather dispatches every plan item concurrently and assembles the evidence
// package once all calls settle. A failing or timed-out specialist
// contributes a recorded failure, never an abort of its siblings. The package
// is persisted append-only before being returned.
func (g *Gatherer) Gather(ctx context.Context, d dispute.Dispute, attempt int) (Package, error) {
	plan := Plan(d)

	type outcome struct {
		frag Fragment
		err  error
	}
	outcomes := make([]outcome, len(plan))

	eg, gctx := errgroup.WithContext(ctx)
	for i, item := range plan {
		eg.Go(func() error {
			spec, ok := g.specialists[item.Specialist]
			if !ok {
				outcomes[i] = outcome{err: errUnknownSpecialist(item.Specialist)}
				return nil
			}
			frag, err := spec.Collect(gctx, d, item)
			outcomes[i] = outcome{frag: frag, err: err}
			return nil
		})
	}
	// Goroutines always return nil; failures live in outcomes.
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		// Cancelled mid-gather: do not surface a partial package as complete.
		return Package{}, err
	}

	pkg := Package{
		DisputeID: d.ID,
		Attempt:   attempt,
		Planned:   len(plan),
		CreatedAt: time.Now(),
	}
	for i, out := range outcomes {
		if out.err != nil {
			log.Printf("gather %s attempt %d: specialist %s failed: %v", d.ID, attempt, plan[i].Specialist, out.err)
			pkg.Failures = append(pkg.Failures, SourceFailure{
				Specialist: plan[i].Specialist,
				Kind:       plan[i].Kind,
				Error:      out.err.Error(),
			})
			continue
		}
		pkg.Fragments = append(pkg.Fragments, out.frag)
	}

	if len(plan) > 0 {
		pkg.Completeness = float64(len(pkg.Fragments)) / float64(len(plan))
	}
	pkg.Incomplete = pkg.Completeness < g.rules.CompletenessFloor

	if g.repo != nil {
		manual, err := g.repo.StagedManual(ctx, d.ID)
		if err != nil {
			return Package{}, err
		}
		pkg.Fragments = append(pkg.Fragments, manual...)
	}

	pkg.EnhancedEligible = Eligible(pkg.Fragments, d.FiledAt, g.rules)

	if g.repo != nil {
		saved, err := g.repo.SavePackage(ctx, pkg)
		if err != nil {
			return Package{}, err
		}
		return saved, nil
	}
	return pkg, nil
}

// Eligible decides enhanced-evidence qualification: at least MinPriorTxns
// qualifying prior transactions inside the lookback window anchored at the
// dispute filing, and at least MinMatchingSignals distinct identity signals
// matched across them.
func Eligible(frags []Fragment, anchor time.Time, rules Rules) bool {
	qualifying := 0
	signals := map[Signal]bool{}
	cutoff := anchor.Add(-rules.Lookback)

	for _, f := range frags {
		if f.Kind != KindPriorTransaction && f.Kind != KindCustomerMatchSignal {
			continue
		}
		var records []TransactionRecord
		if err := json.Unmarshal(f.Payload, &records); err != nil {
			continue
		}
		for _, rec := range records {
			if rec.Disputed {
				continue
			}
			if rec.OccurredAt.Before(cutoff) || rec.OccurredAt.After(anchor) {
				continue
			}
			if f.Kind == KindPriorTransaction {
				qualifying++
			}
			if rec.DeviceMatch {
				signals[SignalDevice] = true
			}
			if rec.IPMatch {
				signals[SignalIP] = true
			}
			if rec.EmailMatch {
				signals[SignalEmail] = true
			}
			if rec.AddressMatch {
				signals[SignalAddress] = true
			}
		}
	}

	return qualifying >= rules.MinPriorTxns && len(signals) >= rules.MinMatchingSignals
}

func errUnknownSpecialist(name string) error {
	return fmt.Errorf("evidence: no specialist registered for %s", name)
}
