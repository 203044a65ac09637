package judge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"disputeflow/config"
	"disputeflow/dispute"
	"disputeflow/evidence"
)

// Evaluator is the backend every judge scores through: given a rubric and an
// immutable evidence package, it returns a bounded score, a rationale and the
// named gaps it found. The scoring technology behind it is interchangeable.
type Evaluator interface {
	Evaluate(ctx context.Context, rubric string, pkg evidence.Package, d dispute.Dispute) (score float64, rationale string, gaps []string, err error)
}

// Panel runs the configured judges concurrently against one package and
// aggregates per the blocking policy.
type Panel struct {
	judges               []config.JudgeConfig
	backend              Evaluator
	budget               time.Duration
	fabricationThreshold float64
	repo                 *Repository
}

func NewPanel(judges []config.JudgeConfig, backend Evaluator, budget time.Duration, fabricationThreshold float64, repo *Repository) *Panel {
	return &Panel{
		judges:               judges,
		backend:              backend,
		budget:               budget,
		fabricationThreshold: fabricationThreshold,
		repo:                 repo,
	}
}

// Evaluate invokes every judge against the same package. Each call gets the
// panel's latency budget; one that misses it fails and the failure is
// attributed to that judge. The result passes iff no blocking judge failed or
// timed out; non-blocking failures only populate warnings.
func (p *Panel) Evaluate(ctx context.Context, pkg evidence.Package, d dispute.Dispute) (PanelResult, error) {
	verdicts := make([]Verdict, len(p.judges))

	eg, gctx := errgroup.WithContext(ctx)
	for i, jc := range p.judges {
		eg.Go(func() error {
			verdicts[i] = p.runJudge(gctx, jc, pkg, d)
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		// Cancelled mid-panel: never surface a partial result.
		return PanelResult{}, err
	}

	result := PanelResult{
		ID:        uuid.NewString(),
		DisputeID: d.ID,
		PackageID: pkg.ID,
		Attempt:   pkg.Attempt,
		Passed:    true,
		Verdicts:  verdicts,
		CreatedAt: time.Now(),
	}

	for _, v := range verdicts {
		if v.Passed && !v.TimedOut && v.Err == "" {
			continue
		}
		if !v.Blocking {
			result.Warnings = append(result.Warnings, v)
			continue
		}
		result.Passed = false
		result.BlockingFailures = append(result.BlockingFailures, v)
		// A fabrication-dimension judge scoring integrity so low that
		// fabrication is near certain routes to human review instead of
		// another gather round.
		if v.Dimension == "fabrication" && !v.TimedOut && v.Err == "" && (1-v.Score) >= p.fabricationThreshold {
			result.Fabrication = true
		}
	}

	if p.repo != nil {
		if err := p.repo.Save(ctx, result); err != nil {
			return PanelResult{}, err
		}
	}
	return result, nil
}

func (p *Panel) runJudge(ctx context.Context, jc config.JudgeConfig, pkg evidence.Package, d dispute.Dispute) Verdict {
	ctx, cancel := context.WithTimeout(ctx, p.budget)
	defer cancel()

	v := Verdict{Judge: jc.Name, Dimension: jc.Dimension, Blocking: jc.Blocking}

	type outcome struct {
		score     float64
		rationale string
		gaps      []string
		err       error
	}
	ch := make(chan outcome, 1)
	go func() {
		score, rationale, gaps, err := p.backend.Evaluate(ctx, jc.Dimension, pkg, d)
		ch <- outcome{score: score, rationale: rationale, gaps: gaps, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			v.Err = out.err.Error()
			return v
		}
		v.Score = clamp(out.score)
		v.Rationale = out.rationale
		v.Gaps = out.gaps
		v.Passed = v.Score >= jc.Threshold
		return v
	case <-ctx.Done():
		v.TimedOut = true
		v.Err = fmt.Sprintf("judge %s exceeded %s budget", jc.Name, p.budget)
		return v
	}
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
