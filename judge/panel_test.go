package judge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"disputeflow/config"
	"disputeflow/dispute"
	"disputeflow/evidence"
)

// scriptedEvaluator returns a fixed outcome per rubric dimension.
type scriptedEvaluator struct {
	scores map[string]float64
	errs   map[string]error
	delays map[string]time.Duration
}

func (e *scriptedEvaluator) Evaluate(ctx context.Context, rubric string, _ evidence.Package, _ dispute.Dispute) (float64, string, []string, error) {
	if d, ok := e.delays[rubric]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return 0, "", nil, ctx.Err()
		}
	}
	if err, ok := e.errs[rubric]; ok {
		return 0, "", nil, err
	}
	return e.scores[rubric], "scripted", nil, nil
}

func testJudges() []config.JudgeConfig {
	return []config.JudgeConfig{
		{Name: "completeness", Dimension: "completeness", Threshold: 0.8, Blocking: true},
		{Name: "integrity", Dimension: "fabrication", Threshold: 0.8, Blocking: true},
		{Name: "consistency", Dimension: "consistency", Threshold: 0.7, Blocking: false},
	}
}

func newTestPanel(backend Evaluator) *Panel {
	return NewPanel(testJudges(), backend, time.Second, 0.95, nil)
}

func TestEvaluate_AllPass(t *testing.T) {
	backend := &scriptedEvaluator{scores: map[string]float64{
		"completeness": 0.9, "fabrication": 0.9, "consistency": 0.8,
	}}
	result, err := newTestPanel(backend).Evaluate(context.Background(), evidence.Package{ID: "pkg-1", Attempt: 1}, dispute.Dispute{ID: "d-1"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !result.Passed {
		t.Fatal("all judges above threshold must pass the panel")
	}
	if len(result.BlockingFailures) != 0 || len(result.Warnings) != 0 {
		t.Fatalf("unexpected failures %+v warnings %+v", result.BlockingFailures, result.Warnings)
	}
	if len(result.Verdicts) != 3 {
		t.Fatalf("expected 3 verdicts, got %d", len(result.Verdicts))
	}
}

func TestEvaluate_NonBlockingFailureOnlyWarns(t *testing.T) {
	backend := &scriptedEvaluator{scores: map[string]float64{
		"completeness": 0.9, "fabrication": 0.9, "consistency": 0.1,
	}}
	result, err := newTestPanel(backend).Evaluate(context.Background(), evidence.Package{ID: "pkg-1"}, dispute.Dispute{ID: "d-1"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !result.Passed {
		t.Fatal("a failing non-blocking judge must not fail the panel")
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Judge != "consistency" {
		t.Fatalf("expected a consistency warning, got %+v", result.Warnings)
	}
}

func TestEvaluate_BlockingFailureFailsPanel(t *testing.T) {
	backend := &scriptedEvaluator{scores: map[string]float64{
		"completeness": 0.5, "fabrication": 0.9, "consistency": 0.8,
	}}
	result, err := newTestPanel(backend).Evaluate(context.Background(), evidence.Package{ID: "pkg-1"}, dispute.Dispute{ID: "d-1"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Passed {
		t.Fatal("a failing blocking judge must fail the panel")
	}
	if result.Fabrication {
		t.Error("a completeness failure is recoverable, not fabrication")
	}
	if len(result.BlockingFailures) != 1 || result.BlockingFailures[0].Judge != "completeness" {
		t.Fatalf("expected a completeness blocking failure, got %+v", result.BlockingFailures)
	}
}

func TestEvaluate_FabricationRouting(t *testing.T) {
	cases := []struct {
		name            string
		integrityScore  float64
		wantFabrication bool
	}{
		// Fabrication certainty is 1-score against the 0.95 threshold.
		{"certain fabrication", 0.0, true},
		{"at threshold", 0.05, true},
		{"below threshold", 0.3, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := &scriptedEvaluator{scores: map[string]float64{
				"completeness": 0.9, "fabrication": tc.integrityScore, "consistency": 0.8,
			}}
			result, err := newTestPanel(backend).Evaluate(context.Background(), evidence.Package{ID: "pkg-1"}, dispute.Dispute{ID: "d-1"})
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if result.Passed {
				t.Fatal("integrity below threshold must fail the panel")
			}
			if result.Fabrication != tc.wantFabrication {
				t.Fatalf("fabrication = %v, want %v", result.Fabrication, tc.wantFabrication)
			}
		})
	}
}

func TestEvaluate_TimeoutAttributedToJudge(t *testing.T) {
	backend := &scriptedEvaluator{
		scores: map[string]float64{"completeness": 0.9, "fabrication": 0.9, "consistency": 0.8},
		delays: map[string]time.Duration{"fabrication": 500 * time.Millisecond},
	}
	panel := NewPanel(testJudges(), backend, 20*time.Millisecond, 0.95, nil)

	result, err := panel.Evaluate(context.Background(), evidence.Package{ID: "pkg-1"}, dispute.Dispute{ID: "d-1"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Passed {
		t.Fatal("a timed-out blocking judge must fail the panel")
	}
	if result.Fabrication {
		t.Error("a timeout is never a fabrication verdict")
	}
	if len(result.BlockingFailures) != 1 {
		t.Fatalf("expected one blocking failure, got %+v", result.BlockingFailures)
	}
	v := result.BlockingFailures[0]
	if v.Judge != "integrity" || !v.TimedOut {
		t.Fatalf("timeout must be attributed to the slow judge, got %+v", v)
	}
	if !strings.Contains(v.Err, "budget") {
		t.Errorf("timeout verdict should name the budget, got %q", v.Err)
	}
}

func TestEvaluate_BackendErrorBlocks(t *testing.T) {
	backend := &scriptedEvaluator{
		scores: map[string]float64{"fabrication": 0.9, "consistency": 0.8},
		errs:   map[string]error{"completeness": errors.New("backend unavailable")},
	}
	result, err := newTestPanel(backend).Evaluate(context.Background(), evidence.Package{ID: "pkg-1"}, dispute.Dispute{ID: "d-1"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Passed {
		t.Fatal("a blocking judge that errors must fail the panel")
	}
	if result.Fabrication {
		t.Error("a backend error is never a fabrication verdict")
	}
}

func TestEvaluate_CancelledContext(t *testing.T) {
	backend := &scriptedEvaluator{
		scores: map[string]float64{"completeness": 0.9, "fabrication": 0.9, "consistency": 0.8},
		delays: map[string]time.Duration{"completeness": time.Second},
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if _, err := newTestPanel(backend).Evaluate(ctx, evidence.Package{ID: "pkg-1"}, dispute.Dispute{ID: "d-1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancellation must surface, not a partial result: %v", err)
	}
}
