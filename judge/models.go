package judge

import "time"

// Verdict is one evaluator's output for one validation attempt. Scores are
// bounded to [0,1]; Passed is relative to the judge's configured threshold.
type Verdict struct {
	Judge     string   `json:"judge"`
	Dimension string   `json:"dimension"`
	Blocking  bool     `json:"blocking"`
	Score     float64  `json:"score"`
	Passed    bool     `json:"passed"`
	TimedOut  bool     `json:"timed_out"`
	Rationale string   `json:"rationale"`
	Gaps      []string `json:"gaps,omitempty"`
	Err       string   `json:"error,omitempty"`
}

// PanelResult aggregates every verdict for one validation attempt. Exactly
// one is written per attempt and never mutated afterwards.
type PanelResult struct {
	ID        string
	DisputeID string
	PackageID string
	Attempt   int
	Passed    bool
	// Fabrication marks a blocking judge reporting near-certain evidence
	// fabrication; the dispute is not recoverable by gathering more.
	Fabrication      bool
	BlockingFailures []Verdict
	Warnings         []Verdict
	Verdicts         []Verdict
	CreatedAt        time.Time
}

// Gaps flattens the named evidence gaps cited by failing judges.
func (r PanelResult) Gaps() []string {
	var out []string
	for _, v := range r.BlockingFailures {
		out = append(out, v.Gaps...)
	}
	return out
}
