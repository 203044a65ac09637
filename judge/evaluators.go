package judge

import (
	"context"
	"encoding/json"
	"fmt"

	"disputeflow/dispute"
	"disputeflow/evidence"
)

// RubricEvaluator is the built-in scoring backend. It covers the stock
// rubrics with deterministic checks so the engine runs end to end without an
// external reasoning service; a remote Evaluator can replace it per judge.
type RubricEvaluator struct{}

func NewRubricEvaluator() *RubricEvaluator {
	return &RubricEvaluator{}
}

func (e *RubricEvaluator) Evaluate(ctx context.Context, rubric string, pkg evidence.Package, d dispute.Dispute) (float64, string, []string, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", nil, err
	}

	switch rubric {
	case "completeness":
		return e.completeness(pkg)
	case "fabrication":
		return e.integrity(pkg)
	case "consistency":
		return e.consistency(pkg, d)
	default:
		return 0, "", nil, fmt.Errorf("judge: unknown rubric %q", rubric)
	}
}

func (e *RubricEvaluator) completeness(pkg evidence.Package) (float64, string, []string, error) {
	var gaps []string
	for _, f := range pkg.Failures {
		gaps = append(gaps, fmt.Sprintf("%s:%s", f.Specialist, f.Kind))
	}
	rationale := fmt.Sprintf("%d of %d planned fragments obtained", len(pkg.Fragments)-manualCount(pkg), pkg.Planned)
	return pkg.Completeness, rationale, gaps, nil
}

// integrity re-verifies every fragment hash. Any mismatch is treated as
// fabricated evidence and collapses the score to zero.
func (e *RubricEvaluator) integrity(pkg evidence.Package) (float64, string, []string, error) {
	var gaps []string
	for _, f := range pkg.Fragments {
		if err := f.Verify(); err != nil {
			gaps = append(gaps, fmt.Sprintf("%s:%s", f.Source, f.Kind))
		}
	}
	if len(gaps) > 0 {
		return 0, fmt.Sprintf("%d fragment(s) failed hash verification", len(gaps)), gaps, nil
	}
	return 1, "all fragment hashes verified", nil, nil
}

// consistency checks that the evidence tells one story: amounts and
// currencies in transaction payloads agree with the dispute.
func (e *RubricEvaluator) consistency(pkg evidence.Package, d dispute.Dispute) (float64, string, []string, error) {
	checked, agree := 0, 0
	var gaps []string
	for _, f := range pkg.Fragments {
		if f.Kind != evidence.KindTransactionReceipt && f.Kind != evidence.KindPriorTransaction {
			continue
		}
		var records []evidence.TransactionRecord
		if err := json.Unmarshal(f.Payload, &records); err != nil {
			// Receipts may use a single-object payload.
			var one evidence.TransactionRecord
			if err := json.Unmarshal(f.Payload, &one); err != nil {
				gaps = append(gaps, fmt.Sprintf("%s:unparseable", f.Source))
				checked++
				continue
			}
			records = []evidence.TransactionRecord{one}
		}
		for _, rec := range records {
			checked++
			if rec.Currency == "" || rec.Currency == d.Currency {
				agree++
			} else {
				gaps = append(gaps, fmt.Sprintf("%s:currency %s vs %s", f.Source, rec.Currency, d.Currency))
			}
		}
	}
	if checked == 0 {
		return 1, "no transaction payloads to cross-check", nil, nil
	}
	score := float64(agree) / float64(checked)
	return score, fmt.Sprintf("%d of %d transaction records consistent", agree, checked), gaps, nil
}

func manualCount(pkg evidence.Package) int {
	n := 0
	for _, f := range pkg.Fragments {
		if f.Manual {
			n++
		}
	}
	return n
}
