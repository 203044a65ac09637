package evidence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"disputeflow/dispute"
)

var (
	// ErrSourceNotFound signals the source has no records for the reference.
	ErrSourceNotFound = errors.New("evidence: source has no records")
	// ErrSpecialistTimeout signals a specialist call that did not settle
	// within its budget.
	ErrSpecialistTimeout = errors.New("evidence: specialist timed out")
)

// Source is the narrow interface every external evidence system is reached
// through. QueryByReference returns a JSON payload or an error; it must
// honour context cancellation.
type Source interface {
	QueryByReference(ctx context.Context, kind Kind, params map[string]string) ([]byte, error)
}

// Specialist is a stateless worker tied to one source. Each Collect call
// independently succeeds or fails and never affects sibling specialists.
type Specialist struct {
	Name    string
	source  Source
	timeout time.Duration
}

func NewSpecialist(name string, source Source, timeout time.Duration) *Specialist {
	return &Specialist{Name: name, source: source, timeout: timeout}
}

// Collect queries the source for one plan item and wraps the result in a
// sealed fragment. A call that does not settle within the specialist timeout
// is abandoned and reported as a failure.
func (s *Specialist) Collect(ctx context.Context, d dispute.Dispute, item PlanItem) (Fragment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload, err := s.source.QueryByReference(ctx, item.Kind, item.Params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Fragment{}, fmt.Errorf("%w: %s", ErrSpecialistTimeout, s.Name)
		}
		return Fragment{}, fmt.Errorf("evidence: specialist %s: %w", s.Name, err)
	}

	frag, err := NewFragment(d.ID, item.Kind, s.Name, payload, time.Now())
	if err != nil {
		return Fragment{}, err
	}
	return frag, nil
}
