package dispute

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition signals a transition not present in the table. It is a
// programming or state error and is never retried.
var ErrInvalidTransition = errors.New("dispute: invalid transition")

// transitions is the complete legal transition table. Anything absent here is
// rejected, except deadline_passed and cancelled, which are legal from every
// non-terminal phase.
var transitions = map[Phase]map[Event]Phase{
	PhaseClassify: {
		EventClassified:           PhaseGather,
		EventClassificationFailed: PhaseEscalated,
	},
	PhaseGather: {
		EventPackageComplete:  PhaseValidate,
		EventDeadlineImminent: PhaseEscalated,
		EventGatherExhausted:  PhaseEscalated,
	},
	PhaseValidate: {
		EventAllJudgesPass:        PhaseSubmit,
		EventRecoverableJudgeFail: PhaseGather,
		EventFabricationFail:      PhaseEscalated,
	},
	PhaseSubmit: {
		EventAcknowledged:     PhaseMonitor,
		EventRetriesExhausted: PhaseEscalated,
	},
	PhaseMonitor: {
		EventResolutionWon:  PhaseResolvedWon,
		EventResolutionLost: PhaseResolvedLost,
		EventSLABreach:      PhaseEscalated,
	},
}

// IsTerminal reports whether p is a final phase.
func IsTerminal(p Phase) bool {
	switch p {
	case PhaseResolvedWon, PhaseResolvedLost, PhaseEscalated, PhaseExpired:
		return true
	default:
		return false
	}
}

// Next resolves the target phase for an event applied in the given phase.
// Illegal combinations leave the caller's state untouched and return
// ErrInvalidTransition.
func Next(from Phase, event Event) (Phase, error) {
	if event == EventDeadlinePassed || event == EventCancelled {
		if IsTerminal(from) {
			return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, event)
		}
		if event == EventCancelled {
			return PhaseEscalated, nil
		}
		return PhaseExpired, nil
	}
	if to, ok := transitions[from][event]; ok {
		return to, nil
	}
	return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, event)
}
