package dispute

import "time"

// Phase enumerates the workflow states a dispute moves through.
type Phase string

const (
	PhaseClassify Phase = "classify"
	PhaseGather   Phase = "gather_evidence"
	PhaseValidate Phase = "validate"
	PhaseSubmit   Phase = "submit"
	PhaseMonitor  Phase = "monitor"

	PhaseResolvedWon  Phase = "resolved_won"
	PhaseResolvedLost Phase = "resolved_lost"
	PhaseEscalated    Phase = "escalated"
	PhaseExpired      Phase = "expired"
)

// Event enumerates the transition triggers recognised by the state machine.
type Event string

const (
	EventClassified           Event = "classified"
	EventClassificationFailed Event = "classification_failed"
	EventPackageComplete      Event = "package_complete"
	EventDeadlineImminent     Event = "deadline_imminent"
	EventGatherExhausted      Event = "gather_attempts_exhausted"
	EventAllJudgesPass        Event = "all_judges_pass"
	EventRecoverableJudgeFail Event = "recoverable_judge_fail"
	EventFabricationFail      Event = "blocking_fabrication_fail"
	EventAcknowledged         Event = "acknowledged"
	EventRetriesExhausted     Event = "retries_exhausted"
	EventResolutionWon        Event = "resolution_received_won"
	EventResolutionLost       Event = "resolution_received_lost"
	EventSLABreach            Event = "sla_breach"
	EventDeadlinePassed       Event = "deadline_passed"
	EventCancelled            Event = "cancelled"
)

// Dispute mirrors the disputes table. ID, FiledAt and Classification are
// immutable after creation; Phase and Version change only through Transition.
type Dispute struct {
	ID               string
	ExternalCaseRef  *string
	Phase            Phase
	Classification   string
	ReasonCode       string
	TransactionRef   string
	AmountCents      int64
	Currency         string
	FiledAt          time.Time
	DeadlineAt       time.Time
	EnhancedEligible bool
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Remaining reports how long until the evidence-submission deadline.
func (d Dispute) Remaining(now time.Time) time.Duration {
	return d.DeadlineAt.Sub(now)
}

// Terminal reports whether the dispute has reached a final phase.
func (d Dispute) Terminal() bool {
	return IsTerminal(d.Phase)
}

// EventRecord captures one immutable audit-trail entry. Seq equals the
// dispute version written in the same transaction.
type EventRecord struct {
	ID        int64
	DisputeID string
	Seq       int64
	Event     Event
	FromPhase Phase
	ToPhase   Phase
	Reason    string
	Detail    []byte
	CreatedAt time.Time
}

// CreateParams enumerates the fields required to open a dispute.
type CreateParams struct {
	ReasonCode     string
	TransactionRef string
	AmountCents    int64
	Currency       string
	FiledAt        time.Time
	DeadlineAt     time.Time
}

// TransitionParams describes one requested state-machine transition. The
// write is conditional on FromVersion matching the persisted version.
type TransitionParams struct {
	DisputeID   string
	FromVersion int64
	Event       Event
	Reason      string
	Detail      map[string]any

	// Optional field updates applied together with the phase change.
	Classification   *string
	EnhancedEligible *bool
	ExternalCaseRef  *string
}
