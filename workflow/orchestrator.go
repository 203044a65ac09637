package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"disputeflow/config"
	"disputeflow/dispute"
	"disputeflow/evidence"
	"disputeflow/judge"
	"disputeflow/network"
)

var (
	// ErrWrongPhase signals an operation attempted outside its legal phase.
	ErrWrongPhase = errors.New("workflow: operation not valid in current phase")
)

// Store is the durable dispute state the orchestrator owns. Transition must
// be conditional on the version the orchestrator read.
type Store interface {
	Create(ctx context.Context, params dispute.CreateParams) (dispute.Dispute, error)
	Get(ctx context.Context, id string) (dispute.Dispute, error)
	Transition(ctx context.Context, params dispute.TransitionParams) (dispute.Dispute, error)
	Events(ctx context.Context, id string) ([]dispute.EventRecord, error)
	ListByPhase(ctx context.Context, phase dispute.Phase) ([]dispute.Dispute, error)
	ListOpen(ctx context.Context) ([]dispute.Dispute, error)
}

// Classifier assigns a classification code on intake.
type Classifier interface {
	Classify(ctx context.Context, d dispute.Dispute) (string, error)
}

// Gatherer assembles one evidence package per attempt.
type Gatherer interface {
	Gather(ctx context.Context, d dispute.Dispute, attempt int) (evidence.Package, error)
}

// Panel validates an immutable package.
type Panel interface {
	Evaluate(ctx context.Context, pkg evidence.Package, d dispute.Dispute) (judge.PanelResult, error)
}

// Submitter delivers the package to the adjudicating network and observes
// case status.
type Submitter interface {
	Submit(ctx context.Context, pkg evidence.Package, d dispute.Dispute) (network.SubmissionRecord, error)
	Poll(ctx context.Context, d dispute.Dispute) (network.Resolution, error)
}

// EvidenceStore is the append-only package/fragment storage the orchestrator
// reads between phases.
type EvidenceStore interface {
	Attempts(ctx context.Context, disputeID string) (int, error)
	Latest(ctx context.Context, disputeID string) (evidence.Package, error)
	StageManual(ctx context.Context, frag evidence.Fragment) error
}

// Orchestrator drives disputes through the phase state machine. It is the
// only component that mutates dispute state, and the single place retry and
// escalation policy is visible.
type Orchestrator struct {
	store      Store
	evidence   EvidenceStore
	classifier Classifier
	gatherer   Gatherer
	panel      Panel
	submitter  Submitter
	cfg        config.Config

	now func() time.Time
}

func NewOrchestrator(store Store, es EvidenceStore, classifier Classifier, gatherer Gatherer, panel Panel, submitter Submitter, cfg config.Config) *Orchestrator {
	return &Orchestrator{
		store:      store,
		evidence:   es,
		classifier: classifier,
		gatherer:   gatherer,
		panel:      panel,
		submitter:  submitter,
		cfg:        cfg,
		now:        time.Now,
	}
}

// IntakeParams describes a newly filed dispute.
type IntakeParams struct {
	ReasonCode     string
	TransactionRef string
	AmountCents    int64
	Currency       string
	FiledAt        time.Time
}

// Intake opens a dispute and advances it as far as it can go synchronously.
func (o *Orchestrator) Intake(ctx context.Context, params IntakeParams) (dispute.Dispute, error) {
	filed := params.FiledAt
	if filed.IsZero() {
		filed = o.now()
	}

	d, err := o.store.Create(ctx, dispute.CreateParams{
		ReasonCode:     params.ReasonCode,
		TransactionRef: params.TransactionRef,
		AmountCents:    params.AmountCents,
		Currency:       params.Currency,
		FiledAt:        filed,
		DeadlineAt:     filed.Add(o.cfg.DeadlineWindow()),
	})
	if err != nil {
		return dispute.Dispute{}, err
	}
	return o.Advance(ctx, d.ID)
}

// Advance re-enters the current phase's entry action and follows the
// resulting transitions until the dispute parks in monitor or a terminal
// phase. It is also the crash-recovery entry point: every phase entry action
// is safe to re-invoke.
func (o *Orchestrator) Advance(ctx context.Context, id string) (dispute.Dispute, error) {
	d, err := o.store.Get(ctx, id)
	if err != nil {
		return dispute.Dispute{}, err
	}

	for !d.Terminal() && d.Phase != dispute.PhaseMonitor {
		next, err := o.step(ctx, d)
		if err != nil {
			return d, err
		}
		d = next
	}
	return d, nil
}

// ResumeAll re-enters every open dispute, typically at startup.
func (o *Orchestrator) ResumeAll(ctx context.Context) error {
	open, err := o.store.ListOpen(ctx)
	if err != nil {
		return err
	}
	for _, d := range open {
		if d.Phase == dispute.PhaseMonitor {
			continue
		}
		if _, err := o.Advance(ctx, d.ID); err != nil {
			log.Printf("resume dispute %s: %v", d.ID, err)
		}
	}
	return nil
}

// step runs one phase entry action and persists the resulting transition
// before returning control. Phase work is cancelled when the deadline lands.
func (o *Orchestrator) step(ctx context.Context, d dispute.Dispute) (dispute.Dispute, error) {
	now := o.now()
	if !now.Before(d.DeadlineAt) {
		return o.apply(ctx, d, dispute.EventDeadlinePassed, "evidence-submission deadline passed", map[string]any{
			"deadline_at": d.DeadlineAt,
		}, nil)
	}

	phaseCtx, cancel := context.WithDeadline(ctx, d.DeadlineAt)
	defer cancel()

	switch d.Phase {
	case dispute.PhaseClassify:
		return o.enterClassify(phaseCtx, d)
	case dispute.PhaseGather:
		return o.enterGather(phaseCtx, d)
	case dispute.PhaseValidate:
		return o.enterValidate(phaseCtx, d)
	case dispute.PhaseSubmit:
		return o.enterSubmit(phaseCtx, d)
	default:
		return dispute.Dispute{}, fmt.Errorf("workflow: no entry action for phase %s", d.Phase)
	}
}

func (o *Orchestrator) enterClassify(ctx context.Context, d dispute.Dispute) (dispute.Dispute, error) {
	code, err := o.classifier.Classify(ctx, d)
	if err != nil || code == "" {
		reason := fmt.Sprintf("classification failed for reason code %q", d.ReasonCode)
		detail := map[string]any{"component": "classifier", "reason_code": d.ReasonCode}
		if err != nil {
			detail["error"] = err.Error()
		}
		return o.apply(ctx, d, dispute.EventClassificationFailed, reason, detail, nil)
	}
	return o.apply(ctx, d, dispute.EventClassified, "", map[string]any{
		"classification": code,
	}, &fieldUpdates{classification: &code})
}

func (o *Orchestrator) enterGather(ctx context.Context, d dispute.Dispute) (dispute.Dispute, error) {
	if d.Remaining(o.now()) < o.cfg.ImminenceWindow() {
		return o.apply(ctx, d, dispute.EventDeadlineImminent,
			fmt.Sprintf("less than %s remaining before deadline, gathering abandoned", o.cfg.ImminenceWindow()),
			map[string]any{"component": "gatherer", "deadline_at": d.DeadlineAt}, nil)
	}

	prior, err := o.evidence.Attempts(ctx, d.ID)
	if err != nil {
		return dispute.Dispute{}, err
	}
	if prior >= o.cfg.MaxGatherAttempts {
		// Every prior attempt came back through recoverable_judge_fail.
		// Stop the gather/validate cycle and hand the case to a human.
		return o.apply(ctx, d, dispute.EventGatherExhausted,
			fmt.Sprintf("no evidence package passed validation after %d gather attempts", prior),
			map[string]any{"component": "gatherer", "attempts": prior}, nil)
	}

	pkg, err := o.gatherer.Gather(ctx, d, prior+1)
	if err != nil {
		// Gather-level failure is a system error, not a workflow event:
		// state is left untouched and the phase is re-entered on resume.
		return dispute.Dispute{}, fmt.Errorf("workflow: gather dispute %s: %w", d.ID, err)
	}

	detail := map[string]any{
		"attempt":      pkg.Attempt,
		"completeness": pkg.Completeness,
		"incomplete":   pkg.Incomplete,
		"fragments":    len(pkg.Fragments),
		"failures":     pkg.Failures,
	}
	eligible := pkg.EnhancedEligible
	return o.apply(ctx, d, dispute.EventPackageComplete, "", detail, &fieldUpdates{enhancedEligible: &eligible})
}

func (o *Orchestrator) enterValidate(ctx context.Context, d dispute.Dispute) (dispute.Dispute, error) {
	pkg, err := o.evidence.Latest(ctx, d.ID)
	if err != nil {
		return dispute.Dispute{}, err
	}

	result, err := o.panel.Evaluate(ctx, pkg, d)
	if err != nil {
		return dispute.Dispute{}, fmt.Errorf("workflow: panel dispute %s: %w", d.ID, err)
	}

	if result.Passed {
		return o.apply(ctx, d, dispute.EventAllJudgesPass, "", map[string]any{
			"attempt":  result.Attempt,
			"warnings": result.Warnings,
		}, nil)
	}

	detail := map[string]any{
		"attempt":           result.Attempt,
		"blocking_failures": result.BlockingFailures,
		"warnings":          result.Warnings,
		"gaps":              result.Gaps(),
	}
	if result.Fabrication {
		return o.apply(ctx, d, dispute.EventFabricationFail,
			failureSummary("judge panel", result.BlockingFailures, "evidence fabrication suspected"),
			detail, nil)
	}
	return o.apply(ctx, d, dispute.EventRecoverableJudgeFail,
		failureSummary("judge panel", result.BlockingFailures, "insufficient evidence, re-gathering"),
		detail, nil)
}

func (o *Orchestrator) enterSubmit(ctx context.Context, d dispute.Dispute) (dispute.Dispute, error) {
	pkg, err := o.evidence.Latest(ctx, d.ID)
	if err != nil {
		return dispute.Dispute{}, err
	}

	rec, err := o.submitter.Submit(ctx, pkg, d)
	if err == nil {
		return o.apply(ctx, d, dispute.EventAcknowledged, "", map[string]any{
			"attempts":     rec.Attempts,
			"payload_hash": rec.PayloadHash,
		}, &fieldUpdates{externalCaseRef: rec.CaseRef})
	}

	detail := map[string]any{
		"component":    "network adapter",
		"attempts":     rec.Attempts,
		"payload_hash": rec.PayloadHash,
		"error":        err.Error(),
	}
	switch {
	case errors.Is(err, network.ErrRetriesExhausted):
		detail["error_class"] = "transient"
		return o.apply(ctx, d, dispute.EventRetriesExhausted,
			fmt.Sprintf("network submission failed after %d attempts", rec.Attempts), detail, nil)
	case errors.Is(err, network.ErrRejected), errors.Is(err, network.ErrMissingField):
		detail["error_class"] = "validation"
		return o.apply(ctx, d, dispute.EventRetriesExhausted,
			"network rejected the submission, not retryable", detail, nil)
	default:
		return dispute.Dispute{}, fmt.Errorf("workflow: submit dispute %s: %w", d.ID, err)
	}
}

// PollOnce checks the network's view of one monitored dispute and applies
// the resulting transition, if any.
func (o *Orchestrator) PollOnce(ctx context.Context, d dispute.Dispute) (dispute.Dispute, error) {
	if d.Phase != dispute.PhaseMonitor {
		return d, nil
	}

	res, err := o.submitter.Poll(ctx, d)
	if err != nil {
		// Polling is best effort; the next sweep retries.
		return d, fmt.Errorf("workflow: poll dispute %s: %w", d.ID, err)
	}

	switch res.Status {
	case network.ResolutionWon:
		return o.apply(ctx, d, dispute.EventResolutionWon, "", map[string]any{"detail": res.Detail}, nil)
	case network.ResolutionLost:
		return o.apply(ctx, d, dispute.EventResolutionLost, "", map[string]any{"detail": res.Detail}, nil)
	}

	if o.now().Sub(d.UpdatedAt) > o.cfg.MonitorSLA() {
		return o.apply(ctx, d, dispute.EventSLABreach,
			fmt.Sprintf("no resolution from network within %s", o.cfg.MonitorSLA()),
			map[string]any{"component": "network adapter", "monitor_since": d.UpdatedAt}, nil)
	}
	return d, nil
}

// StateView is the read-only projection exposed to callers.
type StateView struct {
	Dispute dispute.Dispute
	Trail   []dispute.EventRecord
}

// State returns the current dispute state and its full audit trail.
func (o *Orchestrator) State(ctx context.Context, id string) (StateView, error) {
	d, err := o.store.Get(ctx, id)
	if err != nil {
		return StateView{}, err
	}
	trail, err := o.store.Events(ctx, id)
	if err != nil {
		return StateView{}, err
	}
	return StateView{Dispute: d, Trail: trail}, nil
}

// Cancel abandons an open dispute and routes it to escalated for human
// review. The audit trail records who cancelled and why. Terminal disputes
// cannot be cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, id, cancelledBy, reason string) (dispute.Dispute, error) {
	d, err := o.store.Get(ctx, id)
	if err != nil {
		return dispute.Dispute{}, err
	}
	if d.Terminal() {
		return dispute.Dispute{}, fmt.Errorf("%w: cancel requires an open dispute, %s is %s",
			ErrWrongPhase, d.ID, d.Phase)
	}
	if reason == "" {
		reason = "cancelled before resolution"
	}
	return o.apply(ctx, d, dispute.EventCancelled, reason, map[string]any{
		"cancelled_by": cancelledBy,
	}, nil)
}

// ManualEvidenceParams describes an operator-supplied fragment.
type ManualEvidenceParams struct {
	Kind        evidence.Kind
	Source      string
	Payload     []byte
	CollectedAt time.Time
}

// InjectManualEvidence stages an operator-supplied fragment for the next
// gather attempt. It is only legal while the dispute is gathering.
func (o *Orchestrator) InjectManualEvidence(ctx context.Context, id string, params ManualEvidenceParams) (evidence.Fragment, error) {
	d, err := o.store.Get(ctx, id)
	if err != nil {
		return evidence.Fragment{}, err
	}
	if d.Phase != dispute.PhaseGather {
		return evidence.Fragment{}, fmt.Errorf("%w: manual evidence requires %s, dispute is in %s",
			ErrWrongPhase, dispute.PhaseGather, d.Phase)
	}

	collected := params.CollectedAt
	if collected.IsZero() {
		collected = o.now()
	}
	frag, err := evidence.NewFragment(d.ID, params.Kind, params.Source, params.Payload, collected)
	if err != nil {
		return evidence.Fragment{}, err
	}
	frag.Manual = true

	if err := o.evidence.StageManual(ctx, frag); err != nil {
		return evidence.Fragment{}, err
	}
	return frag, nil
}

// fieldUpdates carries the optional dispute fields written with a transition.
type fieldUpdates struct {
	classification   *string
	enhancedEligible *bool
	externalCaseRef  *string
}

func (o *Orchestrator) apply(ctx context.Context, d dispute.Dispute, event dispute.Event, reason string, detail map[string]any, updates *fieldUpdates) (dispute.Dispute, error) {
	params := dispute.TransitionParams{
		DisputeID:   d.ID,
		FromVersion: d.Version,
		Event:       event,
		Reason:      reason,
		Detail:      detail,
	}
	if updates != nil {
		params.Classification = updates.classification
		params.EnhancedEligible = updates.enhancedEligible
		params.ExternalCaseRef = updates.externalCaseRef
	}

	next, err := o.store.Transition(ctx, params)
	if err != nil {
		return dispute.Dispute{}, err
	}
	if reason != "" {
		log.Printf("dispute %s: %s -> %s (%s): %s", d.ID, d.Phase, next.Phase, event, reason)
	} else {
		log.Printf("dispute %s: %s -> %s (%s)", d.ID, d.Phase, next.Phase, event)
	}
	return next, nil
}

func failureSummary(component string, failures []judge.Verdict, suffix string) string {
	names := make([]string, 0, len(failures))
	for _, v := range failures {
		if v.TimedOut {
			names = append(names, v.Judge+" (timeout)")
			continue
		}
		names = append(names, fmt.Sprintf("%s (score %.2f)", v.Judge, v.Score))
	}
	return fmt.Sprintf("%s blocking failures [%s]: %s", component, strings.Join(names, ", "), suffix)
}
