package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"disputeflow/config"
	"disputeflow/dispute"
	"disputeflow/evidence"
	"disputeflow/judge"
	"disputeflow/network"
)

func testConfig() config.Config {
	return config.Config{
		DeadlineDays:         14,
		ImminenceHours:       24,
		LookbackDays:         120,
		MinPriorTxns:         2,
		MinMatchingSignals:   2,
		CompletenessFloor:    0.7,
		MaxGatherAttempts:    3,
		FabricationThreshold: 0.95,
		SubmitMaxAttempts:    3,
		MonitorSLADays:       30,
		Judges:               config.DefaultJudges(),
	}
}

type fakeStore struct {
	disputes      map[string]dispute.Dispute
	events        []dispute.EventRecord
	nextID        int
	transitionErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{disputes: map[string]dispute.Dispute{}, nextID: 1}
}

func (f *fakeStore) Create(_ context.Context, params dispute.CreateParams) (dispute.Dispute, error) {
	d := dispute.Dispute{
		ID:             fmt.Sprintf("d-%d", f.nextID),
		Phase:          dispute.PhaseClassify,
		ReasonCode:     params.ReasonCode,
		TransactionRef: params.TransactionRef,
		AmountCents:    params.AmountCents,
		Currency:       params.Currency,
		FiledAt:        params.FiledAt,
		DeadlineAt:     params.DeadlineAt,
		Version:        1,
		UpdatedAt:      params.FiledAt,
	}
	f.nextID++
	f.disputes[d.ID] = d
	return d, nil
}

func (f *fakeStore) Get(_ context.Context, id string) (dispute.Dispute, error) {
	d, ok := f.disputes[id]
	if !ok {
		return dispute.Dispute{}, dispute.ErrNotFound
	}
	return d, nil
}

func (f *fakeStore) Transition(_ context.Context, params dispute.TransitionParams) (dispute.Dispute, error) {
	if f.transitionErr != nil {
		return dispute.Dispute{}, f.transitionErr
	}
	d, ok := f.disputes[params.DisputeID]
	if !ok {
		return dispute.Dispute{}, dispute.ErrNotFound
	}
	if d.Version != params.FromVersion {
		return dispute.Dispute{}, dispute.ErrVersionConflict
	}
	next, err := dispute.Next(d.Phase, params.Event)
	if err != nil {
		return dispute.Dispute{}, err
	}

	from := d.Phase
	d.Phase = next
	d.Version++
	if params.Classification != nil {
		d.Classification = *params.Classification
	}
	if params.EnhancedEligible != nil {
		d.EnhancedEligible = *params.EnhancedEligible
	}
	if params.ExternalCaseRef != nil {
		d.ExternalCaseRef = params.ExternalCaseRef
	}
	f.disputes[d.ID] = d

	f.events = append(f.events, dispute.EventRecord{
		DisputeID: d.ID,
		Seq:       d.Version,
		Event:     params.Event,
		FromPhase: from,
		ToPhase:   next,
		Reason:    params.Reason,
	})
	return d, nil
}

func (f *fakeStore) Events(_ context.Context, id string) ([]dispute.EventRecord, error) {
	var out []dispute.EventRecord
	for _, e := range f.events {
		if e.DisputeID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) ListByPhase(_ context.Context, phase dispute.Phase) ([]dispute.Dispute, error) {
	var out []dispute.Dispute
	for _, d := range f.disputes {
		if d.Phase == phase {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeStore) ListOpen(_ context.Context) ([]dispute.Dispute, error) {
	var out []dispute.Dispute
	for _, d := range f.disputes {
		if !d.Terminal() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeStore) eventNames(id string) []dispute.Event {
	var out []dispute.Event
	for _, e := range f.events {
		if e.DisputeID == id {
			out = append(out, e.Event)
		}
	}
	return out
}

type fakeEvidenceStore struct {
	attempts int
	latest   evidence.Package
	staged   []evidence.Fragment
}

func (f *fakeEvidenceStore) Attempts(_ context.Context, _ string) (int, error) {
	return f.attempts, nil
}

func (f *fakeEvidenceStore) Latest(_ context.Context, _ string) (evidence.Package, error) {
	if f.latest.ID == "" {
		return evidence.Package{}, evidence.ErrNoPackage
	}
	return f.latest, nil
}

func (f *fakeEvidenceStore) StageManual(_ context.Context, frag evidence.Fragment) error {
	f.staged = append(f.staged, frag)
	return nil
}

type fakeGatherer struct {
	store *fakeEvidenceStore
	calls int
	err   error
}

func (f *fakeGatherer) Gather(_ context.Context, d dispute.Dispute, attempt int) (evidence.Package, error) {
	f.calls++
	if f.err != nil {
		return evidence.Package{}, f.err
	}
	pkg := evidence.Package{
		ID:           fmt.Sprintf("pkg-%d", attempt),
		DisputeID:    d.ID,
		Attempt:      attempt,
		Planned:      3,
		Completeness: 1.0,
		Fragments:    []evidence.Fragment{{ID: "f1", Kind: evidence.KindTransactionReceipt, PayloadHash: "h"}},
	}
	f.store.attempts = attempt
	f.store.latest = pkg
	return pkg, nil
}

type fakePanel struct {
	results []judge.PanelResult
	calls   int
}

func (f *fakePanel) Evaluate(_ context.Context, pkg evidence.Package, d dispute.Dispute) (judge.PanelResult, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	r := f.results[idx]
	r.DisputeID = d.ID
	r.PackageID = pkg.ID
	return r, nil
}

type fakeSubmitter struct {
	rec         network.SubmissionRecord
	submitErr   error
	submitCalls int
	resolution  network.Resolution
	pollErr     error
}

func (f *fakeSubmitter) Submit(_ context.Context, _ evidence.Package, d dispute.Dispute) (network.SubmissionRecord, error) {
	f.submitCalls++
	rec := f.rec
	rec.DisputeID = d.ID
	return rec, f.submitErr
}

func (f *fakeSubmitter) Poll(_ context.Context, _ dispute.Dispute) (network.Resolution, error) {
	return f.resolution, f.pollErr
}

func passResult() judge.PanelResult {
	return judge.PanelResult{ID: "pr", Passed: true}
}

func newTestOrchestrator(store *fakeStore, es *fakeEvidenceStore, panel Panel, sub Submitter) *Orchestrator {
	o := NewOrchestrator(store, es, NewReasonCodeClassifier(), &fakeGatherer{store: es}, panel, sub, testConfig())
	return o
}

func TestIntake_HappyPathReachesMonitor(t *testing.T) {
	store := newFakeStore()
	es := &fakeEvidenceStore{}
	caseRef := "case-42"
	sub := &fakeSubmitter{rec: network.SubmissionRecord{
		Attempts: 1, Status: network.StatusAcknowledged, CaseRef: &caseRef, PayloadHash: "abc",
	}}
	o := newTestOrchestrator(store, es, &fakePanel{results: []judge.PanelResult{passResult()}}, sub)

	d, err := o.Intake(context.Background(), IntakeParams{
		ReasonCode:     "10.4",
		TransactionRef: "txn-1",
		AmountCents:    12_50,
		Currency:       "USD",
	})
	if err != nil {
		t.Fatalf("intake: %v", err)
	}

	if d.Phase != dispute.PhaseMonitor {
		t.Fatalf("expected phase %s, got %s", dispute.PhaseMonitor, d.Phase)
	}
	if d.Classification != "fraud" {
		t.Errorf("expected classification fraud, got %q", d.Classification)
	}
	if d.ExternalCaseRef == nil || *d.ExternalCaseRef != "case-42" {
		t.Errorf("expected external case ref case-42, got %v", d.ExternalCaseRef)
	}

	want := []dispute.Event{
		dispute.EventClassified,
		dispute.EventPackageComplete,
		dispute.EventAllJudgesPass,
		dispute.EventAcknowledged,
	}
	got := store.eventNames(d.ID)
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestIntake_UnknownReasonCodeEscalates(t *testing.T) {
	store := newFakeStore()
	es := &fakeEvidenceStore{}
	o := newTestOrchestrator(store, es, &fakePanel{results: []judge.PanelResult{passResult()}}, &fakeSubmitter{})

	d, err := o.Intake(context.Background(), IntakeParams{
		ReasonCode:     "99.9",
		TransactionRef: "txn-1",
		AmountCents:    100,
		Currency:       "USD",
	})
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	if d.Phase != dispute.PhaseEscalated {
		t.Fatalf("expected escalated, got %s", d.Phase)
	}

	events, _ := store.Events(context.Background(), d.ID)
	if len(events) != 1 || events[0].Event != dispute.EventClassificationFailed {
		t.Fatalf("expected single classification_failed event, got %+v", events)
	}
	if events[0].Reason == "" {
		t.Error("escalation must carry a human-readable reason")
	}
}

func TestAdvance_RecoverableJudgeFailRegathers(t *testing.T) {
	store := newFakeStore()
	es := &fakeEvidenceStore{}
	gatherer := &fakeGatherer{store: es}
	panel := &fakePanel{results: []judge.PanelResult{
		{ID: "pr1", Passed: false, BlockingFailures: []judge.Verdict{
			{Judge: "completeness", Blocking: true, Score: 0.4, Gaps: []string{"carrier_tracking:tracking_proof"}},
		}},
		passResult(),
	}}
	caseRef := "case-7"
	sub := &fakeSubmitter{rec: network.SubmissionRecord{Status: network.StatusAcknowledged, CaseRef: &caseRef}}
	o := NewOrchestrator(store, es, NewReasonCodeClassifier(), gatherer, panel, sub, testConfig())

	d, err := o.Intake(context.Background(), IntakeParams{
		ReasonCode: "13.1", TransactionRef: "txn-2", AmountCents: 5000, Currency: "EUR",
	})
	if err != nil {
		t.Fatalf("intake: %v", err)
	}

	if d.Phase != dispute.PhaseMonitor {
		t.Fatalf("expected monitor, got %s", d.Phase)
	}
	if gatherer.calls != 2 {
		t.Errorf("expected a full re-gather after recoverable failure, got %d gather calls", gatherer.calls)
	}
	if es.latest.Attempt != 2 {
		t.Errorf("expected validate to see attempt 2, got %d", es.latest.Attempt)
	}

	got := store.eventNames(d.ID)
	found := false
	for _, e := range got {
		if e == dispute.EventRecoverableJudgeFail {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected recoverable_judge_fail in %v", got)
	}
}

func TestAdvance_PersistentJudgeFailureEscalatesAtAttemptCap(t *testing.T) {
	store := newFakeStore()
	es := &fakeEvidenceStore{}
	gatherer := &fakeGatherer{store: es}
	// Every evaluation fails the same way, as a deterministic panel would
	// when re-gathering cannot fill the gap.
	panel := &fakePanel{results: []judge.PanelResult{
		{ID: "pr", Passed: false, BlockingFailures: []judge.Verdict{
			{Judge: "completeness", Blocking: true, Score: 0.4, Gaps: []string{"carrier_tracking:tracking_proof"}},
		}},
	}}
	sub := &fakeSubmitter{}
	o := NewOrchestrator(store, es, NewReasonCodeClassifier(), gatherer, panel, sub, testConfig())

	d, err := o.Intake(context.Background(), IntakeParams{
		ReasonCode: "13.1", TransactionRef: "txn-loop", AmountCents: 5000, Currency: "EUR",
	})
	if err != nil {
		t.Fatalf("intake: %v", err)
	}

	if d.Phase != dispute.PhaseEscalated {
		t.Fatalf("expected escalated at the gather attempt cap, got %s", d.Phase)
	}
	if gatherer.calls != 3 {
		t.Errorf("expected exactly 3 gather attempts, got %d", gatherer.calls)
	}
	if panel.calls != 3 {
		t.Errorf("expected exactly 3 panel evaluations, got %d", panel.calls)
	}
	if sub.submitCalls != 0 {
		t.Errorf("a dispute that never passed validation must not be submitted, got %d submit calls", sub.submitCalls)
	}

	got := store.eventNames(d.ID)
	if got[len(got)-1] != dispute.EventGatherExhausted {
		t.Fatalf("expected gather_attempts_exhausted, got %v", got)
	}
	events, _ := store.Events(context.Background(), d.ID)
	last := events[len(events)-1]
	if !strings.Contains(last.Reason, "3 gather attempts") {
		t.Errorf("escalation reason should record the attempt count, got %q", last.Reason)
	}
}

func TestCancel_OpenDisputeEscalates(t *testing.T) {
	store := newFakeStore()
	es := &fakeEvidenceStore{}
	o := newTestOrchestrator(store, es, &fakePanel{results: []judge.PanelResult{passResult()}}, &fakeSubmitter{})

	d, _ := store.Create(context.Background(), dispute.CreateParams{
		ReasonCode: "10.4", TransactionRef: "txn-c1", AmountCents: 100, Currency: "USD",
		FiledAt: time.Now(), DeadlineAt: time.Now().Add(14 * 24 * time.Hour),
	})

	got, err := o.Cancel(context.Background(), d.ID, "u-9", "merchant withdrew the dispute")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Phase != dispute.PhaseEscalated {
		t.Fatalf("expected escalated after cancel, got %s", got.Phase)
	}

	events, _ := store.Events(context.Background(), d.ID)
	if len(events) != 1 || events[0].Event != dispute.EventCancelled {
		t.Fatalf("expected single cancelled event, got %+v", events)
	}
	if events[0].Reason != "merchant withdrew the dispute" {
		t.Errorf("cancellation reason must survive into the trail, got %q", events[0].Reason)
	}
}

func TestCancel_TerminalRejected(t *testing.T) {
	store := newFakeStore()
	es := &fakeEvidenceStore{}
	o := newTestOrchestrator(store, es, &fakePanel{results: []judge.PanelResult{passResult()}}, &fakeSubmitter{})

	d, _ := store.Create(context.Background(), dispute.CreateParams{
		ReasonCode: "10.4", TransactionRef: "txn-c2", AmountCents: 100, Currency: "USD",
		FiledAt: time.Now(), DeadlineAt: time.Now().Add(14 * 24 * time.Hour),
	})
	store.Transition(context.Background(), dispute.TransitionParams{
		DisputeID: d.ID, FromVersion: 1, Event: dispute.EventDeadlinePassed,
	})

	if _, err := o.Cancel(context.Background(), d.ID, "u-9", ""); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("expected ErrWrongPhase cancelling a terminal dispute, got %v", err)
	}
	current, _ := store.Get(context.Background(), d.ID)
	if current.Phase != dispute.PhaseExpired {
		t.Fatalf("rejected cancel must not mutate state, got %s", current.Phase)
	}
}

func TestAdvance_FabricationEscalates(t *testing.T) {
	store := newFakeStore()
	es := &fakeEvidenceStore{}
	panel := &fakePanel{results: []judge.PanelResult{
		{ID: "pr1", Passed: false, Fabrication: true, BlockingFailures: []judge.Verdict{
			{Judge: "integrity", Dimension: "fabrication", Blocking: true, Score: 0.0},
		}},
	}}
	o := newTestOrchestrator(store, es, panel, &fakeSubmitter{})

	d, err := o.Intake(context.Background(), IntakeParams{
		ReasonCode: "10.4", TransactionRef: "txn-3", AmountCents: 900, Currency: "USD",
	})
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	if d.Phase != dispute.PhaseEscalated {
		t.Fatalf("expected escalated, got %s", d.Phase)
	}

	events, _ := store.Events(context.Background(), d.ID)
	last := events[len(events)-1]
	if last.Event != dispute.EventFabricationFail {
		t.Fatalf("expected blocking_fabrication_fail, got %s", last.Event)
	}
	if !strings.Contains(last.Reason, "integrity") {
		t.Errorf("escalation reason should name the failing judge, got %q", last.Reason)
	}
}

func TestAdvance_DeadlineImminentEscalates(t *testing.T) {
	store := newFakeStore()
	es := &fakeEvidenceStore{}
	o := newTestOrchestrator(store, es, &fakePanel{results: []judge.PanelResult{passResult()}}, &fakeSubmitter{})

	filed := time.Now().Add(-13*24*time.Hour - 23*time.Hour)
	d, err := o.Intake(context.Background(), IntakeParams{
		ReasonCode: "10.4", TransactionRef: "txn-4", AmountCents: 100, Currency: "USD",
		FiledAt: filed,
	})
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	if d.Phase != dispute.PhaseEscalated {
		t.Fatalf("expected escalated when <24h remain, got %s", d.Phase)
	}

	got := store.eventNames(d.ID)
	if got[len(got)-1] != dispute.EventDeadlineImminent {
		t.Fatalf("expected deadline_imminent, got %v", got)
	}
}

func TestAdvance_DeadlinePassedExpires(t *testing.T) {
	store := newFakeStore()
	es := &fakeEvidenceStore{}
	o := newTestOrchestrator(store, es, &fakePanel{results: []judge.PanelResult{passResult()}}, &fakeSubmitter{})

	filed := time.Now().Add(-15 * 24 * time.Hour)
	d, err := o.Intake(context.Background(), IntakeParams{
		ReasonCode: "10.4", TransactionRef: "txn-5", AmountCents: 100, Currency: "USD",
		FiledAt: filed,
	})
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	if d.Phase != dispute.PhaseExpired {
		t.Fatalf("expected expired, got %s", d.Phase)
	}
}

func TestAdvance_RetriesExhaustedEscalates(t *testing.T) {
	store := newFakeStore()
	es := &fakeEvidenceStore{}
	sub := &fakeSubmitter{
		rec:       network.SubmissionRecord{Attempts: 3, Status: network.StatusFailed},
		submitErr: fmt.Errorf("%w after 3 attempts: network returned 503", network.ErrRetriesExhausted),
	}
	o := newTestOrchestrator(store, es, &fakePanel{results: []judge.PanelResult{passResult()}}, sub)

	d, err := o.Intake(context.Background(), IntakeParams{
		ReasonCode: "10.4", TransactionRef: "txn-6", AmountCents: 100, Currency: "USD",
	})
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	if d.Phase != dispute.PhaseEscalated {
		t.Fatalf("expected escalated, got %s", d.Phase)
	}

	got := store.eventNames(d.ID)
	if got[len(got)-1] != dispute.EventRetriesExhausted {
		t.Fatalf("expected retries_exhausted, got %v", got)
	}
}

func TestAdvance_ValidationRejectionEscalatesWithoutRetry(t *testing.T) {
	store := newFakeStore()
	es := &fakeEvidenceStore{}
	sub := &fakeSubmitter{
		rec:       network.SubmissionRecord{Attempts: 1, Status: network.StatusFailed},
		submitErr: fmt.Errorf("%w: network returned 422", network.ErrRejected),
	}
	o := newTestOrchestrator(store, es, &fakePanel{results: []judge.PanelResult{passResult()}}, sub)

	d, err := o.Intake(context.Background(), IntakeParams{
		ReasonCode: "10.4", TransactionRef: "txn-7", AmountCents: 100, Currency: "USD",
	})
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	if d.Phase != dispute.PhaseEscalated {
		t.Fatalf("expected escalated, got %s", d.Phase)
	}
	if sub.submitCalls != 1 {
		t.Errorf("validation rejection must not be retried, got %d submit calls", sub.submitCalls)
	}
}

func TestAdvance_VersionConflictFailsWithoutOverwrite(t *testing.T) {
	store := newFakeStore()
	es := &fakeEvidenceStore{}
	o := newTestOrchestrator(store, es, &fakePanel{results: []judge.PanelResult{passResult()}}, &fakeSubmitter{})

	d, _ := store.Create(context.Background(), dispute.CreateParams{
		ReasonCode: "10.4", TransactionRef: "txn-8", AmountCents: 100, Currency: "USD",
		FiledAt: time.Now(), DeadlineAt: time.Now().Add(14 * 24 * time.Hour),
	})
	store.transitionErr = dispute.ErrVersionConflict

	if _, err := o.Advance(context.Background(), d.ID); !errors.Is(err, dispute.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	current, _ := store.Get(context.Background(), d.ID)
	if current.Phase != dispute.PhaseClassify || current.Version != 1 {
		t.Fatalf("conflicting write must not mutate state, got %+v", current)
	}
}

func TestResume_ReentersCurrentPhase(t *testing.T) {
	store := newFakeStore()
	es := &fakeEvidenceStore{}
	caseRef := "case-9"
	sub := &fakeSubmitter{rec: network.SubmissionRecord{Status: network.StatusAcknowledged, CaseRef: &caseRef}}
	panel := &fakePanel{results: []judge.PanelResult{passResult()}}
	o := newTestOrchestrator(store, es, panel, sub)

	// Simulate a crash after the validate transition was persisted: the
	// dispute sits in submit with its package already stored.
	d, _ := store.Create(context.Background(), dispute.CreateParams{
		ReasonCode: "10.4", TransactionRef: "txn-9", AmountCents: 100, Currency: "USD",
		FiledAt: time.Now(), DeadlineAt: time.Now().Add(14 * 24 * time.Hour),
	})
	cls := "fraud"
	store.Transition(context.Background(), dispute.TransitionParams{
		DisputeID: d.ID, FromVersion: 1, Event: dispute.EventClassified, Classification: &cls,
	})
	es.latest = evidence.Package{ID: "pkg-1", DisputeID: d.ID, Attempt: 1,
		Fragments: []evidence.Fragment{{ID: "f1"}}}
	es.attempts = 1
	store.Transition(context.Background(), dispute.TransitionParams{
		DisputeID: d.ID, FromVersion: 2, Event: dispute.EventPackageComplete,
	})
	store.Transition(context.Background(), dispute.TransitionParams{
		DisputeID: d.ID, FromVersion: 3, Event: dispute.EventAllJudgesPass,
	})

	got, err := o.Advance(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("advance after recovery: %v", err)
	}
	if got.Phase != dispute.PhaseMonitor {
		t.Fatalf("expected monitor after recovery, got %s", got.Phase)
	}
	if sub.submitCalls != 1 {
		t.Errorf("expected exactly one submission on recovery, got %d", sub.submitCalls)
	}
	if panel.calls != 0 {
		t.Errorf("recovery must not re-run completed phases, panel ran %d times", panel.calls)
	}
}

func TestPollOnce_ResolutionAndSLA(t *testing.T) {
	cases := []struct {
		name       string
		resolution network.Resolution
		monitorAge time.Duration
		wantPhase  dispute.Phase
	}{
		{"won", network.Resolution{Status: network.ResolutionWon}, time.Hour, dispute.PhaseResolvedWon},
		{"lost", network.Resolution{Status: network.ResolutionLost}, time.Hour, dispute.PhaseResolvedLost},
		{"pending within sla", network.Resolution{Status: network.ResolutionPending}, time.Hour, dispute.PhaseMonitor},
		{"pending beyond sla", network.Resolution{Status: network.ResolutionPending}, 31 * 24 * time.Hour, dispute.PhaseEscalated},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			es := &fakeEvidenceStore{}
			sub := &fakeSubmitter{resolution: tc.resolution}
			o := newTestOrchestrator(store, es, &fakePanel{results: []judge.PanelResult{passResult()}}, sub)

			caseRef := "case-m"
			d := dispute.Dispute{
				ID: "d-m", Phase: dispute.PhaseMonitor, ExternalCaseRef: &caseRef,
				DeadlineAt: time.Now().Add(24 * time.Hour),
				UpdatedAt:  time.Now().Add(-tc.monitorAge),
				Version:    5,
			}
			store.disputes[d.ID] = d

			got, err := o.PollOnce(context.Background(), d)
			if err != nil {
				t.Fatalf("poll: %v", err)
			}
			if got.Phase != tc.wantPhase {
				t.Fatalf("expected %s, got %s", tc.wantPhase, got.Phase)
			}
		})
	}
}

func TestInjectManualEvidence_PhaseGate(t *testing.T) {
	store := newFakeStore()
	es := &fakeEvidenceStore{}
	o := newTestOrchestrator(store, es, &fakePanel{results: []judge.PanelResult{passResult()}}, &fakeSubmitter{})

	d, _ := store.Create(context.Background(), dispute.CreateParams{
		ReasonCode: "10.4", TransactionRef: "txn-10", AmountCents: 100, Currency: "USD",
		FiledAt: time.Now(), DeadlineAt: time.Now().Add(14 * 24 * time.Hour),
	})

	_, err := o.InjectManualEvidence(context.Background(), d.ID, ManualEvidenceParams{
		Kind: evidence.KindCommunicationLog, Source: "operator", Payload: []byte(`{"note":"x"}`),
	})
	if !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("expected ErrWrongPhase outside gathering, got %v", err)
	}

	cls := "fraud"
	store.Transition(context.Background(), dispute.TransitionParams{
		DisputeID: d.ID, FromVersion: 1, Event: dispute.EventClassified, Classification: &cls,
	})

	frag, err := o.InjectManualEvidence(context.Background(), d.ID, ManualEvidenceParams{
		Kind: evidence.KindCommunicationLog, Source: "operator", Payload: []byte(`{"note":"x"}`),
	})
	if err != nil {
		t.Fatalf("inject during gather: %v", err)
	}
	if !frag.Manual {
		t.Error("expected fragment marked manual")
	}
	if len(es.staged) != 1 {
		t.Fatalf("expected one staged fragment, got %d", len(es.staged))
	}
}
