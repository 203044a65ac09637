package evidence

import (
	"testing"

	"disputeflow/dispute"
)

func TestPlan_Deterministic(t *testing.T) {
	d := dispute.Dispute{ID: "d-1", Classification: "fraud", TransactionRef: "txn-1"}

	first := Plan(d)
	second := Plan(d)
	if len(first) != len(second) {
		t.Fatalf("plan length changed between calls: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Specialist != second[i].Specialist || first[i].Kind != second[i].Kind {
			t.Fatalf("plan item %d differs between calls: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestPlan_PerClassification(t *testing.T) {
	type step struct {
		specialist string
		kind       Kind
	}
	cases := []struct {
		classification string
		want           []step
	}{
		{"fraud", []step{
			{SpecialistHistory, KindPriorTransaction},
			{SpecialistPlatform, KindCustomerMatchSignal},
			{SpecialistPlatform, KindTransactionReceipt},
		}},
		{"product_not_received", []step{
			{SpecialistCarrier, KindTrackingProof},
			{SpecialistPlatform, KindTransactionReceipt},
			{SpecialistComms, KindCommunicationLog},
		}},
		{"product_unacceptable", []step{
			{SpecialistComms, KindCommunicationLog},
			{SpecialistPlatform, KindTransactionReceipt},
		}},
		{"duplicate", []step{
			{SpecialistPlatform, KindTransactionReceipt},
			{SpecialistHistory, KindPriorTransaction},
		}},
		{"credit_not_processed", []step{
			{SpecialistPlatform, KindTransactionReceipt},
			{SpecialistHistory, KindPriorTransaction},
		}},
		{"something_else", []step{
			{SpecialistHistory, KindPriorTransaction},
			{SpecialistPlatform, KindTransactionReceipt},
			{SpecialistPlatform, KindCustomerMatchSignal},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.classification, func(t *testing.T) {
			got := Plan(dispute.Dispute{Classification: tc.classification, TransactionRef: "txn-9"})
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d items, got %d: %+v", len(tc.want), len(got), got)
			}
			for i, w := range tc.want {
				if got[i].Specialist != w.specialist || got[i].Kind != w.kind {
					t.Errorf("item %d: expected %s/%s, got %s/%s",
						i, w.specialist, w.kind, got[i].Specialist, got[i].Kind)
				}
				if got[i].Params["transaction_ref"] != "txn-9" {
					t.Errorf("item %d: missing transaction_ref param", i)
				}
			}
		})
	}
}
