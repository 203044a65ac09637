package evidence

import "disputeflow/dispute"

// Specialist names used by the planner. Each maps to a registered specialist
// in the gatherer.
const (
	SpecialistHistory  = "transaction_history"
	SpecialistCarrier  = "carrier_tracking"
	SpecialistPlatform = "payment_platform"
	SpecialistComms    = "customer_comms"
)

// PlanItem instructs one specialist invocation.
type PlanItem struct {
	Specialist string
	Kind       Kind
	Params     map[string]string
}

// Plan decides which specialists must run for a dispute. It is a pure
// function of the classification code: identical input yields an identical
// plan, in a fixed order.
func Plan(d dispute.Dispute) []PlanItem {
	ref := map[string]string{"transaction_ref": d.TransactionRef}

	switch d.Classification {
	case "fraud":
		return []PlanItem{
			{Specialist: SpecialistHistory, Kind: KindPriorTransaction, Params: ref},
			{Specialist: SpecialistPlatform, Kind: KindCustomerMatchSignal, Params: ref},
			{Specialist: SpecialistPlatform, Kind: KindTransactionReceipt, Params: ref},
		}
	case "product_not_received":
		return []PlanItem{
			{Specialist: SpecialistCarrier, Kind: KindTrackingProof, Params: ref},
			{Specialist: SpecialistPlatform, Kind: KindTransactionReceipt, Params: ref},
			{Specialist: SpecialistComms, Kind: KindCommunicationLog, Params: ref},
		}
	case "product_unacceptable":
		return []PlanItem{
			{Specialist: SpecialistComms, Kind: KindCommunicationLog, Params: ref},
			{Specialist: SpecialistPlatform, Kind: KindTransactionReceipt, Params: ref},
		}
	case "duplicate", "credit_not_processed":
		return []PlanItem{
			{Specialist: SpecialistPlatform, Kind: KindTransactionReceipt, Params: ref},
			{Specialist: SpecialistHistory, Kind: KindPriorTransaction, Params: ref},
		}
	default:
		// Unrecognised codes get the widest net: history, receipt and
		// customer signals.
		return []PlanItem{
			{Specialist: SpecialistHistory, Kind: KindPriorTransaction, Params: ref},
			{Specialist: SpecialistPlatform, Kind: KindTransactionReceipt, Params: ref},
			{Specialist: SpecialistPlatform, Kind: KindCustomerMatchSignal, Params: ref},
		}
	}
}
