package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what an evidence fragment proves. The set is closed.
type Kind string

const (
	KindPriorTransaction    Kind = "prior_transaction"
	KindTrackingProof       Kind = "tracking_proof"
	KindCustomerMatchSignal Kind = "customer_match_signal"
	KindTransactionReceipt  Kind = "transaction_receipt"
	KindCommunicationLog    Kind = "communication_log"
)

// Signal names one of the identity-match dimensions considered for the
// enhanced-evidence program.
type Signal string

const (
	SignalDevice  Signal = "device"
	SignalIP      Signal = "ip"
	SignalEmail   Signal = "email"
	SignalAddress Signal = "address"
)

var (
	ErrFutureCollection = errors.New("evidence: collection timestamp in the future")
	ErrHashMismatch     = errors.New("evidence: payload hash mismatch")
)

// Fragment is one typed evidence item. It is immutable after creation; the
// payload hash is fixed at construction and checked on every Verify.
type Fragment struct {
	ID          string
	DisputeID   string
	Kind        Kind
	Source      string
	Payload     []byte
	PayloadHash string
	CollectedAt time.Time
	Manual      bool
}

// NewFragment constructs a fragment and seals its payload hash. Collection
// may post-date the dispute filing but never the current clock.
func NewFragment(disputeID string, kind Kind, source string, payload []byte, collectedAt time.Time) (Fragment, error) {
	if collectedAt.After(time.Now().Add(time.Minute)) {
		return Fragment{}, ErrFutureCollection
	}
	if len(payload) == 0 {
		return Fragment{}, fmt.Errorf("evidence: empty payload from %s", source)
	}
	return Fragment{
		ID:          uuid.NewString(),
		DisputeID:   disputeID,
		Kind:        kind,
		Source:      source,
		Payload:     payload,
		PayloadHash: HashPayload(payload),
		CollectedAt: collectedAt,
	}, nil
}

// Verify recomputes the payload hash and reports tampering.
func (f Fragment) Verify() error {
	if HashPayload(f.Payload) != f.PayloadHash {
		return fmt.Errorf("%w: fragment %s from %s", ErrHashMismatch, f.ID, f.Source)
	}
	return nil
}

// HashPayload returns the hex SHA-256 digest of a payload.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// SourceFailure records one specialist that contributed nothing.
type SourceFailure struct {
	Specialist string `json:"specialist"`
	Kind       Kind   `json:"kind"`
	Error      string `json:"error"`
}

// Package aggregates the fragments gathered for one attempt, with the derived
// completeness score and enhanced-evidence verdict. It is immutable once the
// validate phase begins; a re-gather produces a new package.
type Package struct {
	ID               string
	DisputeID        string
	Attempt          int
	Planned          int
	Fragments        []Fragment
	Failures         []SourceFailure
	Completeness     float64
	Incomplete       bool
	EnhancedEligible bool
	CreatedAt        time.Time
}

// FragmentsOfKind filters the package's fragments by kind.
func (p Package) FragmentsOfKind(kind Kind) []Fragment {
	var out []Fragment
	for _, f := range p.Fragments {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// TransactionRecord is the payload shape produced by prior-transaction and
// customer-signal specialists. Match flags are computed by the source against
// the disputed transaction's identity signals.
type TransactionRecord struct {
	Ref          string    `json:"ref"`
	AmountCents  int64     `json:"amount_cents"`
	Currency     string    `json:"currency"`
	OccurredAt   time.Time `json:"occurred_at"`
	Disputed     bool      `json:"disputed"`
	DeviceMatch  bool      `json:"device_match"`
	IPMatch      bool      `json:"ip_match"`
	EmailMatch   bool      `json:"email_match"`
	AddressMatch bool      `json:"address_match"`
}
