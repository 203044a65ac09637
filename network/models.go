package network

import "time"

// SubmissionStatus tracks one submission record's lifecycle.
type SubmissionStatus string

const (
	StatusPending      SubmissionStatus = "pending"
	StatusSubmitted    SubmissionStatus = "submitted"
	StatusAcknowledged SubmissionStatus = "acknowledged"
	StatusFailed       SubmissionStatus = "failed"
	StatusExpired      SubmissionStatus = "expired"
)

// ResolutionStatus is the network's current view of a case.
type ResolutionStatus string

const (
	ResolutionPending ResolutionStatus = "pending"
	ResolutionWon     ResolutionStatus = "won"
	ResolutionLost    ResolutionStatus = "lost"
)

// Resolution is one poll observation. Polling is side-effect free.
type Resolution struct {
	Status ResolutionStatus `json:"status"`
	Detail string           `json:"detail,omitempty"`
}

// EvidenceItem is one fragment in the network's field layout.
type EvidenceItem struct {
	Kind        string    `json:"kind"`
	Source      string    `json:"source"`
	Hash        string    `json:"hash"`
	CollectedAt time.Time `json:"collected_at"`
	Content     string    `json:"content"`
}

// Payload is the external network's submission shape. Translate fills every
// required field or fails; nothing is dropped silently.
type Payload struct {
	DisputeID      string         `json:"dispute_id"`
	CaseType       string         `json:"case_type"`
	TransactionRef string         `json:"transaction_ref"`
	AmountCents    int64          `json:"amount_cents"`
	Currency       string         `json:"currency"`
	FiledAt        time.Time      `json:"filed_at"`
	DeadlineAt     time.Time      `json:"deadline_at"`
	Enhanced       bool           `json:"enhanced_evidence"`
	Evidence       []EvidenceItem `json:"evidence"`
}

// SubmissionRecord mirrors the submissions table. The payload hash is
// computed once before the first attempt; retries reuse it so a retried
// submission is byte-identical to the original. Superseded records are kept
// for audit.
type SubmissionRecord struct {
	ID          string
	DisputeID   string
	Payload     []byte
	PayloadHash string
	Attempts    int
	Status      SubmissionStatus
	LastError   *string
	CaseRef     *string
	Resolution  *string
	Superseded  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
