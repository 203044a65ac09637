package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"disputeflow/dispute"
)

// ErrUnknownReasonCode signals a reason code outside the supported table.
var ErrUnknownReasonCode = errors.New("workflow: unknown reason code")

// reasonCodes maps the card networks' dispute reason codes onto the engine's
// classification codes. Visa numeric codes and the legacy Mastercard 48xx
// series are both accepted.
var reasonCodes = map[string]string{
	"10.4": "fraud",
	"10.5": "fraud",
	"4837": "fraud",
	"4863": "fraud",

	"13.1": "product_not_received",
	"4855": "product_not_received",

	"13.3": "product_unacceptable",
	"4853": "product_unacceptable",

	"12.6": "duplicate",
	"4834": "duplicate",

	"13.6": "credit_not_processed",
	"4860": "credit_not_processed",
}

// ReasonCodeClassifier resolves the classification from the filed reason
// code. It is deterministic and has no external dependencies.
type ReasonCodeClassifier struct{}

func NewReasonCodeClassifier() *ReasonCodeClassifier {
	return &ReasonCodeClassifier{}
}

func (c *ReasonCodeClassifier) Classify(ctx context.Context, d dispute.Dispute) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	code := strings.TrimSpace(d.ReasonCode)
	if classification, ok := reasonCodes[code]; ok {
		return classification, nil
	}
	// Named classifications may arrive directly from internal tooling.
	switch code {
	case "fraud", "product_not_received", "product_unacceptable", "duplicate", "credit_not_processed":
		return code, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownReasonCode, d.ReasonCode)
}
