package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Intent statuses normalized across processors.
const (
	IntentStatusRequiresCapture = "requires_capture"
	IntentStatusProcessing      = "processing"
	IntentStatusSucceeded       = "succeeded"
	IntentStatusCanceled        = "canceled"
	IntentStatusRequiresAction  = "requires_action"
)

// IntentStatus describes the processor-side state of a payment intent.
type IntentStatus struct {
	ID             string
	Status         string
	Amount         int64
	AmountReceived int64
	Currency       string
}

// AuthorizedForCapture reports whether the intent holds funds a deposit
// authorization can rely on.
func (s IntentStatus) AuthorizedForCapture() bool {
	switch s.Status {
	case IntentStatusRequiresCapture, IntentStatusProcessing, IntentStatusSucceeded:
		return true
	}
	return false
}

// AuthorizeRequest asks the processor to place a hold for later capture.
type AuthorizeRequest struct {
	Amount           int64
	Currency         string
	PaymentMethodRef string
	Description      string
	IdempotencyKey   string
}

// CaptureResult reports a settled (or partially settled) capture.
type CaptureResult struct {
	IntentID       string
	Status         string
	AmountCaptured int64
}

// RefundResult reports a reversal of captured or held funds.
type RefundResult struct {
	IntentID string
	RefundID string
	Status   string
	Amount   int64
}

// Adapter is the card-processing capability the order ledger depends on.
// Every operation is safe to retry; implementations pass the caller-supplied
// idempotency key through to the processor. Calls must respect the bounded
// timeout configured on the implementation; a timeout surfaces as
// ErrGatewayTransient with no ledger side effects.
type Adapter interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (*IntentStatus, error)
	Capture(ctx context.Context, intentRef string, amount int64, idempotencyKey string) (*CaptureResult, error)
	Refund(ctx context.Context, intentRef string, amount int64, idempotencyKey string) (*RefundResult, error)
	RetrieveStatus(ctx context.Context, intentRef string) (*IntentStatus, error)
}

var (
	// ErrGatewayTransient covers network failures, processor 5xx responses
	// and timeouts. Callers may retry.
	ErrGatewayTransient = errors.New("gateway_transient_error")
	// ErrGatewayDeclined covers processor-reported terminal failures such as
	// a card decline. Never retried automatically.
	ErrGatewayDeclined = errors.New("gateway_declined")
	// ErrIntentNotFound is returned when the processor does not know the
	// referenced intent.
	ErrIntentNotFound = errors.New("gateway_intent_not_found")
)

// IdempotencyKey derives a deterministic key from the order, operation and
// amount so a retried call replays as the same processor request.
func IdempotencyKey(orderID string, operation string, amount int64) string {
	seed := fmt.Sprintf("%s:%s:%d", orderID, operation, amount)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}
