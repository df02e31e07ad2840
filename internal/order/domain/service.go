package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	policydomain "github.com/serviora/bookpay/internal/policy/domain"
)

// CreateInput is the order draft submitted at booking time.
type CreateInput struct {
	CustomerID         snowflake.ID
	ServiceType        policydomain.ServiceType
	ServiceCategoryID  *snowflake.ID
	Currency           string
	TotalAmount        int64
	ScheduledStartTime time.Time
	// PaymentMethodRef, when present, has the service place the deposit
	// hold itself instead of waiting for a client-side intent.
	PaymentMethodRef string
}

type Service interface {
	// Create resolves the payment policy, snapshots it onto the order and
	// derives deposit, remaining amount and the scheduled capture time.
	// Fails when no policy resolves for the tuple.
	Create(ctx context.Context, input CreateInput) (*Order, error)

	Get(ctx context.Context, orderID snowflake.ID) (*Order, []Payment, error)

	// ConfirmPayment verifies the external intent and moves the order from
	// pending to authorized, appending the AUTHORIZE ledger entry. Repeating
	// the call with the same intent reference returns the existing state.
	ConfirmPayment(ctx context.Context, orderID snowflake.ID, intentRef string) (*Order, error)

	// AutoCapture captures the deposit for an authorized order whose
	// scheduled capture time has passed. Declined captures are recorded and
	// fenced from further automatic attempts.
	AutoCapture(ctx context.Context, orderID snowflake.ID) error

	// DueForCapture lists orders eligible for automatic capture.
	DueForCapture(ctx context.Context, now time.Time, limit int) ([]snowflake.ID, error)

	// Cancel applies the snapshotted cancellation schedule and settles the
	// forfeiture/refund split. Cancelling an already-cancelled order returns
	// the recorded breakdown without touching state.
	Cancel(ctx context.Context, orderID snowflake.ID, requestedAt time.Time, reason string) (*CancellationBreakdown, error)

	// Complete records the out-of-band service-completion signal.
	Complete(ctx context.Context, orderID snowflake.ID) (*Order, error)

	// MarkPaymentFailed appends a failed AUTHORIZE entry for the order
	// holding the intent reference and notifies the customer. Status is left
	// untouched so the customer can retry or cancel explicitly.
	MarkPaymentFailed(ctx context.Context, intentRef string, errorCode, errorMessage string) error

	// CancelFromProvider cancels a pending/authorized order after the
	// processor reported the intent as canceled. No-op when the order is
	// missing or already terminal.
	CancelFromProvider(ctx context.Context, intentRef string, reason string) error

	// NotifyActionRequired queues a customer notification when the processor
	// reports the intent needs additional authentication. Status is left
	// untouched.
	NotifyActionRequired(ctx context.Context, intentRef string) error
}

var (
	ErrOrderNotFound       = errors.New("order_not_found")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidSchedule     = errors.New("invalid_schedule")
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrConflict            = errors.New("transition_conflict")
	ErrPaymentVerification = errors.New("payment_verification_failed")
	ErrCaptureNotDue       = errors.New("capture_not_due")
	ErrCaptureDisabled     = errors.New("capture_disabled")
)
