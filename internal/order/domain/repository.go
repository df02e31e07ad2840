package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// OrderPatch is the typed update applied by a conditional transition. Only
// non-nil fields are written; untyped partial-map mutation is not allowed
// anywhere else.
type OrderPatch struct {
	Status             *OrderStatus
	StripeIntentID     *string
	StripeIntentStatus *string
	CaptureErrorCode   *string
	AuthorizedAt       *time.Time
	CapturedAt         *time.Time
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	CancellationReason *string
	UpdatedAt          time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindByIntentRef(ctx context.Context, db *gorm.DB, intentRef string) (*Order, error)

	// ApplyTransition performs the conditional read-modify-write: the patch
	// lands only when the order's current status is one of expected. The
	// returned bool is false when a concurrent transition won the race.
	ApplyTransition(ctx context.Context, db *gorm.DB, id snowflake.ID, expected []OrderStatus, patch OrderPatch) (bool, error)

	// ListDueForCapture returns authorized, auto-capture-enabled orders whose
	// scheduled capture time has passed and that are not fenced by a
	// recorded capture failure.
	ListDueForCapture(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error)

	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	ListPayments(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]Payment, error)
	FindPaymentByProviderRef(ctx context.Context, db *gorm.DB, orderID snowflake.ID, paymentType PaymentType, providerRef string) (*Payment, error)
}
