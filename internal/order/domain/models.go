package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	policydomain "github.com/serviora/bookpay/internal/policy/domain"
	"gorm.io/datatypes"
)

// OrderStatus is the order payment lifecycle state.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusAuthorized OrderStatus = "authorized"
	OrderStatusCaptured   OrderStatus = "captured"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusCompleted
}

// PolicySnapshot freezes the resolved payment policy onto the order at
// creation time. Later policy edits must not alter an in-flight order.
type PolicySnapshot struct {
	PolicyID                snowflake.ID                                       `gorm:"column:policy_id;not null"`
	AutoCaptureHoursBefore  int                                                `gorm:"column:policy_auto_capture_hours_before;not null"`
	IsAutoCaptureEnabled    bool                                               `gorm:"column:policy_is_auto_capture_enabled;not null"`
	CancellationCutoffHours int                                                `gorm:"column:policy_cancellation_cutoff_hours;not null"`
	ForfeiturePercentage    int                                                `gorm:"column:policy_forfeiture_percentage;not null"`
	DepositPercentage       int                                                `gorm:"column:policy_deposit_percentage;not null"`
	RefundDays              int                                                `gorm:"column:policy_refund_days;not null"`
	CancellationTiers       datatypes.JSONSlice[policydomain.CancellationTier] `gorm:"column:policy_cancellation_tiers"`
}

// ForfeiturePercentAt returns the forfeiture percentage for a cancellation
// arriving untilStart ahead of the scheduled start, per the snapshotted
// schedule.
func (p PolicySnapshot) ForfeiturePercentAt(untilStart time.Duration) int {
	return policydomain.ForfeiturePercentAt(
		p.CancellationTiers,
		p.CancellationCutoffHours,
		p.ForfeiturePercentage,
		untilStart,
	)
}

// Order is one booking's payment lifecycle. Rows are never deleted;
// cancellation and refund fields are retained for financial audit.
type Order struct {
	ID                 snowflake.ID             `json:"id" gorm:"primaryKey"`
	OrderNumber        string                   `json:"order_number" gorm:"type:text;not null;uniqueIndex"`
	CustomerID         snowflake.ID             `json:"customer_id" gorm:"not null;index"`
	ServiceType        policydomain.ServiceType `json:"service_type" gorm:"type:text;not null"`
	ServiceCategoryID  *snowflake.ID            `json:"service_category_id"`
	Status             OrderStatus              `json:"status" gorm:"type:text;not null;index"`
	Currency           string                   `json:"currency" gorm:"type:text;not null"`
	TotalAmount        int64                    `json:"total_amount" gorm:"not null"`
	DepositAmount      int64                    `json:"deposit_amount" gorm:"not null"`
	RemainingAmount    int64                    `json:"remaining_amount" gorm:"not null"`
	ScheduledStartTime time.Time                `json:"scheduled_start_time" gorm:"not null"`
	ScheduledCaptureAt *time.Time               `json:"scheduled_capture_at"`
	Policy             PolicySnapshot           `json:"policy" gorm:"embedded"`
	StripeIntentID     *string                  `json:"stripe_intent_id" gorm:"index"`
	StripeIntentStatus *string                  `json:"stripe_intent_status"`
	CaptureErrorCode   *string                  `json:"capture_error_code,omitempty"`
	AuthorizedAt       *time.Time               `json:"authorized_at"`
	CapturedAt         *time.Time               `json:"captured_at"`
	CompletedAt        *time.Time               `json:"completed_at"`
	CancelledAt        *time.Time               `json:"cancelled_at"`
	CancellationReason *string                  `json:"cancellation_reason"`
	CreatedAt          time.Time                `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time                `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }

// PaymentType classifies an append-only ledger entry.
type PaymentType string

const (
	PaymentTypeAuthorize PaymentType = "authorize"
	PaymentTypeCapture   PaymentType = "capture"
	PaymentTypeRefund    PaymentType = "refund"
	PaymentTypeForfeit   PaymentType = "forfeit"
)

// Payment statuses reported against ledger entries.
const (
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusPending   = "pending"
)

// Payment is an immutable ledger entry. Entries are never updated or
// deleted; corrections append a compensating entry.
type Payment struct {
	ID                    snowflake.ID `json:"id" gorm:"primaryKey"`
	OrderID               snowflake.ID `json:"order_id" gorm:"not null;index"`
	Type                  PaymentType  `json:"type" gorm:"type:text;not null"`
	Amount                int64        `json:"amount" gorm:"not null"`
	Currency              string       `json:"currency" gorm:"type:text;not null"`
	ProviderTransactionID *string      `json:"provider_transaction_id" gorm:"type:text"`
	ProviderStatus        *string      `json:"provider_status" gorm:"type:text"`
	ErrorCode             *string      `json:"error_code,omitempty" gorm:"type:text"`
	ErrorMessage          *string      `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt             time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// CancellationBreakdown explains exactly how a cancellation was settled, so
// callers can show the customer the amounts rather than a bare status.
type CancellationBreakdown struct {
	OrderID              snowflake.ID `json:"order_id"`
	Status               OrderStatus  `json:"status"`
	Currency             string       `json:"currency"`
	DepositAmount        int64        `json:"deposit_amount"`
	ChargedAmount        int64        `json:"charged_amount"`
	ForfeitureAmount     int64        `json:"forfeiture_amount"`
	RefundAmount         int64        `json:"refund_amount"`
	ForfeiturePercentage int          `json:"forfeiture_percentage"`
	RefundDays           int          `json:"refund_days"`
}
