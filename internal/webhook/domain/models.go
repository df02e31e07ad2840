package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PaymentEventType is the provider-neutral classification of a processor
// notification.
type PaymentEventType string

const (
	EventPaymentFailed   PaymentEventType = "payment_failed"
	EventPaymentCanceled PaymentEventType = "payment_canceled"
	EventRequiresAction  PaymentEventType = "requires_action"
)

// PaymentEvent is a verified, normalized processor notification. IntentRef
// identifies the payment intent the event concerns; ErrorCode and
// ErrorMessage are populated for failures only.
type PaymentEvent struct {
	Provider     string
	ProviderID   string
	Type         PaymentEventType
	IntentRef    string
	ErrorCode    string
	ErrorMessage string
	Payload      []byte
}

// EventRecord is the dedupe row persisted for every accepted event. The
// (provider, provider_event_id) pair is unique; ProcessedAt marks completed
// reconciliation so redeliveries of a handled event are acknowledged without
// side effects.
type EventRecord struct {
	ID              snowflake.ID     `json:"id" gorm:"primaryKey"`
	Provider        string           `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event"`
	ProviderEventID string           `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event"`
	EventType       PaymentEventType `json:"event_type" gorm:"type:text;not null"`
	IntentID        *string          `json:"intent_id" gorm:"type:text"`
	ErrorCode       *string          `json:"error_code" gorm:"type:text"`
	ErrorMessage    *string          `json:"error_message" gorm:"type:text"`
	Payload         datatypes.JSON   `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time        `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time       `json:"processed_at"`
}

// TableName sets the database table name.
func (EventRecord) TableName() string { return "payment_events" }

// EventAdapter verifies and normalizes one provider's webhook payloads.
type EventAdapter interface {
	// Provider returns the registry key, e.g. "stripe".
	Provider() string
	// VerifyAndParse checks the payload signature and maps the provider
	// event into a PaymentEvent. Returns ErrSignatureInvalid on a bad
	// signature and ErrEventIgnored for event types outside the payment
	// lifecycle.
	VerifyAndParse(payload []byte, signature string) (*PaymentEvent, error)
}
