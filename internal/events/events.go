package events

// Notification event types consumed by the email/SMS dispatch collaborator.
const (
	EventPaymentFailed   = "notify.payment_failed"
	EventActionRequired  = "notify.payment_action_required"
	EventCaptureDeclined = "notify.capture_declined"
	EventOrderCancelled  = "notify.order_cancelled"
	EventDepositCaptured = "notify.deposit_captured"
)

// OrderPayload carries the minimal data the notifier needs to render a
// customer-facing message.
type OrderPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	CustomerID  string `json:"customer_id"`
	Amount      int64  `json:"amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p OrderPayload) ToMap() map[string]any {
	payload := map[string]any{
		"order_id":     p.OrderID,
		"order_number": p.OrderNumber,
		"customer_id":  p.CustomerID,
	}
	if p.Amount != 0 {
		payload["amount"] = p.Amount
	}
	if p.Currency != "" {
		payload["currency"] = p.Currency
	}
	if p.Reason != "" {
		payload["reason"] = p.Reason
	}
	if p.ErrorCode != "" {
		payload["error_code"] = p.ErrorCode
	}
	return payload
}
