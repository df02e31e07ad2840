package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/serviora/bookpay/internal/webhook/domain"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const providerStripe = "stripe"

// StripeAdapter verifies Stripe webhook signatures and maps payment intent
// events into the provider-neutral form.
type StripeAdapter struct {
	secret string
}

func NewStripeAdapter(webhookSecret string) *StripeAdapter {
	return &StripeAdapter{secret: webhookSecret}
}

func (a *StripeAdapter) Provider() string { return providerStripe }

func (a *StripeAdapter) VerifyAndParse(payload []byte, signature string) (*domain.PaymentEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, a.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSignatureInvalid, err)
	}

	var eventType domain.PaymentEventType
	switch event.Type {
	case "payment_intent.payment_failed":
		eventType = domain.EventPaymentFailed
	case "payment_intent.canceled":
		eventType = domain.EventPaymentCanceled
	case "payment_intent.requires_action":
		eventType = domain.EventRequiresAction
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrEventIgnored, event.Type)
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	if intent.ID == "" {
		return nil, fmt.Errorf("%w: event %s carries no payment intent", domain.ErrEventIgnored, event.ID)
	}

	normalized := &domain.PaymentEvent{
		Provider:   providerStripe,
		ProviderID: event.ID,
		Type:       eventType,
		IntentRef:  intent.ID,
		Payload:    payload,
	}
	if intent.LastPaymentError != nil {
		normalized.ErrorCode = string(intent.LastPaymentError.Code)
		if normalized.ErrorCode == "" {
			normalized.ErrorCode = string(intent.LastPaymentError.DeclineCode)
		}
		normalized.ErrorMessage = intent.LastPaymentError.Msg
	}
	return normalized, nil
}
