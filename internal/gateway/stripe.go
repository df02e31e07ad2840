package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

// StripeGateway implements Adapter against the Stripe API. Deposits are
// authorized with manual capture so the hold can be captured (fully or
// partially) at the scheduled time, or released on cancellation.
type StripeGateway struct {
	api     *client.API
	log     *zap.Logger
	timeout time.Duration
}

func NewStripeGateway(secretKey string, timeout time.Duration, log *zap.Logger) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{
		api:     api,
		log:     log.Named("gateway.stripe"),
		timeout: timeout,
	}
}

func (g *StripeGateway) Authorize(ctx context.Context, req AuthorizeRequest) (*IntentStatus, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String(req.IdempotencyKey),
		},
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(req.Currency),
		PaymentMethod: stripe.String(req.PaymentMethodRef),
		Confirm:       stripe.Bool(true),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}

	intent, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, g.mapError("authorize", err)
	}
	return intentStatus(intent), nil
}

func (g *StripeGateway) Capture(ctx context.Context, intentRef string, amount int64, idempotencyKey string) (*CaptureResult, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	intent, err := g.api.PaymentIntents.Capture(intentRef, &stripe.PaymentIntentCaptureParams{
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String(idempotencyKey),
		},
		AmountToCapture: stripe.Int64(amount),
	})
	if err != nil {
		return nil, g.mapError("capture", err)
	}
	return &CaptureResult{
		IntentID:       intent.ID,
		Status:         string(intent.Status),
		AmountCaptured: intent.AmountReceived,
	}, nil
}

// Refund reverses funds back to the customer. An uncaptured hold is released
// by cancelling the intent; captured funds go through a (possibly partial)
// refund.
func (g *StripeGateway) Refund(ctx context.Context, intentRef string, amount int64, idempotencyKey string) (*RefundResult, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	intent, err := g.api.PaymentIntents.Get(intentRef, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, g.mapError("refund", err)
	}

	if intent.Status == stripe.PaymentIntentStatusRequiresCapture {
		cancelled, err := g.api.PaymentIntents.Cancel(intentRef, &stripe.PaymentIntentCancelParams{
			Params: stripe.Params{Context: ctx},
		})
		if err != nil {
			return nil, g.mapError("refund", err)
		}
		return &RefundResult{
			IntentID: cancelled.ID,
			Status:   string(cancelled.Status),
			Amount:   amount,
		}, nil
	}

	refund, err := g.api.Refunds.New(&stripe.RefundParams{
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String(idempotencyKey),
		},
		PaymentIntent: stripe.String(intentRef),
		Amount:        stripe.Int64(amount),
	})
	if err != nil {
		return nil, g.mapError("refund", err)
	}
	return &RefundResult{
		IntentID: intentRef,
		RefundID: refund.ID,
		Status:   string(refund.Status),
		Amount:   refund.Amount,
	}, nil
}

func (g *StripeGateway) RetrieveStatus(ctx context.Context, intentRef string) (*IntentStatus, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	intent, err := g.api.PaymentIntents.Get(intentRef, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, g.mapError("retrieve_status", err)
	}
	return intentStatus(intent), nil
}

func (g *StripeGateway) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *StripeGateway) mapError(operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		g.log.Warn("stripe call timed out", zap.String("operation", operation))
		return fmt.Errorf("%w: %s timeout", ErrGatewayTransient, operation)
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.Type == stripe.ErrorTypeCard:
			return fmt.Errorf("%w: %s", ErrGatewayDeclined, stripeErr.Code)
		case stripeErr.HTTPStatusCode == 404:
			return fmt.Errorf("%w: %s", ErrIntentNotFound, operation)
		case stripeErr.HTTPStatusCode >= 500, stripeErr.Type == stripe.ErrorTypeAPI:
			return fmt.Errorf("%w: %s", ErrGatewayTransient, stripeErr.Code)
		default:
			// Invalid-request class failures are terminal and need human
			// attention, same handling as a decline.
			return fmt.Errorf("%w: %s", ErrGatewayDeclined, stripeErr.Code)
		}
	}

	g.log.Warn("stripe call failed", zap.String("operation", operation), zap.Error(err))
	return fmt.Errorf("%w: %v", ErrGatewayTransient, err)
}

func intentStatus(intent *stripe.PaymentIntent) *IntentStatus {
	return &IntentStatus{
		ID:             intent.ID,
		Status:         string(intent.Status),
		Amount:         intent.Amount,
		AmountReceived: intent.AmountReceived,
		Currency:       string(intent.Currency),
	}
}
