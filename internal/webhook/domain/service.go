package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	// Ingest verifies, dedupes and applies one provider notification.
	// Redelivered events that were already reconciled return nil; a
	// dispatch failure leaves the record unprocessed and surfaces the
	// error. The transport acknowledges either way, so unprocessed
	// records are recovered by RetryUnprocessed rather than redelivery.
	Ingest(ctx context.Context, provider string, payload []byte, signature string) error

	// RetryUnprocessed re-dispatches events received before olderThan
	// whose reconciliation never completed, marking each processed on
	// success. Returns how many were reconciled.
	RetryUnprocessed(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

var (
	ErrUnknownProvider  = errors.New("unknown_webhook_provider")
	ErrSignatureInvalid = errors.New("webhook_signature_invalid")
	// ErrEventIgnored marks event types outside the payment lifecycle. They
	// are acknowledged without being recorded.
	ErrEventIgnored = errors.New("webhook_event_ignored")
)
