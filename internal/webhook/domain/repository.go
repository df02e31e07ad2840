package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	// InsertEvent stores the record unless the (provider, provider_event_id)
	// pair already exists. The returned bool is false on a duplicate.
	InsertEvent(ctx context.Context, db *gorm.DB, record *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	// ListUnprocessed returns records received at or before the given time
	// whose reconciliation has not completed, oldest first.
	ListUnprocessed(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, provider, providerEventID string, at time.Time) error
}
