package repository

import (
	"context"
	"errors"
	"time"

	"github.com/serviora/bookpay/internal/webhook/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct{}

// Provide constructs the webhook event repository.
func Provide() domain.Repository {
	return repository{}
}

func (repository) InsertEvent(ctx context.Context, db *gorm.DB, record *domain.EventRecord) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (repository) FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.EventRecord, error) {
	var record domain.EventRecord
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (repository) ListUnprocessed(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.EventRecord, error) {
	var records []domain.EventRecord
	err := db.WithContext(ctx).
		Where("processed_at IS NULL AND received_at <= ?", before).
		Order("received_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (repository) MarkProcessed(ctx context.Context, db *gorm.DB, provider, providerEventID string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.EventRecord{}).
		Where("provider = ? AND provider_event_id = ? AND processed_at IS NULL", provider, providerEventID).
		Update("processed_at", at).Error
}
