package repository

import (
	"context"

	"github.com/serviora/bookpay/internal/audit/domain"
	"gorm.io/gorm"
)

type repository struct{}

// Provide constructs the audit repository.
func Provide() domain.Repository {
	return repository{}
}

func (repository) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	return db.WithContext(ctx).Create(entry).Error
}
