package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/serviora/bookpay/internal/policy/domain"
	"gorm.io/gorm"
)

type repository struct{}

// Provide constructs the policy repository.
func Provide() domain.Repository {
	return repository{}
}

func (repository) FindByTuple(
	ctx context.Context,
	db *gorm.DB,
	serviceType domain.ServiceType,
	serviceCategoryID *snowflake.ID,
) (*domain.PaymentPolicy, error) {
	query := db.WithContext(ctx).Where("service_type = ?", serviceType)
	if serviceCategoryID == nil {
		query = query.Where("service_category_id IS NULL")
	} else {
		query = query.Where("service_category_id = ?", *serviceCategoryID)
	}

	var policy domain.PaymentPolicy
	if err := query.First(&policy).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &policy, nil
}

func (repository) Insert(ctx context.Context, db *gorm.DB, policy *domain.PaymentPolicy) error {
	return db.WithContext(ctx).Create(policy).Error
}

func (repository) Update(ctx context.Context, db *gorm.DB, policy *domain.PaymentPolicy) error {
	return db.WithContext(ctx).Save(policy).Error
}

func (repository) List(ctx context.Context, db *gorm.DB) ([]domain.PaymentPolicy, error) {
	var policies []domain.PaymentPolicy
	err := db.WithContext(ctx).
		Order("service_type ASC, service_category_id ASC").
		Find(&policies).Error
	if err != nil {
		return nil, err
	}
	return policies, nil
}
