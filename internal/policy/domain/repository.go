package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// FindByTuple returns the policy for the exact tuple, nil when absent.
	FindByTuple(ctx context.Context, db *gorm.DB, serviceType ServiceType, serviceCategoryID *snowflake.ID) (*PaymentPolicy, error)
	Insert(ctx context.Context, db *gorm.DB, policy *PaymentPolicy) error
	Update(ctx context.Context, db *gorm.DB, policy *PaymentPolicy) error
	List(ctx context.Context, db *gorm.DB) ([]PaymentPolicy, error)
}
