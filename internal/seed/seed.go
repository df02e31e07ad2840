package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	policydomain "github.com/serviora/bookpay/internal/policy/domain"
	"gorm.io/gorm"
)

// defaultPolicy is the bootstrap payment policy applied to every service
// type that has no row yet: 30% deposit captured 24h before the appointment,
// free cancellation until 48h, then a tiered forfeiture of the deposit.
func defaultPolicy(node *snowflake.Node, serviceType policydomain.ServiceType, now time.Time) policydomain.PaymentPolicy {
	return policydomain.PaymentPolicy{
		ID:                      node.Generate(),
		ServiceType:             serviceType,
		AutoCaptureHoursBefore:  24,
		IsAutoCaptureEnabled:    true,
		CancellationCutoffHours: 48,
		ForfeiturePercentage:    20,
		DepositPercentage:       30,
		RefundDays:              7,
		CancellationTiers: []policydomain.CancellationTier{
			{HoursBefore: 48, ForfeiturePercentage: 0},
			{HoursBefore: 24, ForfeiturePercentage: 20},
			{HoursBefore: 0, ForfeiturePercentage: 50},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// EnsureDefaultPolicies seeds the NULL-category payment policy for each
// service type at startup. Existing rows are left untouched so administrator
// edits survive restarts.
func EnsureDefaultPolicies(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, serviceType := range []policydomain.ServiceType{
			policydomain.ServiceTypeStandard,
			policydomain.ServiceTypeSimpleCustom,
			policydomain.ServiceTypeComplexCustom,
		} {
			var count int64
			err := tx.WithContext(ctx).
				Model(&policydomain.PaymentPolicy{}).
				Where("service_type = ? AND service_category_id IS NULL", serviceType).
				Count(&count).Error
			if err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			policy := defaultPolicy(node, serviceType, now)
			if err := tx.WithContext(ctx).Create(&policy).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
