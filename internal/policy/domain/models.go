package domain

import (
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ServiceType classifies how a booking is produced and priced.
type ServiceType string

const (
	ServiceTypeStandard      ServiceType = "standard"
	ServiceTypeSimpleCustom  ServiceType = "simple_custom"
	ServiceTypeComplexCustom ServiceType = "complex_custom"
)

// Valid reports whether the service type is one of the known values.
func (t ServiceType) Valid() bool {
	switch t {
	case ServiceTypeStandard, ServiceTypeSimpleCustom, ServiceTypeComplexCustom:
		return true
	}
	return false
}

// CancellationTier is one step of an ordered forfeiture schedule. A request
// arriving at least HoursBefore hours ahead of the scheduled start pays
// ForfeiturePercentage of the deposit.
type CancellationTier struct {
	HoursBefore          int `json:"hours_before"`
	ForfeiturePercentage int `json:"forfeiture_percentage"`
}

// PaymentPolicy governs deposit capture and cancellation for a
// (service type, optional category) pair. Category rows take precedence over
// the NULL-category default for the same service type. Policies are never
// deleted, only superseded in place.
type PaymentPolicy struct {
	ID                      snowflake.ID                          `json:"id" gorm:"primaryKey"`
	ServiceType             ServiceType                           `json:"service_type" gorm:"type:text;not null"`
	ServiceCategoryID       *snowflake.ID                         `json:"service_category_id" gorm:"index"`
	AutoCaptureHoursBefore  int                                   `json:"auto_capture_hours_before" gorm:"not null"`
	IsAutoCaptureEnabled    bool                                  `json:"is_auto_capture_enabled" gorm:"not null"`
	CancellationCutoffHours int                                   `json:"cancellation_cutoff_hours" gorm:"not null"`
	ForfeiturePercentage    int                                   `json:"forfeiture_percentage" gorm:"not null"`
	DepositPercentage       int                                   `json:"deposit_percentage" gorm:"not null"`
	RefundDays              int                                   `json:"refund_days" gorm:"not null"`
	CancellationTiers       datatypes.JSONSlice[CancellationTier] `json:"cancellation_tiers,omitempty"`
	CreatedAt               time.Time                             `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt               time.Time                             `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentPolicy) TableName() string { return "payment_policies" }

// ForfeiturePercentAt returns the forfeiture percentage that applies to a
// cancellation arriving untilStart ahead of the scheduled start. The tier
// schedule wins when present; otherwise the single cutoff/forfeiture pair
// applies. The boundary is inclusive: exactly cutoffHours before start is
// still free.
func ForfeiturePercentAt(
	tiers []CancellationTier,
	cutoffHours int,
	forfeiturePercentage int,
	untilStart time.Duration,
) int {
	if len(tiers) > 0 {
		sorted := make([]CancellationTier, len(tiers))
		copy(sorted, tiers)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].HoursBefore > sorted[j].HoursBefore
		})
		for _, tier := range sorted {
			if untilStart >= time.Duration(tier.HoursBefore)*time.Hour {
				return tier.ForfeiturePercentage
			}
		}
		return sorted[len(sorted)-1].ForfeiturePercentage
	}

	if untilStart >= time.Duration(cutoffHours)*time.Hour {
		return 0
	}
	return forfeiturePercentage
}
