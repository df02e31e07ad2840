package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// UpsertInput carries the administrator-provided policy fields, keyed by the
// (service type, optional category) tuple.
type UpsertInput struct {
	ServiceType             ServiceType
	ServiceCategoryID       *snowflake.ID
	AutoCaptureHoursBefore  int
	IsAutoCaptureEnabled    bool
	CancellationCutoffHours int
	ForfeiturePercentage    int
	DepositPercentage       int
	RefundDays              int
	CancellationTiers       []CancellationTier
	ActorID                 string
}

type Service interface {
	// Resolve returns the policy for the tuple, category-specific first,
	// falling back to the NULL-category default for the service type.
	Resolve(ctx context.Context, serviceType ServiceType, serviceCategoryID *snowflake.ID) (*PaymentPolicy, error)
	// Upsert creates or updates the policy for the tuple. Idempotent under
	// retry: identical field values change nothing beyond the audit trail.
	Upsert(ctx context.Context, input UpsertInput) (*PaymentPolicy, error)
	List(ctx context.Context) ([]PaymentPolicy, error)
}

var (
	ErrPolicyNotFound     = errors.New("policy_not_found")
	ErrInvalidServiceType = errors.New("invalid_service_type")
	ErrInvalidPercentage  = errors.New("invalid_percentage")
	ErrInvalidHours       = errors.New("invalid_hours")
	ErrInvalidTiers       = errors.New("invalid_tiers")
)

// ValidateUpsert checks field ranges before any write.
func ValidateUpsert(input UpsertInput) error {
	if !input.ServiceType.Valid() {
		return ErrInvalidServiceType
	}
	if input.ForfeiturePercentage < 0 || input.ForfeiturePercentage > 100 {
		return ErrInvalidPercentage
	}
	if input.DepositPercentage < 0 || input.DepositPercentage > 100 {
		return ErrInvalidPercentage
	}
	if input.AutoCaptureHoursBefore < 0 || input.CancellationCutoffHours < 0 || input.RefundDays < 0 {
		return ErrInvalidHours
	}
	seen := make(map[int]struct{}, len(input.CancellationTiers))
	for _, tier := range input.CancellationTiers {
		if tier.HoursBefore < 0 {
			return ErrInvalidTiers
		}
		if tier.ForfeiturePercentage < 0 || tier.ForfeiturePercentage > 100 {
			return ErrInvalidTiers
		}
		if _, dup := seen[tier.HoursBefore]; dup {
			return ErrInvalidTiers
		}
		seen[tier.HoursBefore] = struct{}{}
	}
	return nil
}
