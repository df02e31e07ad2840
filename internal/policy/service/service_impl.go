package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/serviora/bookpay/internal/audit/domain"
	"github.com/serviora/bookpay/internal/clock"
	"github.com/serviora/bookpay/internal/config"
	"github.com/serviora/bookpay/internal/kvstore"
	"github.com/serviora/bookpay/internal/policy/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	AuditSvc auditdomain.Service
	Store    kvstore.Store
	Cfg      config.Config
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	auditSvc auditdomain.Service
	store    kvstore.Store
	cacheTTL time.Duration
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("policy.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
		store:    p.Store,
		cacheTTL: p.Cfg.PolicyCacheTTL,
	}
}

func (s *Service) Resolve(
	ctx context.Context,
	serviceType domain.ServiceType,
	serviceCategoryID *snowflake.ID,
) (*domain.PaymentPolicy, error) {
	if !serviceType.Valid() {
		return nil, domain.ErrInvalidServiceType
	}

	key := cacheKey(serviceType, serviceCategoryID)
	if cached := s.cachedPolicy(ctx, key); cached != nil {
		return cached, nil
	}

	policy, err := s.resolveUncached(ctx, serviceType, serviceCategoryID)
	if err != nil {
		return nil, err
	}

	s.cachePolicy(ctx, key, policy)
	return policy, nil
}

func (s *Service) resolveUncached(
	ctx context.Context,
	serviceType domain.ServiceType,
	serviceCategoryID *snowflake.ID,
) (*domain.PaymentPolicy, error) {
	if serviceCategoryID != nil {
		policy, err := s.repo.FindByTuple(ctx, s.db, serviceType, serviceCategoryID)
		if err != nil {
			return nil, err
		}
		if policy != nil {
			return policy, nil
		}
	}

	policy, err := s.repo.FindByTuple(ctx, s.db, serviceType, nil)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, domain.ErrPolicyNotFound
	}
	return policy, nil
}

func (s *Service) Upsert(ctx context.Context, input domain.UpsertInput) (*domain.PaymentPolicy, error) {
	if err := domain.ValidateUpsert(input); err != nil {
		return nil, err
	}

	var result *domain.PaymentPolicy
	var action string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByTuple(ctx, tx, input.ServiceType, input.ServiceCategoryID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		switch {
		case existing == nil:
			policy := &domain.PaymentPolicy{
				ID:                      s.genID.Generate(),
				ServiceType:             input.ServiceType,
				ServiceCategoryID:       input.ServiceCategoryID,
				AutoCaptureHoursBefore:  input.AutoCaptureHoursBefore,
				IsAutoCaptureEnabled:    input.IsAutoCaptureEnabled,
				CancellationCutoffHours: input.CancellationCutoffHours,
				ForfeiturePercentage:    input.ForfeiturePercentage,
				DepositPercentage:       input.DepositPercentage,
				RefundDays:              input.RefundDays,
				CancellationTiers:       datatypes.NewJSONSlice(input.CancellationTiers),
				CreatedAt:               now,
				UpdatedAt:               now,
			}
			if err := s.repo.Insert(ctx, tx, policy); err != nil {
				return err
			}
			result = policy
			action = "payment_policy.created"
		case sameFields(existing, input):
			result = existing
			action = "payment_policy.unchanged"
		default:
			existing.AutoCaptureHoursBefore = input.AutoCaptureHoursBefore
			existing.IsAutoCaptureEnabled = input.IsAutoCaptureEnabled
			existing.CancellationCutoffHours = input.CancellationCutoffHours
			existing.ForfeiturePercentage = input.ForfeiturePercentage
			existing.DepositPercentage = input.DepositPercentage
			existing.RefundDays = input.RefundDays
			existing.CancellationTiers = datatypes.NewJSONSlice(input.CancellationTiers)
			existing.UpdatedAt = now
			if err := s.repo.Update(ctx, tx, existing); err != nil {
				return err
			}
			result = existing
			action = "payment_policy.updated"
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.writeAuditLog(ctx, action, result, input.ActorID); err != nil {
		s.log.Warn("policy audit write failed", zap.String("action", action), zap.Error(err))
	}

	// Stale fallback entries cached under category keys survive at most the
	// TTL; the tuple's own key is dropped immediately.
	if err := s.store.Delete(ctx, cacheKey(result.ServiceType, result.ServiceCategoryID)); err != nil {
		s.log.Warn("policy cache invalidation failed", zap.Error(err))
	}

	return result, nil
}

func (s *Service) List(ctx context.Context) ([]domain.PaymentPolicy, error) {
	return s.repo.List(ctx, s.db)
}

func (s *Service) cachedPolicy(ctx context.Context, key string) *domain.PaymentPolicy {
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.log.Warn("policy cache read failed", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var policy domain.PaymentPolicy
	if err := json.Unmarshal(raw, &policy); err != nil {
		return nil
	}
	return &policy
}

func (s *Service) cachePolicy(ctx context.Context, key string, policy *domain.PaymentPolicy) {
	raw, err := json.Marshal(policy)
	if err != nil {
		return
	}
	if err := s.store.Set(ctx, key, raw, s.cacheTTL); err != nil {
		s.log.Warn("policy cache write failed", zap.Error(err))
	}
}

func (s *Service) writeAuditLog(ctx context.Context, action string, policy *domain.PaymentPolicy, actorID string) error {
	metadata := map[string]any{
		"service_type":              string(policy.ServiceType),
		"auto_capture_hours_before": policy.AutoCaptureHoursBefore,
		"is_auto_capture_enabled":   policy.IsAutoCaptureEnabled,
		"cancellation_cutoff_hours": policy.CancellationCutoffHours,
		"forfeiture_percentage":     policy.ForfeiturePercentage,
		"deposit_percentage":        policy.DepositPercentage,
		"refund_days":               policy.RefundDays,
	}
	if policy.ServiceCategoryID != nil {
		metadata["service_category_id"] = policy.ServiceCategoryID.String()
	}
	if len(policy.CancellationTiers) > 0 {
		metadata["cancellation_tiers"] = []domain.CancellationTier(policy.CancellationTiers)
	}
	return s.auditSvc.AuditLog(
		ctx,
		auditdomain.ActorTypeAdmin,
		actorID,
		action,
		"payment_policy",
		policy.ID.String(),
		metadata,
	)
}

func sameFields(existing *domain.PaymentPolicy, input domain.UpsertInput) bool {
	if existing.AutoCaptureHoursBefore != input.AutoCaptureHoursBefore ||
		existing.IsAutoCaptureEnabled != input.IsAutoCaptureEnabled ||
		existing.CancellationCutoffHours != input.CancellationCutoffHours ||
		existing.ForfeiturePercentage != input.ForfeiturePercentage ||
		existing.DepositPercentage != input.DepositPercentage ||
		existing.RefundDays != input.RefundDays {
		return false
	}
	if len(existing.CancellationTiers) != len(input.CancellationTiers) {
		return false
	}
	for i, tier := range existing.CancellationTiers {
		if tier != input.CancellationTiers[i] {
			return false
		}
	}
	return true
}

func cacheKey(serviceType domain.ServiceType, serviceCategoryID *snowflake.ID) string {
	category := "default"
	if serviceCategoryID != nil {
		category = serviceCategoryID.String()
	}
	return fmt.Sprintf("payment_policy:%s:%s", serviceType, category)
}
