package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/serviora/bookpay/internal/audit/domain"
	"github.com/serviora/bookpay/internal/clock"
	"github.com/serviora/bookpay/internal/events"
	"github.com/serviora/bookpay/internal/gateway"
	"github.com/serviora/bookpay/internal/order/domain"
	policydomain "github.com/serviora/bookpay/internal/policy/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	PolicySvc policydomain.Service
	Gateway   gateway.Adapter
	AuditSvc  auditdomain.Service
	Outbox    *events.Outbox
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	policySvc policydomain.Service
	gateway   gateway.Adapter
	auditSvc  auditdomain.Service
	outbox    *events.Outbox
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("order.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		policySvc: p.PolicySvc,
		gateway:   p.Gateway,
		auditSvc:  p.AuditSvc,
		outbox:    p.Outbox,
	}
}

func (s *Service) Create(ctx context.Context, input domain.CreateInput) (*domain.Order, error) {
	if input.TotalAmount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		return nil, domain.ErrInvalidCurrency
	}
	if input.ScheduledStartTime.IsZero() {
		return nil, domain.ErrInvalidSchedule
	}

	policy, err := s.policySvc.Resolve(ctx, input.ServiceType, input.ServiceCategoryID)
	if err != nil {
		return nil, err
	}

	deposit := percentAmount(input.TotalAmount, policy.DepositPercentage)
	captureAt := input.ScheduledStartTime.Add(-time.Duration(policy.AutoCaptureHoursBefore) * time.Hour)

	now := s.clock.Now()
	id := s.genID.Generate()
	order := &domain.Order{
		ID:                 id,
		OrderNumber:        fmt.Sprintf("SRV-%s", id.String()),
		CustomerID:         input.CustomerID,
		ServiceType:        input.ServiceType,
		ServiceCategoryID:  input.ServiceCategoryID,
		Status:             domain.OrderStatusPending,
		Currency:           currency,
		TotalAmount:        input.TotalAmount,
		DepositAmount:      deposit,
		RemainingAmount:    input.TotalAmount - deposit,
		ScheduledStartTime: input.ScheduledStartTime.UTC(),
		ScheduledCaptureAt: &captureAt,
		Policy: domain.PolicySnapshot{
			PolicyID:                policy.ID,
			AutoCaptureHoursBefore:  policy.AutoCaptureHoursBefore,
			IsAutoCaptureEnabled:    policy.IsAutoCaptureEnabled,
			CancellationCutoffHours: policy.CancellationCutoffHours,
			ForfeiturePercentage:    policy.ForfeiturePercentage,
			DepositPercentage:       policy.DepositPercentage,
			RefundDays:              policy.RefundDays,
			CancellationTiers:       datatypes.NewJSONSlice([]policydomain.CancellationTier(policy.CancellationTiers)),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	// The hold is placed before the row exists; if the insert fails the
	// orphaned authorization expires uncaptured at the processor.
	if ref := strings.TrimSpace(input.PaymentMethodRef); ref != "" && deposit > 0 {
		status, err := s.gateway.Authorize(ctx, gateway.AuthorizeRequest{
			Amount:           deposit,
			Currency:         currency,
			PaymentMethodRef: ref,
			Description:      fmt.Sprintf("deposit for %s", order.OrderNumber),
			IdempotencyKey:   gateway.IdempotencyKey(id.String(), "authorize", deposit),
		})
		if err != nil {
			return nil, err
		}
		order.StripeIntentID = &status.ID
		order.StripeIntentStatus = &status.Status
	}

	if err := s.repo.Insert(ctx, s.db, order); err != nil {
		return nil, err
	}

	s.audit(ctx, auditdomain.ActorTypeUser, "order.created", order, map[string]any{
		"total_amount":       order.TotalAmount,
		"deposit_amount":     order.DepositAmount,
		"remaining_amount":   order.RemainingAmount,
		"deposit_percentage": policy.DepositPercentage,
	})
	return order, nil
}

func (s *Service) Get(ctx context.Context, orderID snowflake.ID) (*domain.Order, []domain.Payment, error) {
	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order == nil {
		return nil, nil, domain.ErrOrderNotFound
	}
	payments, err := s.repo.ListPayments(ctx, s.db, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, payments, nil
}

func (s *Service) ConfirmPayment(ctx context.Context, orderID snowflake.ID, intentRef string) (*domain.Order, error) {
	intentRef = strings.TrimSpace(intentRef)
	if intentRef == "" {
		return nil, domain.ErrPaymentVerification
	}

	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}

	switch order.Status {
	case domain.OrderStatusPending:
		// fall through to verification
	case domain.OrderStatusAuthorized, domain.OrderStatusCaptured:
		return s.confirmAlreadyAuthorized(ctx, order, intentRef)
	default:
		return nil, domain.ErrInvalidTransition
	}

	if order.StripeIntentID != nil && *order.StripeIntentID != intentRef {
		return nil, fmt.Errorf("%w: intent mismatch", domain.ErrPaymentVerification)
	}

	// Verify against the processor before touching any state; the gateway
	// call happens outside every lock and transaction.
	status, err := s.gateway.RetrieveStatus(ctx, intentRef)
	if err != nil {
		if errors.Is(err, gateway.ErrIntentNotFound) {
			return nil, fmt.Errorf("%w: unknown intent", domain.ErrPaymentVerification)
		}
		return nil, err
	}
	if !status.AuthorizedForCapture() {
		return nil, fmt.Errorf("%w: intent status %s", domain.ErrPaymentVerification, status.Status)
	}

	now := s.clock.Now()
	authorized := domain.OrderStatusAuthorized
	intentStatus := status.Status
	var applied bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err = s.repo.ApplyTransition(ctx, tx, order.ID,
			[]domain.OrderStatus{domain.OrderStatusPending},
			domain.OrderPatch{
				Status:             &authorized,
				StripeIntentID:     &intentRef,
				StripeIntentStatus: &intentStatus,
				AuthorizedAt:       &now,
				UpdatedAt:          now,
			},
		)
		if err != nil || !applied {
			return err
		}
		return s.repo.InsertPayment(ctx, tx, s.newPayment(order, domain.PaymentTypeAuthorize, order.DepositAmount, intentRef, domain.PaymentStatusSucceeded, now))
	})
	if err != nil {
		return nil, err
	}

	if !applied {
		reloaded, err := s.repo.FindByID(ctx, s.db, order.ID)
		if err != nil {
			return nil, err
		}
		if reloaded == nil {
			return nil, domain.ErrOrderNotFound
		}
		if reloaded.Status == domain.OrderStatusAuthorized || reloaded.Status == domain.OrderStatusCaptured {
			return s.confirmAlreadyAuthorized(ctx, reloaded, intentRef)
		}
		if reloaded.Status.Terminal() {
			return nil, domain.ErrInvalidTransition
		}
		return nil, domain.ErrConflict
	}

	order.Status = domain.OrderStatusAuthorized
	order.StripeIntentID = &intentRef
	order.StripeIntentStatus = &intentStatus
	order.AuthorizedAt = &now
	order.UpdatedAt = now

	s.audit(ctx, auditdomain.ActorTypeUser, "order.payment_confirmed", order, map[string]any{
		"intent_id":      intentRef,
		"deposit_amount": order.DepositAmount,
	})
	return order, nil
}

// confirmAlreadyAuthorized resolves a repeated confirmation: the same intent
// reference is idempotent success, a different one is a genuine conflict.
func (s *Service) confirmAlreadyAuthorized(ctx context.Context, order *domain.Order, intentRef string) (*domain.Order, error) {
	entry, err := s.repo.FindPaymentByProviderRef(ctx, s.db, order.ID, domain.PaymentTypeAuthorize, intentRef)
	if err != nil {
		return nil, err
	}
	if entry != nil && deref(entry.ProviderStatus) == domain.PaymentStatusSucceeded {
		return order, nil
	}
	return nil, domain.ErrConflict
}

func (s *Service) AutoCapture(ctx context.Context, orderID snowflake.ID) error {
	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return domain.ErrOrderNotFound
	}

	switch order.Status {
	case domain.OrderStatusAuthorized:
		// eligible
	case domain.OrderStatusCaptured:
		return nil
	default:
		return domain.ErrInvalidTransition
	}
	if !order.Policy.IsAutoCaptureEnabled {
		return domain.ErrCaptureDisabled
	}
	now := s.clock.Now()
	if order.ScheduledCaptureAt == nil || now.Before(*order.ScheduledCaptureAt) {
		return domain.ErrCaptureNotDue
	}
	if order.StripeIntentID == nil {
		return domain.ErrPaymentVerification
	}

	intentRef := *order.StripeIntentID
	key := gateway.IdempotencyKey(order.ID.String(), "capture", order.DepositAmount)
	result, err := s.gateway.Capture(ctx, intentRef, order.DepositAmount, key)
	if err != nil {
		if errors.Is(err, gateway.ErrGatewayDeclined) {
			if recordErr := s.recordCaptureDeclined(ctx, order, intentRef, err, now); recordErr != nil {
				return recordErr
			}
		}
		return err
	}

	captured := domain.OrderStatusCaptured
	var applied bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err = s.repo.ApplyTransition(ctx, tx, order.ID,
			[]domain.OrderStatus{domain.OrderStatusAuthorized},
			domain.OrderPatch{
				Status:             &captured,
				StripeIntentStatus: &result.Status,
				CapturedAt:         &now,
				UpdatedAt:          now,
			},
		)
		if err != nil || !applied {
			return err
		}
		if err := s.repo.InsertPayment(ctx, tx, s.newPayment(order, domain.PaymentTypeCapture, order.DepositAmount, intentRef, domain.PaymentStatusSucceeded, now)); err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			Type:       events.EventDepositCaptured,
			Payload: events.OrderPayload{
				OrderID:     order.ID.String(),
				OrderNumber: order.OrderNumber,
				CustomerID:  order.CustomerID.String(),
				Amount:      order.DepositAmount,
				Currency:    order.Currency,
			}.ToMap(),
			DedupeKey: fmt.Sprintf("capture:%s", order.ID),
		})
	})
	if err != nil {
		return err
	}
	if !applied {
		return domain.ErrConflict
	}

	s.audit(ctx, auditdomain.ActorTypeSystem, "order.deposit_captured", order, map[string]any{
		"intent_id":      intentRef,
		"deposit_amount": order.DepositAmount,
	})
	return nil
}

// recordCaptureDeclined appends the failed CAPTURE entry and fences the
// order from further automatic attempts. Status stays authorized so an admin
// can intervene.
func (s *Service) recordCaptureDeclined(ctx context.Context, order *domain.Order, intentRef string, declineErr error, now time.Time) error {
	code := declineCode(declineErr)
	message := declineErr.Error()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := s.repo.ApplyTransition(ctx, tx, order.ID,
			[]domain.OrderStatus{domain.OrderStatusAuthorized},
			domain.OrderPatch{
				CaptureErrorCode: &code,
				UpdatedAt:        now,
			},
		)
		if err != nil || !applied {
			return err
		}
		payment := s.newPayment(order, domain.PaymentTypeCapture, order.DepositAmount, intentRef, domain.PaymentStatusFailed, now)
		payment.ErrorCode = &code
		payment.ErrorMessage = &message
		if err := s.repo.InsertPayment(ctx, tx, payment); err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			Type:       events.EventCaptureDeclined,
			Payload: events.OrderPayload{
				OrderID:     order.ID.String(),
				OrderNumber: order.OrderNumber,
				CustomerID:  order.CustomerID.String(),
				Amount:      order.DepositAmount,
				Currency:    order.Currency,
				ErrorCode:   code,
			}.ToMap(),
			DedupeKey: fmt.Sprintf("capture_declined:%s", order.ID),
		})
	})
}

func (s *Service) DueForCapture(ctx context.Context, now time.Time, limit int) ([]snowflake.ID, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListDueForCapture(ctx, s.db, now, limit)
}

func (s *Service) Cancel(ctx context.Context, orderID snowflake.ID, requestedAt time.Time, reason string) (*domain.CancellationBreakdown, error) {
	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}

	if order.Status == domain.OrderStatusCancelled {
		return s.recordedBreakdown(ctx, order)
	}
	if order.Status == domain.OrderStatusCompleted {
		return nil, domain.ErrInvalidTransition
	}

	untilStart := order.ScheduledStartTime.Sub(requestedAt)
	percent := order.Policy.ForfeiturePercentAt(untilStart)

	var charged int64
	if order.Status == domain.OrderStatusAuthorized || order.Status == domain.OrderStatusCaptured {
		charged = order.DepositAmount
	}
	forfeit := percentAmount(charged, percent)
	refund := charged - forfeit

	// Settle with the processor before the terminal transition; the
	// deterministic idempotency keys make a racing duplicate collapse into
	// one processor-side operation. An intent on a still-pending order is a
	// server-placed hold that must be released even though nothing was
	// charged.
	if order.StripeIntentID != nil {
		if err := s.settleCancellation(ctx, order, forfeit, refund); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	cancelled := domain.OrderStatusCancelled
	reason = strings.TrimSpace(reason)
	// CancelledAt records the request time, not the write time, so the
	// applied tier can be reconstructed from the snapshot later.
	cancelledAt := requestedAt
	var applied bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err = s.repo.ApplyTransition(ctx, tx, order.ID,
			[]domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusAuthorized, domain.OrderStatusCaptured},
			domain.OrderPatch{
				Status:             &cancelled,
				CancelledAt:        &cancelledAt,
				CancellationReason: &reason,
				UpdatedAt:          now,
			},
		)
		if err != nil || !applied {
			return err
		}
		intentRef := deref(order.StripeIntentID)
		if forfeit > 0 {
			if err := s.repo.InsertPayment(ctx, tx, s.newPayment(order, domain.PaymentTypeForfeit, forfeit, intentRef, domain.PaymentStatusSucceeded, now)); err != nil {
				return err
			}
		}
		if charged > 0 && refund > 0 {
			if err := s.repo.InsertPayment(ctx, tx, s.newPayment(order, domain.PaymentTypeRefund, refund, intentRef, domain.PaymentStatusSucceeded, now)); err != nil {
				return err
			}
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			Type:       events.EventOrderCancelled,
			Payload: events.OrderPayload{
				OrderID:     order.ID.String(),
				OrderNumber: order.OrderNumber,
				CustomerID:  order.CustomerID.String(),
				Amount:      refund,
				Currency:    order.Currency,
				Reason:      reason,
			}.ToMap(),
			DedupeKey: fmt.Sprintf("cancelled:%s", order.ID),
		})
	})
	if err != nil {
		return nil, err
	}

	if !applied {
		reloaded, err := s.repo.FindByID(ctx, s.db, order.ID)
		if err != nil {
			return nil, err
		}
		if reloaded != nil && reloaded.Status == domain.OrderStatusCancelled {
			return s.recordedBreakdown(ctx, reloaded)
		}
		if reloaded != nil && reloaded.Status == domain.OrderStatusCompleted {
			return nil, domain.ErrInvalidTransition
		}
		return nil, domain.ErrConflict
	}

	breakdown := &domain.CancellationBreakdown{
		OrderID:              order.ID,
		Status:               domain.OrderStatusCancelled,
		Currency:             order.Currency,
		DepositAmount:        order.DepositAmount,
		ChargedAmount:        charged,
		ForfeitureAmount:     forfeit,
		RefundAmount:         refund,
		ForfeiturePercentage: percent,
		RefundDays:           order.Policy.RefundDays,
	}
	s.audit(ctx, auditdomain.ActorTypeUser, "order.cancelled", order, map[string]any{
		"reason":                reason,
		"charged_amount":        charged,
		"forfeiture_amount":     forfeit,
		"refund_amount":         refund,
		"forfeiture_percentage": percent,
	})
	return breakdown, nil
}

// settleCancellation reverses held or captured funds. An unconfirmed hold is
// released in full; an uncaptured hold with a forfeiture captures only the
// forfeited portion, releasing the rest; captured deposits refund the
// refundable portion.
func (s *Service) settleCancellation(ctx context.Context, order *domain.Order, forfeit, refund int64) error {
	intentRef := *order.StripeIntentID
	switch order.Status {
	case domain.OrderStatusPending:
		key := gateway.IdempotencyKey(order.ID.String(), "cancel_release", order.DepositAmount)
		_, err := s.gateway.Refund(ctx, intentRef, order.DepositAmount, key)
		return err
	case domain.OrderStatusAuthorized:
		if forfeit > 0 {
			key := gateway.IdempotencyKey(order.ID.String(), "cancel_capture", forfeit)
			_, err := s.gateway.Capture(ctx, intentRef, forfeit, key)
			return err
		}
		key := gateway.IdempotencyKey(order.ID.String(), "cancel_release", refund)
		_, err := s.gateway.Refund(ctx, intentRef, refund, key)
		return err
	case domain.OrderStatusCaptured:
		if refund > 0 {
			key := gateway.IdempotencyKey(order.ID.String(), "cancel_refund", refund)
			_, err := s.gateway.Refund(ctx, intentRef, refund, key)
			return err
		}
	}
	return nil
}

// recordedBreakdown rebuilds the settlement of an already-cancelled order.
// Amounts come from the ledger entries; the percentage comes from the
// snapshotted schedule at the recorded cancellation time, since dividing the
// rounded amounts back out can land one point off.
func (s *Service) recordedBreakdown(ctx context.Context, order *domain.Order) (*domain.CancellationBreakdown, error) {
	payments, err := s.repo.ListPayments(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	breakdown := &domain.CancellationBreakdown{
		OrderID:       order.ID,
		Status:        order.Status,
		Currency:      order.Currency,
		DepositAmount: order.DepositAmount,
		RefundDays:    order.Policy.RefundDays,
	}
	for _, payment := range payments {
		if deref(payment.ProviderStatus) != domain.PaymentStatusSucceeded {
			continue
		}
		switch payment.Type {
		case domain.PaymentTypeForfeit:
			breakdown.ForfeitureAmount += payment.Amount
		case domain.PaymentTypeRefund:
			breakdown.RefundAmount += payment.Amount
		}
	}
	breakdown.ChargedAmount = breakdown.ForfeitureAmount + breakdown.RefundAmount
	switch {
	case order.CancelledAt != nil:
		breakdown.ForfeiturePercentage = order.Policy.ForfeiturePercentAt(order.ScheduledStartTime.Sub(*order.CancelledAt))
	case order.DepositAmount > 0:
		breakdown.ForfeiturePercentage = int(breakdown.ForfeitureAmount * 100 / order.DepositAmount)
	}
	return breakdown, nil
}

func (s *Service) Complete(ctx context.Context, orderID snowflake.ID) (*domain.Order, error) {
	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	if order.Status == domain.OrderStatusCompleted {
		return order, nil
	}
	if order.Status != domain.OrderStatusCaptured {
		return nil, domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	completed := domain.OrderStatusCompleted
	applied, err := s.repo.ApplyTransition(ctx, s.db, order.ID,
		[]domain.OrderStatus{domain.OrderStatusCaptured},
		domain.OrderPatch{
			Status:      &completed,
			CompletedAt: &now,
			UpdatedAt:   now,
		},
	)
	if err != nil {
		return nil, err
	}
	if !applied {
		reloaded, err := s.repo.FindByID(ctx, s.db, order.ID)
		if err != nil {
			return nil, err
		}
		if reloaded != nil && reloaded.Status == domain.OrderStatusCompleted {
			return reloaded, nil
		}
		return nil, domain.ErrConflict
	}

	order.Status = domain.OrderStatusCompleted
	order.CompletedAt = &now
	order.UpdatedAt = now
	return order, nil
}

func (s *Service) MarkPaymentFailed(ctx context.Context, intentRef string, errorCode, errorMessage string) error {
	order, err := s.repo.FindByIntentRef(ctx, s.db, intentRef)
	if err != nil {
		return err
	}
	if order == nil {
		s.log.Info("payment_failed for unknown intent", zap.String("intent_id", intentRef))
		return nil
	}

	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment := s.newPayment(order, domain.PaymentTypeAuthorize, order.DepositAmount, intentRef, domain.PaymentStatusFailed, now)
		if errorCode != "" {
			payment.ErrorCode = &errorCode
		}
		if errorMessage != "" {
			payment.ErrorMessage = &errorMessage
		}
		if err := s.repo.InsertPayment(ctx, tx, payment); err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			Type:       events.EventPaymentFailed,
			Payload: events.OrderPayload{
				OrderID:     order.ID.String(),
				OrderNumber: order.OrderNumber,
				CustomerID:  order.CustomerID.String(),
				Amount:      order.DepositAmount,
				Currency:    order.Currency,
				ErrorCode:   errorCode,
			}.ToMap(),
			DedupeKey: fmt.Sprintf("payment_failed:%s:%s", intentRef, errorCode),
		})
	})
}

func (s *Service) CancelFromProvider(ctx context.Context, intentRef string, reason string) error {
	order, err := s.repo.FindByIntentRef(ctx, s.db, intentRef)
	if err != nil {
		return err
	}
	if order == nil || order.Status.Terminal() {
		return nil
	}

	now := s.clock.Now()
	cancelled := domain.OrderStatusCancelled
	reason = strings.TrimSpace(reason)
	var applied bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err = s.repo.ApplyTransition(ctx, tx, order.ID,
			[]domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusAuthorized},
			domain.OrderPatch{
				Status:             &cancelled,
				CancelledAt:        &now,
				CancellationReason: &reason,
				UpdatedAt:          now,
			},
		)
		if err != nil || !applied {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			Type:       events.EventOrderCancelled,
			Payload: events.OrderPayload{
				OrderID:     order.ID.String(),
				OrderNumber: order.OrderNumber,
				CustomerID:  order.CustomerID.String(),
				Currency:    order.Currency,
				Reason:      reason,
			}.ToMap(),
			DedupeKey: fmt.Sprintf("cancelled:%s", order.ID),
		})
	})
	if err != nil {
		return err
	}
	if applied {
		s.audit(ctx, auditdomain.ActorTypeSystem, "order.cancelled", order, map[string]any{
			"reason":    reason,
			"intent_id": intentRef,
		})
	}
	return nil
}

func (s *Service) NotifyActionRequired(ctx context.Context, intentRef string) error {
	order, err := s.repo.FindByIntentRef(ctx, s.db, intentRef)
	if err != nil {
		return err
	}
	if order == nil || order.Status.Terminal() {
		return nil
	}
	return s.outbox.Publish(ctx, events.Event{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Type:       events.EventActionRequired,
		Payload: events.OrderPayload{
			OrderID:     order.ID.String(),
			OrderNumber: order.OrderNumber,
			CustomerID:  order.CustomerID.String(),
			Amount:      order.DepositAmount,
			Currency:    order.Currency,
		}.ToMap(),
		DedupeKey: fmt.Sprintf("action_required:%s", intentRef),
	})
}

func (s *Service) newPayment(order *domain.Order, paymentType domain.PaymentType, amount int64, providerRef string, providerStatus string, now time.Time) *domain.Payment {
	payment := &domain.Payment{
		ID:        s.genID.Generate(),
		OrderID:   order.ID,
		Type:      paymentType,
		Amount:    amount,
		Currency:  order.Currency,
		CreatedAt: now,
	}
	if providerRef != "" {
		payment.ProviderTransactionID = &providerRef
	}
	payment.ProviderStatus = &providerStatus
	return payment
}

func (s *Service) audit(ctx context.Context, actor auditdomain.ActorType, action string, order *domain.Order, metadata map[string]any) {
	metadata["order_number"] = order.OrderNumber
	metadata["customer_id"] = order.CustomerID.String()
	if err := s.auditSvc.AuditLog(ctx, actor, "", action, "order", order.ID.String(), metadata); err != nil {
		s.log.Warn("order audit write failed", zap.String("action", action), zap.Error(err))
	}
}

// percentAmount applies an integer percentage with half-up rounding in minor
// units.
func percentAmount(amount int64, percent int) int64 {
	if amount <= 0 || percent <= 0 {
		return 0
	}
	return (amount*int64(percent) + 50) / 100
}

func declineCode(err error) string {
	message := err.Error()
	if idx := strings.LastIndex(message, ": "); idx >= 0 && idx+2 < len(message) {
		return message[idx+2:]
	}
	return "declined"
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
