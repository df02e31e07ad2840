package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/serviora/bookpay/internal/order/domain"
	"gorm.io/gorm"
)

type repository struct{}

// Provide constructs the order repository.
func Provide() domain.Repository {
	return repository{}
}

func (repository) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Create(order).Error
}

func (repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	if err := db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (repository) FindByIntentRef(ctx context.Context, db *gorm.DB, intentRef string) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).
		Where("stripe_intent_id = ?", intentRef).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (repository) ApplyTransition(
	ctx context.Context,
	db *gorm.DB,
	id snowflake.ID,
	expected []domain.OrderStatus,
	patch domain.OrderPatch,
) (bool, error) {
	if len(expected) == 0 {
		return false, errors.New("missing_expected_status")
	}

	updates := map[string]any{"updated_at": patch.UpdatedAt}
	if patch.Status != nil {
		updates["status"] = *patch.Status
	}
	if patch.StripeIntentID != nil {
		updates["stripe_intent_id"] = *patch.StripeIntentID
	}
	if patch.StripeIntentStatus != nil {
		updates["stripe_intent_status"] = *patch.StripeIntentStatus
	}
	if patch.CaptureErrorCode != nil {
		updates["capture_error_code"] = *patch.CaptureErrorCode
	}
	if patch.AuthorizedAt != nil {
		updates["authorized_at"] = *patch.AuthorizedAt
	}
	if patch.CapturedAt != nil {
		updates["captured_at"] = *patch.CapturedAt
	}
	if patch.CompletedAt != nil {
		updates["completed_at"] = *patch.CompletedAt
	}
	if patch.CancelledAt != nil {
		updates["cancelled_at"] = *patch.CancelledAt
	}
	if patch.CancellationReason != nil {
		updates["cancellation_reason"] = *patch.CancellationReason
	}

	result := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND status IN ?", id, expected).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (repository) ListDueForCapture(
	ctx context.Context,
	db *gorm.DB,
	now time.Time,
	limit int,
) ([]snowflake.ID, error) {
	query := `SELECT id
		 FROM orders
		 WHERE status = ?
		   AND policy_is_auto_capture_enabled
		   AND scheduled_capture_at IS NOT NULL
		   AND scheduled_capture_at <= ?
		   AND capture_error_code IS NULL
		 ORDER BY scheduled_capture_at ASC, id ASC`
	// Concurrent workers skip rows another worker already claimed; the
	// conditional transition fences double capture either way.
	if db.Dialector.Name() == "postgres" {
		query += "\n\t\t FOR UPDATE SKIP LOCKED"
	}
	query += "\n\t\t LIMIT ?"

	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(query, domain.OrderStatusAuthorized, now, limit).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (repository) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (repository) ListPayments(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (repository) FindPaymentByProviderRef(
	ctx context.Context,
	db *gorm.DB,
	orderID snowflake.ID,
	paymentType domain.PaymentType,
	providerRef string,
) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).
		Where("order_id = ? AND type = ? AND provider_transaction_id = ?", orderID, paymentType, providerRef).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}
