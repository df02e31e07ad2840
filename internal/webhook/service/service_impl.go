package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/serviora/bookpay/internal/clock"
	orderdomain "github.com/serviora/bookpay/internal/order/domain"
	"github.com/serviora/bookpay/internal/webhook/domain"
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
	OrderSvc orderdomain.Service
	Adapters []domain.EventAdapter `group:"webhook_adapters"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	orderSvc orderdomain.Service
	adapters map[string]domain.EventAdapter
}

func NewService(p Params) domain.Service {
	adapters := make(map[string]domain.EventAdapter, len(p.Adapters))
	for _, a := range p.Adapters {
		adapters[a.Provider()] = a
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("webhook.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		orderSvc: p.OrderSvc,
		adapters: adapters,
	}
}

func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, signature string) error {
	adapter, ok := s.adapters[provider]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownProvider, provider)
	}

	event, err := adapter.VerifyAndParse(payload, signature)
	if err != nil {
		return err
	}

	record := &domain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(event.Payload),
		ReceivedAt:      s.clock.Now(),
	}
	if event.IntentRef != "" {
		intentRef := event.IntentRef
		record.IntentID = &intentRef
	}
	if event.ErrorCode != "" {
		errorCode := event.ErrorCode
		record.ErrorCode = &errorCode
	}
	if event.ErrorMessage != "" {
		errorMessage := event.ErrorMessage
		record.ErrorMessage = &errorMessage
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return err
	}
	if !inserted {
		existing, err := s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderID)
		if err != nil {
			return err
		}
		if existing != nil && existing.ProcessedAt != nil {
			s.log.Debug("webhook replay acknowledged",
				zap.String("provider", event.Provider),
				zap.String("event_id", event.ProviderID),
			)
			return nil
		}
		// An earlier delivery failed mid-dispatch; run it again.
	}

	if err := s.dispatch(ctx, event); err != nil {
		s.log.Error("webhook dispatch failed",
			zap.String("provider", event.Provider),
			zap.String("event_id", event.ProviderID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
		return err
	}
	return s.repo.MarkProcessed(ctx, s.db, event.Provider, event.ProviderID, s.clock.Now())
}

func (s *Service) RetryUnprocessed(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	records, err := s.repo.ListUnprocessed(ctx, s.db, olderThan, limit)
	if err != nil {
		return 0, err
	}

	retried := 0
	for i := range records {
		record := &records[i]
		if err := s.dispatch(ctx, eventFromRecord(record)); err != nil {
			s.log.Warn("webhook redispatch failed",
				zap.String("provider", record.Provider),
				zap.String("event_id", record.ProviderEventID),
				zap.String("event_type", string(record.EventType)),
				zap.Error(err),
			)
			continue
		}
		if err := s.repo.MarkProcessed(ctx, s.db, record.Provider, record.ProviderEventID, s.clock.Now()); err != nil {
			return retried, err
		}
		retried++
	}
	return retried, nil
}

// eventFromRecord rebuilds the normalized event from its persisted form so a
// stalled reconciliation can be rerun without re-verifying the payload.
func eventFromRecord(record *domain.EventRecord) *domain.PaymentEvent {
	return &domain.PaymentEvent{
		Provider:     record.Provider,
		ProviderID:   record.ProviderEventID,
		Type:         record.EventType,
		IntentRef:    deref(record.IntentID),
		ErrorCode:    deref(record.ErrorCode),
		ErrorMessage: deref(record.ErrorMessage),
		Payload:      []byte(record.Payload),
	}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func (s *Service) dispatch(ctx context.Context, event *domain.PaymentEvent) error {
	switch event.Type {
	case domain.EventPaymentFailed:
		return s.orderSvc.MarkPaymentFailed(ctx, event.IntentRef, event.ErrorCode, event.ErrorMessage)
	case domain.EventPaymentCanceled:
		return s.orderSvc.CancelFromProvider(ctx, event.IntentRef, "payment canceled at processor")
	case domain.EventRequiresAction:
		return s.orderSvc.NotifyActionRequired(ctx, event.IntentRef)
	}
	return nil
}
