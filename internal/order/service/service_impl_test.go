package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/serviora/bookpay/internal/audit/domain"
	"github.com/serviora/bookpay/internal/clock"
	"github.com/serviora/bookpay/internal/events"
	"github.com/serviora/bookpay/internal/gateway"
	"github.com/serviora/bookpay/internal/order/domain"
	"github.com/serviora/bookpay/internal/order/repository"
	policydomain "github.com/serviora/bookpay/internal/policy/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubPolicies struct {
	policy *policydomain.PaymentPolicy
	err    error
}

func (s stubPolicies) Resolve(context.Context, policydomain.ServiceType, *snowflake.ID) (*policydomain.PaymentPolicy, error) {
	return s.policy, s.err
}

func (s stubPolicies) Upsert(context.Context, policydomain.UpsertInput) (*policydomain.PaymentPolicy, error) {
	return s.policy, s.err
}

func (s stubPolicies) List(context.Context) ([]policydomain.PaymentPolicy, error) {
	return nil, nil
}

type noopAudit struct{}

func (noopAudit) AuditLog(context.Context, auditdomain.ActorType, string, string, string, string, map[string]any) error {
	return nil
}

type fakeGateway struct {
	retrieve    *gateway.IntentStatus
	retrieveErr error
	captureErr  error
	refundErr   error

	captureAmounts []int64
	refundAmounts  []int64
}

func (f *fakeGateway) Authorize(context.Context, gateway.AuthorizeRequest) (*gateway.IntentStatus, error) {
	return f.retrieve, f.retrieveErr
}

func (f *fakeGateway) Capture(_ context.Context, intentRef string, amount int64, _ string) (*gateway.CaptureResult, error) {
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	f.captureAmounts = append(f.captureAmounts, amount)
	return &gateway.CaptureResult{IntentID: intentRef, Status: gateway.IntentStatusSucceeded, AmountCaptured: amount}, nil
}

func (f *fakeGateway) Refund(_ context.Context, intentRef string, amount int64, _ string) (*gateway.RefundResult, error) {
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	f.refundAmounts = append(f.refundAmounts, amount)
	return &gateway.RefundResult{IntentID: intentRef, RefundID: "re_1", Status: "succeeded", Amount: amount}, nil
}

func (f *fakeGateway) RetrieveStatus(context.Context, string) (*gateway.IntentStatus, error) {
	return f.retrieve, f.retrieveErr
}

func setupOrderTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Order{}, &domain.Payment{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS notification_events (
			id INTEGER PRIMARY KEY,
			order_id INTEGER NOT NULL,
			customer_id INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT,
			dedupe_key TEXT,
			published BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_notification_events_dedupe
			ON notification_events (event_type, dedupe_key)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create notification_events: %v", err)
		}
	}
	return db
}

func defaultTestPolicy() *policydomain.PaymentPolicy {
	return &policydomain.PaymentPolicy{
		ID:                      snowflake.ID(777),
		ServiceType:             policydomain.ServiceTypeStandard,
		AutoCaptureHoursBefore:  24,
		IsAutoCaptureEnabled:    true,
		CancellationCutoffHours: 48,
		ForfeiturePercentage:    20,
		DepositPercentage:       30,
		RefundDays:              5,
	}
}

func newTestService(t *testing.T, db *gorm.DB, gw gateway.Adapter, policy *policydomain.PaymentPolicy) *Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return &Service{
		db:        db,
		log:       zap.NewNop(),
		genID:     node,
		clock:     clock.Fixed{At: testNow},
		repo:      repository.Provide(),
		policySvc: stubPolicies{policy: policy},
		gateway:   gw,
		auditSvc:  noopAudit{},
		outbox:    events.NewOutbox(db, node),
	}
}

func createTestOrder(t *testing.T, svc *Service, total int64, start time.Time) *domain.Order {
	t.Helper()
	order, err := svc.Create(context.Background(), domain.CreateInput{
		CustomerID:         snowflake.ID(42),
		ServiceType:        policydomain.ServiceTypeStandard,
		Currency:           "usd",
		TotalAmount:        total,
		ScheduledStartTime: start,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func confirmTestOrder(t *testing.T, svc *Service, gw *fakeGateway, orderID snowflake.ID, intentRef string) *domain.Order {
	t.Helper()
	gw.retrieve = &gateway.IntentStatus{ID: intentRef, Status: gateway.IntentStatusRequiresCapture}
	order, err := svc.ConfirmPayment(context.Background(), orderID, intentRef)
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	return order
}

func listTestPayments(t *testing.T, svc *Service, orderID snowflake.ID) []domain.Payment {
	t.Helper()
	_, payments, err := svc.Get(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	return payments
}

func TestCreateComputesDepositSplit(t *testing.T) {
	db := setupOrderTestDB(t)
	svc := newTestService(t, db, &fakeGateway{}, defaultTestPolicy())
	start := testNow.Add(72 * time.Hour)

	order := createTestOrder(t, svc, 12000, start)

	if order.DepositAmount != 3600 || order.RemainingAmount != 8400 {
		t.Fatalf("expected 3600/8400 split, got %d/%d", order.DepositAmount, order.RemainingAmount)
	}
	if order.Currency != "USD" {
		t.Fatalf("expected normalized currency, got %q", order.Currency)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending, got %s", order.Status)
	}
	wantCapture := start.Add(-24 * time.Hour)
	if order.ScheduledCaptureAt == nil || !order.ScheduledCaptureAt.Equal(wantCapture) {
		t.Fatalf("expected capture at %v, got %v", wantCapture, order.ScheduledCaptureAt)
	}
	if order.Policy.PolicyID != snowflake.ID(777) || order.Policy.ForfeiturePercentage != 20 {
		t.Fatalf("policy snapshot missing: %+v", order.Policy)
	}
}

func TestCreateRoundsDepositHalfUp(t *testing.T) {
	db := setupOrderTestDB(t)
	svc := newTestService(t, db, &fakeGateway{}, defaultTestPolicy())

	order := createTestOrder(t, svc, 9999, testNow.Add(72*time.Hour))

	// 30% of 9999 is 2999.7, rounded half-up to 3000.
	if order.DepositAmount != 3000 {
		t.Fatalf("expected deposit 3000, got %d", order.DepositAmount)
	}
	if order.DepositAmount+order.RemainingAmount != order.TotalAmount {
		t.Fatalf("split does not sum to total: %d + %d != %d",
			order.DepositAmount, order.RemainingAmount, order.TotalAmount)
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	db := setupOrderTestDB(t)
	svc := newTestService(t, db, &fakeGateway{}, defaultTestPolicy())
	start := testNow.Add(72 * time.Hour)

	_, err := svc.Create(context.Background(), domain.CreateInput{
		CustomerID: 42, ServiceType: policydomain.ServiceTypeStandard,
		Currency: "USD", TotalAmount: 0, ScheduledStartTime: start,
	})
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}

	_, err = svc.Create(context.Background(), domain.CreateInput{
		CustomerID: 42, ServiceType: policydomain.ServiceTypeStandard,
		Currency: "  ", TotalAmount: 100, ScheduledStartTime: start,
	})
	if !errors.Is(err, domain.ErrInvalidCurrency) {
		t.Fatalf("expected invalid currency, got %v", err)
	}

	_, err = svc.Create(context.Background(), domain.CreateInput{
		CustomerID: 42, ServiceType: policydomain.ServiceTypeStandard,
		Currency: "USD", TotalAmount: 100,
	})
	if !errors.Is(err, domain.ErrInvalidSchedule) {
		t.Fatalf("expected invalid schedule, got %v", err)
	}
}

func TestCreateWithPaymentMethodPlacesHold(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{retrieve: &gateway.IntentStatus{ID: "pi_hold", Status: gateway.IntentStatusRequiresCapture}}
	svc := newTestService(t, db, gw, defaultTestPolicy())

	order, err := svc.Create(context.Background(), domain.CreateInput{
		CustomerID:         snowflake.ID(42),
		ServiceType:        policydomain.ServiceTypeStandard,
		Currency:           "USD",
		TotalAmount:        12000,
		ScheduledStartTime: testNow.Add(72 * time.Hour),
		PaymentMethodRef:   "pm_card",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("hold must not authorize the order, got %s", order.Status)
	}
	if order.StripeIntentID == nil || *order.StripeIntentID != "pi_hold" {
		t.Fatalf("intent not stored: %v", order.StripeIntentID)
	}

	// Confirming with a different intent is rejected.
	_, err = svc.ConfirmPayment(context.Background(), order.ID, "pi_other")
	if !errors.Is(err, domain.ErrPaymentVerification) {
		t.Fatalf("expected verification failure, got %v", err)
	}

	confirmed, err := svc.ConfirmPayment(context.Background(), order.ID, "pi_hold")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != domain.OrderStatusAuthorized {
		t.Fatalf("expected authorized, got %s", confirmed.Status)
	}
}

func TestConfirmPaymentAuthorizes(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{}
	svc := newTestService(t, db, gw, defaultTestPolicy())
	order := createTestOrder(t, svc, 12000, testNow.Add(72*time.Hour))

	confirmed := confirmTestOrder(t, svc, gw, order.ID, "pi_abc")

	if confirmed.Status != domain.OrderStatusAuthorized {
		t.Fatalf("expected authorized, got %s", confirmed.Status)
	}
	if confirmed.StripeIntentID == nil || *confirmed.StripeIntentID != "pi_abc" {
		t.Fatalf("intent ref not stored: %v", confirmed.StripeIntentID)
	}

	payments := listTestPayments(t, svc, order.ID)
	if len(payments) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(payments))
	}
	entry := payments[0]
	if entry.Type != domain.PaymentTypeAuthorize || entry.Amount != 3600 {
		t.Fatalf("unexpected entry: %s %d", entry.Type, entry.Amount)
	}
}

func TestConfirmPaymentIdempotent(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{}
	svc := newTestService(t, db, gw, defaultTestPolicy())
	order := createTestOrder(t, svc, 12000, testNow.Add(72*time.Hour))

	confirmTestOrder(t, svc, gw, order.ID, "pi_abc")
	again, err := svc.ConfirmPayment(context.Background(), order.ID, "pi_abc")
	if err != nil {
		t.Fatalf("repeat confirm: %v", err)
	}
	if again.Status != domain.OrderStatusAuthorized {
		t.Fatalf("expected authorized, got %s", again.Status)
	}
	if payments := listTestPayments(t, svc, order.ID); len(payments) != 1 {
		t.Fatalf("expected single ledger entry after repeat, got %d", len(payments))
	}
}

func TestConfirmPaymentConflictsOnDifferentIntent(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{}
	svc := newTestService(t, db, gw, defaultTestPolicy())
	order := createTestOrder(t, svc, 12000, testNow.Add(72*time.Hour))

	confirmTestOrder(t, svc, gw, order.ID, "pi_abc")
	_, err := svc.ConfirmPayment(context.Background(), order.ID, "pi_other")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestConfirmPaymentRejectsUnheldIntent(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{retrieve: &gateway.IntentStatus{ID: "pi_abc", Status: gateway.IntentStatusRequiresAction}}
	svc := newTestService(t, db, gw, defaultTestPolicy())
	order := createTestOrder(t, svc, 12000, testNow.Add(72*time.Hour))

	_, err := svc.ConfirmPayment(context.Background(), order.ID, "pi_abc")
	if !errors.Is(err, domain.ErrPaymentVerification) {
		t.Fatalf("expected verification failure, got %v", err)
	}

	reloaded, _, err := svc.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if reloaded.Status != domain.OrderStatusPending {
		t.Fatalf("expected order untouched, got %s", reloaded.Status)
	}
}

func TestAutoCaptureNotDueBeforeSchedule(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{}
	svc := newTestService(t, db, gw, defaultTestPolicy())
	order := createTestOrder(t, svc, 12000, testNow.Add(72*time.Hour))
	confirmTestOrder(t, svc, gw, order.ID, "pi_abc")

	if err := svc.AutoCapture(context.Background(), order.ID); !errors.Is(err, domain.ErrCaptureNotDue) {
		t.Fatalf("expected capture not due, got %v", err)
	}
}

func TestAutoCaptureCapturesDeposit(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{}
	svc := newTestService(t, db, gw, defaultTestPolicy())
	start := testNow.Add(72 * time.Hour)
	order := createTestOrder(t, svc, 12000, start)
	confirmTestOrder(t, svc, gw, order.ID, "pi_abc")

	captureAt := start.Add(-24 * time.Hour)
	due, err := svc.DueForCapture(context.Background(), captureAt, 10)
	if err != nil {
		t.Fatalf("due for capture: %v", err)
	}
	if len(due) != 1 || due[0] != order.ID {
		t.Fatalf("expected order due for capture, got %v", due)
	}

	svc.clock = clock.Fixed{At: captureAt}
	if err := svc.AutoCapture(context.Background(), order.ID); err != nil {
		t.Fatalf("auto capture: %v", err)
	}

	reloaded, payments, err := svc.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if reloaded.Status != domain.OrderStatusCaptured {
		t.Fatalf("expected captured, got %s", reloaded.Status)
	}
	if len(gw.captureAmounts) != 1 || gw.captureAmounts[0] != 3600 {
		t.Fatalf("expected one capture of 3600, got %v", gw.captureAmounts)
	}
	if len(payments) != 2 || payments[1].Type != domain.PaymentTypeCapture {
		t.Fatalf("expected capture ledger entry, got %+v", payments)
	}

	due, err = svc.DueForCapture(context.Background(), captureAt, 10)
	if err != nil {
		t.Fatalf("due for capture: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("captured order still listed as due: %v", due)
	}

	// Repeating the call after success is a no-op.
	if err := svc.AutoCapture(context.Background(), order.ID); err != nil {
		t.Fatalf("repeat auto capture: %v", err)
	}
}

func TestAutoCaptureDeclineFencesOrder(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{}
	svc := newTestService(t, db, gw, defaultTestPolicy())
	start := testNow.Add(72 * time.Hour)
	order := createTestOrder(t, svc, 12000, start)
	confirmTestOrder(t, svc, gw, order.ID, "pi_abc")

	captureAt := start.Add(-24 * time.Hour)
	svc.clock = clock.Fixed{At: captureAt}
	gw.captureErr = fmt.Errorf("%w: card_declined", gateway.ErrGatewayDeclined)

	err := svc.AutoCapture(context.Background(), order.ID)
	if !errors.Is(err, gateway.ErrGatewayDeclined) {
		t.Fatalf("expected declined, got %v", err)
	}

	reloaded, payments, err := svc.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if reloaded.Status != domain.OrderStatusAuthorized {
		t.Fatalf("decline must not change status, got %s", reloaded.Status)
	}
	if reloaded.CaptureErrorCode == nil || *reloaded.CaptureErrorCode != "card_declined" {
		t.Fatalf("expected capture error code, got %v", reloaded.CaptureErrorCode)
	}
	last := payments[len(payments)-1]
	if last.Type != domain.PaymentTypeCapture || *last.ProviderStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected failed capture entry, got %+v", last)
	}

	due, err := svc.DueForCapture(context.Background(), captureAt, 10)
	if err != nil {
		t.Fatalf("due for capture: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("fenced order still listed as due: %v", due)
	}
}

func TestAutoCaptureTransientLeavesNoTrace(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{}
	svc := newTestService(t, db, gw, defaultTestPolicy())
	start := testNow.Add(72 * time.Hour)
	order := createTestOrder(t, svc, 12000, start)
	confirmTestOrder(t, svc, gw, order.ID, "pi_abc")

	svc.clock = clock.Fixed{At: start.Add(-24 * time.Hour)}
	gw.captureErr = gateway.ErrGatewayTransient

	if err := svc.AutoCapture(context.Background(), order.ID); !errors.Is(err, gateway.ErrGatewayTransient) {
		t.Fatalf("expected transient, got %v", err)
	}

	reloaded, payments, err := svc.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if reloaded.CaptureErrorCode != nil {
		t.Fatalf("transient failure must not fence the order")
	}
	if len(payments) != 1 {
		t.Fatalf("transient failure must not write ledger entries, got %d", len(payments))
	}
}

func TestCancelAtCutoffBoundaryIsFree(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{}
	svc := newTestService(t, db, gw, defaultTestPolicy())
	start := testNow.Add(96 * time.Hour)
	order := createTestOrder(t, svc, 12000, start)
	confirmTestOrder(t, svc, gw, order.ID, "pi_abc")

	// Exactly 48 hours ahead of start is still inside the free window.
	breakdown, err := svc.Cancel(context.Background(), order.ID, start.Add(-48*time.Hour), "changed plans")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if breakdown.ForfeitureAmount != 0 || breakdown.RefundAmount != 3600 {
		t.Fatalf("expected full refund, got forfeit %d refund %d",
			breakdown.ForfeitureAmount, breakdown.RefundAmount)
	}
	if len(gw.refundAmounts) != 1 || gw.refundAmounts[0] != 3600 {
		t.Fatalf("expected hold released for 3600, got %v", gw.refundAmounts)
	}
}

func TestCancelInsideCutoffSplitsDeposit(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{}
	svc := newTestService(t, db, gw, defaultTestPolicy())
	start := testNow.Add(96 * time.Hour)
	order := createTestOrder(t, svc, 12000, start)
	confirmTestOrder(t, svc, gw, order.ID, "pi_abc")

	svc.clock = clock.Fixed{At: start.Add(-24 * time.Hour)}
	if err := svc.AutoCapture(context.Background(), order.ID); err != nil {
		t.Fatalf("auto capture: %v", err)
	}

	breakdown, err := svc.Cancel(context.Background(), order.ID, start.Add(-30*time.Hour), "changed plans")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if breakdown.ForfeitureAmount != 720 || breakdown.RefundAmount != 2880 {
		t.Fatalf("expected 720/2880 split, got %d/%d",
			breakdown.ForfeitureAmount, breakdown.RefundAmount)
	}
	if breakdown.ForfeiturePercentage != 20 || breakdown.RefundDays != 5 {
		t.Fatalf("unexpected breakdown terms: %+v", breakdown)
	}
	if len(gw.refundAmounts) != 1 || gw.refundAmounts[0] != 2880 {
		t.Fatalf("expected refund of 2880, got %v", gw.refundAmounts)
	}

	payments := listTestPayments(t, svc, order.ID)
	var forfeit, refund int64
	for _, payment := range payments {
		switch payment.Type {
		case domain.PaymentTypeForfeit:
			forfeit += payment.Amount
		case domain.PaymentTypeRefund:
			refund += payment.Amount
		}
	}
	if forfeit != 720 || refund != 2880 {
		t.Fatalf("ledger does not match breakdown: forfeit %d refund %d", forfeit, refund)
	}
}

func TestCancelJustInsideBoundaryForfeits(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{}
	svc := newTestService(t, db, gw, defaultTestPolicy())
	start := testNow.Add(96 * time.Hour)
	order := createTestOrder(t, svc, 12000, start)
	confirmTestOrder(t, svc, gw, order.ID, "pi_abc")

	breakdown, err := svc.Cancel(context.Background(), order.ID, start.Add(-48*time.Hour+time.Minute), "late")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if breakdown.ForfeitureAmount != 720 || breakdown.RefundAmount != 2880 {
		t.Fatalf("expected 720/2880 just inside cutoff, got %d/%d",
			breakdown.ForfeitureAmount, breakdown.RefundAmount)
	}
}

func TestCancelAuthorizedForfeitsViaPartialCapture(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{}
	svc := newTestService(t, db, gw, defaultTestPolicy())
	start := testNow.Add(96 * time.Hour)
	order := createTestOrder(t, svc, 12000, start)
	confirmTestOrder(t, svc, gw, order.ID, "pi_abc")

	breakdown, err := svc.Cancel(context.Background(), order.ID, start.Add(-30*time.Hour), "late")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if breakdown.ForfeitureAmount != 720 || breakdown.RefundAmount != 2880 {
		t.Fatalf("expected 720/2880 split, got %d/%d",
			breakdown.ForfeitureAmount, breakdown.RefundAmount)
	}
	// An uncaptured hold settles by capturing only the forfeiture; the
	// processor releases the remainder.
	if len(gw.captureAmounts) != 1 || gw.captureAmounts[0] != 720 {
		t.Fatalf("expected partial capture of 720, got %v", gw.captureAmounts)
	}
	if len(gw.refundAmounts) != 0 {
		t.Fatalf("unexpected refund call: %v", gw.refundAmounts)
	}
}

func TestCancelPendingChargesNothing(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{}
	svc := newTestService(t, db, gw, defaultTestPolicy())
	order := createTestOrder(t, svc, 12000, testNow.Add(96*time.Hour))

	breakdown, err := svc.Cancel(context.Background(), order.ID, testNow, "never paid")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if breakdown.ChargedAmount != 0 || breakdown.ForfeitureAmount != 0 || breakdown.RefundAmount != 0 {
		t.Fatalf("pending cancel must not move money: %+v", breakdown)
	}
	if len(gw.captureAmounts) != 0 || len(gw.refundAmounts) != 0 {
		t.Fatalf("pending cancel must not call the processor")
	}
	if payments := listTestPayments(t, svc, order.ID); len(payments) != 0 {
		t.Fatalf("pending cancel must not write ledger entries, got %d", len(payments))
	}
}

func TestCancelPendingReleasesServerPlacedHold(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{retrieve: &gateway.IntentStatus{ID: "pi_hold", Status: gateway.IntentStatusRequiresCapture}}
	svc := newTestService(t, db, gw, defaultTestPolicy())

	order, err := svc.Create(context.Background(), domain.CreateInput{
		CustomerID:         snowflake.ID(42),
		ServiceType:        policydomain.ServiceTypeStandard,
		Currency:           "USD",
		TotalAmount:        12000,
		ScheduledStartTime: testNow.Add(96 * time.Hour),
		PaymentMethodRef:   "pm_card",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	breakdown, err := svc.Cancel(context.Background(), order.ID, testNow, "changed plans")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if breakdown.ChargedAmount != 0 || breakdown.ForfeitureAmount != 0 {
		t.Fatalf("unconfirmed hold must not charge: %+v", breakdown)
	}
	// The hold on the card is released in full even though nothing was
	// charged; otherwise it sits on the customer until the intent expires.
	if len(gw.refundAmounts) != 1 || gw.refundAmounts[0] != 3600 {
		t.Fatalf("expected hold release of 3600, got %v", gw.refundAmounts)
	}
	if len(gw.captureAmounts) != 0 {
		t.Fatalf("unexpected capture call: %v", gw.captureAmounts)
	}
	if payments := listTestPayments(t, svc, order.ID); len(payments) != 0 {
		t.Fatalf("releasing the hold must not write ledger entries, got %d", len(payments))
	}
}

func TestCancelIdempotent(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{}
	svc := newTestService(t, db, gw, defaultTestPolicy())
	start := testNow.Add(96 * time.Hour)
	// 3323 gives a deposit of 997 and a forfeiture of 199, where the
	// half-up rounding means the amounts no longer divide back to 20%.
	order := createTestOrder(t, svc, 3323, start)
	confirmTestOrder(t, svc, gw, order.ID, "pi_abc")

	first, err := svc.Cancel(context.Background(), order.ID, start.Add(-30*time.Hour), "late")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if first.ForfeitureAmount != 199 || first.ForfeiturePercentage != 20 {
		t.Fatalf("unexpected first breakdown: %+v", first)
	}
	entriesAfterFirst := len(listTestPayments(t, svc, order.ID))
	captureCalls := len(gw.captureAmounts)

	second, err := svc.Cancel(context.Background(), order.ID, start.Add(-1*time.Hour), "again")
	if err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	if second.ForfeitureAmount != first.ForfeitureAmount || second.RefundAmount != first.RefundAmount {
		t.Fatalf("repeat cancel changed the breakdown: %+v vs %+v", first, second)
	}
	if second.ForfeiturePercentage != first.ForfeiturePercentage {
		t.Fatalf("repeat cancel reported %d%%, first reported %d%%",
			second.ForfeiturePercentage, first.ForfeiturePercentage)
	}
	if len(listTestPayments(t, svc, order.ID)) != entriesAfterFirst {
		t.Fatalf("repeat cancel appended ledger entries")
	}
	if len(gw.captureAmounts) != captureCalls {
		t.Fatalf("repeat cancel called the processor again")
	}
}

func TestCancelCompletedRejected(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{}
	svc := newTestService(t, db, gw, defaultTestPolicy())
	start := testNow.Add(96 * time.Hour)
	order := createTestOrder(t, svc, 12000, start)
	confirmTestOrder(t, svc, gw, order.ID, "pi_abc")

	svc.clock = clock.Fixed{At: start.Add(-24 * time.Hour)}
	if err := svc.AutoCapture(context.Background(), order.ID); err != nil {
		t.Fatalf("auto capture: %v", err)
	}
	if _, err := svc.Complete(context.Background(), order.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err := svc.Cancel(context.Background(), order.ID, start.Add(-1*time.Hour), "too late")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestCompleteRequiresCapturedOrder(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{}
	svc := newTestService(t, db, gw, defaultTestPolicy())
	order := createTestOrder(t, svc, 12000, testNow.Add(96*time.Hour))

	if _, err := svc.Complete(context.Background(), order.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from pending, got %v", err)
	}

	confirmTestOrder(t, svc, gw, order.ID, "pi_abc")
	svc.clock = clock.Fixed{At: testNow.Add(96 * time.Hour)}
	if err := svc.AutoCapture(context.Background(), order.ID); err != nil {
		t.Fatalf("auto capture: %v", err)
	}

	completed, err := svc.Complete(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected completed, got %s", completed.Status)
	}

	// Repeating the call returns the completed order.
	if _, err := svc.Complete(context.Background(), order.ID); err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
}

func TestMarkPaymentFailedAppendsEntry(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{}
	svc := newTestService(t, db, gw, defaultTestPolicy())
	order := createTestOrder(t, svc, 12000, testNow.Add(96*time.Hour))
	confirmTestOrder(t, svc, gw, order.ID, "pi_abc")

	if err := svc.MarkPaymentFailed(context.Background(), "pi_abc", "card_declined", "Your card was declined."); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	reloaded, payments, err := svc.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if reloaded.Status != domain.OrderStatusAuthorized {
		t.Fatalf("failure record must not change status, got %s", reloaded.Status)
	}
	last := payments[len(payments)-1]
	if last.Type != domain.PaymentTypeAuthorize || *last.ProviderStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected failed authorize entry, got %+v", last)
	}
	if last.ErrorCode == nil || *last.ErrorCode != "card_declined" {
		t.Fatalf("expected error code recorded, got %v", last.ErrorCode)
	}

	// Unknown intents are ignored.
	if err := svc.MarkPaymentFailed(context.Background(), "pi_unknown", "x", "y"); err != nil {
		t.Fatalf("unknown intent: %v", err)
	}
}

func TestCancelFromProvider(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{}
	svc := newTestService(t, db, gw, defaultTestPolicy())
	order := createTestOrder(t, svc, 12000, testNow.Add(96*time.Hour))
	confirmTestOrder(t, svc, gw, order.ID, "pi_abc")

	if err := svc.CancelFromProvider(context.Background(), "pi_abc", "intent canceled at processor"); err != nil {
		t.Fatalf("cancel from provider: %v", err)
	}

	reloaded, _, err := svc.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if reloaded.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", reloaded.Status)
	}
	if len(gw.captureAmounts) != 0 || len(gw.refundAmounts) != 0 {
		t.Fatalf("processor-driven cancel must not call the gateway back")
	}

	// Terminal orders and unknown intents are no-ops.
	if err := svc.CancelFromProvider(context.Background(), "pi_abc", "again"); err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if err := svc.CancelFromProvider(context.Background(), "pi_unknown", "x"); err != nil {
		t.Fatalf("unknown intent: %v", err)
	}
}

func TestTieredScheduleOverridesCutoff(t *testing.T) {
	db := setupOrderTestDB(t)
	gw := &fakeGateway{}
	policy := defaultTestPolicy()
	policy.CancellationTiers = []policydomain.CancellationTier{
		{HoursBefore: 48, ForfeiturePercentage: 0},
		{HoursBefore: 24, ForfeiturePercentage: 20},
		{HoursBefore: 0, ForfeiturePercentage: 50},
	}
	svc := newTestService(t, db, gw, policy)
	start := testNow.Add(96 * time.Hour)
	order := createTestOrder(t, svc, 12000, start)
	confirmTestOrder(t, svc, gw, order.ID, "pi_abc")

	breakdown, err := svc.Cancel(context.Background(), order.ID, start.Add(-10*time.Hour), "very late")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if breakdown.ForfeitureAmount != 1800 || breakdown.RefundAmount != 1800 {
		t.Fatalf("expected 50%% tier split 1800/1800, got %d/%d",
			breakdown.ForfeitureAmount, breakdown.RefundAmount)
	}
}
