package capture

import (
	"context"
	"errors"
	"time"

	"github.com/serviora/bookpay/internal/clock"
	"github.com/serviora/bookpay/internal/gateway"
	orderdomain "github.com/serviora/bookpay/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	OrderSvc orderdomain.Service
	Config   Config `optional:"true"`
}

// Worker drives automatic deposit capture: it polls for authorized orders
// whose scheduled capture time has passed and captures each one. Failures
// are per order; a declined card fences that order without stopping the
// batch.
type Worker struct {
	log      *zap.Logger
	clock    clock.Clock
	orderSvc orderdomain.Service
	cfg      Config
}

func NewWorker(p Params) *Worker {
	return &Worker{
		log:      p.Log.Named("capture.worker"),
		clock:    p.Clock,
		orderSvc: p.OrderSvc,
		cfg:      p.Config.withDefaults(),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("capture run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce processes a single batch and reports how many orders were
// captured.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	if w.orderSvc == nil {
		return 0, errors.New("capture_worker_unavailable")
	}

	due, err := w.orderSvc.DueForCapture(ctx, w.clock.Now(), w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	captured := 0
	for _, orderID := range due {
		if err := w.orderSvc.AutoCapture(ctx, orderID); err != nil {
			switch {
			case errors.Is(err, gateway.ErrGatewayDeclined):
				w.log.Warn("deposit capture declined",
					zap.String("order_id", orderID.String()),
					zap.Error(err),
				)
			case errors.Is(err, orderdomain.ErrConflict),
				errors.Is(err, orderdomain.ErrInvalidTransition):
				// Another worker or an explicit cancellation got there first.
			default:
				w.log.Warn("deposit capture failed",
					zap.String("order_id", orderID.String()),
					zap.Error(err),
				)
			}
			continue
		}
		captured++
	}
	return captured, nil
}
