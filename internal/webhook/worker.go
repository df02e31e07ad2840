package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/serviora/bookpay/internal/clock"
	"github.com/serviora/bookpay/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// WorkerConfig controls the event retry sweep loop.
type WorkerConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// MinAge keeps the sweep away from deliveries still in flight.
	MinAge time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:    20,
		PollInterval: time.Minute,
		MinAge:       time.Minute,
	}
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	defaults := DefaultWorkerConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.MinAge <= 0 {
		c.MinAge = defaults.MinAge
	}
	return c
}

type WorkerParams struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	WebhookSvc domain.Service
	Config     WorkerConfig `optional:"true"`
}

// Worker re-dispatches webhook events whose reconciliation never completed.
// The transport acknowledges every verified delivery, so a failed dispatch
// survives only as an unprocessed event record; this sweep is what drains
// those records.
type Worker struct {
	log        *zap.Logger
	clock      clock.Clock
	webhookSvc domain.Service
	cfg        WorkerConfig
}

func NewWorker(p WorkerParams) *Worker {
	return &Worker{
		log:        p.Log.Named("webhook.worker"),
		clock:      p.Clock,
		webhookSvc: p.WebhookSvc,
		cfg:        p.Config.withDefaults(),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("webhook retry sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce sweeps a single batch and reports how many events were reconciled.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	if w.webhookSvc == nil {
		return 0, errors.New("webhook_worker_unavailable")
	}
	olderThan := w.clock.Now().Add(-w.cfg.MinAge)
	return w.webhookSvc.RetryUnprocessed(ctx, olderThan, w.cfg.BatchSize)
}
