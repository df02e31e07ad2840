package webhook

import (
	"context"

	"github.com/serviora/bookpay/internal/config"
	"github.com/serviora/bookpay/internal/webhook/adapter"
	"github.com/serviora/bookpay/internal/webhook/domain"
	"github.com/serviora/bookpay/internal/webhook/repository"
	"github.com/serviora/bookpay/internal/webhook/service"
	"go.uber.org/fx"
)

// Module wires the webhook reconciler, its provider adapters and the retry
// sweep that drains acknowledged-but-unprocessed events.
var Module = fx.Module("webhook",
	fx.Provide(
		repository.Provide,
		service.NewService,
		provideWorkerConfig,
		NewWorker,
		fx.Annotate(
			func(cfg config.Config) domain.EventAdapter {
				return adapter.NewStripeAdapter(cfg.StripeWebhookSecret)
			},
			fx.ResultTags(`group:"webhook_adapters"`),
		),
	),
	fx.Invoke(runWorker),
)

func provideWorkerConfig(cfg config.Config) WorkerConfig {
	return WorkerConfig{
		BatchSize:    cfg.WebhookRetryBatchSize,
		PollInterval: cfg.WebhookRetryInterval,
	}.withDefaults()
}

func runWorker(lc fx.Lifecycle, worker *Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go worker.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
