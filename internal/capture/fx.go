package capture

import (
	"context"

	"github.com/serviora/bookpay/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("capture",
	fx.Provide(provideConfig),
	fx.Provide(NewWorker),
	fx.Invoke(runWorker),
)

func provideConfig(cfg config.Config) Config {
	return Config{
		BatchSize:    cfg.CaptureBatchSize,
		PollInterval: cfg.CapturePollInterval,
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
