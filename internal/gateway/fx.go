package gateway

import (
	"github.com/serviora/bookpay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gateway",
	fx.Provide(func(cfg config.Config, log *zap.Logger) Adapter {
		return NewStripeGateway(cfg.StripeSecretKey, cfg.GatewayTimeout, log)
	}),
)
