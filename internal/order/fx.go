package order

import (
	"github.com/serviora/bookpay/internal/order/repository"
	"github.com/serviora/bookpay/internal/order/service"
	"go.uber.org/fx"
)

// Module wires the order ledger repository and service.
var Module = fx.Module("order",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
