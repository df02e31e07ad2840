package audit

import (
	"github.com/serviora/bookpay/internal/audit/repository"
	"github.com/serviora/bookpay/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
