package policy

import (
	"github.com/serviora/bookpay/internal/policy/repository"
	"github.com/serviora/bookpay/internal/policy/service"
	"go.uber.org/fx"
)

var Module = fx.Module("policy.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
