package membership

import (
	"github.com/tenantry/tenantry/internal/membership/repository"
	"github.com/tenantry/tenantry/internal/membership/service"
	"go.uber.org/fx"
)

var Module = fx.Module("membership.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
