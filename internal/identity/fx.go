package identity

import (
	"github.com/tenantry/tenantry/internal/identity/repository"
	"github.com/tenantry/tenantry/internal/identity/service"
	"go.uber.org/fx"
)

var Module = fx.Module("identity.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
