package organization

import (
	"github.com/tenantry/tenantry/internal/organization/repository"
	"github.com/tenantry/tenantry/internal/organization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organization.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
