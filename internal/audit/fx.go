package audit

import (
	"github.com/tenantry/tenantry/internal/audit/repository"
	"github.com/tenantry/tenantry/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
