package risk

import (
	"github.com/scolarium/scolarium/internal/risk/service"
	"go.uber.org/fx"
)

var Module = fx.Module("risk.service",
	fx.Provide(service.NewService),
)
