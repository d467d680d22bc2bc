package rollover

import (
	"github.com/scolarium/scolarium/internal/rollover/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rollover.service",
	fx.Provide(service.NewService),
)
