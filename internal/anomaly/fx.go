package anomaly

import (
	"github.com/scolarium/scolarium/internal/anomaly/service"
	"go.uber.org/fx"
)

var Module = fx.Module("anomaly.service",
	fx.Provide(service.NewService),
)
