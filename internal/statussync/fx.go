package statussync

import (
	"github.com/scolarium/scolarium/internal/statussync/service"
	"go.uber.org/fx"
)

var Module = fx.Module("statussync.service",
	fx.Provide(service.NewService),
)
