package importer

import (
	"github.com/scolarium/scolarium/internal/importer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("importer.service",
	fx.Provide(service.NewService),
)
