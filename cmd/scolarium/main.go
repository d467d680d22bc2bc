package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/scolarium/scolarium/internal/clock"
	"github.com/scolarium/scolarium/internal/config"
	"github.com/scolarium/scolarium/internal/migration"
	obsmetrics "github.com/scolarium/scolarium/internal/observability/metrics"
	"github.com/scolarium/scolarium/internal/scheduler"
	"github.com/scolarium/scolarium/internal/server"
	"github.com/scolarium/scolarium/pkg/db"
	"github.com/scolarium/scolarium/pkg/log"
	"github.com/scolarium/scolarium/pkg/telemetry"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		log.Module,
		telemetry.Module,
		obsmetrics.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface plus every domain service it wires
		server.Module,

		// Background sweeps
		scheduler.Module,
		fx.Invoke(StartScheduler),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func StartScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.RunForever(context.Background())
			return nil
		},
	})
}
