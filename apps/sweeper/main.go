// Command sweeper runs one scheduler pass (status sweep plus anomaly
// scan) and exits. Meant for cron-style deployments where the API
// process does not carry the background loop.
package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/scolarium/scolarium/internal/anomaly"
	"github.com/scolarium/scolarium/internal/clock"
	"github.com/scolarium/scolarium/internal/config"
	obsmetrics "github.com/scolarium/scolarium/internal/observability/metrics"
	"github.com/scolarium/scolarium/internal/scheduler"
	"github.com/scolarium/scolarium/internal/statussync"
	"github.com/scolarium/scolarium/pkg/db"
	"github.com/scolarium/scolarium/pkg/log"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		obsmetrics.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		statussync.Module,
		anomaly.Module,
		scheduler.Module,

		fx.Invoke(RunOnce),
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

func RunOnce(lc fx.Lifecycle, sched *scheduler.Scheduler, logger *zap.Logger, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := sched.RunOnce(context.Background()); err != nil {
					logger.Error("sweep run failed", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
	})
}
