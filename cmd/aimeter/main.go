package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/aimeter/internal/anomaly"
	"github.com/smallbiznis/aimeter/internal/attribution"
	"github.com/smallbiznis/aimeter/internal/clock"
	"github.com/smallbiznis/aimeter/internal/config"
	"github.com/smallbiznis/aimeter/internal/forecast"
	"github.com/smallbiznis/aimeter/internal/migration"
	"github.com/smallbiznis/aimeter/internal/observability"
	"github.com/smallbiznis/aimeter/internal/pipeline"
	"github.com/smallbiznis/aimeter/internal/scheduler"
	"github.com/smallbiznis/aimeter/internal/snapshot"
	"github.com/smallbiznis/aimeter/internal/source"
	"github.com/smallbiznis/aimeter/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		source.Module,
		attribution.Module,
		snapshot.Module,
		anomaly.Module,
		forecast.Module,
		pipeline.Module,
		scheduler.Module,

		fx.Invoke(Start),
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

// Start runs one pipeline period and exits, unless RUN_MODE=loop selects the
// internal ticker. A host cron invoking the once mode is the expected setup.
func Start(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg config.Config, s *scheduler.Scheduler, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if cfg.RunMode == config.RunModeLoop {
					s.RunForever(context.Background())
					return
				}
				if err := s.RunOnce(context.Background()); err != nil {
					log.Error("pipeline run failed", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
					return
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
	})
}
