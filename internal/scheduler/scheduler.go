// Package scheduler is the thin trigger around the pipeline. The pipeline
// itself owns no timing; RunOnce is what a host cron invokes and RunForever
// is the optional internal ticker for environments without one.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/aimeter/internal/clock"
	"github.com/smallbiznis/aimeter/internal/pipeline"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	Pipeline *pipeline.Pipeline
	Clock    clock.Clock
	Log      *zap.Logger
	Config   Config `optional:"true"`
}

type Scheduler struct {
	pipeline *pipeline.Pipeline
	clock    clock.Clock
	log      *zap.Logger
	cfg      Config
}

func New(p Params) (*Scheduler, error) {
	if p.Pipeline == nil || p.Clock == nil || p.Log == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		pipeline: p.Pipeline,
		clock:    p.Clock,
		log:      p.Log.Named("scheduler"),
		cfg:      p.Config.withDefaults(),
	}, nil
}

// RunOnce executes a single pipeline period.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.pipeline.Run(ctx)
}

// RunForever runs a period immediately and then once per interval until the
// context is canceled. Overlap protection is not needed: runs are serialized
// by the loop, and a duplicated run is harmless by upsert idempotency.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduled run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

var Module = fx.Module("scheduler",
	fx.Provide(New),
)
