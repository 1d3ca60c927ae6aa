// Package pipeline orchestrates one metering run: collect, attribute,
// rollup, snapshot, then the read-only anomaly and forecast stages. Stages
// execute strictly in that order; nothing downstream sees partial results.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/aimeter/internal/anomaly"
	"github.com/smallbiznis/aimeter/internal/attribution"
	"github.com/smallbiznis/aimeter/internal/clock"
	"github.com/smallbiznis/aimeter/internal/config"
	"github.com/smallbiznis/aimeter/internal/forecast"
	"github.com/smallbiznis/aimeter/internal/observability/logger"
	"github.com/smallbiznis/aimeter/internal/observability/metrics"
	"github.com/smallbiznis/aimeter/internal/rollup"
	snapshotservice "github.com/smallbiznis/aimeter/internal/snapshot/service"
	"github.com/smallbiznis/aimeter/internal/source"
	usagedomain "github.com/smallbiznis/aimeter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const stageTimeout = 10 * time.Minute

type Params struct {
	fx.In

	Adapters  []source.Adapter
	Resolver  *attribution.Resolver
	Snapshots *snapshotservice.Service
	Detector  *anomaly.Detector
	Forecast  *forecast.Builder
	Clock     clock.Clock
	Config    config.Config
	Log       *zap.Logger
	Metrics   *metrics.PipelineMetrics `optional:"true"`
}

type Pipeline struct {
	adapters  []source.Adapter
	resolver  *attribution.Resolver
	snapshots *snapshotservice.Service
	detector  *anomaly.Detector
	forecast  *forecast.Builder
	clock     clock.Clock
	cfg       config.Config
	log       *zap.Logger
	metrics   *metrics.PipelineMetrics
}

func New(p Params) *Pipeline {
	return &Pipeline{
		adapters:  p.Adapters,
		resolver:  p.Resolver,
		snapshots: p.Snapshots,
		detector:  p.Detector,
		forecast:  p.Forecast,
		clock:     p.Clock,
		cfg:       p.Config,
		log:       p.Log.Named("pipeline"),
		metrics:   p.Metrics,
	}
}

// Run executes one full metering period. A new invocation with the same
// window is always safe: the snapshot merge is idempotent, so duplicate or
// out-of-order runs converge to the same store state.
func (p *Pipeline) Run(ctx context.Context) error {
	runID := uuid.NewString()
	log := logger.WithRun(p.log, runID)
	start := p.clock.Now()

	rollupWindow := usagedomain.LookbackWindow(start, p.cfg.RollupLookbackDays)
	reprocessWindow := usagedomain.LookbackWindow(start, p.cfg.SnapshotReprocessDays)

	log.Info("pipeline run started",
		zap.Time("window_start", rollupWindow.Start),
		zap.Time("window_end", rollupWindow.End),
		zap.Time("reprocess_start", reprocessWindow.Start),
	)

	var records []usagedomain.Record
	if err := p.runStage(ctx, log, "collect", func(ctx context.Context) error {
		records = p.collect(ctx, log, rollupWindow)
		return nil
	}); err != nil {
		return err
	}

	var attributed attribution.Result
	if err := p.runStage(ctx, log, "attribute", func(ctx context.Context) (err error) {
		attributed, err = p.resolver.Resolve(ctx, records)
		return err
	}); err != nil {
		return err
	}

	var rollups []rollup.DailyRollup
	if err := p.runStage(ctx, log, "rollup", func(ctx context.Context) error {
		rollups = rollup.Aggregate(records, attributed.Rows)
		return nil
	}); err != nil {
		return err
	}

	var merged int
	if err := p.runStage(ctx, log, "snapshot", func(ctx context.Context) (err error) {
		merged, err = p.snapshots.Merge(ctx, rollups, reprocessWindow)
		return err
	}); err != nil {
		return err
	}

	// Anomaly and forecast read the store but never gate the run; their
	// failures degrade the output, not the pipeline.
	var anomalies []anomaly.Result
	if err := p.runStage(ctx, log, "anomaly", func(ctx context.Context) (err error) {
		anomalies, err = p.detector.Detect(ctx, reprocessWindow)
		return err
	}); err != nil {
		log.Warn("anomaly stage failed, continuing", zap.Error(err))
	}

	var forecastPoints []forecast.Point
	if err := p.runStage(ctx, log, "forecast", func(ctx context.Context) (err error) {
		forecastPoints, err = p.forecast.Forecast(ctx)
		return err
	}); err != nil {
		log.Warn("forecast stage failed, continuing", zap.Error(err))
	}

	summary := anomaly.Summarize(anomalies)
	log.Info("pipeline run complete",
		zap.Int("records", len(records)),
		zap.Int("attributed_rows", len(attributed.Rows)),
		zap.Float64("unattributed_credits", attributed.UnattributedCredits),
		zap.Float64("unmatched_credits", attributed.UnmatchedCredits),
		zap.Int("rollups", len(rollups)),
		zap.Int("snapshots_merged", merged),
		zap.Int("anomaly_high", summary[anomaly.AlertHigh]),
		zap.Int("anomaly_medium", summary[anomaly.AlertMedium]),
		zap.Int("anomaly_declining", summary[anomaly.AlertDeclining]),
		zap.Int("forecast_points", len(forecastPoints)),
		zap.Duration("duration", p.clock.Now().Sub(start)),
	)
	return nil
}

func (p *Pipeline) runStage(parent context.Context, log *zap.Logger, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, stageTimeout)
	defer cancel()

	err := fn(ctx)
	p.metrics.ObserveStageDuration(name, time.Since(start))
	if err != nil {
		p.metrics.IncStageError(name)
		log.Warn("stage failed", zap.String("stage", name), zap.Error(err))
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// collect runs every adapter over the window. A failing adapter contributes
// zero records for its service; the run continues with whatever subset of
// services could be read. Invalid records are dropped with a counter.
func (p *Pipeline) collect(ctx context.Context, log *zap.Logger, window usagedomain.Window) []usagedomain.Record {
	now := p.clock.Now()
	records := make([]usagedomain.Record, 0)

	for _, adapter := range p.adapters {
		serviceType := string(adapter.ServiceType())
		fetched, err := adapter.Fetch(ctx, window)
		if err != nil {
			p.metrics.IncSourceFailure(serviceType)
			log.Warn("source unavailable, contributing zero records",
				zap.String("service_type", serviceType),
				zap.Error(err),
			)
			continue
		}

		kept := 0
		for _, rec := range fetched {
			if reason := rec.Validate(now); reason != "" {
				p.metrics.IncRecordRejected(serviceType, reason)
				continue
			}
			records = append(records, rec)
			kept++
		}
		p.metrics.AddSourceRecords(serviceType, kept)
		log.Debug("source collected",
			zap.String("service_type", serviceType),
			zap.Int("fetched", len(fetched)),
			zap.Int("kept", kept),
		)
	}
	return records
}

var Module = fx.Module("pipeline",
	fx.Provide(New),
)
