// Package forecast shapes snapshot history into per-service training series
// and maps model output back into a stable reporting shape. The model is an
// optional collaborator: every failure path lands on a typed empty result,
// never an error surfaced to the caller.
package forecast

import (
	"context"
	"time"

	"github.com/smallbiznis/aimeter/internal/clock"
	"github.com/smallbiznis/aimeter/internal/config"
	"github.com/smallbiznis/aimeter/internal/observability/metrics"
	snapshotservice "github.com/smallbiznis/aimeter/internal/snapshot/service"
	usagedomain "github.com/smallbiznis/aimeter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// SeriesPoint is one (timestamp, value) observation of a series.
type SeriesPoint struct {
	Timestamp time.Time
	Value     float64
}

// Series is one service's daily credit history, summed across feature and
// model, ordered by timestamp ascending. The minimum shape a time-series
// forecasting API needs.
type Series struct {
	ServiceType usagedomain.ServiceType
	Points      []SeriesPoint
}

// Point is one forecasted day for one service.
type Point struct {
	ServiceType       usagedomain.ServiceType
	ForecastDate      time.Time
	ForecastCredits   float64
	LowerBoundCredits float64
	UpperBoundCredits float64
}

// Forecaster is the external model boundary. Implementations may fail for
// any reason; the builder absorbs every failure into the empty fallback.
type Forecaster interface {
	Forecast(ctx context.Context, series Series, horizonDays int) ([]Point, error)
}

// Fallback reasons recorded on the metrics counter.
const (
	fallbackNoForecaster        = "forecaster_unavailable"
	fallbackInsufficientHistory = "insufficient_history"
	fallbackModelError          = "model_error"
)

type Params struct {
	fx.In

	Snapshots  *snapshotservice.Service
	Clock      clock.Clock
	Config     config.Config
	Log        *zap.Logger
	Forecaster Forecaster               `optional:"true"`
	Metrics    *metrics.PipelineMetrics `optional:"true"`
}

type Builder struct {
	snapshots  *snapshotservice.Service
	clock      clock.Clock
	cfg        config.Config
	log        *zap.Logger
	forecaster Forecaster
	metrics    *metrics.PipelineMetrics
}

func NewBuilder(p Params) *Builder {
	return &Builder{
		snapshots:  p.Snapshots,
		clock:      p.Clock,
		cfg:        p.Config,
		log:        p.Log.Named("forecast.builder"),
		forecaster: p.Forecaster,
		metrics:    p.Metrics,
	}
}

// BuildSeries reads the trailing snapshot history and returns one series per
// service, ordered by service then timestamp.
func (b *Builder) BuildSeries(ctx context.Context) ([]Series, error) {
	window := usagedomain.LookbackWindow(b.clock.Now(), b.cfg.ForecastLookbackDays)
	totals, err := b.snapshots.DailyTotals(ctx, window)
	if err != nil {
		return nil, err
	}

	byService := make(map[usagedomain.ServiceType][]SeriesPoint)
	order := make([]usagedomain.ServiceType, 0)
	for _, t := range totals {
		if _, ok := byService[t.ServiceType]; !ok {
			order = append(order, t.ServiceType)
		}
		byService[t.ServiceType] = append(byService[t.ServiceType], SeriesPoint{
			Timestamp: t.UsageDate,
			Value:     t.Credits,
		})
	}

	series := make([]Series, 0, len(order))
	for _, svc := range order {
		series = append(series, Series{ServiceType: svc, Points: byService[svc]})
	}
	return series, nil
}

// Forecast runs the model over every mature series. The result is always
// well typed and queryable: an unavailable model, a short series, or a model
// failure all yield zero points for that series, never an error. Only a
// snapshot store read failure aborts.
func (b *Builder) Forecast(ctx context.Context) ([]Point, error) {
	series, err := b.BuildSeries(ctx)
	if err != nil {
		return nil, err
	}

	points := make([]Point, 0)
	for _, s := range series {
		maturity := AssessMaturity(len(s.Points))
		if len(s.Points) < b.cfg.ForecastMinHistoryDays {
			// Invoking a model on a series this short would fail or
			// produce garbage intervals. Skip straight to the fallback.
			b.metrics.IncForecastFallback(fallbackInsufficientHistory)
			b.log.Info("series below history threshold",
				zap.String("service_type", string(s.ServiceType)),
				zap.Int("history_days", len(s.Points)),
				zap.String("maturity", maturity.Level),
			)
			continue
		}
		if b.forecaster == nil {
			b.metrics.IncForecastFallback(fallbackNoForecaster)
			continue
		}

		forecasted, err := b.forecaster.Forecast(ctx, s, b.cfg.ForecastHorizonDays)
		if err != nil {
			b.metrics.IncForecastFallback(fallbackModelError)
			b.log.Warn("forecast model failed, returning empty series",
				zap.String("service_type", string(s.ServiceType)),
				zap.Error(err),
			)
			continue
		}
		points = append(points, forecasted...)
	}
	return points, nil
}

var Module = fx.Module("forecast",
	fx.Provide(
		NewBuilder,
		fx.Annotate(NewNaiveForecaster, fx.As(new(Forecaster))),
	),
)
