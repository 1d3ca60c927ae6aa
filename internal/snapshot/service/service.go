// Package service implements the snapshot upsert engine and the reporting
// views built over the snapshot store.
package service

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/aimeter/internal/clock"
	"github.com/smallbiznis/aimeter/internal/observability/metrics"
	"github.com/smallbiznis/aimeter/internal/rollup"
	snapshotdomain "github.com/smallbiznis/aimeter/internal/snapshot/domain"
	"github.com/smallbiznis/aimeter/internal/snapshot/repository"
	usagedomain "github.com/smallbiznis/aimeter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Repo    *repository.Repository
	Clock   clock.Clock
	GenID   *snowflake.Node
	Log     *zap.Logger
	Metrics *metrics.PipelineMetrics `optional:"true"`
}

type Service struct {
	repo    *repository.Repository
	clock   clock.Clock
	genID   *snowflake.Node
	log     *zap.Logger
	metrics *metrics.PipelineMetrics
}

func NewService(p Params) *Service {
	return &Service{
		repo:    p.Repo,
		clock:   p.Clock,
		genID:   p.GenID,
		log:     p.Log.Named("snapshot.engine"),
		metrics: p.Metrics,
	}
}

// Merge folds the rollups whose usage date falls inside the reprocessing
// window into the store. The snapshot date is the capture day, so re-running
// within the same day overwrites in place and the operation is idempotent.
func (s *Service) Merge(ctx context.Context, rollups []rollup.DailyRollup, window usagedomain.Window) (int, error) {
	now := s.clock.Now().UTC()
	snapshotDate := usagedomain.Day(now)

	rows := make([]snapshotdomain.Row, 0, len(rollups))
	for _, r := range rollups {
		if !window.Contains(r.UsageDate) {
			continue
		}
		rows = append(rows, snapshotdomain.Row{
			ID:           s.genID.Generate(),
			SnapshotDate: snapshotDate,
			ServiceType:  string(r.ServiceType),
			UsageDate:    r.UsageDate,
			FeatureKey:   r.FeatureName,
			ModelKey:     r.ModelName,
			FeatureName:  optional(r.FeatureName),
			ModelName:    optional(r.ModelName),

			DailyUniqueUsers:    r.DailyUniqueUsers,
			TotalOperations:     r.Operations,
			TotalCredits:        r.Credits,
			CreditsPerUser:      r.CreditsPerUser,
			CreditsPerOperation: r.CreditsPerOperation,

			InsertedAt: now,
			UpdatedAt:  now,
		})
	}

	merged, err := s.repo.Upsert(ctx, rows)
	if err != nil {
		return merged, err
	}
	s.metrics.AddSnapshotsUpserted(merged)
	s.log.Info("snapshot merge complete",
		zap.Int("rows", merged),
		zap.Time("snapshot_date", snapshotDate),
	)
	return merged, nil
}

// optional maps the empty-string key sentinel back to null for display.
func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// DailyUsageView sums the latest captures to one row per service and day.
func (s *Service) DailyUsageView(ctx context.Context, window usagedomain.Window) ([]snapshotdomain.DailyUsage, error) {
	rows, err := s.repo.LatestRows(ctx, window)
	if err != nil {
		return nil, err
	}

	type key struct {
		usageDate   time.Time
		serviceType string
	}
	type agg struct {
		users      int64
		operations int64
		credits    float64
	}
	buckets := make(map[key]*agg)
	for _, row := range rows {
		k := key{usageDate: usagedomain.Day(row.UsageDate), serviceType: row.ServiceType}
		b, ok := buckets[k]
		if !ok {
			b = &agg{}
			buckets[k] = b
		}
		b.users += row.DailyUniqueUsers
		b.operations += row.TotalOperations
		b.credits += row.TotalCredits
	}

	out := make([]snapshotdomain.DailyUsage, 0, len(buckets))
	for k, b := range buckets {
		row := snapshotdomain.DailyUsage{
			UsageDate:        k.usageDate,
			ServiceType:      usagedomain.ServiceType(k.serviceType),
			DailyUniqueUsers: b.users,
			TotalOperations:  b.operations,
			TotalCredits:     b.credits,
		}
		if b.users > 0 {
			row.CreditsPerUser = b.credits / float64(b.users)
		}
		if b.operations > 0 {
			row.CreditsPerOperation = b.credits / float64(b.operations)
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.UsageDate.Equal(b.UsageDate) {
			return a.UsageDate.Before(b.UsageDate)
		}
		return a.ServiceType < b.ServiceType
	})
	return out, nil
}

// ExportView adds the x30 linear projections to the daily view. The factor
// is a documented extrapolation for budgeting, not a forecast.
func (s *Service) ExportView(ctx context.Context, window usagedomain.Window) ([]snapshotdomain.ExportRow, error) {
	daily, err := s.DailyUsageView(ctx, window)
	if err != nil {
		return nil, err
	}
	out := make([]snapshotdomain.ExportRow, 0, len(daily))
	for _, row := range daily {
		out = append(out, snapshotdomain.ExportRow{
			DailyUsage:                   row,
			ProjectedMonthlyCostPerUser:  row.CreditsPerUser * 30,
			ProjectedMonthlyTotalCredits: row.TotalCredits * 30,
		})
	}
	return out, nil
}

// HistoryView adds trailing-window lookups to the daily view. Rows younger
// than seven days of service history carry nil growth fields.
func (s *Service) HistoryView(ctx context.Context, window usagedomain.Window) ([]snapshotdomain.HistoryRow, error) {
	daily, err := s.DailyUsageView(ctx, window)
	if err != nil {
		return nil, err
	}

	// The lookup window reaches 7 days before the view window so the oldest
	// rows still find their comparison point.
	lookup := usagedomain.Window{Start: window.Start.AddDate(0, 0, -7), End: window.End}
	totals, err := s.repo.DailyTotals(ctx, lookup)
	if err != nil {
		return nil, err
	}
	type key struct {
		serviceType usagedomain.ServiceType
		usageDate   time.Time
	}
	byDay := make(map[key]float64, len(totals))
	for _, t := range totals {
		byDay[key{serviceType: t.ServiceType, usageDate: usagedomain.Day(t.UsageDate)}] = t.Credits
	}

	out := make([]snapshotdomain.HistoryRow, 0, len(daily))
	for _, row := range daily {
		h := snapshotdomain.HistoryRow{DailyUsage: row}
		prior, ok := byDay[key{serviceType: row.ServiceType, usageDate: row.UsageDate.AddDate(0, 0, -7)}]
		if ok {
			credits := prior
			h.Credits7dAgo = &credits
			if prior != 0 {
				pct := round2((row.TotalCredits - prior) / prior * 100)
				h.WowGrowthPct = &pct
			}
		}
		out = append(out, h)
	}
	return out, nil
}

// DailyTotals exposes the per-service daily credit series.
func (s *Service) DailyTotals(ctx context.Context, window usagedomain.Window) ([]snapshotdomain.DailyTotal, error) {
	return s.repo.DailyTotals(ctx, window)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
