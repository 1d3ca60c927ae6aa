// Package anomaly derives week-over-week trend signals from the snapshot
// history and classifies severity. Output is read-only derived data, never
// written back to the store.
package anomaly

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/smallbiznis/aimeter/internal/observability/metrics"
	snapshotdomain "github.com/smallbiznis/aimeter/internal/snapshot/domain"
	snapshotservice "github.com/smallbiznis/aimeter/internal/snapshot/service"
	usagedomain "github.com/smallbiznis/aimeter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type AlertLevel string

const (
	AlertInsufficientData AlertLevel = "INSUFFICIENT_DATA"
	AlertNormal           AlertLevel = "NORMAL"
	AlertMedium           AlertLevel = "MEDIUM"
	AlertHigh             AlertLevel = "HIGH"
	AlertDeclining        AlertLevel = "DECLINING"
)

// Classification thresholds, as fractions of the 7-day-ago value.
// Classification always uses the unrounded fraction; the rounded display
// percentage would flicker at the boundaries.
const (
	highThreshold    = 0.50
	mediumThreshold  = 0.25
	declineThreshold = -0.25
)

// Result is the trend evaluation of one service on one usage date.
// Percentage fields are rounded to two decimals for display and nil when the
// history needed to compute them is absent.
type Result struct {
	ServiceType usagedomain.ServiceType
	UsageDate   time.Time

	WowGrowthPct          *float64
	TwoWeekGrowthPct      *float64
	DeviationFrom7dAvgPct *float64

	AlertLevel AlertLevel
}

// Classify maps an unrounded week-over-week growth fraction to a level.
// Growth of exactly 25% is MEDIUM and exactly 50% is still MEDIUM; HIGH
// starts strictly above 50%.
func Classify(growthFraction float64) AlertLevel {
	switch {
	case growthFraction > highThreshold:
		return AlertHigh
	case growthFraction >= mediumThreshold:
		return AlertMedium
	case growthFraction <= declineThreshold:
		return AlertDeclining
	default:
		return AlertNormal
	}
}

// Evaluate computes a Result for every (service, usage date) in the totals.
// A service's first seven days always classify INSUFFICIENT_DATA, as does
// any day whose 7-day-ago comparison point is absent or zero.
func Evaluate(totals []snapshotdomain.DailyTotal) []Result {
	type key struct {
		serviceType usagedomain.ServiceType
		usageDate   time.Time
	}
	byDay := make(map[key]float64, len(totals))
	for _, t := range totals {
		byDay[key{serviceType: t.ServiceType, usageDate: usagedomain.Day(t.UsageDate)}] = t.Credits
	}

	results := make([]Result, 0, len(totals))
	for _, t := range totals {
		day := usagedomain.Day(t.UsageDate)
		res := Result{
			ServiceType: t.ServiceType,
			UsageDate:   day,
			AlertLevel:  AlertInsufficientData,
		}

		if prior, ok := byDay[key{serviceType: t.ServiceType, usageDate: day.AddDate(0, 0, -7)}]; ok && prior != 0 {
			fraction := (t.Credits - prior) / prior
			pct := round2(fraction * 100)
			res.WowGrowthPct = &pct
			res.AlertLevel = Classify(fraction)
		}

		if prior, ok := byDay[key{serviceType: t.ServiceType, usageDate: day.AddDate(0, 0, -14)}]; ok && prior != 0 {
			pct := round2((t.Credits - prior) / prior * 100)
			res.TwoWeekGrowthPct = &pct
		}

		var sum float64
		var n int
		for i := 1; i <= 7; i++ {
			if v, ok := byDay[key{serviceType: t.ServiceType, usageDate: day.AddDate(0, 0, -i)}]; ok {
				sum += v
				n++
			}
		}
		if n == 7 && sum != 0 {
			avg := sum / 7
			pct := round2((t.Credits - avg) / avg * 100)
			res.DeviationFrom7dAvgPct = &pct
		}

		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.ServiceType != b.ServiceType {
			return a.ServiceType < b.ServiceType
		}
		return a.UsageDate.Before(b.UsageDate)
	})
	return results
}

// Summarize counts results per alert level. Shape of the anomaly-summary
// view.
func Summarize(results []Result) map[AlertLevel]int {
	out := make(map[AlertLevel]int)
	for _, r := range results {
		out[r.AlertLevel]++
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type Params struct {
	fx.In

	Snapshots *snapshotservice.Service
	Log       *zap.Logger
	Metrics   *metrics.PipelineMetrics `optional:"true"`
}

// Detector reads the snapshot store and evaluates the trailing window.
type Detector struct {
	snapshots *snapshotservice.Service
	log       *zap.Logger
	metrics   *metrics.PipelineMetrics
}

func NewDetector(p Params) *Detector {
	return &Detector{
		snapshots: p.Snapshots,
		log:       p.Log.Named("anomaly.detector"),
		metrics:   p.Metrics,
	}
}

// Detect evaluates every service day inside the window. The totals are
// fetched over a window widened by 14 days so comparison points just before
// the window still resolve; only in-window days are reported.
func (d *Detector) Detect(ctx context.Context, window usagedomain.Window) ([]Result, error) {
	lookup := usagedomain.Window{Start: window.Start.AddDate(0, 0, -14), End: window.End}
	totals, err := d.snapshots.DailyTotals(ctx, lookup)
	if err != nil {
		return nil, err
	}

	all := Evaluate(totals)
	results := make([]Result, 0, len(all))
	for _, r := range all {
		if !window.Contains(r.UsageDate) {
			continue
		}
		d.metrics.IncAnomalyAlert(string(r.AlertLevel))
		results = append(results, r)
	}
	return results, nil
}

var Module = fx.Module("anomaly",
	fx.Provide(NewDetector),
)
