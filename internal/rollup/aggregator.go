// Package rollup folds normalized usage records into the daily grain every
// downstream consumer works at. Hourly and per-event sources collapse to one
// row per (usage_date, service, feature, model).
package rollup

import (
	"sort"
	"time"

	"github.com/smallbiznis/aimeter/internal/attribution"
	usagedomain "github.com/smallbiznis/aimeter/internal/usage/domain"
)

// DailyRollup is one day of one service's usage, broken down by feature and
// model. Derived ratios are zero-guarded: a day with credits but no users or
// operations reports 0, never NaN or Inf.
type DailyRollup struct {
	UsageDate   time.Time
	ServiceType usagedomain.ServiceType
	FeatureName string
	ModelName   string

	Credits    float64
	Operations int64

	// DailyUniqueUsers counts distinct canonical users attributed to this
	// bucket. Aggregate-only services always report 0 here.
	DailyUniqueUsers int64

	CreditsPerUser      float64
	CreditsPerOperation float64
}

// Aggregate folds records into daily rollups. Attributed rows, already at
// the daily grain, supply the unique-user counts; record credits are the
// source of truth for totals so unattributed spend is never lost.
func Aggregate(records []usagedomain.Record, attributed []attribution.Row) []DailyRollup {
	type key struct {
		usageDate   time.Time
		serviceType usagedomain.ServiceType
		featureName string
		modelName   string
	}

	buckets := make(map[key]*DailyRollup)
	for _, rec := range records {
		k := key{
			usageDate:   rec.UsageDate(),
			serviceType: rec.ServiceType,
			featureName: rec.FeatureName,
			modelName:   rec.ModelName,
		}
		b, ok := buckets[k]
		if !ok {
			b = &DailyRollup{
				UsageDate:   k.usageDate,
				ServiceType: k.serviceType,
				FeatureName: k.featureName,
				ModelName:   k.modelName,
			}
			buckets[k] = b
		}
		b.Credits += rec.Credits
		b.Operations += rec.Operations
	}

	users := make(map[key]map[string]struct{})
	for _, row := range attributed {
		k := key{
			usageDate:   row.UsageDate,
			serviceType: row.ServiceType,
			featureName: row.FeatureName,
			modelName:   row.ModelName,
		}
		if _, ok := buckets[k]; !ok {
			continue
		}
		set, ok := users[k]
		if !ok {
			set = make(map[string]struct{})
			users[k] = set
		}
		set[row.UserKey] = struct{}{}
	}

	out := make([]DailyRollup, 0, len(buckets))
	for k, b := range buckets {
		b.DailyUniqueUsers = int64(len(users[k]))
		if b.DailyUniqueUsers > 0 {
			b.CreditsPerUser = b.Credits / float64(b.DailyUniqueUsers)
		}
		if b.Operations > 0 {
			b.CreditsPerOperation = b.Credits / float64(b.Operations)
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.UsageDate.Equal(b.UsageDate) {
			return a.UsageDate.Before(b.UsageDate)
		}
		if a.ServiceType != b.ServiceType {
			return a.ServiceType < b.ServiceType
		}
		if a.FeatureName != b.FeatureName {
			return a.FeatureName < b.FeatureName
		}
		return a.ModelName < b.ModelName
	})
	return out
}

// FilterWindow keeps rollups whose usage date falls inside the window.
func FilterWindow(rollups []DailyRollup, window usagedomain.Window) []DailyRollup {
	out := make([]DailyRollup, 0, len(rollups))
	for _, r := range rollups {
		if window.Contains(r.UsageDate) {
			out = append(out, r)
		}
	}
	return out
}
