// Package domain defines the durable snapshot row and the read shapes the
// reporting layer consumes.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/aimeter/internal/usage/domain"
)

// Row is one durable usage snapshot.
//
// The natural key is (snapshot_date, service_type, usage_date, feature_key,
// model_key). FeatureKey and ModelKey are the key-normalized forms: always
// non-null, empty string when the source had no value. FeatureName and
// ModelName keep the original nullable values for display. SnapshotDate
// records when the row was captured, UsageDate which day's usage it
// describes; they differ when late data is reprocessed.
type Row struct {
	ID snowflake.ID `gorm:"column:id;primaryKey"`

	SnapshotDate time.Time `gorm:"column:snapshot_date;uniqueIndex:ux_usage_snapshots_natural_key"`
	ServiceType  string    `gorm:"column:service_type;uniqueIndex:ux_usage_snapshots_natural_key"`
	UsageDate    time.Time `gorm:"column:usage_date;uniqueIndex:ux_usage_snapshots_natural_key"`
	FeatureKey   string    `gorm:"column:feature_key;not null;uniqueIndex:ux_usage_snapshots_natural_key"`
	ModelKey     string    `gorm:"column:model_key;not null;uniqueIndex:ux_usage_snapshots_natural_key"`

	FeatureName *string `gorm:"column:feature_name"`
	ModelName   *string `gorm:"column:model_name"`

	DailyUniqueUsers    int64   `gorm:"column:daily_unique_users"`
	TotalOperations     int64   `gorm:"column:total_operations"`
	TotalCredits        float64 `gorm:"column:total_credits"`
	CreditsPerUser      float64 `gorm:"column:credits_per_user"`
	CreditsPerOperation float64 `gorm:"column:credits_per_operation"`

	InsertedAt time.Time `gorm:"column:inserted_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (Row) TableName() string {
	return "usage_snapshots"
}

// DailyUsage is one day of one service, summed across feature and model.
// Shape of the daily rollup view.
type DailyUsage struct {
	UsageDate           time.Time
	ServiceType         usagedomain.ServiceType
	DailyUniqueUsers    int64
	TotalOperations     int64
	TotalCredits        float64
	CreditsPerUser      float64
	CreditsPerOperation float64
}

// ExportRow extends DailyUsage with the x30 linear projections the export
// view carries. Simple extrapolation, not a forecast.
type ExportRow struct {
	DailyUsage

	ProjectedMonthlyCostPerUser  float64
	ProjectedMonthlyTotalCredits float64
}

// HistoryRow extends DailyUsage with trailing-window lookups. WowGrowthPct
// is rounded to two decimals for display and nil while the series is younger
// than seven days.
type HistoryRow struct {
	DailyUsage

	Credits7dAgo *float64
	WowGrowthPct *float64
}

// DailyTotal is the minimal per-service daily series the anomaly detector
// and forecast builder read.
type DailyTotal struct {
	ServiceType usagedomain.ServiceType
	UsageDate   time.Time
	Credits     float64
}
