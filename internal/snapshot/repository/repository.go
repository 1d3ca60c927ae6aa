// Package repository owns all SQL against the usage_snapshots store. The
// merge is a single set-based upsert per row so interrupted runs stay
// convergent; readers always see the latest capture of each logical bucket.
package repository

import (
	"context"
	"time"

	snapshotdomain "github.com/smallbiznis/aimeter/internal/snapshot/domain"
	usagedomain "github.com/smallbiznis/aimeter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Repository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewRepository(p Params) *Repository {
	return &Repository{
		db:  p.DB,
		log: p.Log.Named("snapshot.repository"),
	}
}

// Upsert merges rows into the store by natural key. Existing rows keep their
// id and inserted_at; all metric fields and updated_at are overwritten, so
// re-running the same window self-heals late or corrected data. Returns the
// number of rows merged.
func (r *Repository) Upsert(ctx context.Context, rows []snapshotdomain.Row) (int, error) {
	for i, row := range rows {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		if err := r.db.WithContext(ctx).Exec(
			`INSERT INTO usage_snapshots (
				id, snapshot_date, service_type, usage_date, feature_key, model_key,
				feature_name, model_name,
				daily_unique_users, total_operations, total_credits,
				credits_per_user, credits_per_operation,
				inserted_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (snapshot_date, service_type, usage_date, feature_key, model_key)
			 DO UPDATE SET feature_name = EXCLUDED.feature_name,
			               model_name = EXCLUDED.model_name,
			               daily_unique_users = EXCLUDED.daily_unique_users,
			               total_operations = EXCLUDED.total_operations,
			               total_credits = EXCLUDED.total_credits,
			               credits_per_user = EXCLUDED.credits_per_user,
			               credits_per_operation = EXCLUDED.credits_per_operation,
			               updated_at = EXCLUDED.updated_at`,
			row.ID,
			row.SnapshotDate,
			row.ServiceType,
			row.UsageDate,
			row.FeatureKey,
			row.ModelKey,
			row.FeatureName,
			row.ModelName,
			row.DailyUniqueUsers,
			row.TotalOperations,
			row.TotalCredits,
			row.CreditsPerUser,
			row.CreditsPerOperation,
			row.InsertedAt,
			row.UpdatedAt,
		).Error; err != nil {
			return i, err
		}
	}
	return len(rows), nil
}

// LatestRows returns, for every logical bucket whose usage date falls inside
// the window, the row from the most recent capture. Older captures of the
// same bucket are retained in the store but never surface in views.
func (r *Repository) LatestRows(ctx context.Context, window usagedomain.Window) ([]snapshotdomain.Row, error) {
	var rows []snapshotdomain.Row
	err := r.db.WithContext(ctx).Raw(
		`SELECT s.*
		 FROM usage_snapshots s
		 WHERE s.usage_date >= ? AND s.usage_date < ?
		   AND s.snapshot_date = (
			SELECT MAX(s2.snapshot_date)
			FROM usage_snapshots s2
			WHERE s2.service_type = s.service_type
			  AND s2.usage_date = s.usage_date
			  AND s2.feature_key = s.feature_key
			  AND s2.model_key = s.model_key)
		 ORDER BY s.usage_date ASC, s.service_type ASC, s.feature_key ASC, s.model_key ASC`,
		window.Start,
		window.End,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// DailyTotals sums the latest captures to one credits figure per service and
// day. Feed for the anomaly detector and the forecast input builder.
func (r *Repository) DailyTotals(ctx context.Context, window usagedomain.Window) ([]snapshotdomain.DailyTotal, error) {
	type totalRow struct {
		ServiceType string    `gorm:"column:service_type"`
		UsageDate   time.Time `gorm:"column:usage_date"`
		Credits     float64   `gorm:"column:credits"`
	}
	var raw []totalRow
	err := r.db.WithContext(ctx).Raw(
		`SELECT s.service_type AS service_type,
		        s.usage_date AS usage_date,
		        SUM(s.total_credits) AS credits
		 FROM usage_snapshots s
		 WHERE s.usage_date >= ? AND s.usage_date < ?
		   AND s.snapshot_date = (
			SELECT MAX(s2.snapshot_date)
			FROM usage_snapshots s2
			WHERE s2.service_type = s.service_type
			  AND s2.usage_date = s.usage_date
			  AND s2.feature_key = s.feature_key
			  AND s2.model_key = s.model_key)
		 GROUP BY s.service_type, s.usage_date
		 ORDER BY s.service_type ASC, s.usage_date ASC`,
		window.Start,
		window.End,
	).Scan(&raw).Error
	if err != nil {
		return nil, err
	}

	totals := make([]snapshotdomain.DailyTotal, 0, len(raw))
	for _, row := range raw {
		totals = append(totals, snapshotdomain.DailyTotal{
			ServiceType: usagedomain.ServiceType(row.ServiceType),
			UsageDate:   usagedomain.Day(row.UsageDate),
			Credits:     row.Credits,
		})
	}
	return totals, nil
}

// Count returns the number of physical rows in the store.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Raw(`SELECT COUNT(1) FROM usage_snapshots`).Scan(&n).Error
	return n, err
}
