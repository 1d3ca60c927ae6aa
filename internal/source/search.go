package source

import (
	"context"
	"strings"
	"time"

	usagedomain "github.com/smallbiznis/aimeter/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// searchRow mirrors the raw hourly serving-aggregate table. The source has
// no identity concept at all: attribution for this service is an explicit
// zero, a platform limitation rather than a bug. operation_count maps from
// request_count, the closest available operation semantics.
type searchRow struct {
	ServiceName  string    `gorm:"column:service_name"`
	UsageHour    time.Time `gorm:"column:usage_hour"`
	RequestCount int64     `gorm:"column:request_count"`
	CreditsUsed  float64   `gorm:"column:credits_used"`
}

type SearchAdapter struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewSearchAdapter(db *gorm.DB, log *zap.Logger) *SearchAdapter {
	return &SearchAdapter{db: db, log: log.Named("search")}
}

func (a *SearchAdapter) ServiceType() usagedomain.ServiceType {
	return usagedomain.ServiceSearch
}

func (a *SearchAdapter) Fetch(ctx context.Context, window usagedomain.Window) ([]usagedomain.Record, error) {
	var rows []searchRow
	err := a.db.WithContext(ctx).Raw(
		`SELECT service_name, usage_hour, request_count, credits_used
		 FROM ai_search_usage
		 WHERE usage_hour >= ? AND usage_hour < ?`,
		window.Start,
		window.End,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]usagedomain.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, usagedomain.Record{
			ServiceType: usagedomain.ServiceSearch,
			OccurredAt:  row.UsageHour.UTC(),
			Credits:     row.CreditsUsed,
			Operations:  row.RequestCount,
			FeatureName: strings.TrimSpace(row.ServiceName),
		})
	}
	return records, nil
}
