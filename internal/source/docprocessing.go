package source

import (
	"context"
	"strings"
	"time"

	usagedomain "github.com/smallbiznis/aimeter/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// docProcessingRow mirrors the raw per-document extraction table. Rows carry
// the submitting user directly. operation_count maps from page_count.
type docProcessingRow struct {
	UserName    string    `gorm:"column:user_name"`
	BuildName   string    `gorm:"column:build_name"`
	PageCount   int64     `gorm:"column:page_count"`
	CreditsUsed float64   `gorm:"column:credits_used"`
	OccurredAt  time.Time `gorm:"column:occurred_at"`
}

type DocProcessingAdapter struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewDocProcessingAdapter(db *gorm.DB, log *zap.Logger) *DocProcessingAdapter {
	return &DocProcessingAdapter{db: db, log: log.Named("docprocessing")}
}

func (a *DocProcessingAdapter) ServiceType() usagedomain.ServiceType {
	return usagedomain.ServiceDocProcessing
}

func (a *DocProcessingAdapter) Fetch(ctx context.Context, window usagedomain.Window) ([]usagedomain.Record, error) {
	var rows []docProcessingRow
	err := a.db.WithContext(ctx).Raw(
		`SELECT user_name, build_name, page_count, credits_used, occurred_at
		 FROM doc_processing_usage
		 WHERE occurred_at >= ? AND occurred_at < ?`,
		window.Start,
		window.End,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]usagedomain.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, usagedomain.Record{
			ServiceType: usagedomain.ServiceDocProcessing,
			OccurredAt:  row.OccurredAt.UTC(),
			Credits:     row.CreditsUsed,
			Operations:  row.PageCount,
			UserKey:     strings.TrimSpace(row.UserName),
			FeatureName: strings.TrimSpace(row.BuildName),
		})
	}
	return records, nil
}
