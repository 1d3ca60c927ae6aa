package source

import (
	"context"
	"strings"
	"time"

	usagedomain "github.com/smallbiznis/aimeter/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// analystRow mirrors the raw per-message table for the analyst service. The
// source carries no direct identity, only a query reference that the
// attribution resolver joins against the query log. operation_count maps
// from message_count.
type analystRow struct {
	QueryID       string    `gorm:"column:query_id"`
	SemanticModel string    `gorm:"column:semantic_model"`
	MessageCount  int64     `gorm:"column:message_count"`
	CreditsUsed   float64   `gorm:"column:credits_used"`
	OccurredAt    time.Time `gorm:"column:occurred_at"`
}

type AnalystAdapter struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewAnalystAdapter(db *gorm.DB, log *zap.Logger) *AnalystAdapter {
	return &AnalystAdapter{db: db, log: log.Named("analyst")}
}

func (a *AnalystAdapter) ServiceType() usagedomain.ServiceType {
	return usagedomain.ServiceAnalyst
}

func (a *AnalystAdapter) Fetch(ctx context.Context, window usagedomain.Window) ([]usagedomain.Record, error) {
	var rows []analystRow
	err := a.db.WithContext(ctx).Raw(
		`SELECT query_id, semantic_model, message_count, credits_used, occurred_at
		 FROM ai_analyst_usage
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
			ServiceType: usagedomain.ServiceAnalyst,
			OccurredAt:  row.OccurredAt.UTC(),
			Credits:     row.CreditsUsed,
			Operations:  row.MessageCount,
			QueryRef:    strings.TrimSpace(row.QueryID),
			FeatureName: strings.TrimSpace(row.SemanticModel),
		})
	}
	return records, nil
}
