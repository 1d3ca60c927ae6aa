package source

import (
	"context"
	"strings"
	"time"

	usagedomain "github.com/smallbiznis/aimeter/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// functionsRow mirrors the raw per-request event table for AI function
// calls. The source reports one row per request with the calling user, so
// identity is attributable directly. operation_count maps from tokens.
type functionsRow struct {
	UserName     string    `gorm:"column:user_name"`
	FunctionName string    `gorm:"column:function_name"`
	ModelName    string    `gorm:"column:model_name"`
	Tokens       int64     `gorm:"column:tokens"`
	CreditsUsed  float64   `gorm:"column:credits_used"`
	OccurredAt   time.Time `gorm:"column:occurred_at"`
}

type FunctionsAdapter struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewFunctionsAdapter(db *gorm.DB, log *zap.Logger) *FunctionsAdapter {
	return &FunctionsAdapter{db: db, log: log.Named("functions")}
}

func (a *FunctionsAdapter) ServiceType() usagedomain.ServiceType {
	return usagedomain.ServiceFunctions
}

func (a *FunctionsAdapter) Fetch(ctx context.Context, window usagedomain.Window) ([]usagedomain.Record, error) {
	var rows []functionsRow
	err := a.db.WithContext(ctx).Raw(
		`SELECT user_name, function_name, model_name, tokens, credits_used, occurred_at
		 FROM ai_function_usage
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
			ServiceType: usagedomain.ServiceFunctions,
			OccurredAt:  row.OccurredAt.UTC(),
			Credits:     row.CreditsUsed,
			Operations:  row.Tokens,
			UserKey:     strings.TrimSpace(row.UserName),
			FeatureName: strings.TrimSpace(row.FunctionName),
			ModelName:   strings.TrimSpace(row.ModelName),
		})
	}
	return records, nil
}
