// Package source normalizes heterogeneous raw usage-event tables into the
// shared usage record shape. Each adapter hard-codes the mapping for one
// service; downstream stages only ever see the normalized records.
package source

import (
	"context"

	usagedomain "github.com/smallbiznis/aimeter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Adapter reads one service's raw event table for a lookback window.
//
// Adapters return errors verbatim; the pipeline is responsible for the
// fail-closed policy (zero records for that service, run continues).
type Adapter interface {
	ServiceType() usagedomain.ServiceType
	Fetch(ctx context.Context, window usagedomain.Window) ([]usagedomain.Record, error)
}

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

// NewAdapters builds the full adapter set in pipeline order.
func NewAdapters(p Params) []Adapter {
	log := p.Log.Named("source")
	return []Adapter{
		NewFunctionsAdapter(p.DB, log),
		NewSearchAdapter(p.DB, log),
		NewAnalystAdapter(p.DB, log),
		NewDocProcessingAdapter(p.DB, log),
	}
}

var Module = fx.Module("source",
	fx.Provide(NewAdapters),
)
