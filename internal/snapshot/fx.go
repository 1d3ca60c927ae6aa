package snapshot

import (
	"github.com/smallbiznis/aimeter/internal/snapshot/repository"
	"github.com/smallbiznis/aimeter/internal/snapshot/service"
	"go.uber.org/fx"
)

var Module = fx.Module("snapshot",
	fx.Provide(
		repository.NewRepository,
		service.NewService,
	),
)
