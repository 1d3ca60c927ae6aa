package attribution

import (
	"go.uber.org/fx"
)

var Module = fx.Module("attribution",
	fx.Provide(NewResolver),
)
