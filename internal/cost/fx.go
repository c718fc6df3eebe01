// Package cost wires the cost calculation module.
package cost

import (
	"go.uber.org/fx"

	"github.com/boardroomhq/boardroom/internal/cost/service"
)

var Module = fx.Module("cost",
	fx.Provide(service.NewService),
)
