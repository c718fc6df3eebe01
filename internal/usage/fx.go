// Package usage wires the usage metering module.
package usage

import (
	"go.uber.org/fx"

	"github.com/boardroomhq/boardroom/internal/usage/service"
)

var Module = fx.Module("usage",
	fx.Provide(service.NewService),
)
