// Package debate wires the debate orchestration module.
package debate

import (
	"go.uber.org/fx"

	"github.com/boardroomhq/boardroom/internal/debate/engine"
)

var Module = fx.Module("debate",
	fx.Provide(engine.NewService),
)
