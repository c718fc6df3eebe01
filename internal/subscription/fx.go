// Package subscription wires the subscription module.
package subscription

import (
	"go.uber.org/fx"

	"github.com/boardroomhq/boardroom/internal/subscription/service"
)

var Module = fx.Module("subscription",
	fx.Provide(service.NewService),
)
