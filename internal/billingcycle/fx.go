// Package billingcycle wires the billing cycle module.
package billingcycle

import (
	"go.uber.org/fx"

	"github.com/boardroomhq/boardroom/internal/billingcycle/service"
)

var Module = fx.Module("billingcycle",
	fx.Provide(service.NewService),
)
