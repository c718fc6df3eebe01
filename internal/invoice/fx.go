// Package invoice wires the invoicing module.
package invoice

import (
	"go.uber.org/fx"

	"github.com/boardroomhq/boardroom/internal/invoice/render"
	"github.com/boardroomhq/boardroom/internal/invoice/service"
)

var Module = fx.Module("invoice",
	fx.Provide(render.NewHTMLRenderer),
	fx.Provide(render.NewPDFRenderer),
	fx.Provide(service.NewService),
)
