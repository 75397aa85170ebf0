package limit

import (
	"github.com/smallbiznis/tablemenu/internal/limit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("limit.gate",
	fx.Provide(service.NewGate),
)
