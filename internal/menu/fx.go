package menu

import (
	"github.com/smallbiznis/tablemenu/internal/menu/repository"
	"github.com/smallbiznis/tablemenu/internal/menu/service"
	"go.uber.org/fx"
)

var Module = fx.Module("menu.service",
	fx.Provide(repository.Provide),
	fx.Provide(repository.NewCounter),
	fx.Provide(service.NewService),
)
