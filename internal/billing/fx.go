package billing

import (
	billingdomain "github.com/smallbiznis/tablemenu/internal/billing/domain"
	"github.com/smallbiznis/tablemenu/internal/billing/service"
	restaurantdomain "github.com/smallbiznis/tablemenu/internal/restaurant/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(service.NewService),
	fx.Provide(func(svc billingdomain.Service) restaurantdomain.Provisioner { return svc }),
)
