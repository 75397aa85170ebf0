package restaurant

import (
	"context"

	restaurantdomain "github.com/smallbiznis/tablemenu/internal/restaurant/domain"
	"github.com/smallbiznis/tablemenu/internal/restaurant/repository"
	"github.com/smallbiznis/tablemenu/internal/restaurant/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("restaurant.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Invoke(backfillDefaults),
)

// backfillDefaults provisions the default subscription for restaurants that
// predate provisioning. It must be registered after the plan catalog seed.
func backfillDefaults(lc fx.Lifecycle, svc restaurantdomain.Service, provisioner restaurantdomain.Provisioner, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return Backfill(ctx, svc, provisioner, log)
		},
	})
}

func Backfill(ctx context.Context, svc restaurantdomain.Service, provisioner restaurantdomain.Provisioner, log *zap.Logger) error {
	ids, err := svc.ListIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := provisioner.ProvisionDefault(ctx, id); err != nil {
			log.Warn("default subscription backfill failed",
				zap.String("restaurant_id", id.String()),
				zap.Error(err),
			)
		}
	}
	log.Named("restaurant").Info("default subscription backfill complete", zap.Int("restaurants", len(ids)))
	return nil
}
