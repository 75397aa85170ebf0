package plan

import (
	"context"

	"github.com/smallbiznis/tablemenu/internal/config"
	plandomain "github.com/smallbiznis/tablemenu/internal/plan/domain"
	"github.com/smallbiznis/tablemenu/internal/plan/repository"
	"github.com/smallbiznis/tablemenu/internal/plan/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("plan.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Invoke(seedCatalog),
)

// seedCatalog upserts the configured catalog at startup and again after every
// successful hot reload of plans.yml.
func seedCatalog(lc fx.Lifecycle, holder *config.PlanCatalogHolder, svc plandomain.Service, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.UpsertCatalog(ctx, service.CatalogFromConfig(holder.Get()))
		},
	})

	holder.OnChange(func(defs []config.PlanDefinition) {
		if err := svc.UpsertCatalog(context.Background(), service.CatalogFromConfig(defs)); err != nil {
			log.Warn("plan catalog reload not persisted", zap.Error(err))
		}
	})
}
