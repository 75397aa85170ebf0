package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tablemenu/internal/config"
	entitlementdomain "github.com/smallbiznis/tablemenu/internal/entitlement/domain"
	limitdomain "github.com/smallbiznis/tablemenu/internal/limit/domain"
	obsmetrics "github.com/smallbiznis/tablemenu/internal/observability/metrics"
	"github.com/smallbiznis/tablemenu/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const lockKeyMenu = "tablemenu:lock:menu:%s"

type Gate struct {
	log       *zap.Logger
	resolver  entitlementdomain.Resolver
	counter   limitdomain.Counter
	mutex     ratelimit.Mutex
	serialize bool
	lockTTL   time.Duration
	metrics   *obsmetrics.Metrics
}

type GateParam struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	Resolver entitlementdomain.Resolver
	Counter  limitdomain.Counter
	Mutex    ratelimit.Mutex
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

func NewGate(p GateParam) limitdomain.Gate {
	ttl := p.Cfg.Limits.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Gate{
		log:       p.Log.Named("limit.gate"),
		resolver:  p.Resolver,
		counter:   p.Counter,
		mutex:     p.Mutex,
		serialize: p.Cfg.Limits.Serialize && p.Mutex != nil,
		lockTTL:   ttl,
		metrics:   p.Metrics,
	}
}

func (g *Gate) CheckCategoryCreation(ctx context.Context, restaurantID snowflake.ID) error {
	budget, err := g.CategoryBudget(ctx, restaurantID)
	if err != nil {
		return err
	}
	return g.consume(ctx, budget, "category", restaurantID)
}

func (g *Gate) CheckItemCreation(ctx context.Context, categoryID, restaurantID snowflake.ID) error {
	budget, err := g.ItemBudget(ctx, categoryID, restaurantID)
	if err != nil {
		return err
	}
	return g.consume(ctx, budget, "item", restaurantID)
}

func (g *Gate) CategoryBudget(ctx context.Context, restaurantID snowflake.ID) (*limitdomain.Budget, error) {
	limits, err := g.resolver.LimitsFor(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	if limits.CategoryLimit == nil {
		return limitdomain.UnlimitedBudget(), nil
	}
	used, err := g.counter.CountCategories(ctx, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("count categories: %w", err)
	}
	return limitdomain.NewBudget(*limits.CategoryLimit, used, limitdomain.ErrCategoryLimitExceeded), nil
}

func (g *Gate) ItemBudget(ctx context.Context, categoryID, restaurantID snowflake.ID) (*limitdomain.Budget, error) {
	limits, err := g.resolver.LimitsFor(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	if limits.ItemLimit == nil {
		return limitdomain.UnlimitedBudget(), nil
	}
	used, err := g.counter.CountItems(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}
	return limitdomain.NewBudget(*limits.ItemLimit, used, limitdomain.ErrItemLimitExceeded), nil
}

func (g *Gate) Serialize(ctx context.Context, restaurantID snowflake.ID, fn func(ctx context.Context) error) error {
	if !g.serialize {
		return fn(ctx)
	}

	locked := false
	err := ratelimit.WithLock(ctx, g.mutex, fmt.Sprintf(lockKeyMenu, restaurantID.String()), g.lockTTL, func(ctx context.Context) error {
		locked = true
		return fn(ctx)
	})
	if err != nil && !locked {
		return fmt.Errorf("acquire menu lock: %w", err)
	}
	return err
}

func (g *Gate) consume(ctx context.Context, budget *limitdomain.Budget, kind string, restaurantID snowflake.ID) error {
	if err := budget.Consume(); err != nil {
		g.metrics.RecordLimitDenied(ctx, kind)
		g.log.Info("menu limit reached",
			zap.String("kind", kind),
			zap.String("restaurant_id", restaurantID.String()),
		)
		return err
	}
	return nil
}

