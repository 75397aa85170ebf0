package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/smallbiznis/tablemenu/internal/entitlement/domain"
	plandomain "github.com/smallbiznis/tablemenu/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/tablemenu/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Resolver struct {
	log     *zap.Logger
	subSvc  subscriptiondomain.Service
	planSvc plandomain.Service
}

type ResolverParam struct {
	fx.In

	Log     *zap.Logger
	SubSvc  subscriptiondomain.Service
	PlanSvc plandomain.Service
}

func NewResolver(p ResolverParam) entitlementdomain.Resolver {
	return &Resolver{
		log:     p.Log.Named("entitlement.resolver"),
		subSvc:  p.SubSvc,
		planSvc: p.PlanSvc,
	}
}

// LimitsFor sweeps expired records, then derives limits from the active plan.
func (r *Resolver) LimitsFor(ctx context.Context, restaurantID snowflake.ID) (entitlementdomain.Limits, error) {
	active, err := r.subSvc.GetActive(ctx, restaurantID)
	if err != nil {
		return entitlementdomain.Limits{}, err
	}
	if active == nil {
		return entitlementdomain.DefaultLimits(), nil
	}

	plan, err := r.planSvc.GetPlan(ctx, active.PlanCode)
	if err != nil {
		if errors.Is(err, plandomain.ErrPlanNotFound) {
			r.log.Warn("active subscription references unknown plan",
				zap.String("restaurant_id", restaurantID.String()),
				zap.String("plan_code", active.PlanCode),
			)
			return entitlementdomain.DefaultLimits(), nil
		}
		return entitlementdomain.Limits{}, err
	}
	return ForPlan(*plan), nil
}

// ForPlan returns the limits a plan grants on its own.
func ForPlan(plan plandomain.Plan) entitlementdomain.Limits {
	if plan.IsFullAccess {
		return entitlementdomain.Limits{}
	}
	return entitlementdomain.Limits{
		CategoryLimit: copyInt(plan.CategoryLimit),
		ItemLimit:     copyInt(plan.ItemLimit),
	}
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
