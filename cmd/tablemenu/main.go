package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tablemenu/internal/authorization"
	"github.com/smallbiznis/tablemenu/internal/billing"
	"github.com/smallbiznis/tablemenu/internal/clock"
	"github.com/smallbiznis/tablemenu/internal/config"
	"github.com/smallbiznis/tablemenu/internal/entitlement"
	"github.com/smallbiznis/tablemenu/internal/limit"
	"github.com/smallbiznis/tablemenu/internal/menu"
	"github.com/smallbiznis/tablemenu/internal/migration"
	"github.com/smallbiznis/tablemenu/internal/observability"
	"github.com/smallbiznis/tablemenu/internal/payment"
	"github.com/smallbiznis/tablemenu/internal/plan"
	"github.com/smallbiznis/tablemenu/internal/ratelimit"
	"github.com/smallbiznis/tablemenu/internal/restaurant"
	"github.com/smallbiznis/tablemenu/internal/server"
	"github.com/smallbiznis/tablemenu/internal/subscription"
	"github.com/smallbiznis/tablemenu/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		ratelimit.Module,

		// Subscription lifecycle
		plan.Module,
		subscription.Module,
		entitlement.Module,
		payment.Module,
		limit.Module,
		billing.Module,

		// The backfill hook needs the plan catalog seeded first.
		restaurant.Module,
		menu.Module,

		authorization.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
