package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/tablemenu/internal/authorization"
	billingdomain "github.com/smallbiznis/tablemenu/internal/billing/domain"
	"github.com/smallbiznis/tablemenu/internal/config"
	menudomain "github.com/smallbiznis/tablemenu/internal/menu/domain"
	"github.com/smallbiznis/tablemenu/internal/observability"
	obsmiddleware "github.com/smallbiznis/tablemenu/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tablemenu/internal/observability/metrics"
	obstracing "github.com/smallbiznis/tablemenu/internal/observability/tracing"
	"github.com/smallbiznis/tablemenu/internal/ratelimit"
	restaurantdomain "github.com/smallbiznis/tablemenu/internal/restaurant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	billingSvc     billingdomain.Service
	restaurantSvc  restaurantdomain.Service
	menuSvc        menudomain.Service
	authzSvc       authorization.Service
	paymentLimiter *ratelimit.PaymentLimiter
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	BillingSvc     billingdomain.Service
	RestaurantSvc  restaurantdomain.Service
	MenuSvc        menudomain.Service
	AuthzSvc       authorization.Service
	PaymentLimiter *ratelimit.PaymentLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		billingSvc:     p.BillingSvc,
		restaurantSvc:  p.RestaurantSvc,
		menuSvc:        p.MenuSvc,
		authzSvc:       p.AuthzSvc,
		paymentLimiter: p.PaymentLimiter,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Plans --------
	api.GET("/subscriptions/plans", s.ListPlans)

	// -------- Restaurants --------
	api.POST("/restaurants", s.CreateRestaurant)

	restaurant := api.Group("/restaurants/:id", s.RestaurantContext())
	{
		// -------- Subscription --------
		restaurant.GET("/subscription", s.GetSubscription)
		restaurant.GET("/subscription/history", s.ListSubscriptionHistory)
		restaurant.POST("/subscription", s.PaymentRateLimit(), s.PurchaseSubscription)
		restaurant.POST("/subscription/refresh", s.PaymentRateLimit(), s.RefreshSubscription)
		restaurant.POST("/subscription/cancel", s.CancelSubscription)
		restaurant.POST("/subscription/grant-trial",
			s.authorizeAction(authorization.ObjectSubscription, authorization.ActionSubscriptionGrantTrial),
			s.GrantTrial,
		)

		// -------- Menu --------
		restaurant.GET("/menu-categories", s.ListMenuCategories)
		restaurant.POST("/menu-categories", s.CreateMenuCategory)
		restaurant.GET("/menu-categories/:category_id/items", s.ListMenuItems)
		restaurant.POST("/menu-categories/:category_id/items", s.CreateMenuItem)
		restaurant.POST("/menu-categories/:category_id/import-csv", s.ImportMenuCSV)
	}
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	admin.POST("/restaurants/:id/subscription/grant",
		s.RestaurantContext(),
		s.authorizeAction(authorization.ObjectSubscription, authorization.ActionSubscriptionGrant),
		s.GrantSubscription,
	)
}
