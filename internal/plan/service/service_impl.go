package service

import (
	"context"
	"strings"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/tablemenu/internal/clock"
	"github.com/smallbiznis/tablemenu/internal/config"
	plandomain "github.com/smallbiznis/tablemenu/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  plandomain.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  plandomain.Repository
}

func NewService(p ServiceParam) plandomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("plan.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// UpsertCatalog writes every plan in one transaction. Position follows the
// catalog order so listings keep the declared sequence. Stored plans missing
// from the catalog are hidden; they stay resolvable by code for the
// subscriptions that still reference them.
func (s *Service) UpsertCatalog(ctx context.Context, catalog plandomain.Catalog) error {
	if len(catalog) == 0 {
		return plandomain.ErrEmptyCatalog
	}

	now := s.clock.Now()
	var retired int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		codes := make([]string, 0, len(catalog))
		for i := range catalog {
			plan := catalog[i]
			plan.Code = normalizeCode(plan.Code)
			if plan.Code == "" {
				return plandomain.ErrInvalidCode
			}
			if plan.Features == nil {
				plan.Features = datatypes.JSONSlice[string]{}
			}
			plan.Position = i
			plan.CreatedAt = now
			plan.UpdatedAt = now
			if err := s.repo.Upsert(ctx, tx, &plan); err != nil {
				return err
			}
			codes = append(codes, plan.Code)
		}

		n, err := s.repo.HideExcept(ctx, tx, codes, now)
		if err != nil {
			return err
		}
		retired = n
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("plan catalog upserted", zap.Int("plans", len(catalog)), zap.Int64("retired", retired))
	return nil
}

func (s *Service) GetPlan(ctx context.Context, code string) (*plandomain.Plan, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, plandomain.ErrPlanNotFound
	}

	plan, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}
	return plan, nil
}

func (s *Service) ListVisible(ctx context.Context) ([]plandomain.Plan, error) {
	return s.repo.List(ctx, s.db, false)
}

// CatalogFromConfig converts validated plan definitions into a catalog value.
func CatalogFromConfig(defs []config.PlanDefinition) plandomain.Catalog {
	catalog := make(plandomain.Catalog, 0, len(defs))
	for _, def := range defs {
		features := make(datatypes.JSONSlice[string], 0, len(def.Features))
		features = append(features, def.Features...)
		catalog = append(catalog, plandomain.Plan{
			Code:          normalizeCode(def.Code),
			Name:          def.Name,
			Description:   def.Description,
			Price:         def.Price,
			Currency:      strings.ToUpper(def.Currency),
			DurationDays:  def.DurationDays,
			CategoryLimit: def.CategoryLimit,
			ItemLimit:     def.ItemLimit,
			IsFullAccess:  def.IsFullAccess,
			IsTrial:       def.IsTrial,
			IsHidden:      def.IsHidden,
			Features:      features,
		})
	}
	return catalog
}

func normalizeCode(code string) string {
	return slug.Make(strings.TrimSpace(code))
}
