package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tablemenu/internal/clock"
	limitdomain "github.com/smallbiznis/tablemenu/internal/limit/domain"
	menudomain "github.com/smallbiznis/tablemenu/internal/menu/domain"
	restaurantdomain "github.com/smallbiznis/tablemenu/internal/restaurant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          menudomain.Repository
	gate          limitdomain.Gate
	restaurantSvc restaurantdomain.Service
}

type ServiceParam struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          menudomain.Repository
	Gate          limitdomain.Gate
	RestaurantSvc restaurantdomain.Service
}

func NewService(p ServiceParam) menudomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("menu.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		gate:          p.Gate,
		restaurantSvc: p.RestaurantSvc,
	}
}

func (s *Service) CreateCategory(ctx context.Context, req menudomain.CreateCategoryRequest) (*menudomain.Category, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, menudomain.ErrInvalidName
	}
	if _, err := s.restaurantSvc.Get(ctx, req.RestaurantID); err != nil {
		return nil, err
	}

	var category *menudomain.Category
	err := s.gate.Serialize(ctx, req.RestaurantID, func(ctx context.Context) error {
		if err := s.gate.CheckCategoryCreation(ctx, req.RestaurantID); err != nil {
			return err
		}

		placenum, err := s.nextPlacenum(req.Placenum, func() (int, error) {
			return s.repo.MaxCategoryPlacenum(ctx, s.db, req.RestaurantID)
		})
		if err != nil {
			return err
		}

		now := s.clock.Now()
		category = &menudomain.Category{
			ID:           s.genID.Generate(),
			RestaurantID: req.RestaurantID,
			Name:         name,
			Description:  trimmed(req.Description),
			Placenum:     placenum,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return s.repo.InsertCategory(ctx, s.db, category)
	})
	if err != nil {
		return nil, err
	}
	return category, nil
}

func (s *Service) ListCategories(ctx context.Context, restaurantID snowflake.ID) ([]menudomain.Category, error) {
	if _, err := s.restaurantSvc.Get(ctx, restaurantID); err != nil {
		return nil, err
	}
	return s.repo.ListCategories(ctx, s.db, restaurantID)
}

func (s *Service) CreateItem(ctx context.Context, req menudomain.CreateItemRequest) (*menudomain.Item, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, menudomain.ErrInvalidName
	}
	if req.Price.IsNegative() {
		return nil, menudomain.ErrInvalidPrice
	}
	if _, err := s.category(ctx, req.RestaurantID, req.CategoryID); err != nil {
		return nil, err
	}

	var item *menudomain.Item
	err := s.gate.Serialize(ctx, req.RestaurantID, func(ctx context.Context) error {
		if err := s.gate.CheckItemCreation(ctx, req.CategoryID, req.RestaurantID); err != nil {
			return err
		}

		placenum, err := s.nextPlacenum(req.Placenum, func() (int, error) {
			return s.repo.MaxItemPlacenum(ctx, s.db, req.CategoryID)
		})
		if err != nil {
			return err
		}

		view := true
		if req.View != nil {
			view = *req.View
		}
		now := s.clock.Now()
		item = &menudomain.Item{
			ID:          s.genID.Generate(),
			CategoryID:  req.CategoryID,
			Name:        name,
			Price:       req.Price.Round(2),
			Description: trimmed(req.Description),
			Calories:    req.Calories,
			Proteins:    req.Proteins,
			Fats:        req.Fats,
			Carbs:       req.Carbs,
			Weight:      req.Weight,
			View:        view,
			Placenum:    placenum,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return s.repo.InsertItem(ctx, s.db, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) ListItems(ctx context.Context, restaurantID, categoryID snowflake.ID) ([]menudomain.Item, error) {
	if _, err := s.category(ctx, restaurantID, categoryID); err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx, s.db, categoryID)
}

// ImportCSV upserts items by case-insensitive name. New rows draw from one
// item budget taken at the start of the import; updates consume nothing.
func (s *Service) ImportCSV(ctx context.Context, req menudomain.ImportRequest) (*menudomain.ImportResult, error) {
	if _, err := s.category(ctx, req.RestaurantID, req.CategoryID); err != nil {
		return nil, err
	}

	rows, problems, err := parseImport(req.Data)
	if err != nil {
		return nil, err
	}

	result := &menudomain.ImportResult{Errors: problems}
	var budget *limitdomain.Budget
	err = s.gate.Serialize(ctx, req.RestaurantID, func(ctx context.Context) error {
		itemBudget, err := s.gate.ItemBudget(ctx, req.CategoryID, req.RestaurantID)
		if err != nil {
			return err
		}
		budget = itemBudget

		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			existing, err := s.repo.ListItems(ctx, tx, req.CategoryID)
			if err != nil {
				return err
			}
			byName := make(map[string]*menudomain.Item, len(existing))
			for i := range existing {
				byName[strings.ToLower(existing[i].Name)] = &existing[i]
			}

			placenum, err := s.repo.MaxItemPlacenum(ctx, tx, req.CategoryID)
			if err != nil {
				return err
			}

			now := s.clock.Now()
			for _, row := range rows {
				key := strings.ToLower(row.Name)
				if item, ok := byName[key]; ok {
					applyRow(item, row, now)
					if err := s.repo.UpdateItem(ctx, tx, item); err != nil {
						return err
					}
					result.Updated++
					continue
				}

				if err := budget.Consume(); err != nil {
					if errors.Is(err, limitdomain.ErrItemLimitExceeded) {
						result.Errors = append(result.Errors, fmt.Sprintf("line %d: item limit exceeded", row.Line))
						continue
					}
					return err
				}

				placenum++
				item := &menudomain.Item{
					ID:         s.genID.Generate(),
					CategoryID: req.CategoryID,
					Name:       row.Name,
					Placenum:   placenum,
					CreatedAt:  now,
				}
				applyRow(item, row, now)
				if err := s.repo.InsertItem(ctx, tx, item); err != nil {
					return err
				}
				byName[key] = item
				result.Created++
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	items, err := s.repo.ListItems(ctx, s.db, req.CategoryID)
	if err != nil {
		return nil, err
	}
	result.Items = items
	if result.Errors == nil {
		result.Errors = []string{}
	}

	fields := []zap.Field{
		zap.String("restaurant_id", req.RestaurantID.String()),
		zap.String("category_id", req.CategoryID.String()),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("errors", len(result.Errors)),
	}
	if remaining, bounded := budget.Remaining(); bounded {
		fields = append(fields, zap.Int64("items_remaining", remaining))
	}
	s.log.Info("menu csv imported", fields...)
	return result, nil
}

func (s *Service) category(ctx context.Context, restaurantID, categoryID snowflake.ID) (*menudomain.Category, error) {
	if _, err := s.restaurantSvc.Get(ctx, restaurantID); err != nil {
		return nil, err
	}
	category, err := s.repo.FindCategory(ctx, s.db, restaurantID, categoryID)
	if err != nil {
		return nil, err
	}
	if category == nil {
		return nil, menudomain.ErrCategoryNotFound
	}
	return category, nil
}

func (s *Service) nextPlacenum(requested *int, max func() (int, error)) (int, error) {
	if requested != nil {
		return *requested, nil
	}
	current, err := max()
	if err != nil {
		return 0, err
	}
	return current + 1, nil
}

func applyRow(item *menudomain.Item, row importRow, now time.Time) {
	item.Price = row.Price
	item.Description = row.Description
	item.Calories = row.Calories
	item.Proteins = row.Proteins
	item.Fats = row.Fats
	item.Carbs = row.Carbs
	item.Weight = row.Weight
	item.View = row.View
	item.UpdatedAt = now
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}
