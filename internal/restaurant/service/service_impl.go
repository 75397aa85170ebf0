package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/tablemenu/internal/clock"
	restaurantdomain "github.com/smallbiznis/tablemenu/internal/restaurant/domain"
	"github.com/smallbiznis/tablemenu/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        restaurantdomain.Repository
	provisioner restaurantdomain.Provisioner
}

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        restaurantdomain.Repository
	Provisioner restaurantdomain.Provisioner
}

func NewService(p ServiceParam) restaurantdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("restaurant.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		provisioner: p.Provisioner,
	}
}

// Create stores the restaurant and provisions its default subscription once.
// The row is removed again when provisioning fails.
func (s *Service) Create(ctx context.Context, req restaurantdomain.CreateRequest) (*restaurantdomain.Restaurant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, restaurantdomain.ErrInvalidName
	}
	owner := strings.ToLower(strings.TrimSpace(req.OwnerEmail))
	if _, err := mail.ParseAddress(owner); err != nil {
		return nil, restaurantdomain.ErrInvalidOwner
	}
	subdomain := slug.Make(strings.TrimSpace(req.Subdomain))
	if subdomain == "" {
		subdomain = slug.Make(name)
	}
	if subdomain == "" {
		return nil, restaurantdomain.ErrInvalidName
	}

	now := s.clock.Now()
	restaurant := &restaurantdomain.Restaurant{
		ID:         s.genID.Generate(),
		Name:       name,
		Subdomain:  subdomain,
		OwnerEmail: owner,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Insert(ctx, s.db, restaurant); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, restaurantdomain.ErrSubdomainTaken
		}
		return nil, err
	}

	// A restaurant without a default subscription must not survive the
	// request. If the rollback delete fails too, the startup backfill
	// provisions the row on the next boot.
	if err := s.provisioner.ProvisionDefault(ctx, restaurant.ID); err != nil {
		if delErr := s.repo.Delete(context.WithoutCancel(ctx), s.db, restaurant.ID); delErr != nil {
			s.log.Error("rollback restaurant after failed provisioning",
				zap.String("restaurant_id", restaurant.ID.String()),
				zap.Error(delErr),
			)
		}
		return nil, fmt.Errorf("provision default subscription: %w", err)
	}

	s.log.Info("restaurant created",
		zap.String("restaurant_id", restaurant.ID.String()),
		zap.String("subdomain", restaurant.Subdomain),
	)
	return restaurant, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*restaurantdomain.Restaurant, error) {
	restaurant, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if restaurant == nil {
		return nil, restaurantdomain.ErrRestaurantNotFound
	}
	return restaurant, nil
}

func (s *Service) ListIDs(ctx context.Context) ([]snowflake.ID, error) {
	return s.repo.ListIDs(ctx, s.db)
}
