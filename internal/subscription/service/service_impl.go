package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tablemenu/internal/clock"
	obsmetrics "github.com/smallbiznis/tablemenu/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/tablemenu/internal/subscription/domain"
	"github.com/smallbiznis/tablemenu/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    subscriptiondomain.Repository
	metrics *obsmetrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    subscriptiondomain.Repository
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("subscription.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *Service) CreatePending(ctx context.Context, req subscriptiondomain.CreatePendingRequest) (*subscriptiondomain.Subscription, error) {
	if req.RestaurantID == 0 {
		return nil, subscriptiondomain.ErrInvalidRestaurant
	}
	planCode := strings.TrimSpace(req.PlanCode)
	if planCode == "" {
		return nil, subscriptiondomain.ErrInvalidPlan
	}

	now := s.clock.Now()
	record := &subscriptiondomain.Subscription{
		ID:              s.genID.Generate(),
		RestaurantID:    req.RestaurantID,
		PlanCode:        planCode,
		Status:          subscriptiondomain.StatusPending,
		Amount:          req.Amount,
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
		PaymentID:       optionalString(req.PaymentID),
		ConfirmationURL: optionalString(req.ConfirmationURL),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.LockRestaurant(ctx, tx, req.RestaurantID); err != nil {
			return err
		}
		existing, err := s.repo.FindPending(ctx, tx, req.RestaurantID, "")
		if err != nil {
			return err
		}
		if existing != nil {
			return subscriptiondomain.ErrConflict
		}
		if err := s.repo.Insert(ctx, tx, record); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return subscriptiondomain.ErrConflict
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSubscriptionTransition(ctx, record.PlanCode, string(record.Status))
	s.log.Info("pending subscription created",
		zap.String("subscription_id", record.ID.String()),
		zap.String("restaurant_id", record.RestaurantID.String()),
		zap.String("plan_code", record.PlanCode),
	)
	return record, nil
}

func (s *Service) CreateActive(ctx context.Context, req subscriptiondomain.CreateActiveRequest) (*subscriptiondomain.Subscription, error) {
	if req.RestaurantID == 0 {
		return nil, subscriptiondomain.ErrInvalidRestaurant
	}
	if strings.TrimSpace(req.Plan.Code) == "" {
		return nil, subscriptiondomain.ErrInvalidPlan
	}

	now := s.clock.Now()
	record := &subscriptiondomain.Subscription{
		ID:           s.genID.Generate(),
		RestaurantID: req.RestaurantID,
		PlanCode:     req.Plan.Code,
		Status:       subscriptiondomain.StatusActive,
		Amount:       req.Amount,
		Currency:     strings.ToUpper(strings.TrimSpace(req.Currency)),
		StartedAt:    &now,
		ExpiresAt:    expiryFor(req.Plan.Duration(), now),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var superseded int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.LockRestaurant(ctx, tx, req.RestaurantID); err != nil {
			return err
		}
		if req.RequireEmpty {
			count, err := s.repo.Count(ctx, tx, req.RestaurantID)
			if err != nil {
				return err
			}
			if count > 0 {
				return subscriptiondomain.ErrNotEmpty
			}
		}
		if req.RejectPending {
			pending, err := s.repo.FindPending(ctx, tx, req.RestaurantID, "")
			if err != nil {
				return err
			}
			if pending != nil {
				return subscriptiondomain.ErrConflict
			}
		}
		if err := s.repo.Insert(ctx, tx, record); err != nil {
			return err
		}
		var err error
		superseded, err = s.repo.ExpireOtherActive(ctx, tx, req.RestaurantID, record.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSubscriptionTransition(ctx, record.PlanCode, string(record.Status))
	s.log.Info("subscription activated",
		zap.String("subscription_id", record.ID.String()),
		zap.String("restaurant_id", record.RestaurantID.String()),
		zap.String("plan_code", record.PlanCode),
		zap.Int64("superseded", superseded),
	)
	return record, nil
}

// Activate flips a pending record to active and expires every other active
// record of the restaurant in the same transaction.
func (s *Service) Activate(ctx context.Context, req subscriptiondomain.ActivateRequest) (*subscriptiondomain.Subscription, error) {
	if req.RestaurantID == 0 {
		return nil, subscriptiondomain.ErrInvalidRestaurant
	}

	var (
		record     *subscriptiondomain.Subscription
		superseded int64
		changed    bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.LockRestaurant(ctx, tx, req.RestaurantID); err != nil {
			return err
		}

		current, err := s.repo.FindByID(ctx, tx, req.RecordID)
		if err != nil {
			return err
		}
		if current == nil || current.RestaurantID != req.RestaurantID {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if req.Plan.Code != "" && req.Plan.Code != current.PlanCode {
			return subscriptiondomain.ErrInvalidPlan
		}

		record = current
		if current.Status == subscriptiondomain.StatusActive {
			return nil
		}
		if !isTransitionAllowed(current.Status, subscriptiondomain.StatusActive) {
			return subscriptiondomain.ErrInvalidTransition
		}

		now := s.clock.Now()
		superseded, err = s.repo.ExpireOtherActive(ctx, tx, req.RestaurantID, current.ID, now)
		if err != nil {
			return err
		}

		current.Status = subscriptiondomain.StatusActive
		current.StartedAt = &now
		current.ExpiresAt = expiryFor(req.Plan.Duration(), now)
		if paymentID := strings.TrimSpace(req.PaymentID); paymentID != "" {
			current.PaymentID = &paymentID
		}
		current.UpdatedAt = now
		changed = true
		return s.repo.UpdateLifecycle(ctx, tx, current)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.metrics.RecordSubscriptionTransition(ctx, record.PlanCode, string(record.Status))
		s.log.Info("subscription activated",
			zap.String("subscription_id", record.ID.String()),
			zap.String("restaurant_id", record.RestaurantID.String()),
			zap.String("plan_code", record.PlanCode),
			zap.Int64("superseded", superseded),
		)
	}
	return record, nil
}

// MarkCanceled cancels a pending record. Terminal records are left as they are.
func (s *Service) MarkCanceled(ctx context.Context, recordID snowflake.ID) error {
	var record *subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, recordID)
		if err != nil {
			return err
		}
		if current == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if current.Status.IsTerminal() {
			return nil
		}
		if !isTransitionAllowed(current.Status, subscriptiondomain.StatusCanceled) {
			return subscriptiondomain.ErrInvalidTransition
		}

		current.Status = subscriptiondomain.StatusCanceled
		current.UpdatedAt = s.clock.Now()
		record = current
		return s.repo.UpdateLifecycle(ctx, tx, current)
	})
	if err != nil {
		return err
	}

	if record != nil {
		s.metrics.RecordSubscriptionTransition(ctx, record.PlanCode, string(record.Status))
		s.log.Info("subscription canceled",
			zap.String("subscription_id", record.ID.String()),
			zap.String("restaurant_id", record.RestaurantID.String()),
		)
	}
	return nil
}

func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireDue(ctx, s.db, nil, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired subscriptions swept", zap.Int64("count", n))
	}
	return n, nil
}

func (s *Service) GetActive(ctx context.Context, restaurantID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	if _, err := s.repo.ExpireDue(ctx, s.db, &restaurantID, s.clock.Now()); err != nil {
		return nil, err
	}
	return s.repo.FindActive(ctx, s.db, restaurantID)
}

func (s *Service) GetLatest(ctx context.Context, restaurantID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return s.repo.FindLatest(ctx, s.db, restaurantID)
}

func (s *Service) GetPending(ctx context.Context, restaurantID snowflake.ID, paymentID string) (*subscriptiondomain.Subscription, error) {
	return s.repo.FindPending(ctx, s.db, restaurantID, paymentID)
}

func (s *Service) GetByPaymentID(ctx context.Context, restaurantID snowflake.ID, paymentID string) (*subscriptiondomain.Subscription, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, nil
	}
	return s.repo.FindByPaymentID(ctx, s.db, restaurantID, paymentID)
}

func (s *Service) History(ctx context.Context, restaurantID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	if _, err := s.repo.ExpireDue(ctx, s.db, &restaurantID, s.clock.Now()); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, s.db, restaurantID)
}

func isTransitionAllowed(current, target subscriptiondomain.SubscriptionStatus) bool {
	switch current {
	case subscriptiondomain.StatusPending:
		return target == subscriptiondomain.StatusActive || target == subscriptiondomain.StatusCanceled
	case subscriptiondomain.StatusActive:
		return target == subscriptiondomain.StatusExpired
	default:
		return false
	}
}

func expiryFor(d time.Duration, start time.Time) *time.Time {
	if d <= 0 {
		return nil
	}
	t := start.Add(d)
	return &t
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
