package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/tablemenu/internal/plan/domain"
)

type CreatePendingRequest struct {
	RestaurantID    snowflake.ID
	PlanCode        string
	Amount          int64
	Currency        string
	PaymentID       string
	ConfirmationURL string
}

type ActivateRequest struct {
	RecordID     snowflake.ID
	RestaurantID snowflake.ID
	Plan         plandomain.Plan
	Amount       int64
	Currency     string
	PaymentID    string
}

type CreateActiveRequest struct {
	RestaurantID snowflake.ID
	Plan         plandomain.Plan
	Amount       int64
	Currency     string
	// RequireEmpty makes the insert conditional on the restaurant having no records at all.
	RequireEmpty bool
	// RejectPending fails the insert with ErrConflict while a pending record exists.
	RejectPending bool
}

type Service interface {
	// CreatePending fails with ErrConflict when the restaurant already has a pending record.
	CreatePending(ctx context.Context, req CreatePendingRequest) (*Subscription, error)
	// CreateActive inserts a record that is active immediately, superseding any prior active record.
	CreateActive(ctx context.Context, req CreateActiveRequest) (*Subscription, error)
	Activate(ctx context.Context, req ActivateRequest) (*Subscription, error)
	MarkCanceled(ctx context.Context, recordID snowflake.ID) error
	SweepExpired(ctx context.Context) (int64, error)
	GetActive(ctx context.Context, restaurantID snowflake.ID) (*Subscription, error)
	GetLatest(ctx context.Context, restaurantID snowflake.ID) (*Subscription, error)
	GetPending(ctx context.Context, restaurantID snowflake.ID, paymentID string) (*Subscription, error)
	GetByPaymentID(ctx context.Context, restaurantID snowflake.ID, paymentID string) (*Subscription, error)
	History(ctx context.Context, restaurantID snowflake.ID) ([]Subscription, error)
}

var (
	ErrConflict             = errors.New("subscription_conflict")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInvalidTransition    = errors.New("invalid_status_transition")
	ErrInvalidRestaurant    = errors.New("invalid_restaurant")
	ErrInvalidPlan          = errors.New("invalid_plan")
)

// ErrNotEmpty is returned by CreateActive with RequireEmpty when the restaurant already has records.
var ErrNotEmpty = errors.New("restaurant_has_subscriptions")
