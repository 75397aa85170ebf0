// Package domain defines the payment lifecycle coordinator contracts.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/smallbiznis/tablemenu/internal/entitlement/domain"
	paymentdomain "github.com/smallbiznis/tablemenu/internal/payment/domain"
	plandomain "github.com/smallbiznis/tablemenu/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/tablemenu/internal/subscription/domain"
)

// Purchase and reconcile outcomes reported to the caller. Provider statuses
// other than these are passed through unchanged.
const (
	StatusActive   = "active"
	StatusPending  = "pending"
	StatusCanceled = "canceled"
)

type PurchaseRequest struct {
	RestaurantID snowflake.ID
	PlanCode     string
	ReturnURL    string
}

type PurchaseResult struct {
	Status          string
	PaymentID       string
	ConfirmationURL string
	Subscription    *subscriptiondomain.Subscription
	Limits          entitlementdomain.Limits
}

type ReconcileResult struct {
	Status       string
	Subscription *subscriptiondomain.Subscription
	// Limits is set only when the record is active.
	Limits *entitlementdomain.Limits
}

// Current is the restaurant's subscription overview. Subscription falls back
// to the latest record when nothing is active.
type Current struct {
	Subscription *subscriptiondomain.Subscription
	Plan         *plandomain.Plan
	Limits       entitlementdomain.Limits
	Pending      *subscriptiondomain.Subscription
}

type HistoryEntry struct {
	Subscription subscriptiondomain.Subscription
	PlanName     string
}

type Service interface {
	// ProvisionDefault creates the base plan record for a restaurant with no records. Repeated calls are no-ops.
	ProvisionDefault(ctx context.Context, restaurantID snowflake.ID) error
	Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error)
	Reconcile(ctx context.Context, restaurantID snowflake.ID, paymentID string) (*ReconcileResult, error)
	Cancel(ctx context.Context, restaurantID snowflake.ID, paymentID string) error
	GrantOverride(ctx context.Context, restaurantID snowflake.ID, planCode string) (*subscriptiondomain.Subscription, error)
	GrantTrial(ctx context.Context, restaurantID snowflake.ID) (*subscriptiondomain.Subscription, error)
	Current(ctx context.Context, restaurantID snowflake.ID) (*Current, error)
	History(ctx context.Context, restaurantID snowflake.ID) ([]HistoryEntry, error)
	ListPlans(ctx context.Context) ([]plandomain.Plan, error)
}

var (
	ErrDuplicateTrial        = errors.New("duplicate_trial")
	ErrCannotOverridePaid    = errors.New("cannot_override_paid")
	ErrPaymentNotFound       = errors.New("payment_not_found")
	ErrNoPendingSubscription = errors.New("no_pending_subscription")
	ErrInvalidPaymentID      = errors.New("invalid_payment_id")
)

// ErrPaymentProvider is the provider failure surfaced to callers.
var ErrPaymentProvider = paymentdomain.ErrProvider
