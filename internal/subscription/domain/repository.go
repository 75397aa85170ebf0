package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	// LockRestaurant takes row locks on every record of the restaurant where the
	// dialect supports them. It must be called inside a transaction.
	LockRestaurant(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID) error
	FindPending(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID, paymentID string) (*Subscription, error)
	FindActive(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID) (*Subscription, error)
	FindLatest(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID) (*Subscription, error)
	FindByPaymentID(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID, paymentID string) (*Subscription, error)
	List(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID) ([]Subscription, error)
	Count(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID) (int64, error)
	UpdateLifecycle(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	ExpireOtherActive(ctx context.Context, db *gorm.DB, restaurantID, keepID snowflake.ID, at time.Time) (int64, error)
	ExpireDue(ctx context.Context, db *gorm.DB, restaurantID *snowflake.ID, at time.Time) (int64, error)
}
