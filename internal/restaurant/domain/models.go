// Package domain holds the restaurant aggregate used as the tenant boundary
// for subscriptions and menus.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Restaurant struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	Name       string       `json:"name" gorm:"type:text;not null"`
	Subdomain  string       `json:"subdomain" gorm:"type:varchar(255);not null;uniqueIndex:ux_restaurants_subdomain"`
	OwnerEmail string       `json:"owner_email" gorm:"type:varchar(320);not null;index"`
	CreatedAt  time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt  time.Time    `json:"updated_at" gorm:"not null"`
}

func (Restaurant) TableName() string { return "restaurants" }

type CreateRequest struct {
	Name       string
	Subdomain  string
	OwnerEmail string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, restaurant *Restaurant) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Restaurant, error)
	ListIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Restaurant, error)
	Get(ctx context.Context, id snowflake.ID) (*Restaurant, error)
	ListIDs(ctx context.Context) ([]snowflake.ID, error)
}

// Provisioner bootstraps the default subscription of a new restaurant.
type Provisioner interface {
	ProvisionDefault(ctx context.Context, restaurantID snowflake.ID) error
}

var (
	ErrRestaurantNotFound = errors.New("restaurant_not_found")
	ErrInvalidName        = errors.New("invalid_restaurant_name")
	ErrInvalidOwner       = errors.New("invalid_owner_email")
	ErrSubdomainTaken     = errors.New("subdomain_taken")
)
