// Package domain defines the effective usage limits of a restaurant.
package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Default limits apply only when a restaurant has no active subscription at
// all. They are kept apart from the base plan's configured limits.
const (
	DefaultCategoryLimit = 3
	DefaultItemLimit     = 5
)

// Limits holds the per-dimension caps. A nil field means unlimited.
type Limits struct {
	CategoryLimit *int `json:"category_limit"`
	ItemLimit     *int `json:"item_limit"`
}

// DefaultLimits returns the no-subscription floor.
func DefaultLimits() Limits {
	category, item := DefaultCategoryLimit, DefaultItemLimit
	return Limits{CategoryLimit: &category, ItemLimit: &item}
}

type Resolver interface {
	LimitsFor(ctx context.Context, restaurantID snowflake.ID) (Limits, error)
}
