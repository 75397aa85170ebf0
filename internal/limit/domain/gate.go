// Package domain defines the menu capacity checks enforced before every
// category or item insert.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrCategoryLimitExceeded = errors.New("category_limit_exceeded")
	ErrItemLimitExceeded     = errors.New("item_limit_exceeded")
)

// Counter reports how many rows already exist against each limit.
type Counter interface {
	CountCategories(ctx context.Context, restaurantID snowflake.ID) (int64, error)
	CountItems(ctx context.Context, categoryID snowflake.ID) (int64, error)
}

type Gate interface {
	CheckCategoryCreation(ctx context.Context, restaurantID snowflake.ID) error
	CheckItemCreation(ctx context.Context, categoryID, restaurantID snowflake.ID) error
	CategoryBudget(ctx context.Context, restaurantID snowflake.ID) (*Budget, error)
	ItemBudget(ctx context.Context, categoryID, restaurantID snowflake.ID) (*Budget, error)
	// Serialize runs fn while holding the restaurant's creation lease when
	// serialization is enabled. Otherwise fn runs directly and limits are soft.
	Serialize(ctx context.Context, restaurantID snowflake.ID, fn func(ctx context.Context) error) error
}

// Budget is the remaining capacity captured once and decremented in memory.
type Budget struct {
	remaining int64
	unlimited bool
	exceeded  error
}

func UnlimitedBudget() *Budget {
	return &Budget{unlimited: true}
}

func NewBudget(limit int, used int64, exceeded error) *Budget {
	remaining := int64(limit) - used
	if remaining < 0 {
		remaining = 0
	}
	return &Budget{remaining: remaining, exceeded: exceeded}
}

// Consume takes one unit or returns the limit error once capacity is gone.
func (b *Budget) Consume() error {
	if b == nil || b.unlimited {
		return nil
	}
	if b.remaining <= 0 {
		return b.exceeded
	}
	b.remaining--
	return nil
}

// Remaining returns the units left; ok is false for an unlimited budget.
func (b *Budget) Remaining() (n int64, ok bool) {
	if b == nil || b.unlimited {
		return 0, false
	}
	return b.remaining, true
}
