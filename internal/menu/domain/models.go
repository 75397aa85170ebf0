// Package domain holds menu categories and items.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Category struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	RestaurantID snowflake.ID `json:"restaurant_id" gorm:"not null;index:idx_menu_categories_restaurant,priority:1"`
	Name         string       `json:"name" gorm:"type:text;not null"`
	Description  *string      `json:"description" gorm:"type:text"`
	Photo        *string      `json:"photo" gorm:"type:text"`
	Placenum     int          `json:"placenum" gorm:"not null;default:0;index:idx_menu_categories_restaurant,priority:2"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"not null"`
}

func (Category) TableName() string { return "menu_categories" }

type Item struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	CategoryID  snowflake.ID    `json:"category_id" gorm:"not null;index:idx_menu_items_category,priority:1"`
	Name        string          `json:"name" gorm:"type:text;not null"`
	Price       decimal.Decimal `json:"price" gorm:"type:numeric(12,2);not null;default:0"`
	Description *string         `json:"description" gorm:"type:text"`
	Calories    *int            `json:"calories"`
	Proteins    *float64        `json:"proteins"`
	Fats        *float64        `json:"fats"`
	Carbs       *float64        `json:"carbs"`
	Weight      *float64        `json:"weight"`
	Photo       *string         `json:"photo" gorm:"type:text"`
	View        bool            `json:"view" gorm:"column:visible;not null;default:true"`
	Placenum    int             `json:"placenum" gorm:"not null;default:0;index:idx_menu_items_category,priority:2"`
	CreatedAt   time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time       `json:"updated_at" gorm:"not null"`
}

func (Item) TableName() string { return "menu_items" }

type Repository interface {
	InsertCategory(ctx context.Context, db *gorm.DB, category *Category) error
	FindCategory(ctx context.Context, db *gorm.DB, restaurantID, categoryID snowflake.ID) (*Category, error)
	ListCategories(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID) ([]Category, error)
	MaxCategoryPlacenum(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID) (int, error)
	CountCategories(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID) (int64, error)

	InsertItem(ctx context.Context, db *gorm.DB, item *Item) error
	UpdateItem(ctx context.Context, db *gorm.DB, item *Item) error
	ListItems(ctx context.Context, db *gorm.DB, categoryID snowflake.ID) ([]Item, error)
	MaxItemPlacenum(ctx context.Context, db *gorm.DB, categoryID snowflake.ID) (int, error)
	CountItems(ctx context.Context, db *gorm.DB, categoryID snowflake.ID) (int64, error)
}

type CreateCategoryRequest struct {
	RestaurantID snowflake.ID
	Name         string
	Description  *string
	Placenum     *int
}

type CreateItemRequest struct {
	RestaurantID snowflake.ID
	CategoryID   snowflake.ID
	Name         string
	Price        decimal.Decimal
	Description  *string
	Calories     *int
	Proteins     *float64
	Fats         *float64
	Carbs        *float64
	Weight       *float64
	View         *bool
	Placenum     *int
}

type ImportRequest struct {
	RestaurantID snowflake.ID
	CategoryID   snowflake.ID
	Data         []byte
}

type ImportResult struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Errors  []string `json:"errors"`
	Items   []Item   `json:"items"`
}

type Service interface {
	CreateCategory(ctx context.Context, req CreateCategoryRequest) (*Category, error)
	ListCategories(ctx context.Context, restaurantID snowflake.ID) ([]Category, error)
	CreateItem(ctx context.Context, req CreateItemRequest) (*Item, error)
	ListItems(ctx context.Context, restaurantID, categoryID snowflake.ID) ([]Item, error)
	ImportCSV(ctx context.Context, req ImportRequest) (*ImportResult, error)
}

var (
	ErrCategoryNotFound = errors.New("category_not_found")
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidPrice     = errors.New("invalid_price")
	ErrEmptyFile        = errors.New("empty_file")
	ErrMissingHeader    = errors.New("missing_header")
)
