package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	limitdomain "github.com/smallbiznis/tablemenu/internal/limit/domain"
	menudomain "github.com/smallbiznis/tablemenu/internal/menu/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() menudomain.Repository {
	return &repo{}
}

const (
	categoryColumns = `id, restaurant_id, name, description, photo, placenum, created_at, updated_at`
	itemColumns     = `id, category_id, name, price, description, calories, proteins, fats, carbs, weight,
	photo, visible, placenum, created_at, updated_at`
)

func (r *repo) InsertCategory(ctx context.Context, db *gorm.DB, category *menudomain.Category) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO menu_categories (`+categoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		category.ID,
		category.RestaurantID,
		category.Name,
		category.Description,
		category.Photo,
		category.Placenum,
		category.CreatedAt,
		category.UpdatedAt,
	).Error
}

func (r *repo) FindCategory(ctx context.Context, db *gorm.DB, restaurantID, categoryID snowflake.ID) (*menudomain.Category, error) {
	var category menudomain.Category
	err := db.WithContext(ctx).Raw(
		`SELECT `+categoryColumns+` FROM menu_categories WHERE id = ? AND restaurant_id = ? LIMIT 1`,
		categoryID,
		restaurantID,
	).Scan(&category).Error
	if err != nil {
		return nil, err
	}
	if category.ID == 0 {
		return nil, nil
	}
	return &category, nil
}

func (r *repo) ListCategories(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID) ([]menudomain.Category, error) {
	var categories []menudomain.Category
	err := db.WithContext(ctx).Raw(
		`SELECT `+categoryColumns+` FROM menu_categories WHERE restaurant_id = ? ORDER BY placenum ASC, id ASC`,
		restaurantID,
	).Scan(&categories).Error
	if err != nil {
		return nil, err
	}
	return categories, nil
}

func (r *repo) MaxCategoryPlacenum(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID) (int, error) {
	var max int
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(placenum), 0) FROM menu_categories WHERE restaurant_id = ?`,
		restaurantID,
	).Scan(&max).Error
	return max, err
}

func (r *repo) CountCategories(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM menu_categories WHERE restaurant_id = ?`,
		restaurantID,
	).Scan(&count).Error
	return count, err
}

func (r *repo) InsertItem(ctx context.Context, db *gorm.DB, item *menudomain.Item) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO menu_items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.CategoryID,
		item.Name,
		item.Price,
		item.Description,
		item.Calories,
		item.Proteins,
		item.Fats,
		item.Carbs,
		item.Weight,
		item.Photo,
		item.View,
		item.Placenum,
		item.CreatedAt,
		item.UpdatedAt,
	).Error
}

// UpdateItem rewrites the imported attributes. Name, photo and placenum are left as they are.
func (r *repo) UpdateItem(ctx context.Context, db *gorm.DB, item *menudomain.Item) error {
	return db.WithContext(ctx).Exec(
		`UPDATE menu_items
		SET price = ?, description = ?, calories = ?, proteins = ?, fats = ?, carbs = ?, weight = ?, visible = ?, updated_at = ?
		WHERE id = ?`,
		item.Price,
		item.Description,
		item.Calories,
		item.Proteins,
		item.Fats,
		item.Carbs,
		item.Weight,
		item.View,
		item.UpdatedAt,
		item.ID,
	).Error
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, categoryID snowflake.ID) ([]menudomain.Item, error) {
	var items []menudomain.Item
	err := db.WithContext(ctx).Raw(
		`SELECT `+itemColumns+` FROM menu_items WHERE category_id = ? ORDER BY placenum ASC, id ASC`,
		categoryID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MaxItemPlacenum(ctx context.Context, db *gorm.DB, categoryID snowflake.ID) (int, error) {
	var max int
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(placenum), 0) FROM menu_items WHERE category_id = ?`,
		categoryID,
	).Scan(&max).Error
	return max, err
}

func (r *repo) CountItems(ctx context.Context, db *gorm.DB, categoryID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM menu_items WHERE category_id = ?`,
		categoryID,
	).Scan(&count).Error
	return count, err
}

type counter struct {
	db   *gorm.DB
	repo menudomain.Repository
}

// NewCounter exposes the menu row counts to the limit gate.
func NewCounter(db *gorm.DB, repo menudomain.Repository) limitdomain.Counter {
	return &counter{db: db, repo: repo}
}

func (c *counter) CountCategories(ctx context.Context, restaurantID snowflake.ID) (int64, error) {
	return c.repo.CountCategories(ctx, c.db, restaurantID)
}

func (c *counter) CountItems(ctx context.Context, categoryID snowflake.ID) (int64, error) {
	return c.repo.CountItems(ctx, c.db, categoryID)
}
