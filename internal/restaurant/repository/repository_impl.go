package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	restaurantdomain "github.com/smallbiznis/tablemenu/internal/restaurant/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() restaurantdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, restaurant *restaurantdomain.Restaurant) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO restaurants (id, name, subdomain, owner_email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		restaurant.ID,
		restaurant.Name,
		restaurant.Subdomain,
		restaurant.OwnerEmail,
		restaurant.CreatedAt,
		restaurant.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*restaurantdomain.Restaurant, error) {
	var restaurant restaurantdomain.Restaurant
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, subdomain, owner_email, created_at, updated_at
		FROM restaurants WHERE id = ? LIMIT 1`,
		id,
	).Scan(&restaurant).Error
	if err != nil {
		return nil, err
	}
	if restaurant.ID == 0 {
		return nil, nil
	}
	return &restaurant, nil
}

func (r *repo) ListIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(`SELECT id FROM restaurants ORDER BY id ASC`).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM restaurants WHERE id = ?`, id).Error
}
