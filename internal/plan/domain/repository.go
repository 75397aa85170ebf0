package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Plan, error)
	List(ctx context.Context, db *gorm.DB, includeHidden bool) ([]Plan, error)
	// HideExcept hides every visible plan whose code is not listed.
	HideExcept(ctx context.Context, db *gorm.DB, codes []string, now time.Time) (int64, error)
}
