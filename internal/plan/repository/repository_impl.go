package repository

import (
	"context"
	"time"

	plandomain "github.com/smallbiznis/tablemenu/internal/plan/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() plandomain.Repository {
	return &repo{}
}

const planColumns = `code, name, description, price, currency, duration_days, category_limit, item_limit,
	is_full_access, is_trial, is_hidden, features, position, created_at, updated_at`

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, plan *plandomain.Plan) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "description", "price", "currency", "duration_days", "category_limit", "item_limit",
			"is_full_access", "is_trial", "is_hidden", "features", "position", "updated_at",
		}),
	}).Create(plan).Error
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT `+planColumns+` FROM plans WHERE code = ? LIMIT 1`,
		code,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.Code == "" {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, includeHidden bool) ([]plandomain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans`
	if !includeHidden {
		query += ` WHERE is_hidden = ?`
	}
	query += ` ORDER BY position ASC, code ASC`

	var plans []plandomain.Plan
	stmt := db.WithContext(ctx)
	if includeHidden {
		stmt = stmt.Raw(query)
	} else {
		stmt = stmt.Raw(query, false)
	}
	if err := stmt.Scan(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repo) HideExcept(ctx context.Context, db *gorm.DB, codes []string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE plans SET is_hidden = ?, updated_at = ? WHERE is_hidden = ? AND code NOT IN ?`,
		true, now, false, codes,
	)
	return res.RowsAffected, res.Error
}
