package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/tablemenu/internal/subscription/domain"
	"github.com/smallbiznis/tablemenu/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

const subscriptionColumns = `id, restaurant_id, plan_code, status, amount, currency, payment_id, confirmation_url,
	started_at, expires_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, restaurant_id, plan_code, status, amount, currency, payment_id, confirmation_url,
			started_at, expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.RestaurantID,
		subscription.PlanCode,
		subscription.Status,
		subscription.Amount,
		subscription.Currency,
		subscription.PaymentID,
		subscription.ConfirmationURL,
		subscription.StartedAt,
		subscription.ExpiresAt,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ? LIMIT 1`,
		id,
	)
}

func (r *repo) LockRestaurant(ctx context.Context, conn *gorm.DB, restaurantID snowflake.ID) error {
	if !db.SupportsRowLocks(conn) {
		return nil
	}
	var ids []snowflake.ID
	return conn.WithContext(ctx).Raw(
		`SELECT id FROM subscriptions WHERE restaurant_id = ? FOR UPDATE`,
		restaurantID,
	).Scan(&ids).Error
}

func (r *repo) FindPending(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID, paymentID string) (*subscriptiondomain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE restaurant_id = ? AND status = ?`
	args := []any{restaurantID, subscriptiondomain.StatusPending}
	if paymentID = strings.TrimSpace(paymentID); paymentID != "" {
		query += ` AND payment_id = ?`
		args = append(args, paymentID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT 1`
	return r.findOne(ctx, db, query, args...)
}

// FindActive prefers records that never expire, then the furthest expiry,
// then the most recent id.
func (r *repo) FindActive(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE restaurant_id = ? AND status = ?
		ORDER BY CASE WHEN expires_at IS NULL THEN 1 ELSE 0 END DESC, expires_at DESC, id DESC
		LIMIT 1`,
		restaurantID,
		subscriptiondomain.StatusActive,
	)
}

func (r *repo) FindLatest(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE restaurant_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		restaurantID,
	)
}

func (r *repo) FindByPaymentID(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID, paymentID string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE restaurant_id = ? AND payment_id = ?
		ORDER BY id DESC
		LIMIT 1`,
		restaurantID,
		paymentID,
	)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	var items []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE restaurant_id = ?
		ORDER BY created_at DESC, id DESC`,
		restaurantID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Count(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM subscriptions WHERE restaurant_id = ?`,
		restaurantID,
	).Scan(&count).Error
	return count, err
}

// UpdateLifecycle writes only the fields a transition may change; amount and
// currency are never part of the statement.
func (r *repo) UpdateLifecycle(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET status = ?, started_at = ?, expires_at = ?, payment_id = ?, updated_at = ?
		WHERE id = ?`,
		subscription.Status,
		subscription.StartedAt,
		subscription.ExpiresAt,
		subscription.PaymentID,
		subscription.UpdatedAt,
		subscription.ID,
	).Error
}

func (r *repo) ExpireOtherActive(ctx context.Context, db *gorm.DB, restaurantID, keepID snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET status = ?, updated_at = ?
		WHERE restaurant_id = ? AND status = ? AND id <> ?`,
		subscriptiondomain.StatusExpired,
		at,
		restaurantID,
		subscriptiondomain.StatusActive,
		keepID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ExpireDue(ctx context.Context, db *gorm.DB, restaurantID *snowflake.ID, at time.Time) (int64, error) {
	query := `UPDATE subscriptions SET status = ?, updated_at = ?
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?`
	args := []any{subscriptiondomain.StatusExpired, at, subscriptiondomain.StatusActive, at}
	if restaurantID != nil {
		query += ` AND restaurant_id = ?`
		args = append(args, *restaurantID)
	}
	res := db.WithContext(ctx).Exec(query, args...)
	return res.RowsAffected, res.Error
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&subscription).Error; err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}
