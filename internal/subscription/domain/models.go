// Package domain contains the subscription ledger model and its contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus represents lifecycle states for a ledger record.
type SubscriptionStatus string

const (
	StatusPending  SubscriptionStatus = "pending"
	StatusActive   SubscriptionStatus = "active"
	StatusExpired  SubscriptionStatus = "expired"
	StatusCanceled SubscriptionStatus = "canceled"
)

// IsTerminal reports whether no further transition may leave the status.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == StatusExpired || s == StatusCanceled
}

// Subscription is one purchase or grant attempt for a restaurant. Amount and
// Currency are a snapshot taken at creation and never change afterwards.
type Subscription struct {
	ID              snowflake.ID       `gorm:"primaryKey"`
	RestaurantID    snowflake.ID       `gorm:"not null;index:idx_subscriptions_restaurant_status,priority:1"`
	PlanCode        string             `gorm:"type:varchar(64);not null"`
	Status          SubscriptionStatus `gorm:"type:varchar(16);not null;index:idx_subscriptions_restaurant_status,priority:2"`
	Amount          int64              `gorm:"not null;default:0"`
	Currency        string             `gorm:"type:varchar(8);not null"`
	PaymentID       *string            `gorm:"type:varchar(128);index"`
	ConfirmationURL *string            `gorm:"type:text"`
	StartedAt       *time.Time         `gorm:""`
	ExpiresAt       *time.Time         `gorm:""`
	CreatedAt       time.Time          `gorm:"not null"`
	UpdatedAt       time.Time          `gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// PaymentRef returns the provider payment id or an empty string.
func (s Subscription) PaymentRef() string {
	if s.PaymentID == nil {
		return ""
	}
	return *s.PaymentID
}
