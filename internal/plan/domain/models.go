// Package domain contains the plan catalog model and its contracts.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Plan is one catalog entry. Code is the stable identity; every other field is
// overwritten by the catalog upsert at startup.
type Plan struct {
	Code          string                      `gorm:"primaryKey;type:varchar(64)"`
	Name          string                      `gorm:"type:varchar(128);not null"`
	Description   string                      `gorm:"type:varchar(1024);not null;default:''"`
	Price         int64                       `gorm:"not null;default:0"`
	Currency      string                      `gorm:"type:varchar(8);not null"`
	DurationDays  *int                        `gorm:""`
	CategoryLimit *int                        `gorm:""`
	ItemLimit     *int                        `gorm:""`
	IsFullAccess  bool                        `gorm:"not null;default:false"`
	IsTrial       bool                        `gorm:"not null;default:false"`
	IsHidden      bool                        `gorm:"not null;default:false"`
	Features      datatypes.JSONSlice[string] `gorm:"not null"`
	Position      int                         `gorm:"not null;default:0"`
	CreatedAt     time.Time                   `gorm:"not null"`
	UpdatedAt     time.Time                   `gorm:"not null"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// IsFree reports whether the plan can be activated without a payment.
func (p Plan) IsFree() bool { return p.Price == 0 }

// Duration returns the validity window, or zero for plans that never expire.
func (p Plan) Duration() time.Duration {
	if p.DurationDays == nil || *p.DurationDays <= 0 {
		return 0
	}
	return time.Duration(*p.DurationDays) * 24 * time.Hour
}

// Catalog is the ordered set of plans seeded at startup.
type Catalog []Plan
