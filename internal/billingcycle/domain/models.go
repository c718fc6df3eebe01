// Package domain contains persistence models for billing cycles.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	"github.com/boardroomhq/boardroom/internal/tier"
)

// Status tracks payment progress for a cycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPaid       Status = "paid"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

// Kind distinguishes regular period cycles from one-off proration cycles.
type Kind string

const (
	KindRegular   Kind = "regular"
	KindProration Kind = "proration"
)

// BillingCycle is one charge against a subscription: either a full billing
// period (subscription fee plus usage overage) or a one-off proration.
type BillingCycle struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	SubscriptionID  snowflake.ID    `gorm:"not null;index" json:"subscription_id"`
	UserID          string          `gorm:"type:text;not null;index" json:"user_id"`
	Tier            tier.ID         `gorm:"type:text;not null" json:"tier"`
	Kind            Kind            `gorm:"type:text;not null;default:'regular'" json:"kind"`
	Status          Status          `gorm:"type:text;not null;default:'pending'" json:"status"`
	PeriodStart     time.Time       `gorm:"not null" json:"period_start"`
	PeriodEnd       time.Time       `gorm:"not null" json:"period_end"`
	SubscriptionFee decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"subscription_fee"`
	UsageCharges    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"usage_charges"`
	Total           decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total"`
	CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (BillingCycle) TableName() string { return "billing_cycles" }

// LineItem is one priced entry inside a billing cycle.
type LineItem struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	BillingCycleID snowflake.ID    `gorm:"not null;index" json:"billing_cycle_id"`
	Description    string          `gorm:"type:text;not null" json:"description"`
	Quantity       int64           `gorm:"not null" json:"quantity"`
	UnitPrice      decimal.Decimal `gorm:"type:numeric(12,4);not null" json:"unit_price"`
	Amount         decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	CreatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (LineItem) TableName() string { return "billing_cycle_line_items" }
