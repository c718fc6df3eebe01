// Package domain contains persistence models for subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"

	billingcycledomain "github.com/boardroomhq/boardroom/internal/billingcycle/domain"
	"github.com/boardroomhq/boardroom/internal/tier"
)

// Status represents lifecycle states for a subscription.
type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
	StatusUnpaid   Status = "unpaid"
)

// Subscription is a user's billing agreement with the service.
type Subscription struct {
	ID                snowflake.ID                   `gorm:"primaryKey" json:"id"`
	UserID            string                         `gorm:"type:text;not null;index" json:"user_id"`
	Tier              tier.ID                        `gorm:"type:text;not null" json:"tier"`
	Status            Status                         `gorm:"type:text;not null" json:"status"`
	CycleLength       billingcycledomain.CycleLength `gorm:"type:text;not null" json:"cycle_length"`
	PeriodStart       time.Time                      `gorm:"not null" json:"period_start"`
	PeriodEnd         time.Time                      `gorm:"not null" json:"period_end"`
	TrialEnd          *time.Time                     `gorm:"" json:"trial_end,omitempty"`
	CancelAtPeriodEnd bool                           `gorm:"not null;default:false" json:"cancel_at_period_end"`
	CanceledAt        *time.Time                     `gorm:"" json:"canceled_at,omitempty"`
	CancelReason      string                         `gorm:"type:text" json:"cancel_reason,omitempty"`
	Metadata          datatypes.JSONMap              `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt         time.Time                      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time                      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }
