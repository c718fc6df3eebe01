// Package domain contains persistence models for usage metering.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/boardroomhq/boardroom/internal/tier"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// EventType classifies a billable action.
type EventType string

const (
	EventMessage EventType = "message"
	EventDebate  EventType = "debate"
	EventExport  EventType = "export"
	EventAPICall EventType = "api_call"
)

// UsageEvent is one immutable, append-only billable action.
type UsageEvent struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	UserID        string            `gorm:"type:text;not null;index:ix_usage_events_user_time,priority:1"`
	Type          EventType         `gorm:"type:text;not null"`
	Model         string            `gorm:"type:text"`
	TokensUsed    int64             `gorm:"not null"`
	ActualCost    decimal.Decimal   `gorm:"type:numeric(12,6);not null"`
	EstimatedCost decimal.Decimal   `gorm:"type:numeric(12,6);not null"`
	RecordedAt    time.Time         `gorm:"not null;index:ix_usage_events_user_time,priority:2"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }

// Bucket holds the usage counters for one period.
type Bucket struct {
	Messages         int64           `gorm:"not null;default:0" json:"messages"`
	Debates          int64           `gorm:"not null;default:0" json:"debates"`
	Tokens           int64           `gorm:"not null;default:0" json:"tokens"`
	Cost             decimal.Decimal `gorm:"type:numeric(12,6);not null;default:0" json:"cost"`
	DebateRounds     int64           `gorm:"not null;default:0" json:"debate_rounds"`
	MaxPersonasUsed  int64           `gorm:"not null;default:0" json:"max_personas_used"`
	ExportsGenerated int64           `gorm:"not null;default:0" json:"exports_generated"`
	APICalls         int64           `gorm:"not null;default:0" json:"api_calls"`
}

// Zero resets every counter.
func (b *Bucket) Zero() {
	*b = Bucket{Cost: decimal.Zero}
}

// Aggregate is the single usage row per user: one daily and one monthly
// bucket, each tagged with its period key. Buckets are reset lazily on
// first access after the period boundary.
type Aggregate struct {
	UserID        string  `gorm:"primaryKey;type:text" json:"user_id"`
	Tier          tier.ID `gorm:"type:text;not null" json:"tier"`
	DailyPeriod   string  `gorm:"type:text;not null" json:"daily_period"`   // YYYY-MM-DD
	MonthlyPeriod string  `gorm:"type:text;not null" json:"monthly_period"` // YYYY-MM
	Daily         Bucket  `gorm:"embedded;embeddedPrefix:daily_" json:"daily"`
	Monthly       Bucket  `gorm:"embedded;embeddedPrefix:monthly_" json:"monthly"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (Aggregate) TableName() string { return "usage_aggregates" }

// Violation is an append-only audit record of a blocked action.
type Violation struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	UserID    string       `gorm:"type:text;not null;index"`
	Feature   string       `gorm:"type:text;not null"`
	Limit     int64        `gorm:"column:limit_value;not null"`
	Attempted int64        `gorm:"not null"`
	Action    string       `gorm:"type:text;not null"` // always "blocked"
	Tier      tier.ID      `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Violation) TableName() string { return "usage_violations" }
