// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	"github.com/boardroomhq/boardroom/internal/tier"
)

// Status represents invoice lifecycle states.
type Status string

const (
	StatusDraft Status = "draft"
	StatusSent  Status = "sent"
	StatusPaid  Status = "paid"
)

// Invoice is a rendered bill for one billing cycle. Generation is not
// idempotent: invoicing the same cycle twice produces two invoices.
type Invoice struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	Number         string          `gorm:"type:text;not null" json:"number"`
	BillingCycleID snowflake.ID    `gorm:"not null;index" json:"billing_cycle_id"`
	SubscriptionID snowflake.ID    `gorm:"not null;index" json:"subscription_id"`
	UserID         string          `gorm:"type:text;not null;index" json:"user_id"`
	Tier           tier.ID         `gorm:"type:text;not null" json:"tier"`
	Status         Status          `gorm:"type:text;not null;default:'draft'" json:"status"`
	Subtotal       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"subtotal"`
	TaxRate        decimal.Decimal `gorm:"type:numeric(5,4);not null" json:"tax_rate"`
	TaxAmount      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"tax_amount"`
	Total          decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total"`
	IssuedAt       time.Time       `gorm:"not null" json:"issued_at"`
	DueAt          time.Time       `gorm:"not null" json:"due_at"`
	PaidAt         *time.Time      `gorm:"" json:"paid_at,omitempty"`
	CreatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Item is one line on an invoice, snapshotted from the billing cycle at
// generation time.
type Item struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Description string          `gorm:"type:text;not null" json:"description"`
	Quantity    int64           `gorm:"not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(12,4);not null" json:"unit_price"`
	Amount      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	CreatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Item) TableName() string { return "invoice_items" }
