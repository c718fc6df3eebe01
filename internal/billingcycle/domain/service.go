package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	"github.com/boardroomhq/boardroom/internal/tier"
)

// CycleLength is the subscription's billing interval.
type CycleLength string

const (
	Monthly CycleLength = "monthly"
	Yearly  CycleLength = "yearly"
)

// CreateRequest describes the cycle to open for a subscription period.
type CreateRequest struct {
	SubscriptionID snowflake.ID
	UserID         string
	Tier           tier.ID
	Length         CycleLength
	PeriodStart    time.Time
	PeriodEnd      time.Time
	// Trialing zeroes the subscription fee for this cycle.
	Trialing bool
}

// ProrationRequest describes a one-off cycle for a mid-period tier change.
type ProrationRequest struct {
	SubscriptionID snowflake.ID
	UserID         string
	Tier           tier.ID
	PeriodStart    time.Time
	PeriodEnd      time.Time
	Amount         decimal.Decimal
	Description    string
}

// UsageCharges is the outcome of pricing a period's overage.
type UsageCharges struct {
	Items []LineItem      `json:"items"`
	Total decimal.Decimal `json:"total"`
}

type Service interface {
	// Create opens the billing cycle for one subscription period, pricing
	// the subscription fee and any message overage.
	Create(ctx context.Context, req CreateRequest) (BillingCycle, error)

	// CreateProration records a one-off charge or credit from a tier change.
	CreateProration(ctx context.Context, req ProrationRequest) (BillingCycle, error)

	// CalculateUsageCharges prices the current monthly message overage for a
	// user. A freshly reset aggregate yields zero total and no items.
	CalculateUsageCharges(ctx context.Context, userID string, t tier.ID) (UsageCharges, error)

	Get(ctx context.Context, id snowflake.ID) (BillingCycle, error)
	GetLineItems(ctx context.Context, cycleID snowflake.ID) ([]LineItem, error)
	ListForUser(ctx context.Context, userID string) ([]BillingCycle, error)
	MarkStatus(ctx context.Context, id snowflake.ID, status Status) error
}

var (
	ErrCycleNotFound      = errors.New("billing_cycle_not_found")
	ErrInvalidCyclePeriod = errors.New("invalid_cycle_period")
	ErrInvalidUser        = errors.New("invalid_user")
)
