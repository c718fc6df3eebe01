package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	billingcycledomain "github.com/boardroomhq/boardroom/internal/billingcycle/domain"
	"github.com/boardroomhq/boardroom/internal/tier"
)

type CreateRequest struct {
	UserID      string                         `json:"user_id"`
	Tier        tier.ID                        `json:"tier"`
	CycleLength billingcycledomain.CycleLength `json:"cycle_length"`
	TrialDays   int                            `json:"trial_days,omitempty"`
}

type UpdateTierRequest struct {
	SubscriptionID snowflake.ID
	NewTier        tier.ID
	// EffectiveDate defaults to now when zero.
	EffectiveDate time.Time
}

type CancelRequest struct {
	SubscriptionID    snowflake.ID
	CancelAtPeriodEnd bool
	Reason            string
}

// SubscriptionError reports one failed subscription inside a sweep.
type SubscriptionError struct {
	SubscriptionID snowflake.ID `json:"subscription_id"`
	Error          string       `json:"error"`
}

// ProcessResult summarizes a billing sweep.
type ProcessResult struct {
	Processed int                 `json:"processed"`
	Failed    int                 `json:"failed"`
	Errors    []SubscriptionError `json:"errors,omitempty"`
}

type Service interface {
	// Create opens a subscription and its first billing cycle. With trial
	// days the subscription starts trialing and the first cycle carries a
	// zero subscription fee. A user holds at most one active or trialing
	// subscription at a time.
	Create(ctx context.Context, req CreateRequest) (Subscription, error)

	Get(ctx context.Context, id snowflake.ID) (Subscription, error)
	GetActiveForUser(ctx context.Context, userID string) (Subscription, error)

	// UpdateTier changes the plan mid-period with daily proration: the
	// difference between the remaining-days value of the old and new price
	// is charged (or credited) when it exceeds one cent.
	UpdateTier(ctx context.Context, req UpdateTierRequest) (Subscription, error)

	// Cancel transitions to canceled immediately, or defers the transition
	// to the period boundary when CancelAtPeriodEnd is set.
	Cancel(ctx context.Context, req CancelRequest) (Subscription, error)

	// ProcessBilling sweeps subscriptions whose period has elapsed: rolls
	// the period, applies deferred cancellations, and opens the next
	// billing cycle. One subscription's failure never aborts the sweep.
	ProcessBilling(ctx context.Context) (ProcessResult, error)
}

var (
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidTier          = errors.New("invalid_tier")
	ErrAlreadySubscribed    = errors.New("already_subscribed")
	ErrInvalidCycleLength   = errors.New("invalid_cycle_length")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrSubscriptionInactive = errors.New("subscription_inactive")
	ErrSameTier             = errors.New("same_tier")
)
