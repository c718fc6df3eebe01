package domain

import (
	"context"
	"errors"
	"time"

	"github.com/boardroomhq/boardroom/internal/tier"
	"github.com/shopspring/decimal"
)

// Action names a limit-checked operation.
type Action string

const (
	ActionMessage Action = "message"
	ActionDebate  Action = "debate"
	ActionExport  Action = "export"
	ActionAPICall Action = "api_call"
)

// DebateParams carries the feasibility inputs for a debate limit check.
type DebateParams struct {
	Rounds   int64 `json:"rounds"`
	Personas int64 `json:"personas"`
}

// LimitCheck is the structured result of a limit evaluation. Limit checks
// never fail with an error; denial is data, not an exception.
type LimitCheck struct {
	Allowed         bool   `json:"allowed"`
	Feature         string `json:"feature"`
	Limit           int64  `json:"limit"`
	Remaining       int64  `json:"remaining"`
	UpgradeRequired bool   `json:"upgrade_required"`
	Message         string `json:"message,omitempty"`
}

// EnforceResult wraps a LimitCheck with the violation recorded on denial.
type EnforceResult struct {
	LimitCheck
	Violation *Violation `json:"violation,omitempty"`
}

type RecordMessageRequest struct {
	UserID string
	Tier   tier.ID
	Model  string
	Tokens int64
	Cost   decimal.Decimal
}

type RecordDebateRequest struct {
	UserID   string
	Tier     tier.ID
	Model    string
	Rounds   int64
	Personas int64
	Tokens   int64
	Cost     decimal.Decimal
	Topic    string
}

type ListEventsRequest struct {
	UserID string
	From   time.Time
	To     time.Time
}

type Service interface {
	// GetUserUsage lazily initializes the aggregate and performs period
	// rollover before returning. Calling it twice without recordings in
	// between returns identical aggregates.
	GetUserUsage(ctx context.Context, userID string, t tier.ID) (Aggregate, error)

	RecordMessage(ctx context.Context, req RecordMessageRequest) error
	RecordDebate(ctx context.Context, req RecordDebateRequest) error
	RecordExport(ctx context.Context, userID string, t tier.ID) error
	RecordAPICall(ctx context.Context, userID string, t tier.ID) error

	CheckUsageLimit(ctx context.Context, userID string, t tier.ID, action Action, params *DebateParams) (LimitCheck, error)
	EnforceLimit(ctx context.Context, userID string, t tier.ID, action Action, params *DebateParams) (EnforceResult, error)

	ListEvents(ctx context.Context, req ListEventsRequest) ([]*UsageEvent, error)
	ListViolations(ctx context.Context, userID string) ([]*Violation, error)
}

var (
	ErrInvalidUser  = errors.New("invalid_user")
	ErrInvalidTier  = errors.New("invalid_tier")
	ErrInvalidValue = errors.New("invalid_value")
)
