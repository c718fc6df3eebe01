// Package domain defines the cost calculation contract: token-to-money
// conversion, usage statistics, budget alerts, and optimization advice.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/boardroomhq/boardroom/internal/tier"
)

// DebateEstimate is the projected size and price of a prospective debate.
type DebateEstimate struct {
	EstimatedTokens int64           `json:"estimated_tokens"`
	EstimatedCost   decimal.Decimal `json:"estimated_cost"`
}

// ModelStat is the usage breakdown for one model within a stats period.
type ModelStat struct {
	Model    string          `json:"model"`
	Messages int64           `json:"messages"`
	Tokens   int64           `json:"tokens"`
	Cost     decimal.Decimal `json:"cost"`
}

// DayStat is one day's usage within a stats period. Days with no events
// are present with zero counters.
type DayStat struct {
	Date     string          `json:"date"` // YYYY-MM-DD
	Messages int64           `json:"messages"`
	Tokens   int64           `json:"tokens"`
	Cost     decimal.Decimal `json:"cost"`
}

// UsageStats aggregates raw usage events over a time range.
type UsageStats struct {
	UserID      string          `json:"user_id"`
	Tier        tier.ID         `json:"tier"`
	From        time.Time       `json:"from"`
	To          time.Time       `json:"to"`
	TotalEvents int64           `json:"total_events"`
	TotalTokens int64           `json:"total_tokens"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	ByModel     []ModelStat     `json:"by_model"`
	ByDay       []DayStat       `json:"by_day"`
}

// AlertSeverity grades a budget alert.
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityWarning  AlertSeverity = "warning"
	SeverityInfo     AlertSeverity = "info"
)

// BudgetAlert flags usage approaching or exceeding a ceiling. At most one
// alert is emitted per ceiling type per evaluation.
type BudgetAlert struct {
	Severity    AlertSeverity   `json:"severity"`
	Type        string          `json:"type"` // message_quota, custom_budget, tier_upgrade
	Message     string          `json:"message"`
	Current     decimal.Decimal `json:"current"`
	Limit       decimal.Decimal `json:"limit"`
	PercentUsed decimal.Decimal `json:"percent_used"`
}

// Suggestion is an advisory cost optimization with its projected saving.
type Suggestion struct {
	Type             string          `json:"type"`
	Message          string          `json:"message"`
	EstimatedSavings decimal.Decimal `json:"estimated_savings"`
}

type StatsRequest struct {
	UserID string
	Tier   tier.ID
	From   time.Time
	To     time.Time
}

type Service interface {
	// CalculateMessageCost prices a token count for a model under a tier's
	// discount. Unknown models use the fallback rate.
	CalculateMessageCost(t tier.ID, model string, tokens int64) decimal.Decimal

	// EstimateDebateCost projects the token volume and price of a debate
	// before it runs.
	EstimateDebateCost(t tier.ID, model, topic string, rounds, personas int64) DebateEstimate

	GetUsageStats(ctx context.Context, req StatsRequest) (UsageStats, error)

	// CheckBudgetAlerts evaluates the monthly aggregate against the tier's
	// message quota and an optional custom monthly budget.
	CheckBudgetAlerts(ctx context.Context, userID string, t tier.ID, monthlyBudget *decimal.Decimal) ([]BudgetAlert, error)

	GetCostOptimizationSuggestions(ctx context.Context, userID string, t tier.ID) ([]Suggestion, error)
}

var ErrInvalidRange = errors.New("invalid_time_range")
