// Package service implements cost calculation over the usage meter's
// aggregates and raw events.
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/boardroomhq/boardroom/internal/clock"
	"github.com/boardroomhq/boardroom/internal/config"
	costdomain "github.com/boardroomhq/boardroom/internal/cost/domain"
	"github.com/boardroomhq/boardroom/internal/tier"
	usagedomain "github.com/boardroomhq/boardroom/internal/usage/domain"
)

// responseTokenBudget is the per-turn response allowance used when
// estimating debate size.
const responseTokenBudget = 150

var oneThousand = decimal.NewFromInt(1000)

type service struct {
	usage   usagedomain.Service
	pricing *config.PricingHolder
	clock   clock.Clock
	log     *zap.Logger
}

// NewService wires the cost calculator.
func NewService(usage usagedomain.Service, pricing *config.PricingHolder, clk clock.Clock, log *zap.Logger) costdomain.Service {
	return &service{
		usage:   usage,
		pricing: pricing,
		clock:   clk,
		log:     log.Named("cost"),
	}
}

func (s *service) CalculateMessageCost(t tier.ID, model string, tokens int64) decimal.Decimal {
	if tokens <= 0 {
		return decimal.Zero
	}
	per1k := s.pricing.Get().PricePer1K(model)
	return decimal.NewFromInt(tokens).
		Div(oneThousand).
		Mul(per1k).
		Mul(tier.DiscountMultiplier(t))
}

func (s *service) EstimateDebateCost(t tier.ID, model, topic string, rounds, personas int64) costdomain.DebateEstimate {
	if rounds <= 0 || personas <= 0 {
		return costdomain.DebateEstimate{EstimatedCost: decimal.Zero}
	}
	topicTokens := int64(len(topic)+3) / 4
	contextTokens := topicTokens * rounds * personas
	responseTokens := int64(responseTokenBudget) * rounds * personas
	total := contextTokens + responseTokens
	return costdomain.DebateEstimate{
		EstimatedTokens: total,
		EstimatedCost:   s.CalculateMessageCost(t, model, total),
	}
}

func (s *service) GetUsageStats(ctx context.Context, req costdomain.StatsRequest) (costdomain.UsageStats, error) {
	if req.To.Before(req.From) {
		return costdomain.UsageStats{}, costdomain.ErrInvalidRange
	}

	events, err := s.usage.ListEvents(ctx, usagedomain.ListEventsRequest{
		UserID: req.UserID,
		From:   req.From,
		To:     req.To,
	})
	if err != nil {
		return costdomain.UsageStats{}, fmt.Errorf("list usage events: %w", err)
	}

	stats := costdomain.UsageStats{
		UserID:    req.UserID,
		Tier:      req.Tier,
		From:      req.From,
		To:        req.To,
		TotalCost: decimal.Zero,
	}

	byModel := map[string]*costdomain.ModelStat{}
	byDay := map[string]*costdomain.DayStat{}

	// Every day in range is present even without events.
	for d := req.From.UTC().Truncate(24 * time.Hour); d.Before(req.To.UTC()); d = d.Add(24 * time.Hour) {
		key := d.Format("2006-01-02")
		byDay[key] = &costdomain.DayStat{Date: key, Cost: decimal.Zero}
	}

	for _, ev := range events {
		stats.TotalEvents++
		stats.TotalTokens += ev.TokensUsed
		stats.TotalCost = stats.TotalCost.Add(ev.ActualCost)

		model := ev.Model
		if model == "" {
			model = "unmetered"
		}
		ms, ok := byModel[model]
		if !ok {
			ms = &costdomain.ModelStat{Model: model, Cost: decimal.Zero}
			byModel[model] = ms
		}
		if ev.Type == usagedomain.EventMessage {
			ms.Messages++
		}
		ms.Tokens += ev.TokensUsed
		ms.Cost = ms.Cost.Add(ev.ActualCost)

		dayKey := ev.RecordedAt.UTC().Format("2006-01-02")
		ds, ok := byDay[dayKey]
		if !ok {
			ds = &costdomain.DayStat{Date: dayKey, Cost: decimal.Zero}
			byDay[dayKey] = ds
		}
		if ev.Type == usagedomain.EventMessage {
			ds.Messages++
		}
		ds.Tokens += ev.TokensUsed
		ds.Cost = ds.Cost.Add(ev.ActualCost)
	}

	for _, ms := range byModel {
		stats.ByModel = append(stats.ByModel, *ms)
	}
	sort.Slice(stats.ByModel, func(i, j int) bool {
		return stats.ByModel[i].Cost.GreaterThan(stats.ByModel[j].Cost)
	})

	for _, ds := range byDay {
		stats.ByDay = append(stats.ByDay, *ds)
	}
	sort.Slice(stats.ByDay, func(i, j int) bool {
		return stats.ByDay[i].Date < stats.ByDay[j].Date
	})

	return stats, nil
}

var (
	criticalThreshold = decimal.NewFromInt(90)
	warningThreshold  = decimal.NewFromInt(75)
	hundred           = decimal.NewFromInt(100)
)

func (s *service) CheckBudgetAlerts(ctx context.Context, userID string, t tier.ID, monthlyBudget *decimal.Decimal) ([]costdomain.BudgetAlert, error) {
	agg, err := s.usage.GetUserUsage(ctx, userID, t)
	if err != nil {
		return nil, err
	}

	alerts := []costdomain.BudgetAlert{}
	limits := tier.MustGet(t).Limits

	if limits.MessagesPerMonth != tier.Unlimited && limits.MessagesPerMonth > 0 {
		current := decimal.NewFromInt(agg.Monthly.Messages)
		limit := decimal.NewFromInt(limits.MessagesPerMonth)
		if alert, ok := ceilingAlert("message_quota", "monthly message quota", current, limit); ok {
			alerts = append(alerts, alert)
		}
	}

	if monthlyBudget != nil && monthlyBudget.IsPositive() {
		if alert, ok := ceilingAlert("custom_budget", "monthly budget", agg.Monthly.Cost, *monthlyBudget); ok {
			alerts = append(alerts, alert)
		}
	}

	if t == tier.Starter && agg.Monthly.Messages > 50 {
		alerts = append(alerts, costdomain.BudgetAlert{
			Severity:    costdomain.SeverityInfo,
			Type:        "tier_upgrade",
			Message:     fmt.Sprintf("you have sent %d messages this month; the Professional plan raises the quota to %d", agg.Monthly.Messages, tier.MustGet(tier.Professional).Limits.MessagesPerMonth),
			Current:     decimal.NewFromInt(agg.Monthly.Messages),
			Limit:       decimal.NewFromInt(limits.MessagesPerMonth),
			PercentUsed: percentUsed(decimal.NewFromInt(agg.Monthly.Messages), decimal.NewFromInt(limits.MessagesPerMonth)),
		})
	}

	return alerts, nil
}

// ceilingAlert emits at most one alert for a ceiling: critical at >=90%,
// warning at >=75%.
func ceilingAlert(alertType, label string, current, limit decimal.Decimal) (costdomain.BudgetAlert, bool) {
	if !limit.IsPositive() {
		return costdomain.BudgetAlert{}, false
	}
	pct := percentUsed(current, limit)
	var severity costdomain.AlertSeverity
	switch {
	case pct.GreaterThanOrEqual(criticalThreshold):
		severity = costdomain.SeverityCritical
	case pct.GreaterThanOrEqual(warningThreshold):
		severity = costdomain.SeverityWarning
	default:
		return costdomain.BudgetAlert{}, false
	}
	return costdomain.BudgetAlert{
		Severity:    severity,
		Type:        alertType,
		Message:     fmt.Sprintf("%s is at %s%% of its limit", label, pct.Round(1)),
		Current:     current,
		Limit:       limit,
		PercentUsed: pct,
	}, true
}

func percentUsed(current, limit decimal.Decimal) decimal.Decimal {
	if !limit.IsPositive() {
		return decimal.Zero
	}
	return current.Div(limit).Mul(hundred)
}

// modelSwitchThreshold is the monthly model spend above which a cheaper
// alternative is suggested.
var modelSwitchThreshold = decimal.RequireFromString("5.00")

func (s *service) GetCostOptimizationSuggestions(ctx context.Context, userID string, t tier.ID) ([]costdomain.Suggestion, error) {
	now := s.clock.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	stats, err := s.GetUsageStats(ctx, costdomain.StatsRequest{
		UserID: userID,
		Tier:   t,
		From:   monthStart,
		To:     now,
	})
	if err != nil {
		return nil, err
	}

	suggestions := []costdomain.Suggestion{}

	if len(stats.ByModel) > 0 {
		costliest := stats.ByModel[0]
		if costliest.Cost.GreaterThan(modelSwitchThreshold) && costliest.Tokens > 0 {
			table := s.pricing.Get()
			cheapest := cheapestModel(table)
			if cheapest != "" && cheapest != costliest.Model {
				alt := s.CalculateMessageCost(t, cheapest, costliest.Tokens)
				saving := costliest.Cost.Sub(alt)
				if saving.IsPositive() {
					suggestions = append(suggestions, costdomain.Suggestion{
						Type:             "model_switch",
						Message:          fmt.Sprintf("switching debates from %s to %s would have saved %s this month", costliest.Model, cheapest, saving.Round(2)),
						EstimatedSavings: saving,
					})
				}
			}
		}
	}

	if t != tier.Enterprise {
		limits := tier.MustGet(t).Limits
		agg, err := s.usage.GetUserUsage(ctx, userID, t)
		if err != nil {
			return nil, err
		}
		if limits.MessagesPerMonth != tier.Unlimited && agg.Monthly.Messages > limits.MessagesPerMonth {
			overage := agg.Monthly.Messages - limits.MessagesPerMonth
			perMsg := tier.MustGet(t).Pricing.PricePerExtraMessage
			overageCost := perMsg.Mul(decimal.NewFromInt(overage))
			nextUp := nextTier(t)
			if nextUp != "" {
				priceDiff := tier.MustGet(nextUp).Pricing.MonthlyPrice.Sub(tier.MustGet(t).Pricing.MonthlyPrice)
				if overageCost.GreaterThan(priceDiff) {
					suggestions = append(suggestions, costdomain.Suggestion{
						Type:             "tier_upgrade",
						Message:          fmt.Sprintf("message overage charges (%s) exceed the price difference to the %s plan", overageCost.Round(2), nextUp),
						EstimatedSavings: overageCost.Sub(priceDiff),
					})
				}
			}
		}
	}

	return suggestions, nil
}

func cheapestModel(table config.PricingTable) string {
	best := ""
	var bestPrice decimal.Decimal
	for _, m := range table.Models {
		p := decimal.NewFromFloat(m.PricePer1K)
		if !p.IsPositive() {
			continue
		}
		if best == "" || p.LessThan(bestPrice) {
			best = m.Model
			bestPrice = p
		}
	}
	return best
}

func nextTier(t tier.ID) tier.ID {
	switch t {
	case tier.Starter:
		return tier.Professional
	case tier.Professional:
		return tier.Boardroom
	case tier.Boardroom:
		return tier.Enterprise
	default:
		return ""
	}
}
