package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/boardroomhq/boardroom/internal/clock"
	"github.com/boardroomhq/boardroom/internal/config"
	costdomain "github.com/boardroomhq/boardroom/internal/cost/domain"
	"github.com/boardroomhq/boardroom/internal/ratelimit"
	"github.com/boardroomhq/boardroom/internal/tier"
	usagedomain "github.com/boardroomhq/boardroom/internal/usage/domain"
	usageservice "github.com/boardroomhq/boardroom/internal/usage/service"
)

func newFixture(t *testing.T, clk clock.Clock) (costdomain.Service, usagedomain.Service) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&usagedomain.UsageEvent{}, &usagedomain.Aggregate{}, &usagedomain.Violation{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	usage := usageservice.NewService(db, node, clk, ratelimit.NewKeyedMutex(), nil, nil, zap.NewNop())
	pricing := config.NewStaticPricingHolder(config.DefaultPricingTable())
	return NewService(usage, pricing, clk, zap.NewNop()), usage
}

func TestCalculateMessageCost(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, _ := newFixture(t, clk)

	// 1000 tokens of gpt-4o at 0.0100/1k, no starter discount.
	cost := svc.CalculateMessageCost(tier.Starter, "gpt-4o", 1000)
	require.True(t, cost.Equal(decimal.RequireFromString("0.01")), cost.String())

	// Professional applies a 0.9 multiplier.
	cost = svc.CalculateMessageCost(tier.Professional, "gpt-4o", 1000)
	require.True(t, cost.Equal(decimal.RequireFromString("0.009")), cost.String())

	// Enterprise applies 0.7.
	cost = svc.CalculateMessageCost(tier.Enterprise, "gpt-4o", 2000)
	require.True(t, cost.Equal(decimal.RequireFromString("0.014")), cost.String())

	// Unknown models use the fallback rate rather than erroring.
	cost = svc.CalculateMessageCost(tier.Starter, "some-new-model", 1000)
	require.True(t, cost.Equal(decimal.RequireFromString("0.01")), cost.String())

	require.True(t, svc.CalculateMessageCost(tier.Starter, "gpt-4o", 0).IsZero())
}

func TestEstimateDebateCost(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, _ := newFixture(t, clk)

	topic := "Should we expand into Europe?" // 29 chars -> ceil(29/4) = 8 tokens
	est := svc.EstimateDebateCost(tier.Starter, "gpt-4o", topic, 2, 3)

	// context: 8 x 2 x 3 = 48, responses: 150 x 2 x 3 = 900
	require.EqualValues(t, 948, est.EstimatedTokens)
	want := decimal.NewFromInt(948).Div(decimal.NewFromInt(1000)).Mul(decimal.RequireFromString("0.0100"))
	require.True(t, est.EstimatedCost.Equal(want), est.EstimatedCost.String())

	zero := svc.EstimateDebateCost(tier.Starter, "gpt-4o", topic, 0, 3)
	require.EqualValues(t, 0, zero.EstimatedTokens)
}

func TestGetUsageStatsZeroFillsDays(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, usage := newFixture(t, clk)
	ctx := context.Background()

	require.NoError(t, usage.RecordMessage(ctx, usagedomain.RecordMessageRequest{
		UserID: "user-1", Tier: tier.Starter, Model: "gpt-4o", Tokens: 500, Cost: decimal.RequireFromString("0.005"),
	}))
	clk.Advance(48 * time.Hour)
	require.NoError(t, usage.RecordMessage(ctx, usagedomain.RecordMessageRequest{
		UserID: "user-1", Tier: tier.Starter, Model: "gpt-4o-mini", Tokens: 300, Cost: decimal.RequireFromString("0.0002"),
	}))

	stats, err := svc.GetUsageStats(ctx, costdomain.StatsRequest{
		UserID: "user-1",
		Tier:   tier.Starter,
		From:   time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		To:     time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.EqualValues(t, 2, stats.TotalEvents)
	require.EqualValues(t, 800, stats.TotalTokens)
	require.True(t, stats.TotalCost.Equal(decimal.RequireFromString("0.0052")))

	require.Len(t, stats.ByDay, 3)
	require.Equal(t, "2026-03-10", stats.ByDay[0].Date)
	require.EqualValues(t, 1, stats.ByDay[0].Messages)
	require.Equal(t, "2026-03-11", stats.ByDay[1].Date)
	require.EqualValues(t, 0, stats.ByDay[1].Messages)
	require.True(t, stats.ByDay[1].Cost.IsZero())
	require.Equal(t, "2026-03-12", stats.ByDay[2].Date)
	require.EqualValues(t, 1, stats.ByDay[2].Messages)

	require.Len(t, stats.ByModel, 2)
	require.Equal(t, "gpt-4o", stats.ByModel[0].Model) // sorted by cost descending
}

func TestGetUsageStatsInvalidRange(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, _ := newFixture(t, clk)

	_, err := svc.GetUsageStats(context.Background(), costdomain.StatsRequest{
		UserID: "user-1",
		Tier:   tier.Starter,
		From:   time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC),
		To:     time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, costdomain.ErrInvalidRange)
}

func recordMessages(t *testing.T, usage usagedomain.Service, userID string, tr tier.ID, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, usage.RecordMessage(ctx, usagedomain.RecordMessageRequest{
			UserID: userID, Tier: tr, Model: "gpt-4o-mini", Tokens: 10, Cost: decimal.Zero,
		}))
	}
}

func TestCheckBudgetAlertsThresholds(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, usage := newFixture(t, clk)
	ctx := context.Background()

	// 74/100: below every threshold but above the starter upgrade nudge.
	recordMessages(t, usage, "user-1", tier.Starter, 74)
	alerts, err := svc.CheckBudgetAlerts(ctx, "user-1", tier.Starter, nil)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, "tier_upgrade", alerts[0].Type)
	require.Equal(t, costdomain.SeverityInfo, alerts[0].Severity)

	// 75/100: warning fires at exactly 75%.
	recordMessages(t, usage, "user-1", tier.Starter, 1)
	alerts, err = svc.CheckBudgetAlerts(ctx, "user-1", tier.Starter, nil)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Equal(t, "message_quota", alerts[0].Type)
	require.Equal(t, costdomain.SeverityWarning, alerts[0].Severity)

	// 90/100: critical replaces warning; still one alert for the quota.
	recordMessages(t, usage, "user-1", tier.Starter, 15)
	alerts, err = svc.CheckBudgetAlerts(ctx, "user-1", tier.Starter, nil)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Equal(t, costdomain.SeverityCritical, alerts[0].Severity)
}

func TestCheckBudgetAlertsStarterUpgradeAtFiftyOne(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, usage := newFixture(t, clk)
	ctx := context.Background()

	recordMessages(t, usage, "user-1", tier.Starter, 50)
	alerts, err := svc.CheckBudgetAlerts(ctx, "user-1", tier.Starter, nil)
	require.NoError(t, err)
	require.Empty(t, alerts)

	recordMessages(t, usage, "user-1", tier.Starter, 1)
	alerts, err = svc.CheckBudgetAlerts(ctx, "user-1", tier.Starter, nil)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, "tier_upgrade", alerts[0].Type)
	require.Equal(t, costdomain.SeverityInfo, alerts[0].Severity)
}

func TestCheckBudgetAlertsCustomBudget(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, usage := newFixture(t, clk)
	ctx := context.Background()

	require.NoError(t, usage.RecordMessage(ctx, usagedomain.RecordMessageRequest{
		UserID: "user-1", Tier: tier.Enterprise, Model: "gpt-4o", Tokens: 1000, Cost: decimal.RequireFromString("9.20"),
	}))

	budget := decimal.NewFromInt(10)
	alerts, err := svc.CheckBudgetAlerts(ctx, "user-1", tier.Enterprise, &budget)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, "custom_budget", alerts[0].Type)
	require.Equal(t, costdomain.SeverityCritical, alerts[0].Severity)
}

func TestCostOptimizationSuggestsModelSwitch(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, usage := newFixture(t, clk)
	ctx := context.Background()

	// Heavy gpt-4-turbo spend this month.
	require.NoError(t, usage.RecordMessage(ctx, usagedomain.RecordMessageRequest{
		UserID: "user-1", Tier: tier.Boardroom, Model: "gpt-4-turbo", Tokens: 400000, Cost: decimal.RequireFromString("9.60"),
	}))

	suggestions, err := svc.GetCostOptimizationSuggestions(ctx, "user-1", tier.Boardroom)
	require.NoError(t, err)
	require.NotEmpty(t, suggestions)
	require.Equal(t, "model_switch", suggestions[0].Type)
	require.True(t, suggestions[0].EstimatedSavings.IsPositive())
}

func TestCostOptimizationQuietWhenCheap(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, usage := newFixture(t, clk)
	ctx := context.Background()

	require.NoError(t, usage.RecordMessage(ctx, usagedomain.RecordMessageRequest{
		UserID: "user-1", Tier: tier.Starter, Model: "gpt-4o-mini", Tokens: 1000, Cost: decimal.RequireFromString("0.0006"),
	}))

	suggestions, err := svc.GetCostOptimizationSuggestions(ctx, "user-1", tier.Starter)
	require.NoError(t, err)
	require.Empty(t, suggestions)
}
