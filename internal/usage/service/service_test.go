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
	"github.com/boardroomhq/boardroom/internal/ratelimit"
	"github.com/boardroomhq/boardroom/internal/tier"
	"github.com/boardroomhq/boardroom/internal/usage/domain"
)

func newTestService(t *testing.T, clk clock.Clock) domain.Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.UsageEvent{}, &domain.Aggregate{}, &domain.Violation{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(db, node, clk, ratelimit.NewKeyedMutex(), nil, nil, zap.NewNop())
}

func TestGetUserUsageIsIdempotent(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, clk)
	ctx := context.Background()

	first, err := svc.GetUserUsage(ctx, "user-1", tier.Starter)
	require.NoError(t, err)
	second, err := svc.GetUserUsage(ctx, "user-1", tier.Starter)
	require.NoError(t, err)

	require.Equal(t, first.DailyPeriod, second.DailyPeriod)
	require.Equal(t, first.MonthlyPeriod, second.MonthlyPeriod)
	require.Equal(t, first.Daily, second.Daily)
	require.Equal(t, first.Monthly, second.Monthly)
	require.Equal(t, "2026-03-10", first.DailyPeriod)
	require.Equal(t, "2026-03", first.MonthlyPeriod)
}

func TestRecordMessageIncrementsBothBuckets(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, clk)
	ctx := context.Background()

	err := svc.RecordMessage(ctx, domain.RecordMessageRequest{
		UserID: "user-1",
		Tier:   tier.Professional,
		Model:  "gpt-4o",
		Tokens: 1200,
		Cost:   decimal.RequireFromString("0.0108"),
	})
	require.NoError(t, err)

	agg, err := svc.GetUserUsage(ctx, "user-1", tier.Professional)
	require.NoError(t, err)
	require.EqualValues(t, 1, agg.Daily.Messages)
	require.EqualValues(t, 1, agg.Monthly.Messages)
	require.EqualValues(t, 1200, agg.Daily.Tokens)
	require.EqualValues(t, 1200, agg.Monthly.Tokens)
	require.True(t, agg.Monthly.Cost.Equal(decimal.RequireFromString("0.0108")))
}

func TestDailyRolloverResetsOnlyDailyBucket(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC))
	svc := newTestService(t, clk)
	ctx := context.Background()

	require.NoError(t, svc.RecordMessage(ctx, domain.RecordMessageRequest{
		UserID: "user-1", Tier: tier.Starter, Model: "gpt-4o-mini", Tokens: 400, Cost: decimal.Zero,
	}))

	clk.Advance(2 * time.Hour) // crosses midnight, same month

	agg, err := svc.GetUserUsage(ctx, "user-1", tier.Starter)
	require.NoError(t, err)
	require.Equal(t, "2026-03-11", agg.DailyPeriod)
	require.EqualValues(t, 0, agg.Daily.Messages)
	require.EqualValues(t, 0, agg.Daily.Tokens)
	require.EqualValues(t, 1, agg.Monthly.Messages)
	require.EqualValues(t, 400, agg.Monthly.Tokens)
}

func TestMonthlyRolloverResetsBothBuckets(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC))
	svc := newTestService(t, clk)
	ctx := context.Background()

	require.NoError(t, svc.RecordDebate(ctx, domain.RecordDebateRequest{
		UserID: "user-1", Tier: tier.Boardroom, Model: "gpt-4o",
		Rounds: 3, Personas: 5, Tokens: 9000, Cost: decimal.RequireFromString("0.072"),
		Topic: "expansion into APAC",
	}))

	clk.Advance(2 * time.Hour)

	agg, err := svc.GetUserUsage(ctx, "user-1", tier.Boardroom)
	require.NoError(t, err)
	require.Equal(t, "2026-04", agg.MonthlyPeriod)
	require.EqualValues(t, 0, agg.Monthly.Debates)
	require.EqualValues(t, 0, agg.Monthly.Tokens)
	require.True(t, agg.Monthly.Cost.IsZero())
	require.EqualValues(t, 0, agg.Daily.Debates)
}

func TestRecordDebateTracksRoundsAndPersonas(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, clk)
	ctx := context.Background()

	require.NoError(t, svc.RecordDebate(ctx, domain.RecordDebateRequest{
		UserID: "user-1", Tier: tier.Professional, Model: "gpt-4o",
		Rounds: 2, Personas: 3, Tokens: 4000, Cost: decimal.RequireFromString("0.036"), Topic: "pricing",
	}))
	require.NoError(t, svc.RecordDebate(ctx, domain.RecordDebateRequest{
		UserID: "user-1", Tier: tier.Professional, Model: "gpt-4o",
		Rounds: 3, Personas: 5, Tokens: 9000, Cost: decimal.RequireFromString("0.081"), Topic: "hiring",
	}))

	agg, err := svc.GetUserUsage(ctx, "user-1", tier.Professional)
	require.NoError(t, err)
	require.EqualValues(t, 2, agg.Monthly.Debates)
	require.EqualValues(t, 5, agg.Monthly.DebateRounds)
	require.EqualValues(t, 5, agg.Monthly.MaxPersonasUsed)
}

func TestCheckUsageLimitMessageCeiling(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, clk)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, svc.RecordMessage(ctx, domain.RecordMessageRequest{
			UserID: "user-1", Tier: tier.Starter, Model: "gpt-4o-mini", Tokens: 10, Cost: decimal.Zero,
		}))
	}

	check, err := svc.CheckUsageLimit(ctx, "user-1", tier.Starter, domain.ActionMessage, nil)
	require.NoError(t, err)
	require.False(t, check.Allowed)
	require.True(t, check.UpgradeRequired)
	require.EqualValues(t, 100, check.Limit)
	require.EqualValues(t, 0, check.Remaining)
}

func TestCheckUsageLimitUnlimitedTier(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, clk)
	ctx := context.Background()

	check, err := svc.CheckUsageLimit(ctx, "user-1", tier.Enterprise, domain.ActionMessage, nil)
	require.NoError(t, err)
	require.True(t, check.Allowed)
	require.EqualValues(t, tier.Unlimited, check.Limit)
	require.EqualValues(t, tier.Unlimited, check.Remaining)
}

func TestCheckUsageLimitDebateFeasibility(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, clk)
	ctx := context.Background()

	// Starter allows 2 rounds and 3 personas.
	check, err := svc.CheckUsageLimit(ctx, "user-1", tier.Starter, domain.ActionDebate, &domain.DebateParams{Rounds: 3, Personas: 3})
	require.NoError(t, err)
	require.False(t, check.Allowed)
	require.Equal(t, "max_debate_rounds", check.Feature)

	check, err = svc.CheckUsageLimit(ctx, "user-1", tier.Starter, domain.ActionDebate, &domain.DebateParams{Rounds: 2, Personas: 5})
	require.NoError(t, err)
	require.False(t, check.Allowed)
	require.Equal(t, "max_personas", check.Feature)

	check, err = svc.CheckUsageLimit(ctx, "user-1", tier.Starter, domain.ActionDebate, &domain.DebateParams{Rounds: 2, Personas: 3})
	require.NoError(t, err)
	require.True(t, check.Allowed)
}

func TestCheckUsageLimitDebateNeedsMessageHeadroom(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, clk)
	ctx := context.Background()

	// Burn the message quota down to 5 remaining.
	for i := 0; i < 95; i++ {
		require.NoError(t, svc.RecordMessage(ctx, domain.RecordMessageRequest{
			UserID: "user-1", Tier: tier.Starter, Model: "gpt-4o-mini", Tokens: 10, Cost: decimal.Zero,
		}))
	}

	// 2 rounds x 3 personas needs 6 messages.
	check, err := svc.CheckUsageLimit(ctx, "user-1", tier.Starter, domain.ActionDebate, &domain.DebateParams{Rounds: 2, Personas: 3})
	require.NoError(t, err)
	require.False(t, check.Allowed)
	require.Equal(t, "messages_per_month", check.Feature)
	require.EqualValues(t, 5, check.Remaining)

	// 1 round x 3 personas fits.
	check, err = svc.CheckUsageLimit(ctx, "user-1", tier.Starter, domain.ActionDebate, &domain.DebateParams{Rounds: 1, Personas: 3})
	require.NoError(t, err)
	require.True(t, check.Allowed)
}

func TestCheckUsageLimitUnknownAction(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, clk)

	check, err := svc.CheckUsageLimit(context.Background(), "user-1", tier.Starter, domain.Action("teleport"), nil)
	require.NoError(t, err)
	require.False(t, check.Allowed)
	require.True(t, check.UpgradeRequired)
}

func TestEnforceLimitRecordsViolation(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, clk)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, svc.RecordMessage(ctx, domain.RecordMessageRequest{
			UserID: "user-1", Tier: tier.Starter, Model: "gpt-4o-mini", Tokens: 10, Cost: decimal.Zero,
		}))
	}

	res, err := svc.EnforceLimit(ctx, "user-1", tier.Starter, domain.ActionMessage, nil)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.NotNil(t, res.Violation)
	require.Equal(t, "blocked", res.Violation.Action)
	require.Equal(t, "messages_per_month", res.Violation.Feature)

	violations, err := svc.ListViolations(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, violations, 1)
}

func TestEnforceLimitAllowedRecordsNothing(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, clk)
	ctx := context.Background()

	res, err := svc.EnforceLimit(ctx, "user-1", tier.Starter, domain.ActionMessage, nil)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Nil(t, res.Violation)

	violations, err := svc.ListViolations(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, violations)
}

func TestListEventsFiltersByTimeRange(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, clk)
	ctx := context.Background()

	require.NoError(t, svc.RecordMessage(ctx, domain.RecordMessageRequest{
		UserID: "user-1", Tier: tier.Starter, Model: "gpt-4o-mini", Tokens: 10, Cost: decimal.Zero,
	}))
	clk.Advance(48 * time.Hour)
	require.NoError(t, svc.RecordMessage(ctx, domain.RecordMessageRequest{
		UserID: "user-1", Tier: tier.Starter, Model: "gpt-4o-mini", Tokens: 10, Cost: decimal.Zero,
	}))

	events, err := svc.ListEvents(ctx, domain.ListEventsRequest{
		UserID: "user-1",
		From:   time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
		To:     time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, events, 1)

	all, err := svc.ListEvents(ctx, domain.ListEventsRequest{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestInvalidInputs(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, clk)
	ctx := context.Background()

	_, err := svc.GetUserUsage(ctx, "", tier.Starter)
	require.ErrorIs(t, err, domain.ErrInvalidUser)

	_, err = svc.GetUserUsage(ctx, "user-1", tier.ID("platinum"))
	require.ErrorIs(t, err, domain.ErrInvalidTier)

	err = svc.RecordDebate(ctx, domain.RecordDebateRequest{UserID: "user-1", Tier: tier.Starter, Rounds: 0, Personas: 3})
	require.ErrorIs(t, err, domain.ErrInvalidValue)
}
