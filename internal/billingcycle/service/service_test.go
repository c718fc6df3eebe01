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

	billingcycledomain "github.com/boardroomhq/boardroom/internal/billingcycle/domain"
	"github.com/boardroomhq/boardroom/internal/clock"
	"github.com/boardroomhq/boardroom/internal/ratelimit"
	"github.com/boardroomhq/boardroom/internal/tier"
	usagedomain "github.com/boardroomhq/boardroom/internal/usage/domain"
	usageservice "github.com/boardroomhq/boardroom/internal/usage/service"
)

func newFixture(t *testing.T) (billingcycledomain.Service, usagedomain.Service, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&usagedomain.UsageEvent{}, &usagedomain.Aggregate{}, &usagedomain.Violation{},
		&billingcycledomain.BillingCycle{}, &billingcycledomain.LineItem{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	usage := usageservice.NewService(db, node, clk, ratelimit.NewKeyedMutex(), nil, nil, zap.NewNop())
	svc := NewService(ServiceParam{DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Usagesvc: usage})
	return svc, usage, clk
}

func TestCalculateUsageChargesFreshAggregateIsZero(t *testing.T) {
	svc, _, _ := newFixture(t)

	charges, err := svc.CalculateUsageCharges(context.Background(), "user-1", tier.Starter)
	require.NoError(t, err)
	require.True(t, charges.Total.IsZero())
	require.Empty(t, charges.Items)
}

func TestCalculateUsageChargesMessageOverage(t *testing.T) {
	svc, usage, _ := newFixture(t)
	ctx := context.Background()

	// 110 messages against the starter ceiling of 100.
	for i := 0; i < 110; i++ {
		require.NoError(t, usage.RecordMessage(ctx, usagedomain.RecordMessageRequest{
			UserID: "user-1", Tier: tier.Starter, Model: "gpt-4o-mini", Tokens: 10, Cost: decimal.Zero,
		}))
	}

	charges, err := svc.CalculateUsageCharges(ctx, "user-1", tier.Starter)
	require.NoError(t, err)
	require.Len(t, charges.Items, 1)
	require.EqualValues(t, 10, charges.Items[0].Quantity)
	// 10 extra messages at 0.15 each.
	require.True(t, charges.Total.Equal(decimal.RequireFromString("1.50")), charges.Total.String())
}

func TestCalculateUsageChargesUnlimitedTier(t *testing.T) {
	svc, usage, _ := newFixture(t)
	ctx := context.Background()

	require.NoError(t, usage.RecordMessage(ctx, usagedomain.RecordMessageRequest{
		UserID: "user-1", Tier: tier.Enterprise, Model: "gpt-4o", Tokens: 10, Cost: decimal.Zero,
	}))

	charges, err := svc.CalculateUsageCharges(ctx, "user-1", tier.Enterprise)
	require.NoError(t, err)
	require.True(t, charges.Total.IsZero())
	require.Empty(t, charges.Items)
}

func TestCreateCycleIncludesFeeAndOverage(t *testing.T) {
	svc, usage, clk := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 105; i++ {
		require.NoError(t, usage.RecordMessage(ctx, usagedomain.RecordMessageRequest{
			UserID: "user-1", Tier: tier.Starter, Model: "gpt-4o-mini", Tokens: 10, Cost: decimal.Zero,
		}))
	}

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	cycle, err := svc.Create(ctx, billingcycledomain.CreateRequest{
		SubscriptionID: node.Generate(),
		UserID:         "user-1",
		Tier:           tier.Starter,
		Length:         billingcycledomain.Monthly,
		PeriodStart:    clk.Now(),
		PeriodEnd:      clk.Now().AddDate(0, 1, 0),
	})
	require.NoError(t, err)

	require.True(t, cycle.SubscriptionFee.Equal(decimal.NewFromInt(29)))
	// 5 extra messages at 0.15 = 0.75.
	require.True(t, cycle.UsageCharges.Equal(decimal.RequireFromString("0.75")), cycle.UsageCharges.String())
	require.True(t, cycle.Total.Equal(decimal.RequireFromString("29.75")), cycle.Total.String())

	items, err := svc.GetLineItems(ctx, cycle.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestCreateCycleInvalidPeriod(t *testing.T) {
	svc, _, clk := newFixture(t)

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), billingcycledomain.CreateRequest{
		SubscriptionID: node.Generate(),
		UserID:         "user-1",
		Tier:           tier.Starter,
		Length:         billingcycledomain.Monthly,
		PeriodStart:    clk.Now(),
		PeriodEnd:      clk.Now(),
	})
	require.ErrorIs(t, err, billingcycledomain.ErrInvalidCyclePeriod)
}

func TestMarkStatus(t *testing.T) {
	svc, _, clk := newFixture(t)
	ctx := context.Background()

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	cycle, err := svc.Create(ctx, billingcycledomain.CreateRequest{
		SubscriptionID: node.Generate(),
		UserID:         "user-1",
		Tier:           tier.Starter,
		Length:         billingcycledomain.Monthly,
		PeriodStart:    clk.Now(),
		PeriodEnd:      clk.Now().AddDate(0, 1, 0),
	})
	require.NoError(t, err)

	require.NoError(t, svc.MarkStatus(ctx, cycle.ID, billingcycledomain.StatusPaid))
	got, err := svc.Get(ctx, cycle.ID)
	require.NoError(t, err)
	require.Equal(t, billingcycledomain.StatusPaid, got.Status)

	require.ErrorIs(t, svc.MarkStatus(ctx, node.Generate(), billingcycledomain.StatusPaid), billingcycledomain.ErrCycleNotFound)
}
