package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingcycledomain "github.com/boardroomhq/boardroom/internal/billingcycle/domain"
	billingcycleservice "github.com/boardroomhq/boardroom/internal/billingcycle/service"
	"github.com/boardroomhq/boardroom/internal/clock"
	invoicedomain "github.com/boardroomhq/boardroom/internal/invoice/domain"
	"github.com/boardroomhq/boardroom/internal/invoice/render"
	"github.com/boardroomhq/boardroom/internal/ratelimit"
	"github.com/boardroomhq/boardroom/internal/tier"
	usagedomain "github.com/boardroomhq/boardroom/internal/usage/domain"
	usageservice "github.com/boardroomhq/boardroom/internal/usage/service"
)

type fixture struct {
	clk      *clock.FakeClock
	node     *snowflake.Node
	cyclesvc billingcycledomain.Service
	svc      invoicedomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&usagedomain.UsageEvent{}, &usagedomain.Aggregate{}, &usagedomain.Violation{},
		&billingcycledomain.BillingCycle{}, &billingcycledomain.LineItem{},
		&invoicedomain.Invoice{}, &invoicedomain.Item{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	usage := usageservice.NewService(db, node, clk, ratelimit.NewKeyedMutex(), nil, nil, log)
	cyclesvc := billingcycleservice.NewService(billingcycleservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk, Usagesvc: usage,
	})
	svc := NewService(ServiceParam{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Cyclesvc: cyclesvc,
		HTML:     render.NewHTMLRenderer(),
		PDF:      render.NewPDFRenderer(),
	})

	return &fixture{clk: clk, node: node, cyclesvc: cyclesvc, svc: svc}
}

func (f *fixture) newCycle(t *testing.T) billingcycledomain.BillingCycle {
	t.Helper()
	cycle, err := f.cyclesvc.Create(context.Background(), billingcycledomain.CreateRequest{
		SubscriptionID: f.node.Generate(),
		UserID:         "user-1",
		Tier:           tier.Professional,
		Length:         billingcycledomain.Monthly,
		PeriodStart:    f.clk.Now(),
		PeriodEnd:      f.clk.Now().AddDate(0, 1, 0),
	})
	require.NoError(t, err)
	return cycle
}

func TestGenerateAppliesFlatTax(t *testing.T) {
	f := newFixture(t)
	cycle := f.newCycle(t)

	inv, err := f.svc.Generate(context.Background(), cycle.ID)
	require.NoError(t, err)

	require.Equal(t, invoicedomain.StatusDraft, inv.Status)
	require.True(t, inv.Subtotal.Equal(decimal.NewFromInt(99)))
	// 8% of 99.00 = 7.92.
	require.True(t, inv.TaxAmount.Equal(decimal.RequireFromString("7.92")), inv.TaxAmount.String())
	require.True(t, inv.Total.Equal(decimal.RequireFromString("106.92")), inv.Total.String())
	require.True(t, strings.HasPrefix(inv.Number, "INV-20260401-"), inv.Number)

	items, err := f.svc.GetItems(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestGenerateIsNotIdempotent(t *testing.T) {
	f := newFixture(t)
	cycle := f.newCycle(t)
	ctx := context.Background()

	first, err := f.svc.Generate(ctx, cycle.ID)
	require.NoError(t, err)
	second, err := f.svc.Generate(ctx, cycle.ID)
	require.NoError(t, err)

	require.NotEqual(t, first.ID, second.ID)
	require.NotEqual(t, first.Number, second.Number)

	invoices, err := f.svc.ListForUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, invoices, 2)
}

func TestGenerateUnknownCycle(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Generate(context.Background(), f.node.Generate())
	require.ErrorIs(t, err, billingcycledomain.ErrCycleNotFound)
}

func TestMarkSentAndPaid(t *testing.T) {
	f := newFixture(t)
	cycle := f.newCycle(t)
	ctx := context.Background()

	inv, err := f.svc.Generate(ctx, cycle.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkSent(ctx, inv.ID))
	got, err := f.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoicedomain.StatusSent, got.Status)

	require.NoError(t, f.svc.MarkPaid(ctx, inv.ID))
	got, err = f.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoicedomain.StatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)

	require.ErrorIs(t, f.svc.MarkPaid(ctx, f.node.Generate()), invoicedomain.ErrInvoiceNotFound)
}

func TestRenderHTML(t *testing.T) {
	f := newFixture(t)
	cycle := f.newCycle(t)
	ctx := context.Background()

	inv, err := f.svc.Generate(ctx, cycle.ID)
	require.NoError(t, err)

	html, err := f.svc.RenderHTML(ctx, inv.ID)
	require.NoError(t, err)
	require.Contains(t, html, inv.Number)
	require.Contains(t, html, "USD 106.92")
	require.Contains(t, html, "Tax (8%)")
}

func TestRenderPDF(t *testing.T) {
	f := newFixture(t)
	cycle := f.newCycle(t)
	ctx := context.Background()

	inv, err := f.svc.Generate(ctx, cycle.ID)
	require.NoError(t, err)

	pdf, err := f.svc.RenderPDF(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(pdf), "%PDF"))
}
