// Package service implements billing cycle creation and overage pricing.
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingcycledomain "github.com/boardroomhq/boardroom/internal/billingcycle/domain"
	"github.com/boardroomhq/boardroom/internal/clock"
	"github.com/boardroomhq/boardroom/internal/tier"
	usagedomain "github.com/boardroomhq/boardroom/internal/usage/domain"
	"github.com/boardroomhq/boardroom/pkg/db/option"
	"github.com/boardroomhq/boardroom/pkg/repository"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	clock     clock.Clock
	cycleRepo repository.Repository[billingcycledomain.BillingCycle]
	itemRepo  repository.Repository[billingcycledomain.LineItem]
	usagesvc  usagedomain.Service
}

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Usagesvc usagedomain.Service
}

func NewService(p ServiceParam) billingcycledomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("billingcycle.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		cycleRepo: repository.ProvideStore[billingcycledomain.BillingCycle](p.DB),
		itemRepo:  repository.ProvideStore[billingcycledomain.LineItem](p.DB),
		usagesvc:  p.Usagesvc,
	}
}

// Create implements domain.Service.
func (s *Service) Create(ctx context.Context, req billingcycledomain.CreateRequest) (billingcycledomain.BillingCycle, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return billingcycledomain.BillingCycle{}, billingcycledomain.ErrInvalidUser
	}
	if !req.PeriodEnd.After(req.PeriodStart) {
		return billingcycledomain.BillingCycle{}, billingcycledomain.ErrInvalidCyclePeriod
	}

	pricing := tier.MustGet(req.Tier).Pricing
	fee := pricing.MonthlyPrice
	if req.Length == billingcycledomain.Yearly {
		fee = pricing.YearlyPrice
	}
	if req.Trialing {
		fee = decimal.Zero
	}

	charges, err := s.CalculateUsageCharges(ctx, req.UserID, req.Tier)
	if err != nil {
		return billingcycledomain.BillingCycle{}, fmt.Errorf("calculate usage charges: %w", err)
	}

	now := s.clock.Now()
	cycle := billingcycledomain.BillingCycle{
		ID:              s.genID.Generate(),
		SubscriptionID:  req.SubscriptionID,
		UserID:          req.UserID,
		Tier:            req.Tier,
		Kind:            billingcycledomain.KindRegular,
		Status:          billingcycledomain.StatusPending,
		PeriodStart:     req.PeriodStart,
		PeriodEnd:       req.PeriodEnd,
		SubscriptionFee: fee,
		UsageCharges:    charges.Total,
		Total:           fee.Add(charges.Total),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	items := make([]*billingcycledomain.LineItem, 0, len(charges.Items)+1)
	if fee.IsPositive() {
		items = append(items, &billingcycledomain.LineItem{
			ID:             s.genID.Generate(),
			BillingCycleID: cycle.ID,
			Description:    fmt.Sprintf("%s plan (%s)", tier.MustGet(req.Tier).Name, req.Length),
			Quantity:       1,
			UnitPrice:      fee,
			Amount:         fee,
			CreatedAt:      now,
		})
	}
	for i := range charges.Items {
		item := charges.Items[i]
		item.ID = s.genID.Generate()
		item.BillingCycleID = cycle.ID
		item.CreatedAt = now
		items = append(items, &item)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.cycleRepo.WithTrx(tx).Create(ctx, &cycle); err != nil {
			return err
		}
		return s.itemRepo.WithTrx(tx).BatchCreate(ctx, items)
	})
	if err != nil {
		return billingcycledomain.BillingCycle{}, fmt.Errorf("create billing cycle: %w", err)
	}

	s.log.Info("billingcycle.created",
		zap.String("user_id", req.UserID),
		zap.String("cycle_id", cycle.ID.String()),
		zap.String("total", cycle.Total.String()),
	)
	return cycle, nil
}

// CreateProration implements domain.Service.
func (s *Service) CreateProration(ctx context.Context, req billingcycledomain.ProrationRequest) (billingcycledomain.BillingCycle, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return billingcycledomain.BillingCycle{}, billingcycledomain.ErrInvalidUser
	}

	now := s.clock.Now()
	cycle := billingcycledomain.BillingCycle{
		ID:              s.genID.Generate(),
		SubscriptionID:  req.SubscriptionID,
		UserID:          req.UserID,
		Tier:            req.Tier,
		Kind:            billingcycledomain.KindProration,
		Status:          billingcycledomain.StatusPending,
		PeriodStart:     req.PeriodStart,
		PeriodEnd:       req.PeriodEnd,
		SubscriptionFee: decimal.Zero,
		UsageCharges:    decimal.Zero,
		Total:           req.Amount,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	item := billingcycledomain.LineItem{
		ID:             s.genID.Generate(),
		BillingCycleID: cycle.ID,
		Description:    req.Description,
		Quantity:       1,
		UnitPrice:      req.Amount,
		Amount:         req.Amount,
		CreatedAt:      now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.cycleRepo.WithTrx(tx).Create(ctx, &cycle); err != nil {
			return err
		}
		return s.itemRepo.WithTrx(tx).Create(ctx, &item)
	})
	if err != nil {
		return billingcycledomain.BillingCycle{}, fmt.Errorf("create proration cycle: %w", err)
	}
	return cycle, nil
}

// CalculateUsageCharges implements domain.Service. Only message overage
// beyond the tier's monthly ceiling is charged, at the tier's per-extra-
// message price. The aggregate is read as a snapshot at call time.
func (s *Service) CalculateUsageCharges(ctx context.Context, userID string, t tier.ID) (billingcycledomain.UsageCharges, error) {
	agg, err := s.usagesvc.GetUserUsage(ctx, userID, t)
	if err != nil {
		return billingcycledomain.UsageCharges{}, err
	}

	charges := billingcycledomain.UsageCharges{Items: []billingcycledomain.LineItem{}, Total: decimal.Zero}

	cfg := tier.MustGet(t)
	limit := cfg.Limits.MessagesPerMonth
	if limit == tier.Unlimited || agg.Monthly.Messages <= limit {
		return charges, nil
	}

	overage := agg.Monthly.Messages - limit
	amount := cfg.Pricing.PricePerExtraMessage.Mul(decimal.NewFromInt(overage))
	charges.Items = append(charges.Items, billingcycledomain.LineItem{
		Description: fmt.Sprintf("%d messages over the %d included", overage, limit),
		Quantity:    overage,
		UnitPrice:   cfg.Pricing.PricePerExtraMessage,
		Amount:      amount,
	})
	charges.Total = charges.Total.Add(amount)
	return charges, nil
}

// Get implements domain.Service.
func (s *Service) Get(ctx context.Context, id snowflake.ID) (billingcycledomain.BillingCycle, error) {
	cycle, err := s.cycleRepo.FindOne(ctx, &billingcycledomain.BillingCycle{ID: id})
	if err != nil {
		return billingcycledomain.BillingCycle{}, err
	}
	if cycle == nil {
		return billingcycledomain.BillingCycle{}, billingcycledomain.ErrCycleNotFound
	}
	return *cycle, nil
}

// GetLineItems implements domain.Service.
func (s *Service) GetLineItems(ctx context.Context, cycleID snowflake.ID) ([]billingcycledomain.LineItem, error) {
	rows, err := s.itemRepo.Find(ctx, &billingcycledomain.LineItem{BillingCycleID: cycleID}, option.WithOrder("id ASC"))
	if err != nil {
		return nil, err
	}
	items := make([]billingcycledomain.LineItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, *row)
	}
	return items, nil
}

// ListForUser implements domain.Service.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]billingcycledomain.BillingCycle, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, billingcycledomain.ErrInvalidUser
	}
	rows, err := s.cycleRepo.Find(ctx, &billingcycledomain.BillingCycle{UserID: userID}, option.WithOrder("period_start DESC"))
	if err != nil {
		return nil, err
	}
	cycles := make([]billingcycledomain.BillingCycle, 0, len(rows))
	for _, row := range rows {
		cycles = append(cycles, *row)
	}
	return cycles, nil
}

// MarkStatus implements domain.Service.
func (s *Service) MarkStatus(ctx context.Context, id snowflake.ID, status billingcycledomain.Status) error {
	res := s.db.WithContext(ctx).
		Model(&billingcycledomain.BillingCycle{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": s.clock.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return billingcycledomain.ErrCycleNotFound
	}
	return nil
}
