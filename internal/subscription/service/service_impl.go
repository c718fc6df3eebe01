// Package service implements the subscription lifecycle: creation with
// trials, mid-period tier changes with daily proration, cancellation, and
// the periodic billing sweep.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingcycledomain "github.com/boardroomhq/boardroom/internal/billingcycle/domain"
	"github.com/boardroomhq/boardroom/internal/clock"
	subscriptiondomain "github.com/boardroomhq/boardroom/internal/subscription/domain"
	"github.com/boardroomhq/boardroom/internal/tier"
	"github.com/boardroomhq/boardroom/pkg/db/option"
	"github.com/boardroomhq/boardroom/pkg/repository"
)

// prorationFloor is the smallest absolute difference worth charging.
var prorationFloor = decimal.RequireFromString("0.01")

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	repo     repository.Repository[subscriptiondomain.Subscription]
	cyclesvc billingcycledomain.Service
}

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cyclesvc billingcycledomain.Service
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("subscription.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     repository.ProvideStore[subscriptiondomain.Subscription](p.DB),
		cyclesvc: p.Cyclesvc,
	}
}

func periodEnd(start time.Time, length billingcycledomain.CycleLength) time.Time {
	if length == billingcycledomain.Yearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// Create implements domain.Service.
func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateRequest) (subscriptiondomain.Subscription, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidUser
	}
	if !tier.Valid(req.Tier) {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTier
	}
	if req.CycleLength != billingcycledomain.Monthly && req.CycleLength != billingcycledomain.Yearly {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidCycleLength
	}

	// One live subscription per user; a second create must go through
	// UpdateTier or Cancel first.
	if _, err := s.GetActiveForUser(ctx, req.UserID); err == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrAlreadySubscribed
	} else if !errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		return subscriptiondomain.Subscription{}, fmt.Errorf("lookup active subscription: %w", err)
	}

	now := s.clock.Now()
	sub := subscriptiondomain.Subscription{
		ID:          s.genID.Generate(),
		UserID:      req.UserID,
		Tier:        req.Tier,
		Status:      subscriptiondomain.StatusActive,
		CycleLength: req.CycleLength,
		PeriodStart: now,
		PeriodEnd:   periodEnd(now, req.CycleLength),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.TrialDays > 0 {
		trialEnd := now.AddDate(0, 0, req.TrialDays)
		sub.Status = subscriptiondomain.StatusTrialing
		sub.TrialEnd = &trialEnd
		sub.PeriodStart = now
		sub.PeriodEnd = trialEnd
	}

	if err := s.repo.Create(ctx, &sub); err != nil {
		return subscriptiondomain.Subscription{}, fmt.Errorf("create subscription: %w", err)
	}

	// The first billing cycle opens immediately; a trialing subscription's
	// cycle carries a zero fee.
	_, err := s.cyclesvc.Create(ctx, billingcycledomain.CreateRequest{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Tier:           sub.Tier,
		Length:         sub.CycleLength,
		PeriodStart:    sub.PeriodStart,
		PeriodEnd:      sub.PeriodEnd,
		Trialing:       sub.Status == subscriptiondomain.StatusTrialing,
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, fmt.Errorf("open first billing cycle: %w", err)
	}

	s.log.Info("subscription.created",
		zap.String("user_id", sub.UserID),
		zap.String("subscription_id", sub.ID.String()),
		zap.String("tier", string(sub.Tier)),
	)
	return sub, nil
}

// Get implements domain.Service.
func (s *Service) Get(ctx context.Context, id snowflake.ID) (subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindOne(ctx, &subscriptiondomain.Subscription{ID: id})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if sub == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *sub, nil
}

// GetActiveForUser implements domain.Service.
func (s *Service) GetActiveForUser(ctx context.Context, userID string) (subscriptiondomain.Subscription, error) {
	if strings.TrimSpace(userID) == "" {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidUser
	}
	var sub subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []subscriptiondomain.Status{
			subscriptiondomain.StatusActive,
			subscriptiondomain.StatusTrialing,
		}).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
		}
		return subscriptiondomain.Subscription{}, err
	}
	return sub, nil
}

// UpdateTier implements domain.Service. Daily proration: both prices are
// spread over the days of the current period and the remaining-days
// difference is charged or credited when it exceeds one cent.
func (s *Service) UpdateTier(ctx context.Context, req subscriptiondomain.UpdateTierRequest) (subscriptiondomain.Subscription, error) {
	if !tier.Valid(req.NewTier) {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTier
	}

	sub, err := s.Get(ctx, req.SubscriptionID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if sub.Status != subscriptiondomain.StatusActive && sub.Status != subscriptiondomain.StatusTrialing {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionInactive
	}
	if sub.Tier == req.NewTier {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSameTier
	}

	effective := req.EffectiveDate
	if effective.IsZero() {
		effective = s.clock.Now()
	}

	diff := s.prorationDifference(sub, req.NewTier, effective)
	if diff.Abs().GreaterThan(prorationFloor) {
		desc := fmt.Sprintf("plan change %s to %s, prorated", tier.MustGet(sub.Tier).Name, tier.MustGet(req.NewTier).Name)
		if _, err := s.cyclesvc.CreateProration(ctx, billingcycledomain.ProrationRequest{
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			Tier:           req.NewTier,
			PeriodStart:    effective,
			PeriodEnd:      sub.PeriodEnd,
			Amount:         diff,
			Description:    desc,
		}); err != nil {
			return subscriptiondomain.Subscription{}, fmt.Errorf("create proration cycle: %w", err)
		}
	}

	sub.Tier = req.NewTier
	sub.UpdatedAt = s.clock.Now()
	if err := s.db.WithContext(ctx).Save(&sub).Error; err != nil {
		return subscriptiondomain.Subscription{}, fmt.Errorf("update subscription tier: %w", err)
	}

	s.log.Info("subscription.tier_changed",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("tier", string(sub.Tier)),
		zap.String("prorated_difference", diff.String()),
	)
	return sub, nil
}

// prorationDifference computes newPrice/totalDays x remainingDays minus
// oldPrice/totalDays x remainingDays for the current period.
func (s *Service) prorationDifference(sub subscriptiondomain.Subscription, newTier tier.ID, effective time.Time) decimal.Decimal {
	totalDays := int64(sub.PeriodEnd.Sub(sub.PeriodStart).Hours() / 24)
	if totalDays <= 0 {
		return decimal.Zero
	}
	remainingDays := int64(sub.PeriodEnd.Sub(effective).Hours() / 24)
	if remainingDays <= 0 {
		return decimal.Zero
	}
	if remainingDays > totalDays {
		remainingDays = totalDays
	}

	oldPrice := priceForLength(sub.Tier, sub.CycleLength)
	newPrice := priceForLength(newTier, sub.CycleLength)

	total := decimal.NewFromInt(totalDays)
	remaining := decimal.NewFromInt(remainingDays)
	credit := oldPrice.Mul(remaining).Div(total)
	charge := newPrice.Mul(remaining).Div(total)
	return charge.Sub(credit)
}

func priceForLength(t tier.ID, length billingcycledomain.CycleLength) decimal.Decimal {
	pricing := tier.MustGet(t).Pricing
	if length == billingcycledomain.Yearly {
		return pricing.YearlyPrice
	}
	return pricing.MonthlyPrice
}

// Cancel implements domain.Service.
func (s *Service) Cancel(ctx context.Context, req subscriptiondomain.CancelRequest) (subscriptiondomain.Subscription, error) {
	sub, err := s.Get(ctx, req.SubscriptionID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if sub.Status == subscriptiondomain.StatusCanceled {
		return sub, nil
	}

	now := s.clock.Now()
	if req.CancelAtPeriodEnd {
		sub.CancelAtPeriodEnd = true
	} else {
		sub.Status = subscriptiondomain.StatusCanceled
		sub.CanceledAt = &now
	}
	sub.CancelReason = req.Reason
	sub.UpdatedAt = now

	if err := s.db.WithContext(ctx).Save(&sub).Error; err != nil {
		return subscriptiondomain.Subscription{}, fmt.Errorf("cancel subscription: %w", err)
	}

	s.log.Info("subscription.canceled",
		zap.String("subscription_id", sub.ID.String()),
		zap.Bool("at_period_end", req.CancelAtPeriodEnd),
	)
	return sub, nil
}

// ProcessBilling implements domain.Service.
func (s *Service) ProcessBilling(ctx context.Context) (subscriptiondomain.ProcessResult, error) {
	now := s.clock.Now()

	rows, err := s.repo.Find(ctx, &subscriptiondomain.Subscription{},
		option.WithOrder("period_end ASC"))
	if err != nil {
		return subscriptiondomain.ProcessResult{}, fmt.Errorf("list subscriptions: %w", err)
	}

	result := subscriptiondomain.ProcessResult{}
	for _, row := range rows {
		sub := *row
		due := sub.Status == subscriptiondomain.StatusActive || sub.Status == subscriptiondomain.StatusTrialing
		if !due || sub.PeriodEnd.After(now) {
			continue
		}

		if err := s.rollSubscription(ctx, sub, now); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, subscriptiondomain.SubscriptionError{
				SubscriptionID: sub.ID,
				Error:          err.Error(),
			})
			s.log.Error("billing.sweep_subscription_failed",
				zap.String("subscription_id", sub.ID.String()),
				zap.Error(err),
			)
			continue
		}
		result.Processed++
	}
	return result, nil
}

// rollSubscription advances one elapsed subscription: deferred cancellation
// first, otherwise trial promotion, period roll, and the next cycle.
func (s *Service) rollSubscription(ctx context.Context, sub subscriptiondomain.Subscription, now time.Time) error {
	if sub.CancelAtPeriodEnd {
		sub.Status = subscriptiondomain.StatusCanceled
		sub.CanceledAt = &now
		sub.CancelAtPeriodEnd = false
		sub.UpdatedAt = now
		return s.db.WithContext(ctx).Save(&sub).Error
	}

	if sub.Status == subscriptiondomain.StatusTrialing {
		sub.Status = subscriptiondomain.StatusActive
		sub.TrialEnd = nil
	}
	sub.PeriodStart = sub.PeriodEnd
	sub.PeriodEnd = periodEnd(sub.PeriodStart, sub.CycleLength)
	sub.UpdatedAt = now

	if err := s.db.WithContext(ctx).Save(&sub).Error; err != nil {
		return fmt.Errorf("roll period: %w", err)
	}

	if _, err := s.cyclesvc.Create(ctx, billingcycledomain.CreateRequest{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Tier:           sub.Tier,
		Length:         sub.CycleLength,
		PeriodStart:    sub.PeriodStart,
		PeriodEnd:      sub.PeriodEnd,
	}); err != nil {
		return fmt.Errorf("open next billing cycle: %w", err)
	}
	return nil
}
