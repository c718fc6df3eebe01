// Package service implements usage metering: append-only usage events plus a
// per-user aggregate with lazily rolled-over daily and monthly buckets.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/boardroomhq/boardroom/internal/clock"
	"github.com/boardroomhq/boardroom/internal/observability/metrics"
	"github.com/boardroomhq/boardroom/internal/ratelimit"
	"github.com/boardroomhq/boardroom/internal/tier"
	"github.com/boardroomhq/boardroom/internal/usage/domain"
	"github.com/boardroomhq/boardroom/pkg/db/option"
	"github.com/boardroomhq/boardroom/pkg/repository"
)

type service struct {
	db         *gorm.DB
	events     repository.Repository[domain.UsageEvent]
	violations repository.Repository[domain.Violation]
	node       *snowflake.Node
	clock      clock.Clock
	mu         *ratelimit.KeyedMutex
	locker     *ratelimit.Locker
	metrics    *metrics.Metrics
	log        *zap.Logger
}

// NewService wires the usage metering service.
func NewService(
	db *gorm.DB,
	node *snowflake.Node,
	clk clock.Clock,
	mu *ratelimit.KeyedMutex,
	locker *ratelimit.Locker,
	m *metrics.Metrics,
	log *zap.Logger,
) domain.Service {
	return &service{
		db:         db,
		events:     repository.ProvideStore[domain.UsageEvent](db),
		violations: repository.ProvideStore[domain.Violation](db),
		node:       node,
		clock:      clk,
		mu:         mu,
		locker:     locker,
		metrics:    m,
		log:        log.Named("usage"),
	}
}

func dailyPeriod(t time.Time) string   { return t.UTC().Format("2006-01-02") }
func monthlyPeriod(t time.Time) string { return t.UTC().Format("2006-01") }

// GetUserUsage loads (or creates) the aggregate and rolls buckets forward
// when their period key is stale. Rollover is idempotent: a second call in
// the same period is a no-op.
func (s *service) GetUserUsage(ctx context.Context, userID string, t tier.ID) (domain.Aggregate, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Aggregate{}, domain.ErrInvalidUser
	}
	if !tier.Valid(t) {
		return domain.Aggregate{}, domain.ErrInvalidTier
	}

	unlock := s.mu.Lock(userID)
	defer unlock()

	var agg domain.Aggregate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var e error
		agg, e = s.loadForUpdate(ctx, tx, userID, t)
		return e
	})
	return agg, err
}

// loadForUpdate fetches the aggregate inside tx, creating it on first use
// and applying period rollover. Callers must hold the per-user mutex.
func (s *service) loadForUpdate(ctx context.Context, tx *gorm.DB, userID string, t tier.ID) (domain.Aggregate, error) {
	now := s.clock.Now()

	var agg domain.Aggregate
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&agg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		agg = domain.Aggregate{
			UserID:        userID,
			Tier:          t,
			DailyPeriod:   dailyPeriod(now),
			MonthlyPeriod: monthlyPeriod(now),
		}
		agg.Daily.Zero()
		agg.Monthly.Zero()
		if err := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&agg).Error; err != nil {
			return domain.Aggregate{}, fmt.Errorf("create usage aggregate: %w", err)
		}
		return agg, nil
	}
	if err != nil {
		return domain.Aggregate{}, fmt.Errorf("load usage aggregate: %w", err)
	}

	changed := false
	if dp := dailyPeriod(now); agg.DailyPeriod != dp {
		agg.Daily.Zero()
		agg.DailyPeriod = dp
		changed = true
	}
	if mp := monthlyPeriod(now); agg.MonthlyPeriod != mp {
		agg.Monthly.Zero()
		agg.MonthlyPeriod = mp
		changed = true
	}
	if agg.Tier != t {
		agg.Tier = t
		changed = true
	}
	if changed {
		agg.UpdatedAt = now
		if err := tx.WithContext(ctx).Save(&agg).Error; err != nil {
			return domain.Aggregate{}, fmt.Errorf("roll over usage aggregate: %w", err)
		}
	}
	return agg, nil
}

// record applies one usage event plus its aggregate deltas atomically.
func (s *service) record(ctx context.Context, userID string, t tier.ID, ev domain.UsageEvent, apply func(agg *domain.Aggregate)) error {
	if strings.TrimSpace(userID) == "" {
		return domain.ErrInvalidUser
	}
	if !tier.Valid(t) {
		return domain.ErrInvalidTier
	}

	unlock := s.mu.Lock(userID)
	defer unlock()

	if s.locker != nil {
		key := "usage:" + userID
		token, ok, err := s.locker.TryLock(ctx, key, 5*time.Second)
		if err != nil {
			s.log.Warn("usage.lock_unavailable", zap.String("user_id", userID), zap.Error(err))
		} else if ok {
			defer func() {
				if err := s.locker.Release(ctx, key, token); err != nil {
					s.log.Warn("usage.lock_release_failed", zap.String("user_id", userID), zap.Error(err))
				}
			}()
		}
	}

	now := s.clock.Now()
	ev.ID = s.node.Generate()
	ev.UserID = userID
	ev.RecordedAt = now

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		agg, err := s.loadForUpdate(ctx, tx, userID, t)
		if err != nil {
			return err
		}
		apply(&agg)
		agg.UpdatedAt = now
		if err := tx.WithContext(ctx).Save(&agg).Error; err != nil {
			return fmt.Errorf("update usage aggregate: %w", err)
		}
		if err := tx.WithContext(ctx).Create(&ev).Error; err != nil {
			return fmt.Errorf("append usage event: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.RecordUsageEvent(ctx, string(ev.Type))
	s.metrics.RecordTokens(ctx, ev.Model, ev.TokensUsed)
	return nil
}

func (s *service) RecordMessage(ctx context.Context, req domain.RecordMessageRequest) error {
	if req.Tokens < 0 {
		return domain.ErrInvalidValue
	}
	ev := domain.UsageEvent{
		Type:          domain.EventMessage,
		Model:         req.Model,
		TokensUsed:    req.Tokens,
		ActualCost:    req.Cost,
		EstimatedCost: req.Cost,
	}
	return s.record(ctx, req.UserID, req.Tier, ev, func(agg *domain.Aggregate) {
		agg.Daily.Messages++
		agg.Monthly.Messages++
		agg.Daily.Tokens += req.Tokens
		agg.Monthly.Tokens += req.Tokens
		agg.Daily.Cost = agg.Daily.Cost.Add(req.Cost)
		agg.Monthly.Cost = agg.Monthly.Cost.Add(req.Cost)
	})
}

func (s *service) RecordDebate(ctx context.Context, req domain.RecordDebateRequest) error {
	if req.Rounds <= 0 || req.Personas <= 0 {
		return domain.ErrInvalidValue
	}
	ev := domain.UsageEvent{
		Type:          domain.EventDebate,
		Model:         req.Model,
		TokensUsed:    req.Tokens,
		ActualCost:    req.Cost,
		EstimatedCost: req.Cost,
		Metadata: datatypes.JSONMap{
			"rounds":   req.Rounds,
			"personas": req.Personas,
			"topic":    req.Topic,
		},
	}
	return s.record(ctx, req.UserID, req.Tier, ev, func(agg *domain.Aggregate) {
		agg.Daily.Debates++
		agg.Monthly.Debates++
		agg.Daily.DebateRounds += req.Rounds
		agg.Monthly.DebateRounds += req.Rounds
		agg.Daily.Tokens += req.Tokens
		agg.Monthly.Tokens += req.Tokens
		agg.Daily.Cost = agg.Daily.Cost.Add(req.Cost)
		agg.Monthly.Cost = agg.Monthly.Cost.Add(req.Cost)
		if req.Personas > agg.Daily.MaxPersonasUsed {
			agg.Daily.MaxPersonasUsed = req.Personas
		}
		if req.Personas > agg.Monthly.MaxPersonasUsed {
			agg.Monthly.MaxPersonasUsed = req.Personas
		}
	})
}

func (s *service) RecordExport(ctx context.Context, userID string, t tier.ID) error {
	ev := domain.UsageEvent{Type: domain.EventExport, ActualCost: decimal.Zero, EstimatedCost: decimal.Zero}
	return s.record(ctx, userID, t, ev, func(agg *domain.Aggregate) {
		agg.Daily.ExportsGenerated++
		agg.Monthly.ExportsGenerated++
	})
}

func (s *service) RecordAPICall(ctx context.Context, userID string, t tier.ID) error {
	ev := domain.UsageEvent{Type: domain.EventAPICall, ActualCost: decimal.Zero, EstimatedCost: decimal.Zero}
	return s.record(ctx, userID, t, ev, func(agg *domain.Aggregate) {
		agg.Daily.APICalls++
		agg.Monthly.APICalls++
	})
}

// CheckUsageLimit evaluates an action against the tier ceilings. It never
// returns a domain denial as an error: the verdict is in the LimitCheck.
func (s *service) CheckUsageLimit(ctx context.Context, userID string, t tier.ID, action domain.Action, params *domain.DebateParams) (domain.LimitCheck, error) {
	agg, err := s.GetUserUsage(ctx, userID, t)
	if err != nil {
		return domain.LimitCheck{}, err
	}
	limits := tier.MustGet(t).Limits

	switch action {
	case domain.ActionMessage:
		return checkCeiling("messages_per_month", limits.MessagesPerMonth, agg.Monthly.Messages), nil

	case domain.ActionExport:
		return checkCeiling("exports_per_month", limits.ExportsPerMonth, agg.Monthly.ExportsGenerated), nil

	case domain.ActionAPICall:
		return checkCeiling("api_calls_per_month", limits.APICallsPerMonth, agg.Monthly.APICalls), nil

	case domain.ActionDebate:
		check := checkCeiling("debates_per_month", limits.DebatesPerMonth, agg.Monthly.Debates)
		if !check.Allowed || params == nil {
			return check, nil
		}
		if limits.MaxDebateRounds != tier.Unlimited && params.Rounds > limits.MaxDebateRounds {
			return domain.LimitCheck{
				Feature:         "max_debate_rounds",
				Limit:           limits.MaxDebateRounds,
				Remaining:       0,
				UpgradeRequired: true,
				Message:         fmt.Sprintf("requested %d rounds exceeds the %d-round maximum for your plan", params.Rounds, limits.MaxDebateRounds),
			}, nil
		}
		if limits.MaxPersonas != tier.Unlimited && params.Personas > limits.MaxPersonas {
			return domain.LimitCheck{
				Feature:         "max_personas",
				Limit:           limits.MaxPersonas,
				Remaining:       0,
				UpgradeRequired: true,
				Message:         fmt.Sprintf("requested %d personas exceeds the %d-persona maximum for your plan", params.Personas, limits.MaxPersonas),
			}, nil
		}
		// A debate generates rounds x personas messages; all of them must
		// fit under the remaining message quota.
		needed := params.Rounds * params.Personas
		msgCheck := checkCeiling("messages_per_month", limits.MessagesPerMonth, agg.Monthly.Messages)
		if msgCheck.Limit != tier.Unlimited && msgCheck.Remaining < needed {
			return domain.LimitCheck{
				Feature:         "messages_per_month",
				Limit:           msgCheck.Limit,
				Remaining:       msgCheck.Remaining,
				UpgradeRequired: true,
				Message:         fmt.Sprintf("debate needs %d messages but only %d remain this month", needed, msgCheck.Remaining),
			}, nil
		}
		return check, nil

	default:
		return domain.LimitCheck{
			Feature:         string(action),
			UpgradeRequired: true,
			Message:         fmt.Sprintf("unknown action %q", action),
		}, nil
	}
}

func checkCeiling(feature string, limit, used int64) domain.LimitCheck {
	if limit == tier.Unlimited {
		return domain.LimitCheck{Allowed: true, Feature: feature, Limit: tier.Unlimited, Remaining: tier.Unlimited}
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	if used >= limit {
		return domain.LimitCheck{
			Feature:         feature,
			Limit:           limit,
			Remaining:       0,
			UpgradeRequired: true,
			Message:         fmt.Sprintf("%s limit of %d reached", feature, limit),
		}
	}
	return domain.LimitCheck{Allowed: true, Feature: feature, Limit: limit, Remaining: remaining}
}

// EnforceLimit runs the same evaluation as CheckUsageLimit and, when the
// action is denied, appends a Violation audit record.
func (s *service) EnforceLimit(ctx context.Context, userID string, t tier.ID, action domain.Action, params *domain.DebateParams) (domain.EnforceResult, error) {
	check, err := s.CheckUsageLimit(ctx, userID, t, action, params)
	if err != nil {
		return domain.EnforceResult{}, err
	}
	res := domain.EnforceResult{LimitCheck: check}
	if check.Allowed {
		return res, nil
	}

	attempted := check.Limit - check.Remaining + 1
	if check.Limit == tier.Unlimited {
		attempted = 0
	}
	v := domain.Violation{
		ID:        s.node.Generate(),
		UserID:    userID,
		Feature:   check.Feature,
		Limit:     check.Limit,
		Attempted: attempted,
		Action:    "blocked",
		Tier:      t,
		CreatedAt: s.clock.Now(),
	}
	if err := s.violations.Create(ctx, &v); err != nil {
		// The denial still stands even if the audit write fails.
		s.log.Error("usage.violation_write_failed", zap.String("user_id", userID), zap.Error(err))
	} else {
		res.Violation = &v
	}
	s.metrics.RecordLimitViolation(ctx, check.Feature)
	return res, nil
}

func (s *service) ListEvents(ctx context.Context, req domain.ListEventsRequest) ([]*domain.UsageEvent, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, domain.ErrInvalidUser
	}
	opts := []option.QueryOption{option.WithOrder("recorded_at ASC")}
	if !req.From.IsZero() || !req.To.IsZero() {
		opts = append(opts, option.WithTimeRange("recorded_at", req.From, req.To))
	}
	return s.events.Find(ctx, &domain.UsageEvent{UserID: req.UserID}, opts...)
}

func (s *service) ListViolations(ctx context.Context, userID string) ([]*domain.Violation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrInvalidUser
	}
	return s.violations.Find(ctx, &domain.Violation{UserID: userID}, option.WithOrder("created_at DESC"))
}
