// Package scheduler runs the recurring billing sweep: rolling elapsed
// subscription periods, applying deferred cancellations, and opening the
// next billing cycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/boardroomhq/boardroom/internal/clock"
	"github.com/boardroomhq/boardroom/internal/observability/metrics"
	subscriptiondomain "github.com/boardroomhq/boardroom/internal/subscription/domain"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	Log             *zap.Logger
	SubscriptionSvc subscriptiondomain.Service
	GenID           *snowflake.Node
	Clock           clock.Clock
	Metrics         *metrics.Metrics `optional:"true"`
	Config          Config           `optional:"true"`
}

type Scheduler struct {
	log             *zap.Logger
	cfg             Config
	genID           *snowflake.Node
	clock           clock.Clock
	metrics         *metrics.Metrics
	subscriptionSvc subscriptiondomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.SubscriptionSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		genID:           p.GenID,
		clock:           p.Clock,
		metrics:         p.Metrics,
		subscriptionSvc: p.SubscriptionSvc,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	fn func(ctx context.Context) error,
) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(run)
	}

	err := fn(ctx)
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(run)
	}
	if err == nil {
		return nil
	}

	// A deadline here is a soft timeout: the next tick picks the work
	// back up.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("scheduler.job.timeout",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"billing_sweep", s.BillingSweepJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// BillingSweepJob advances every subscription whose period has elapsed.
// Per-subscription failures are reported by the sweep itself; the job
// only fails outright when the sweep cannot run at all.
func (s *Scheduler) BillingSweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "billing_sweep")
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	start := s.clock.Now()
	result, err := s.subscriptionSvc.ProcessBilling(ctx)
	s.metrics.RecordBillingSweep(ctx, s.clock.Now().Sub(start), result.Failed)
	if err != nil {
		run.IncError()
		return err
	}

	run.AddProcessed(result.Processed)
	for _, subErr := range result.Errors {
		run.IncError()
		s.log.Error("scheduler.subscription.roll.failed",
			zap.String("subscription_id", subErr.SubscriptionID.String()),
			zap.String("error", subErr.Error),
		)
	}
	return nil
}
