package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boardroomhq/boardroom/internal/clock"
	subscriptiondomain "github.com/boardroomhq/boardroom/internal/subscription/domain"
)

type sweepStub struct {
	subscriptiondomain.Service

	calls  atomic.Int64
	result subscriptiondomain.ProcessResult
	err    error
}

func (s *sweepStub) ProcessBilling(ctx context.Context) (subscriptiondomain.ProcessResult, error) {
	s.calls.Add(1)
	return s.result, s.err
}

func newTestScheduler(t *testing.T, stub *sweepStub, cfg Config) *Scheduler {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	sched, err := New(Params{
		Log:             zap.NewNop(),
		SubscriptionSvc: stub,
		GenID:           node,
		Clock:           clock.NewFakeClock(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)),
		Config:          cfg,
	})
	require.NoError(t, err)
	return sched
}

func TestRunOnceExecutesBillingSweep(t *testing.T) {
	stub := &sweepStub{result: subscriptiondomain.ProcessResult{Processed: 3}}
	sched := newTestScheduler(t, stub, Config{})

	require.NoError(t, sched.RunOnce(context.Background()))
	require.EqualValues(t, 1, stub.calls.Load())
}

func TestRunOnceSurfacesSweepFailure(t *testing.T) {
	stub := &sweepStub{err: errors.New("db down")}
	sched := newTestScheduler(t, stub, Config{})

	err := sched.RunOnce(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "billing_sweep")
}

func TestPerSubscriptionFailuresDoNotFailTheJob(t *testing.T) {
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	stub := &sweepStub{result: subscriptiondomain.ProcessResult{
		Processed: 1,
		Failed:    1,
		Errors: []subscriptiondomain.SubscriptionError{
			{SubscriptionID: node.Generate(), Error: "cycle creation failed"},
		},
	}}
	sched := newTestScheduler(t, stub, Config{})

	require.NoError(t, sched.RunOnce(context.Background()))
}

func TestDisabledJobIsSkipped(t *testing.T) {
	stub := &sweepStub{}
	sched := newTestScheduler(t, stub, Config{EnabledJobs: []string{"something_else"}})

	require.NoError(t, sched.RunOnce(context.Background()))
	require.Zero(t, stub.calls.Load())
}

func TestRunForeverStopsOnContextCancel(t *testing.T) {
	stub := &sweepStub{}
	sched := newTestScheduler(t, stub, Config{RunInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.RunForever(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return stub.calls.Load() >= 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
