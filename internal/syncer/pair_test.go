package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ao-appcluster/appcluster/internal/appstatus"
	"github.com/ao-appcluster/appcluster/internal/monitor"
)

type fakeSynchronizer struct {
	DefaultPolicy
	syncCalls int
	testCalls int
	syncFn    func(context.Context) OperationResult
	testFn    func(context.Context) OperationResult
}

func (f *fakeSynchronizer) Synchronize(ctx context.Context) OperationResult {
	f.syncCalls++
	if f.syncFn != nil {
		return f.syncFn(ctx)
	}
	return OperationResult{Status: appstatus.Healthy}
}

func (f *fakeSynchronizer) Test(ctx context.Context) OperationResult {
	f.testCalls++
	if f.testFn != nil {
		return f.testFn(ctx)
	}
	return OperationResult{Status: appstatus.Healthy}
}

func masterSlave() Classifications {
	return func() (local, remote monitor.Classification, ok bool) {
		return monitor.ClassificationMaster, monitor.ClassificationSlave, true
	}
}

func TestPairSynchronizer_DispatchesSynchronizeWhenDueAndEligible(t *testing.T) {
	sync := &fakeSynchronizer{}
	p := New(Config{
		SynchronizeSchedule: NewSchedule(everyMinute{}),
		SynchronizeTimeout:  time.Second,
		Synchronizer:        sync,
		Classifications:     masterSlave(),
	})

	p.wakeup(context.Background(), time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC))

	assert.Equal(t, 1, sync.syncCalls)
	require.NotNil(t, p.LastSynchronizationResult())
	assert.Equal(t, appstatus.Healthy, p.LastSynchronizationResult().Status)
	assert.Equal(t, StateSleeping, p.State())
}

func TestPairSynchronizer_NotDueDoesNothing(t *testing.T) {
	sync := &fakeSynchronizer{}
	p := New(Config{
		SynchronizeSchedule: NewSchedule(never{}),
		TestSchedule:        NewSchedule(never{}),
		Synchronizer:        sync,
		Classifications:     masterSlave(),
	})

	p.wakeup(context.Background(), time.Now())

	assert.Equal(t, 0, sync.syncCalls)
	assert.Equal(t, 0, sync.testCalls)
}

func TestPairSynchronizer_IneligibleClassificationSkipsOperation(t *testing.T) {
	sync := &fakeSynchronizer{}
	p := New(Config{
		SynchronizeSchedule: NewSchedule(everyMinute{}),
		Synchronizer:        sync,
		Classifications: func() (monitor.Classification, monitor.Classification, bool) {
			return monitor.ClassificationSlave, monitor.ClassificationSlave, true
		},
	})

	p.wakeup(context.Background(), time.Now())

	assert.Equal(t, 0, sync.syncCalls, "two slaves cannot synchronize")
}

// TestPairSynchronizer_NoCatchUp verifies that a synchronizeNow request,
// even if set multiple times, is consumed by a single wakeup whether or
// not the operation actually ran (here the classification makes it
// ineligible), and that a later wakeup does not run the missed request.
func TestPairSynchronizer_NoCatchUp(t *testing.T) {
	sync := &fakeSynchronizer{}
	p := New(Config{
		SynchronizeSchedule: NewSchedule(never{}),
		Synchronizer:        sync,
		Classifications: func() (monitor.Classification, monitor.Classification, bool) {
			return monitor.ClassificationSlave, monitor.ClassificationSlave, true
		},
	})

	p.mu.Lock()
	p.state = StateSleeping
	p.mu.Unlock()

	p.SynchronizeNow()
	p.SynchronizeNow()
	p.SynchronizeNow()

	p.wakeup(context.Background(), time.Now())
	assert.Equal(t, 0, sync.syncCalls, "ineligible classification still consumes the flag")

	p.mu.Lock()
	flagStillSet := p.synchronizeNow
	p.mu.Unlock()
	assert.False(t, flagStillSet, "synchronizeNow must be consumed exactly once per wakeup")

	// A later wakeup with no new request and no due schedule must not
	// dispatch again.
	p.wakeup(context.Background(), time.Now())
	assert.Equal(t, 0, sync.syncCalls)
}

// TestPairSynchronizer_TimeoutProducesErrorResult verifies that an
// operation that overruns its timeout yields an ERROR result, not a
// crash or a hang.
func TestPairSynchronizer_TimeoutProducesErrorResult(t *testing.T) {
	sync := &fakeSynchronizer{
		syncFn: func(ctx context.Context) OperationResult {
			select {
			case <-ctx.Done():
				return ErrorResult(nil, ctx.Err().Error())
			case <-time.After(time.Second):
				return OperationResult{Status: appstatus.Healthy}
			}
		},
	}
	p := New(Config{
		SynchronizeSchedule: NewSchedule(everyMinute{}),
		SynchronizeTimeout:  20 * time.Millisecond,
		Synchronizer:        sync,
		Classifications:     masterSlave(),
	})

	p.wakeup(context.Background(), time.Now())

	require.NotNil(t, p.LastSynchronizationResult())
	assert.Equal(t, appstatus.Error, p.LastSynchronizationResult().Status)
}

func TestPairSynchronizer_SynchronizeTakesPriorityOverTest(t *testing.T) {
	sync := &fakeSynchronizer{}
	p := New(Config{
		SynchronizeSchedule: NewSchedule(everyMinute{}),
		TestSchedule:        NewSchedule(everyMinute{}),
		SynchronizeTimeout:  time.Second,
		TestTimeout:         time.Second,
		Synchronizer:        sync,
		Classifications:     masterSlave(),
	})

	p.wakeup(context.Background(), time.Now())

	assert.Equal(t, 1, sync.syncCalls)
	assert.Equal(t, 0, sync.testCalls)
}

func TestPairSynchronizer_RunNowIgnoredUnlessSleeping(t *testing.T) {
	p := New(Config{Synchronizer: &fakeSynchronizer{}, Classifications: masterSlave()})
	// default state after New is STOPPED, not SLEEPING.
	p.SynchronizeNow()
	p.TestNow()

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.False(t, p.synchronizeNow)
	assert.False(t, p.testNow)
}

func TestPairSynchronizer_StartStopIdempotent(t *testing.T) {
	p := New(Config{
		Enabled:             true,
		SynchronizeSchedule: NewSchedule(never{}),
		Synchronizer:        &fakeSynchronizer{},
		Classifications:     masterSlave(),
	})

	ctx := context.Background()
	p.Start(ctx)
	p.Start(ctx) // no-op
	assert.Equal(t, StateSleeping, p.State())

	p.Stop()
	p.Stop() // no-op
	assert.Equal(t, StateStopped, p.State())
}

func TestPairSynchronizer_DisabledConfigStartsAndStaysDisabled(t *testing.T) {
	sync := &fakeSynchronizer{}
	p := New(Config{
		Enabled:             false,
		SynchronizeSchedule: NewSchedule(everyMinute{}),
		TestSchedule:        NewSchedule(everyMinute{}),
		SynchronizeTimeout:  time.Second,
		TestTimeout:         time.Second,
		Synchronizer:        sync,
		Classifications:     masterSlave(),
	})

	ctx := context.Background()
	p.Start(ctx)
	p.Start(ctx) // no-op

	assert.Equal(t, StateDisabled, p.State())
	assert.Equal(t, 0, sync.syncCalls)
	assert.Equal(t, 0, sync.testCalls)

	// SynchronizeNow/TestNow only take effect from SLEEPING; a disabled
	// synchronizer never reaches it, so requests stay silently ignored.
	p.SynchronizeNow()
	p.TestNow()
	assert.Equal(t, StateDisabled, p.State())

	// Stop is a no-op: a disabled synchronizer never set started, so
	// there is no wakeup loop to tear down.
	p.Stop()
	assert.Equal(t, StateDisabled, p.State())
}
