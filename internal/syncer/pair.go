package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ao-appcluster/appcluster/internal/appstatus"
	"github.com/ao-appcluster/appcluster/internal/model"
	"github.com/ao-appcluster/appcluster/internal/monitor"
)

// TaskPool is the subset of the shared operation pool a PairSynchronizer
// dispatches through: a lowered-priority pool, distinct from the
// monitor's lookup pool.
type TaskPool interface {
	Submit(task func()) error
}

// SyncPool runs the task on the calling goroutine. Used as the default
// when no pool is supplied and in tests.
type SyncPool struct{}

func (SyncPool) Submit(task func()) error {
	task()
	return nil
}

// Classifications reports the latest DNS classification of the local and
// remote node of a pair, and whether a classification is available yet.
// A *monitor.ResourceMonitor's LastResult, looked up by node id, is the
// production implementation; tests supply fakes.
type Classifications func() (local, remote monitor.Classification, ok bool)

// Config configures one PairSynchronizer.
type Config struct {
	ResourceID   model.ResourceID
	LocalNodeID  model.NodeID
	RemoteNodeID model.NodeID

	// Enabled is the combined cluster-enabled && resource-enabled &&
	// local-node-enabled && remote-node-enabled flag. A PairSynchronizer
	// built with Enabled false starts straight into StateDisabled and
	// never wakes, schedules, or dispatches an operation. Config is fixed
	// at New, so such a synchronizer stays in StateDisabled; leaving it
	// takes a new PairSynchronizer built with Enabled true.
	Enabled bool

	SynchronizeSchedule Schedule
	TestSchedule        Schedule

	SynchronizeTimeout time.Duration
	TestTimeout        time.Duration

	Synchronizer    Synchronizer
	Classifications Classifications
	Pool            TaskPool
	Log             *zap.SugaredLogger
}

// PairSynchronizer is the per-directed-pair state machine: it wakes once
// a minute, checks whether either cron schedule
// fires (or a manual synchronizeNow/testNow flag is set), and — if the
// current DNS classification permits it — dispatches a test or
// synchronize operation through the shared operation pool with a
// timeout.
type PairSynchronizer struct {
	cfg Config

	mu            sync.Mutex
	started       bool
	generation    uint64
	cancel        context.CancelFunc
	state         State
	stateMessage  string
	synchronizeNow bool
	testNow       bool
	lastSyncResult *OperationResult
	lastTestResult *OperationResult
}

// New builds a PairSynchronizer in the STOPPED state.
func New(cfg Config) *PairSynchronizer {
	if cfg.Pool == nil {
		cfg.Pool = SyncPool{}
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	cfg.Log = cfg.Log.With(
		"resource", cfg.ResourceID,
		"local", cfg.LocalNodeID,
		"remote", cfg.RemoteNodeID,
	)
	return &PairSynchronizer{cfg: cfg, state: StateStopped}
}

// State returns the synchronizer's current lifecycle state.
func (p *PairSynchronizer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// LastSynchronizationResult returns the outcome of the most recently
// completed synchronize operation, or nil if none has run yet.
func (p *PairSynchronizer) LastSynchronizationResult() *OperationResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSyncResult
}

// LastTestResult returns the outcome of the most recently completed test
// operation, or nil if none has run yet.
func (p *PairSynchronizer) LastTestResult() *OperationResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTestResult
}

// SynchronizeNow requests an out-of-band synchronize at the next wakeup,
// regardless of schedule. A call while the synchronizer is not SLEEPING
// is silently ignored. The flag is consumed (reset) by that wakeup
// whether or not eligibility allowed the operation to actually run.
func (p *PairSynchronizer) SynchronizeNow() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateSleeping {
		p.synchronizeNow = true
	}
}

// TestNow requests an out-of-band test at the next wakeup, regardless of
// schedule. A call while the synchronizer is not SLEEPING is silently
// ignored.
func (p *PairSynchronizer) TestNow() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateSleeping {
		p.testNow = true
	}
}

// Start begins the once-a-minute wakeup loop. Idempotent. If the
// synchronizer is not Enabled, Start instead leaves it parked in
// StateDisabled: no loop is spawned, so it never wakes, schedules, or
// dispatches an operation. Enabled is fixed at New, so later Starts
// leave it there too.
func (p *PairSynchronizer) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}

	if !p.cfg.Enabled {
		p.state = StateDisabled
		p.stateMessage = ""
		p.mu.Unlock()
		return
	}

	p.started = true
	p.generation++
	gen := p.generation
	p.state = StateSleeping
	p.stateMessage = ""

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	go p.loop(loopCtx, gen)
}

// Stop ends the wakeup loop. Idempotent.
func (p *PairSynchronizer) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.generation++
	cancel := p.cancel
	p.cancel = nil
	p.state = StateStopped
	p.stateMessage = ""
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// loop is the no-catch-up minute-boundary wakeup: it always arms the
// next timer relative to "now" at the moment it wakes, so a long pause
// (GC, debugger, suspended VM) skips straight to the next future minute
// boundary rather than firing once per missed minute.
func (p *PairSynchronizer) loop(ctx context.Context, gen uint64) {
	for {
		now := time.Now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case fired := <-timer.C:
			p.mu.Lock()
			stillLive := p.started && p.generation == gen
			p.mu.Unlock()
			if !stillLive {
				return
			}
			p.wakeup(ctx, fired)
		}
	}
}

// wakeup runs exactly one schedule/flag check and, at most, one
// dispatched operation per wakeup.
func (p *PairSynchronizer) wakeup(ctx context.Context, now time.Time) {
	p.mu.Lock()
	wantSync := p.synchronizeNow || p.cfg.SynchronizeSchedule.Due(now)
	wantTest := p.testNow || p.cfg.TestSchedule.Due(now)
	p.synchronizeNow = false
	p.testNow = false
	p.mu.Unlock()

	if !wantSync && !wantTest {
		return
	}

	local, remote, ok := p.classifications()
	if !ok {
		p.cfg.Log.Debugw("skipping wakeup, no classification yet")
		return
	}

	// Synchronize takes priority over test when both are due in the same
	// minute: a synchronize subsumes what a test would have checked.
	if wantSync && p.cfg.Synchronizer.CanSynchronize(local, remote) {
		p.dispatch(ctx, StateSynchronizing, p.cfg.SynchronizeTimeout, p.cfg.Synchronizer.Synchronize, &p.lastSyncResult)
		return
	}
	if wantTest && p.cfg.Synchronizer.CanTest(local, remote) {
		p.dispatch(ctx, StateTesting, p.cfg.TestTimeout, p.cfg.Synchronizer.Test, &p.lastTestResult)
	}
}

func (p *PairSynchronizer) classifications() (local, remote monitor.Classification, ok bool) {
	if p.cfg.Classifications == nil {
		return monitor.ClassificationUnknown, monitor.ClassificationUnknown, false
	}
	return p.cfg.Classifications()
}

// dispatch submits one operation to the shared pool, bounded by timeout,
// and records its result. A panic inside the operation is recovered and
// reported as an ERROR result, never crashes the loop.
func (p *PairSynchronizer) dispatch(ctx context.Context, state State, timeout time.Duration, op func(context.Context) OperationResult, dest **OperationResult) {
	runID := uuid.NewString()
	p.cfg.Log.Infow("dispatching operation", "run_id", runID, "state", state.String())
	p.setState(state, "")

	done := make(chan OperationResult, 1)
	submitErr := p.cfg.Pool.Submit(func() {
		opCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		done <- p.runGuarded(opCtx, op)
	})
	if submitErr != nil {
		p.finish(state, dest, ErrorResult(nil, fmt.Sprintf("pool submit: %v", submitErr)))
		return
	}

	select {
	case result := <-done:
		p.finish(state, dest, result)
	case <-ctx.Done():
		p.finish(state, dest, ErrorResult(nil, "cancelled"))
	case <-time.After(timeout + 5*time.Second):
		// Backstop in case the pooled goroutine never observes its own
		// context deadline (e.g. blocked in uninterruptible I/O); the
		// result it eventually produces, if any, is discarded.
		p.finish(state, dest, ErrorResult(nil, "operation timeout exceeded"))
	}
}

func (p *PairSynchronizer) runGuarded(ctx context.Context, op func(context.Context) OperationResult) (result OperationResult) {
	defer func() {
		if r := recover(); r != nil {
			result = ErrorResult(nil, fmt.Sprintf("panic: %v", r))
		}
	}()
	return op(ctx)
}

func (p *PairSynchronizer) finish(from State, dest **OperationResult, result OperationResult) {
	p.mu.Lock()
	*dest = &result
	if p.state == from {
		p.state = StateSleeping
		if result.Status >= appstatus.Error {
			p.stateMessage = result.Error
		} else {
			p.stateMessage = ""
		}
	}
	p.mu.Unlock()
}

func (p *PairSynchronizer) setState(s State, msg string) {
	p.mu.Lock()
	p.state = s
	p.stateMessage = msg
	p.mu.Unlock()
}
