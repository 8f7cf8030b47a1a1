// Package syncer implements the cron-driven resource synchronizer: one
// state machine per directed (resource, local node, remote node) pair
// that observes the latest DNS classification and runs test/synchronize
// operations on schedule, with timeouts and no-catch-up skip semantics.
package syncer

import (
	"context"
	"time"

	"github.com/ao-appcluster/appcluster/internal/appstatus"
	"github.com/ao-appcluster/appcluster/internal/monitor"
)

// Synchronizer is the narrow interface every plug-in synchronization
// strategy implements: rsync, csync2, jdbc, imap, manual. A
// PairSynchronizer holds exactly one Synchronizer and calls into it for
// eligibility decisions and the operations themselves.
type Synchronizer interface {
	// CanSynchronize reports whether a synchronize is permitted given the
	// current classification of the local and remote node. The default
	// policy is local=MASTER and remote=SLAVE; plug-ins may override.
	CanSynchronize(local, remote monitor.Classification) bool

	// CanTest reports whether a test is permitted given the current
	// classification of the local and remote node. The default policy is
	// (local=MASTER, remote=SLAVE) or (local=SLAVE, remote=MASTER).
	CanTest(local, remote monitor.Classification) bool

	// Synchronize replicates data from local to remote. It may mutate the
	// remote endpoint. ctx carries the configured synchronizeTimeout
	// deadline.
	Synchronize(ctx context.Context) OperationResult

	// Test verifies consistency between local and remote without
	// mutating either. ctx carries the configured testTimeout deadline.
	Test(ctx context.Context) OperationResult
}

// OperationResult is the outcome of one test or synchronize call.
// Results are always a list of steps, the richer form subsuming what a
// plug-in with only a single phase reports.
type OperationResult struct {
	Status appstatus.Status
	Steps  []OperationStep
	Error  string
}

// OperationStep is one named phase of a test or synchronize run (e.g.
// "connect", "compare schema", "compare table orders"), each with its own
// status and captured output.
type OperationStep struct {
	Name   string
	Status appstatus.Status
	Output string
}

// ErrorResult builds the OperationResult an operation times out or
// panics into: ERROR status, the cause recorded, any already-appended
// steps preserved.
func ErrorResult(partial []OperationStep, cause string) OperationResult {
	return OperationResult{
		Status: appstatus.Error,
		Steps:  partial,
		Error:  cause,
	}
}

// State is a PairSynchronizer's lifecycle state.
type State int

const (
	StateDisabled State = iota
	StateStopped
	StateSleeping
	StateTesting
	StateSynchronizing
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "DISABLED"
	case StateStopped:
		return "STOPPED"
	case StateSleeping:
		return "SLEEPING"
	case StateTesting:
		return "TESTING"
	case StateSynchronizing:
		return "SYNCHRONIZING"
	default:
		return "DISABLED"
	}
}

// Schedule is a cron-like schedule plus an optional year restriction.
// robfig/cron's 5-field Schedule (minute/hour/dom/month/dow) has no year
// field, so year is matched separately.
type Schedule struct {
	cron  CronSchedule
	Years []int // empty means "any year"
}

// CronSchedule is the subset of cron.Schedule (robfig/cron/v3) Schedule
// needs.
type CronSchedule interface {
	Next(time.Time) time.Time
}

// NewSchedule wraps a parsed cron.Schedule with an optional year set.
func NewSchedule(cron CronSchedule, years ...int) Schedule {
	return Schedule{cron: cron, Years: years}
}

// Due reports whether this schedule matches the minute containing now:
// robfig/cron schedules are probed by asking what the schedule's next
// fire time is for the instant just before the start of now's minute, and
// checking that it lands exactly on now's minute.
func (s Schedule) Due(now time.Time) bool {
	if s.cron == nil {
		return false
	}

	minuteStart := now.Truncate(time.Minute)
	next := s.cron.Next(minuteStart.Add(-time.Nanosecond))
	if !next.Equal(minuteStart) {
		return false
	}

	if len(s.Years) == 0 {
		return true
	}
	for _, y := range s.Years {
		if y == now.Year() {
			return true
		}
	}
	return false
}
