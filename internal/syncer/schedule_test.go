package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// everyMinute is a CronSchedule fake that fires on every minute boundary.
type everyMinute struct{}

func (everyMinute) Next(t time.Time) time.Time {
	return t.Truncate(time.Minute).Add(time.Minute)
}

// never is a CronSchedule fake that never fires.
type never struct{}

func (never) Next(t time.Time) time.Time {
	return t.Add(100 * 365 * 24 * time.Hour)
}

func TestSchedule_DueOnEveryMinuteBoundary(t *testing.T) {
	s := NewSchedule(everyMinute{})
	now := time.Date(2026, 7, 31, 10, 15, 0, 0, time.UTC)
	assert.True(t, s.Due(now))

	offBoundary := now.Add(30 * time.Second)
	assert.True(t, s.Due(offBoundary), "Due should truncate to the containing minute")
}

func TestSchedule_NotDueWhenScheduleNeverFires(t *testing.T) {
	s := NewSchedule(never{})
	assert.False(t, s.Due(time.Now()))
}

func TestSchedule_ZeroValueNeverDue(t *testing.T) {
	var s Schedule
	assert.False(t, s.Due(time.Now()))
}

func TestSchedule_YearRestriction(t *testing.T) {
	s := NewSchedule(everyMinute{}, 2027, 2028)
	now2026 := time.Date(2026, 7, 31, 10, 15, 0, 0, time.UTC)
	now2027 := time.Date(2027, 7, 31, 10, 15, 0, 0, time.UTC)

	assert.False(t, s.Due(now2026))
	assert.True(t, s.Due(now2027))
}
