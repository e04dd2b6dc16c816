// Package scheduler implements the per-minute "what should fire?" tick:
// a virtual clock that tolerates forward/backward jumps and DST changes,
// converting schedule matches into pending run counts on tasks. Grounded
// line-for-line on StartAllPendingRuns/StartPendingRuns/ShouldRunTask in
// pg_cron.c.
package scheduler

import (
	"time"

	"github.com/citusdata/pg-cron/internal/cronexpr"
	"github.com/citusdata/pg-cron/internal/jobstore"
	"github.com/citusdata/pg-cron/internal/task"
	"github.com/citusdata/pg-cron/internal/timeutil"
)

// JobLookup resolves a task's current JobDef, as the registry does.
type JobLookup func(jobstore.JobID) (*jobstore.JobDef, bool)

// Tick holds the scheduler's only persistent state: the virtual clock
// last_minute, and whether the once-per-process reboot pass
// has already run.
type Tick struct {
	lastMinute time.Time
	rebootDone bool
}

// New creates a Tick with no last_minute yet; it is set to the first
// observed minute on the first call to Run.
func New() *Tick {
	return &Tick{}
}

// Run executes one scheduler tick against now, mutating PendingRunCount on
// every active task whose schedule matches.
func (s *Tick) Run(now time.Time, tasks []*task.CronTask, jobOf JobLookup) {
	if s.lastMinute.IsZero() {
		s.lastMinute = timeutil.MinuteStart(now)
	}

	if !s.rebootDone {
		for _, t := range tasks {
			jd, ok := jobOf(t.JobID)
			if !ok || !jd.Active || jd.Schedule == nil {
				continue
			}
			if jd.Schedule.WhenReboot() {
				t.PendingRunCount++
			}
		}
		s.rebootDone = true
	}

	delta := timeutil.MinutesBetween(s.lastMinute, now)
	if delta == 0 {
		return
	}
	mode := timeutil.ClassifyClock(delta)

	for _, t := range tasks {
		jd, ok := jobOf(t.JobID)
		if !ok || !jd.Active || jd.Schedule == nil {
			continue
		}
		enqueuePending(t, jd.Schedule, mode, s.lastMinute, now)
	}

	if mode != timeutil.ClockJumpBackward {
		s.lastMinute = timeutil.MinuteStart(now)
	}
}

// enqueuePending advances a
// virtual minute from last_minute towards minute_start(now), evaluating the
// schedule at each stepped minute according to the clock-progress mode.
func enqueuePending(t *task.CronTask, sched *cronexpr.Schedule, mode timeutil.ClockProgress, lastMinute, now time.Time) {
	nowMinute := timeutil.MinuteStart(now)

	switch mode {
	case timeutil.ClockProgressed:
		for v := lastMinute; v.Before(nowMinute); v = v.Add(time.Minute) {
			next := v.Add(time.Minute)
			if shouldRun(sched, next, true, true) {
				t.PendingRunCount++
			}
		}

	case timeutil.ClockJumpForward:
		// Fixed-time jobs still fire for each skipped minute; wildcard
		// jobs fire only once, for the current minute.
		for v := lastMinute; v.Before(nowMinute); v = v.Add(time.Minute) {
			next := v.Add(time.Minute)
			if shouldRun(sched, next, false, true) {
				t.PendingRunCount++
			}
		}
		if shouldRun(sched, nowMinute, true, false) {
			t.PendingRunCount++
		}

	case timeutil.ClockJumpBackward:
		if shouldRun(sched, nowMinute, true, false) {
			t.PendingRunCount++
		}

	default: // CLOCK_CHANGE
		if shouldRun(sched, nowMinute, true, true) {
			t.PendingRunCount++
		}
	}
}

// shouldRun matches t's UTC minute/hour/month/day fields against sched, per
// should_run. The day check uses the classical cron rule:
// dom and dow are ANDed when either was written as "*", ORed otherwise.
// After a positive day/time match, the wild/non_wild split decides whether
// this particular pass is allowed to count it.
func shouldRun(sched *cronexpr.Schedule, t time.Time, wild, nonWild bool) bool {
	u := t.UTC()
	if !sched.TestMinute(u.Minute()) || !sched.TestHour(u.Hour()) || !sched.TestMonth(int(u.Month())) {
		return false
	}

	var dayMatch bool
	if sched.Flags.Has(cronexpr.FlagDomStar) || sched.Flags.Has(cronexpr.FlagDowStar) {
		dayMatch = sched.TestDom(u.Day()) && sched.TestDow(int(u.Weekday()))
	} else {
		dayMatch = sched.TestDom(u.Day()) || sched.TestDow(int(u.Weekday()))
	}
	if !dayMatch {
		return false
	}

	isWildcardField := sched.Flags.Has(cronexpr.FlagMinuteStar) || sched.Flags.Has(cronexpr.FlagHourStar)
	if nonWild && !isWildcardField {
		return true
	}
	if wild && isWildcardField {
		return true
	}
	return false
}
