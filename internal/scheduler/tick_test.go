package scheduler

import (
	"testing"
	"time"

	"github.com/citusdata/pg-cron/internal/cronexpr"
	"github.com/citusdata/pg-cron/internal/jobstore"
	"github.com/citusdata/pg-cron/internal/task"
)

func mustParse(t *testing.T, s string) *cronexpr.Schedule {
	t.Helper()
	sched, err := cronexpr.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return sched
}

func utc(y int, m time.Month, d, h, min, sec int) time.Time {
	return time.Date(y, m, d, h, min, sec, 0, time.UTC)
}

func singleJobLookup(jd *jobstore.JobDef) JobLookup {
	return func(id jobstore.JobID) (*jobstore.JobDef, bool) {
		if id == jd.JobID {
			return jd, true
		}
		return nil, false
	}
}

// S1 — hourly wildcard: advancing from 12:59:30 to 13:00:05 should produce
// exactly one pending run.
func TestScenarioHourlyWildcard(t *testing.T) {
	jd := &jobstore.JobDef{JobID: 1, Active: true, Schedule: mustParse(t, "0 * * * *")}
	ct := task.New(jd.JobID)
	tick := New()

	tick.Run(utc(2026, 7, 31, 12, 59, 30), []*task.CronTask{ct}, singleJobLookup(jd))
	if ct.PendingRunCount != 0 {
		t.Fatalf("expected no pending run on first observation, got %d", ct.PendingRunCount)
	}

	tick.Run(utc(2026, 7, 31, 13, 0, 5), []*task.CronTask{ct}, singleJobLookup(jd))
	if ct.PendingRunCount != 1 {
		t.Fatalf("expected exactly 1 pending run, got %d", ct.PendingRunCount)
	}
}

// S2 — DST spring forward: last_minute 01:59, now 03:02 (Δ=63, JUMP_FORWARD),
// fixed-time job "30 2 * * *" should fire exactly once for the skipped
// minute 02:30.
func TestScenarioDSTSpringForward(t *testing.T) {
	jd := &jobstore.JobDef{JobID: 1, Active: true, Schedule: mustParse(t, "30 2 * * *")}
	ct := task.New(jd.JobID)
	tick := New()
	tick.Run(utc(2026, 3, 8, 1, 59, 0), []*task.CronTask{ct}, singleJobLookup(jd))

	tick.Run(utc(2026, 3, 8, 3, 2, 0), []*task.CronTask{ct}, singleJobLookup(jd))
	if ct.PendingRunCount != 1 {
		t.Fatalf("expected exactly 1 pending run for the skipped minute, got %d", ct.PendingRunCount)
	}
}

// S6 — @reboot alias: fires exactly once after the first tick, never again.
func TestScenarioReboot(t *testing.T) {
	jd := &jobstore.JobDef{JobID: 1, Active: true, Schedule: mustParse(t, "@reboot")}
	ct := task.New(jd.JobID)
	tick := New()

	tick.Run(utc(2026, 7, 31, 12, 0, 0), []*task.CronTask{ct}, singleJobLookup(jd))
	if ct.PendingRunCount != 1 {
		t.Fatalf("expected 1 pending run after first tick, got %d", ct.PendingRunCount)
	}

	tick.Run(utc(2026, 7, 31, 12, 1, 0), []*task.CronTask{ct}, singleJobLookup(jd))
	if ct.PendingRunCount != 1 {
		t.Fatalf("expected no re-fire on subsequent ticks, got %d", ct.PendingRunCount)
	}
}

// Property 5 — idempotence: calling tick twice with the same now produces
// the same pending count as a single call.
func TestTickIdempotentWithinSameMinute(t *testing.T) {
	jd := &jobstore.JobDef{JobID: 1, Active: true, Schedule: mustParse(t, "* * * * *")}
	ct := task.New(jd.JobID)
	tick := New()
	base := utc(2026, 7, 31, 12, 0, 0)
	tick.Run(base, []*task.CronTask{ct}, singleJobLookup(jd))

	next := utc(2026, 7, 31, 12, 1, 0)
	tick.Run(next, []*task.CronTask{ct}, singleJobLookup(jd))
	first := ct.PendingRunCount

	tick.Run(next, []*task.CronTask{ct}, singleJobLookup(jd))
	if ct.PendingRunCount != first {
		t.Fatalf("expected idempotent tick within same minute: got %d after second call, had %d", ct.PendingRunCount, first)
	}
}

// Property 6 — CLOCK_JUMP_BACKWARD with Δ=-2 minutes must not increment a
// fixed-time task's pending count.
func TestClockJumpBackwardDoesNotFireFixedTime(t *testing.T) {
	jd := &jobstore.JobDef{JobID: 1, Active: true, Schedule: mustParse(t, "17 * * * *")}
	ct := task.New(jd.JobID)
	tick := New()
	tick.Run(utc(2026, 7, 31, 12, 20, 0), []*task.CronTask{ct}, singleJobLookup(jd))

	tick.Run(utc(2026, 7, 31, 12, 18, 0), []*task.CronTask{ct}, singleJobLookup(jd))
	if ct.PendingRunCount != 0 {
		t.Fatalf("expected fixed-time task not to fire on backward jump, got %d", ct.PendingRunCount)
	}
}

// Property 7 — CLOCK_JUMP_FORWARD with Δ=30 minutes: a wildcard job fires
// once; a fixed-time job whose minute was in the skipped interval fires.
func TestClockJumpForwardWildcardFiresOnce(t *testing.T) {
	jd := &jobstore.JobDef{JobID: 1, Active: true, Schedule: mustParse(t, "*/5 * * * *")}
	ct := task.New(jd.JobID)
	tick := New()
	tick.Run(utc(2026, 7, 31, 12, 0, 0), []*task.CronTask{ct}, singleJobLookup(jd))

	tick.Run(utc(2026, 7, 31, 12, 30, 0), []*task.CronTask{ct}, singleJobLookup(jd))
	if ct.PendingRunCount != 1 {
		t.Fatalf("expected wildcard job to fire exactly once on jump forward, got %d", ct.PendingRunCount)
	}
}

func TestClockJumpForwardFixedTimeFiresForSkippedMinute(t *testing.T) {
	jd := &jobstore.JobDef{JobID: 1, Active: true, Schedule: mustParse(t, "17 * * * *")}
	ct := task.New(jd.JobID)
	tick := New()
	tick.Run(utc(2026, 7, 31, 12, 0, 0), []*task.CronTask{ct}, singleJobLookup(jd))

	tick.Run(utc(2026, 7, 31, 12, 30, 0), []*task.CronTask{ct}, singleJobLookup(jd))
	if ct.PendingRunCount < 1 {
		t.Fatalf("expected fixed-time job to fire for skipped minute :17, got %d", ct.PendingRunCount)
	}
}

// Property 8 — CLOCK_CHANGE evaluates only the current minute for both
// wildcard and fixed-time classes.
func TestClockChangeEvaluatesOnlyCurrentMinute(t *testing.T) {
	jd := &jobstore.JobDef{JobID: 1, Active: true, Schedule: mustParse(t, "*/5 * * * *")}
	ct := task.New(jd.JobID)
	tick := New()
	tick.Run(utc(2026, 7, 31, 12, 0, 0), []*task.CronTask{ct}, singleJobLookup(jd))

	// A 4-hour forward leap exceeds the change threshold.
	tick.Run(utc(2026, 7, 31, 16, 5, 0), []*task.CronTask{ct}, singleJobLookup(jd))
	if ct.PendingRunCount != 1 {
		t.Fatalf("expected exactly one match at the landing minute under CLOCK_CHANGE, got %d", ct.PendingRunCount)
	}
}

func TestInactiveJobNeverIncrementsPending(t *testing.T) {
	jd := &jobstore.JobDef{JobID: 1, Active: false, Schedule: mustParse(t, "* * * * *")}
	ct := task.New(jd.JobID)
	tick := New()
	tick.Run(utc(2026, 7, 31, 12, 0, 0), []*task.CronTask{ct}, singleJobLookup(jd))
	tick.Run(utc(2026, 7, 31, 12, 1, 0), []*task.CronTask{ct}, singleJobLookup(jd))
	if ct.PendingRunCount != 0 {
		t.Fatalf("expected inactive job's task never to gain pending runs, got %d", ct.PendingRunCount)
	}
}
