// Package timeutil provides the minute-granularity wall-clock helpers the
// scheduler tick uses to advance and classify time, grounded on
// TimestampMinuteStart/TimestampMinuteEnd/MinutesPassed in pg_cron.c.
package timeutil

import "time"

// MinuteStart truncates t to the start of its wall-clock minute, in UTC.
// Wall-clock fields throughout this module are read in UTC; a per-job
// offset, if ever added, is applied by the caller before matching, not here.
func MinuteStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), 0, 0, time.UTC)
}

// MinuteEnd returns the exclusive end of t's wall-clock minute.
func MinuteEnd(t time.Time) time.Time {
	return MinuteStart(t).Add(time.Minute)
}

// MinutesBetween floor-divides (b-a) into whole minutes; the result may be
// negative when b precedes a.
func MinutesBetween(a, b time.Time) int {
	delta := b.Sub(a)
	minutes := delta / time.Minute
	if delta%time.Minute < 0 {
		minutes--
	}
	return int(minutes)
}

// ClockProgress classifies how far the wall clock moved between scheduler
// ticks. Values match pg_cron.h's ClockProgress enum ordering.
type ClockProgress int

const (
	ClockJumpBackward ClockProgress = iota
	ClockProgressed
	ClockJumpForward
	ClockChange
)

func (c ClockProgress) String() string {
	switch c {
	case ClockJumpBackward:
		return "CLOCK_JUMP_BACKWARD"
	case ClockProgressed:
		return "CLOCK_PROGRESSED"
	case ClockJumpForward:
		return "CLOCK_JUMP_FORWARD"
	case ClockChange:
		return "CLOCK_CHANGE"
	default:
		return "CLOCK_UNKNOWN"
	}
}

// changeThreshold is the minute-delta magnitude beyond which a jump is no
// longer treated as routine drift and is instead classified CLOCK_CHANGE —
// the same 3-hour (3*60 minute) bound pg_cron.c uses.
const changeThreshold = 180

// progressedThreshold is the largest forward delta still considered normal
// per-tick progress rather than a jump.
const progressedThreshold = 5

// ClassifyClock maps a signed minute delta to a ClockProgress. Callers are
// expected to special-case Δ==0 themselves (the scheduler tick returns
// immediately in that case rather than calling this at all).
func ClassifyClock(minutesPassed int) ClockProgress {
	switch {
	case minutesPassed > changeThreshold:
		return ClockChange
	case minutesPassed > progressedThreshold:
		return ClockJumpForward
	case minutesPassed > 0:
		return ClockProgressed
	case minutesPassed >= -changeThreshold:
		return ClockJumpBackward
	default:
		return ClockChange
	}
}
