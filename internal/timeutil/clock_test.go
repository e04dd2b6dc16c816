package timeutil

import (
	"testing"
	"time"
)

func TestMinuteStartEnd(t *testing.T) {
	ts := time.Date(2026, 7, 31, 13, 59, 47, 123456789, time.UTC)
	start := MinuteStart(ts)
	want := time.Date(2026, 7, 31, 13, 59, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Fatalf("MinuteStart: got %v, want %v", start, want)
	}
	end := MinuteEnd(ts)
	if !end.Equal(want.Add(time.Minute)) {
		t.Fatalf("MinuteEnd: got %v, want %v", end, want.Add(time.Minute))
	}
}

func TestMinutesBetween(t *testing.T) {
	base := time.Date(2026, 7, 31, 13, 0, 0, 0, time.UTC)
	cases := []struct {
		offset time.Duration
		want   int
	}{
		{5 * time.Minute, 5},
		{-5 * time.Minute, -5},
		{90 * time.Second, 1},
		{-90 * time.Second, -2},
		{0, 0},
	}
	for _, c := range cases {
		got := MinutesBetween(base, base.Add(c.offset))
		if got != c.want {
			t.Errorf("MinutesBetween(offset=%v): got %d, want %d", c.offset, got, c.want)
		}
	}
}

func TestClassifyClock(t *testing.T) {
	cases := []struct {
		delta int
		want  ClockProgress
	}{
		{1, ClockProgressed},
		{5, ClockProgressed},
		{6, ClockJumpForward},
		{180, ClockJumpForward},
		{181, ClockChange},
		{-1, ClockJumpBackward},
		{-180, ClockJumpBackward},
		{-181, ClockChange},
	}
	for _, c := range cases {
		got := ClassifyClock(c.delta)
		if got != c.want {
			t.Errorf("ClassifyClock(%d): got %v, want %v", c.delta, got, c.want)
		}
	}
}
