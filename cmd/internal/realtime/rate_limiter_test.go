package realtime

import (
	"testing"
	"time"
)

func TestSendLimiter_Interval(t *testing.T) {
	t.Parallel()

	l := NewSendLimiter(time.Second)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if !l.Allow("a", t0) {
		t.Fatalf("first send must be allowed")
	}
	if l.Allow("a", t0.Add(999*time.Millisecond)) {
		t.Fatalf("send within interval must be rejected")
	}
	if !l.Allow("b", t0.Add(time.Millisecond)) {
		t.Fatalf("connections are limited independently")
	}
	if !l.Allow("a", t0.Add(time.Second)) {
		t.Fatalf("send exactly one interval later must be allowed")
	}

	l.Release("a")
	if l.Len() != 1 {
		t.Fatalf("Len=%d want=1", l.Len())
	}
	if !l.Allow("a", t0.Add(time.Second+time.Millisecond)) {
		t.Fatalf("released connection starts fresh")
	}
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := range 3 {
		if !rl.Allow(t0.Add(time.Duration(i) * time.Millisecond)) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if rl.Allow(t0.Add(10 * time.Millisecond)) {
		t.Fatalf("fourth event within window must be rejected")
	}
	if !rl.Allow(t0.Add(time.Second + time.Millisecond)) {
		t.Fatalf("window should have slid")
	}
}
