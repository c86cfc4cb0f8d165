package clock

import (
	"testing"
	"time"
)

func TestTicksAtRate(t *testing.T) {
	start := time.Unix(0, 0)
	c := New(start)
	got := c.TicksAt(start.Add(time.Second))
	if got != TicksPerSecond {
		t.Fatalf("TicksAt(+1s) = %d, want %d", got, TicksPerSecond)
	}
}

func TestTicksAtBeforeStartClampsToZero(t *testing.T) {
	start := time.Unix(100, 0)
	c := New(start)
	if got := c.TicksAt(start.Add(-time.Second)); got != 0 {
		t.Fatalf("TicksAt(before start) = %d, want 0", got)
	}
}

func TestTruncate32(t *testing.T) {
	var ticks uint64 = 1<<32 + 42
	if got := Truncate32(ticks); got != 42 {
		t.Fatalf("Truncate32 = %d, want 42", got)
	}
}

func TestDurationRoundTrip(t *testing.T) {
	d := Duration(TicksPerSecond)
	if d != time.Second {
		t.Fatalf("Duration(%d ticks) = %v, want 1s", TicksPerSecond, d)
	}
}
