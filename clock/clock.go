// Package clock implements the session-wide monotonic clock: a counter of
// 10kHz (100 microsecond) ticks since the session's start instant, used for
// AppleMIDI CK payloads (64-bit) and RTP timestamps (32-bit, truncated).
package clock

import "time"

// TicksPerSecond is the AppleMIDI/RTP-MIDI clock rate: 10kHz, i.e. 100us
// per tick.
const TicksPerSecond = 10000

// Clock converts wall-clock instants to and from 10kHz ticks relative to a
// fixed start instant. The zero value is not usable; construct with New.
type Clock struct {
	start time.Time
}

// New returns a Clock anchored at start. Every Ticks/Now call after this
// is monotonically non-decreasing as long as the process's monotonic clock
// reading does not go backwards, which time.Since guarantees on all
// supported platforms.
func New(start time.Time) Clock {
	return Clock{start: start}
}

// Now returns the current tick count since the clock's start instant.
func (c Clock) Now() uint64 {
	return c.TicksAt(time.Now())
}

// TicksAt converts an arbitrary instant to a 10kHz tick count relative to
// the clock's start instant. Instants before start yield 0.
func (c Clock) TicksAt(t time.Time) uint64 {
	d := t.Sub(c.start)
	if d < 0 {
		return 0
	}
	return uint64(d / (time.Second / TicksPerSecond))
}

// Truncate32 truncates a 64-bit tick count to the 32 bits carried by an
// RTP timestamp field.
func Truncate32(ticks uint64) uint32 {
	return uint32(ticks)
}

// Duration converts a tick delta back into a time.Duration, for diagnostics
// and for scheduling relative to clock-sync round-trip estimates.
func Duration(ticks int64) time.Duration {
	return time.Duration(ticks) * (time.Second / TicksPerSecond)
}
