package engine

import "time"

// cyclesPerSecond ties the pacer's "cycles" unit to nanoseconds: one
// cycle equals one nanosecond. A userspace Go engine has no portable
// rdtsc equivalent, and nothing downstream of [pacer.Occupancy] cares
// about the unit's absolute meaning — only that cyclesPerByte and
// MaxNICQueueCycles are expressed consistently in it, which monotonicCycles
// and Config.cyclesPerByte both honor.
const cyclesPerSecond = int64(time.Second)

// monotonicCycles is the pacer's injected clock.
func monotonicCycles() int64 { return time.Now().UnixNano() }

// timeNow is the wall-clock source for peer bookkeeping (CUTOFFS
// timestamps), kept separate from monotonicCycles since it answers a
// different question (when, not how many cycles).
func timeNow() time.Time { return time.Now() }
