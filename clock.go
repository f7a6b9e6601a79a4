package timercore

import "time"

// WallMicros returns the current wall-clock time in microseconds since the
// Unix epoch. Wall time may jump forwards or backwards (NTP step, user clock
// change); callers that need a non-decreasing source should use
// MonotonicMicros instead.
//
// now is injectable (see WithWallClock) purely for test determinism; the
// indirection never virtualizes the timer queues themselves, only the clock
// reads, matching the data model's "indirection is purely for time reads"
// rule.
func (s *Scheduler) WallMicros() int64 {
	return s.config.wallClock().UnixMicro()
}

// MonotonicMicros returns a microsecond timestamp that never decreases for
// the lifetime of the Scheduler. It is sourced from the calibration loop
// (calibration.go) when the Scheduler has one, and falls back to the Go
// runtime's monotonic clock reading (time elapsed since processEpoch, offset
// by processEpoch's wall time) otherwise - both satisfy the same contract, so
// callers never need to know which is active.
func (s *Scheduler) MonotonicMicros() int64 {
	if snap := s.calibration.load(); snap != nil {
		return snap.virtualMicros(monotonicReadNanos())
	}
	return processEpoch.UnixMicro() + monotonicReadNanos()/1000
}

// monotonicNow and monotonicReadNanos isolate the runtime clock read so tests
// of the calibration loop can substitute a deterministic counter without
// touching WallMicros.
var monotonicNow = time.Now

func monotonicReadNanos() int64 {
	// time.Since against a fixed reference point yields the monotonic
	// reading embedded in a time.Time value without exposing it directly;
	// the calibration loop only needs relative deltas between counter
	// samples, which this provides exactly.
	return monotonicNow().Sub(processEpoch).Nanoseconds()
}

// processEpoch anchors the monotonic counter read used by the calibration
// loop. It is captured once at package init.
var processEpoch = time.Now()
