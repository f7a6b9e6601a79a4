package timercore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// calClock is a deterministic (wall, counter) pair source for driving
// calibrator.cycle() without a real timer goroutine.
type calClock struct {
	wall int64 // nanoseconds
	ctr  int64 // nanoseconds
}

func newCalibratorForTest(start calClock) *calibrator {
	c := &calClock{wall: start.wall, ctr: start.ctr}
	return newCalibrator(
		func() int64 { return c.ctr },
		func() time.Time { return time.Unix(0, c.wall) },
	)
}

// TestCalibrationVirtualTimeTracksWallWhenCounterNominal covers the base
// case: before any calibration cycle, the initial nominal-frequency snapshot
// maps the starting counter reading to the starting wall time exactly.
func TestCalibrationVirtualTimeTracksWallWhenCounterNominal(t *testing.T) {
	start := calClock{wall: 1_000_000_000, ctr: 0}
	c := newCalibratorForTest(start)

	snap := c.load()
	require.NotNil(t, snap)
	assert.Equal(t, start.wall, snap.virtualMicros(0)*1000)
}

// TestCalibrationNeverDecreasesAcrossUpdate covers spec §8's round-trip
// property: virtual-time values produced with the pre- and post-update
// calibration never decrease across an update, for a fixed counter reading
// at or after the update point.
func TestCalibrationNeverDecreasesAcrossUpdate(t *testing.T) {
	c := &calClock{wall: 0, ctr: 0}
	cal := newCalibrator(
		func() int64 { return c.ctr },
		func() time.Time { return time.Unix(0, c.wall) },
	)

	before := cal.load()

	// Advance both clocks together by one second, in step, so drift stays
	// near zero and the smoothing branch (not the discontinuity snap) runs.
	c.wall += int64(time.Second)
	c.ctr += int64(time.Second)
	cal.cycle()

	after := cal.load()
	ctrNow := c.ctr
	assert.GreaterOrEqual(t, after.virtualMicros(ctrNow), before.virtualMicros(ctrNow))
}

// TestCalibrationNeverDecreasesOnSmallBackwardWallStep covers spec §4.2 step
// 5 directly: a wall-clock step backward that stays under the 1s snap
// threshold must not be allowed to move the published virtual clock
// backward at the counter value where the rebase happens - the base is
// absorbed forward instead, freezing the clock briefly rather than
// regressing it.
func TestCalibrationNeverDecreasesOnSmallBackwardWallStep(t *testing.T) {
	c := &calClock{wall: 0, ctr: 0}
	cal := newCalibrator(
		func() int64 { return c.ctr },
		func() time.Time { return time.Unix(0, c.wall) },
	)

	// Seed a calibrated base 5s in, in lockstep, so freq stays nominal.
	c.wall += int64(5 * time.Second)
	c.ctr += int64(5 * time.Second)
	cal.cycle()
	before := cal.load()

	// Counter keeps advancing normally, but wall slews back by 300ms - a
	// small backward step that stays under the 1s discontinuity threshold,
	// so the smoothing branch (not the snap branch) runs.
	c.wall += int64(4700 * time.Millisecond)
	c.ctr += int64(5 * time.Second)
	cal.cycle()

	after := cal.load()
	ctrNow := c.ctr
	assert.GreaterOrEqual(t, after.virtualMicros(ctrNow), before.virtualMicros(ctrNow),
		"virtual time must never report an earlier instant than the prior calibration did at the same counter value")
}

// TestCalibrationSnapsOnLargeDiscontinuity covers spec §4.2 step 3: a drift
// exceeding the 1s threshold resets the ring and snaps to wall time rather
// than interpolating.
func TestCalibrationSnapsOnLargeDiscontinuity(t *testing.T) {
	c := &calClock{wall: 0, ctr: 0}
	cal := newCalibrator(
		func() int64 { return c.ctr },
		func() time.Time { return time.Unix(0, c.wall) },
	)

	// Counter advances normally, but wall jumps forward by 10s (a step, e.g.
	// NTP correction) - the kind of discontinuity spec step 3 describes.
	c.wall += int64(10 * time.Second)
	c.ctr += int64(time.Second)
	cal.cycle()

	snap := cal.load()
	// After a snap, the new snapshot is re-based exactly at (wallNow, ctrNow)
	// with nominal frequency, so virtualMicros(ctrNow) reports wallNow
	// exactly rather than an interpolated (and far lower) value.
	assert.Equal(t, c.wall/1000, snap.virtualMicros(c.ctr))
}

// TestCalibrationFrequencyClampedToBound covers spec §4.2 step 4: the
// adjusted frequency is clamped to within ±0.3% of nominal, even when the
// raw estimate from the ring would imply a much larger correction.
func TestCalibrationFrequencyClampedToBound(t *testing.T) {
	c := &calClock{wall: 0, ctr: 0}
	cal := newCalibrator(
		func() int64 { return c.ctr },
		func() time.Time { return time.Unix(0, c.wall) },
	)

	// Counter runs at half wall-clock speed - a large apparent drift that,
	// left unclamped, would imply roughly doubling the frequency.
	for i := 0; i < 5; i++ {
		c.wall += int64(time.Second)
		c.ctr += int64(500 * time.Millisecond)
		cal.cycle()
	}

	snap := cal.load()
	lo, hi := nominalFreq*(1-maxFreqClamp), nominalFreq*(1+maxFreqClamp)
	assert.GreaterOrEqual(t, snap.freq, lo)
	assert.LessOrEqual(t, snap.freq, hi)
}

// TestCalibrationRingResetAndPush exercises the ring buffer's wraparound
// directly.
func TestCalibrationRingResetAndPush(t *testing.T) {
	var r calibrationRing
	r.reset(calibrationSample{wallNanos: 1, counterNanos: 1})
	assert.Equal(t, 1, r.len)

	for i := int64(2); i <= int64(ringCapacity+3); i++ {
		r.push(calibrationSample{wallNanos: i, counterNanos: i})
	}
	assert.Equal(t, ringCapacity, r.len)
	assert.Equal(t, int64(ringCapacity+3), r.newest().wallNanos)
	assert.Equal(t, int64(4), r.oldest().wallNanos) // samples 1..3 evicted by the wraparound
}

// TestCalibrationIntervalAdaptsToDrift covers spec §4.2 step 6: the interval
// grows while drift stays small, and resets to the minimum on a
// discontinuity.
func TestCalibrationIntervalAdaptsToDrift(t *testing.T) {
	c := &calClock{wall: 0, ctr: 0}
	cal := newCalibrator(
		func() int64 { return c.ctr },
		func() time.Time { return time.Unix(0, c.wall) },
	)
	require.Equal(t, minInterval, cal.interval)

	c.wall += int64(time.Second)
	c.ctr += int64(time.Second)
	cal.cycle()
	assert.Greater(t, cal.interval, minInterval, "small drift should grow the interval")

	c.wall += int64(10 * time.Second)
	c.ctr += int64(time.Second)
	cal.cycle()
	assert.Equal(t, minInterval, cal.interval, "a discontinuity should reset the interval")
}
