package timercore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSleepReturnsAfterDuration covers the basic blocking-delay contract:
// Sleep returns nil no earlier than the requested duration.
func TestSleepReturnsAfterDuration(t *testing.T) {
	in := &Interpreter{sched: &Scheduler{}, cancel: newInterruptState(), limit: &limitState{}}

	start := time.Now()
	err := in.Sleep(context.Background(), 30*time.Millisecond)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

// TestSleepRespectsSignal covers spec §8 scenario 7: signalling cancellation
// from another goroutine returns ErrCancelled well before the requested
// duration elapses.
func TestSleepRespectsSignal(t *testing.T) {
	in := &Interpreter{sched: &Scheduler{}, cancel: newInterruptState(), limit: &limitState{}}

	go func() {
		time.Sleep(20 * time.Millisecond)
		in.Signal()
	}()

	start := time.Now()
	err := in.Sleep(context.Background(), 10*time.Second)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrCancelled)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

// TestSleepAlreadyCancelledReturnsImmediately covers Sleep called after
// Signal has already fired.
func TestSleepAlreadyCancelledReturnsImmediately(t *testing.T) {
	in := &Interpreter{sched: &Scheduler{}, cancel: newInterruptState(), limit: &limitState{}}
	in.Signal()

	err := in.Sleep(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrCancelled)
}

// TestSleepRespectsContext covers ctx cancellation as an additional wakeup
// source alongside the Interpreter's own signal.
func TestSleepRespectsContext(t *testing.T) {
	in := &Interpreter{sched: &Scheduler{}, cancel: newInterruptState(), limit: &limitState{}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := in.Sleep(ctx, 10*time.Second)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

// TestSleepRespectsLimitShorterThanRequested covers spec §4.7 steps 3-5: an
// Interpreter resource limit that elapses before the requested sleep
// duration aborts the sleep with ErrLimitExceeded.
func TestSleepRespectsLimitShorterThanRequested(t *testing.T) {
	in := &Interpreter{sched: &Scheduler{}, cancel: newInterruptState(), limit: &limitState{}}
	in.SetLimit(time.Now().Add(20 * time.Millisecond))

	start := time.Now()
	err := in.Sleep(context.Background(), 10*time.Second)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.GreaterOrEqual(t, elapsed, 15*time.Millisecond)
}

// TestSleepLimitAlreadyExceeded covers a limit whose deadline has already
// passed before Sleep is even called.
func TestSleepLimitAlreadyExceeded(t *testing.T) {
	in := &Interpreter{sched: &Scheduler{}, cancel: newInterruptState(), limit: &limitState{}}
	in.SetLimit(time.Now().Add(-time.Millisecond))

	err := in.Sleep(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

// TestSleepClearLimitRemovesDeadline verifies ClearLimit lets a subsequent
// Sleep run to completion undisturbed by a previously-set limit.
func TestSleepClearLimitRemovesDeadline(t *testing.T) {
	in := &Interpreter{sched: &Scheduler{}, cancel: newInterruptState(), limit: &limitState{}}
	in.SetLimit(time.Now().Add(time.Millisecond))
	in.ClearLimit()

	err := in.Sleep(context.Background(), 20*time.Millisecond)
	assert.NoError(t, err)
}

// TestSleepAbortsWithAsyncHandlerCode covers spec §4.7 step 1: when the
// interpreter's owning goroutine calls Sleep and a marked async handler
// returns a non-nil completion code, Sleep aborts with that code instead of
// running to completion.
func TestSleepAbortsWithAsyncHandlerCode(t *testing.T) {
	s := newTestScheduler(t)
	s.ownerGoroutine.Store(currentGoroutineID())
	in := &Interpreter{sched: s, cancel: newInterruptState(), limit: &limitState{}}

	boom := errors.New("boom")
	h := s.CreateAsync(func() error { return boom }, nil)
	s.Mark(h)

	start := time.Now()
	err := in.Sleep(context.Background(), 10*time.Second)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, boom)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

// TestInterruptStateResetAllowsReuse covers ResetSignal: a triggered signal
// can be cleared so the Interpreter is usable for further Sleep calls.
func TestInterruptStateResetAllowsReuse(t *testing.T) {
	in := &Interpreter{sched: &Scheduler{}, cancel: newInterruptState(), limit: &limitState{}}
	in.Signal()
	assert.True(t, in.cancel.Triggered())

	in.ResetSignal()
	assert.False(t, in.cancel.Triggered())

	err := in.Sleep(context.Background(), 20*time.Millisecond)
	assert.NoError(t, err)
}
