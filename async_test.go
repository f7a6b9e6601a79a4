package timercore

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, opts ...SchedulerOption) *Scheduler {
	t.Helper()
	opts = append(opts, WithCalibrationPeriod(0))
	s, err := NewScheduler(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.poller.Close() })
	return s
}

// TestAsyncInvokeFiresMarkedHandlerOnce covers spec §8's scenario 6: a
// handler marked once is invoked exactly once, and the owner's any-ready
// flag is clear afterwards.
func TestAsyncInvokeFiresMarkedHandlerOnce(t *testing.T) {
	s := newTestScheduler(t)
	s.ownerGoroutine.Store(currentGoroutineID())

	var fired int
	h := s.CreateAsync(func() error { fired++; return nil }, nil)

	s.Mark(h)
	assert.True(t, s.AsyncReady())

	require.NoError(t, s.InvokeAsync())
	assert.Equal(t, 1, fired)
	assert.False(t, s.AsyncReady())

	// A second InvokeAsync with nothing marked does nothing.
	require.NoError(t, s.InvokeAsync())
	assert.Equal(t, 1, fired)
}

// TestAsyncInvokeReturnsPendingCodeFromCallback covers spec §4.3's
// invoke(code) -> code and §4.7 step 1: a non-nil error returned by a
// marked handler's callback is surfaced as InvokeAsync's return value.
func TestAsyncInvokeReturnsPendingCodeFromCallback(t *testing.T) {
	s := newTestScheduler(t)
	s.ownerGoroutine.Store(currentGoroutineID())

	boom := errors.New("boom")
	h := s.CreateAsync(func() error { return boom }, nil)

	s.Mark(h)
	err := s.InvokeAsync()
	assert.ErrorIs(t, err, boom)
}

// TestAsyncInvokeLaterCodeReplacesEarlierCode covers the "replaces the
// pending code" wording of spec §4.3: when more than one ready handler
// returns an error in the same InvokeAsync call, the code standing after
// the last one invoked wins.
func TestAsyncInvokeLaterCodeReplacesEarlierCode(t *testing.T) {
	s := newTestScheduler(t)
	s.ownerGoroutine.Store(currentGoroutineID())

	errFirst := errors.New("first")
	errSecond := errors.New("second")
	h1 := s.CreateAsync(func() error { return errFirst }, nil)
	h2 := s.CreateAsync(func() error { return errSecond }, nil)

	s.Mark(h1)
	s.Mark(h2)
	err := s.InvokeAsync()
	assert.ErrorIs(t, err, errSecond)
	assert.NotErrorIs(t, err, errFirst)
}

// TestAsyncMarkFromAnotherGoroutine exercises cross-thread marking: T2 marks
// a handler owned by T1, and T1's next InvokeAsync runs it exactly once.
func TestAsyncMarkFromAnotherGoroutine(t *testing.T) {
	s := newTestScheduler(t)
	s.ownerGoroutine.Store(currentGoroutineID())

	done := make(chan struct{})
	var fired int
	h := s.CreateAsync(func() error { fired++; close(done); return nil }, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Mark(h)
	}()
	wg.Wait()

	deadline := time.After(2 * time.Second)
	for fired == 0 {
		select {
		case <-done:
		case <-deadline:
			t.Fatal("handler never observed as ready")
		default:
		}
		if s.AsyncReady() {
			s.InvokeAsync()
		}
	}
	assert.Equal(t, 1, fired)
	assert.False(t, s.AsyncReady())
}

// TestAsyncMarkFromSignalIsLockFree documents (and partially verifies) spec
// §8's "mark-from-signal executes no heap allocation and no mutex
// acquisition" invariant: MarkFromSignal must not deadlock even while the
// registry mutex is held by a concurrent CreateAsync/DeleteAsync.
func TestAsyncMarkFromSignalIsLockFree(t *testing.T) {
	s := newTestScheduler(t)
	s.ownerGoroutine.Store(currentGoroutineID())

	var fired int
	h := s.CreateAsync(func() error { fired++; return nil }, nil)

	r := registry()
	r.mu.Lock()
	MarkFromSignal(h)
	r.mu.Unlock()
	assert.Equal(t, asyncPending, asyncReadyState(h.rec.ready.Load()))

	s.markFromNotifier()
	assert.True(t, s.AsyncReady())

	s.InvokeAsync()
	assert.Equal(t, 1, fired)
}

// TestAsyncDeleteWrongThreadPanics covers spec §8's "deleting a handler from
// a thread other than its creator panics" invariant.
func TestAsyncDeleteWrongThreadPanics(t *testing.T) {
	s := newTestScheduler(t)
	s.ownerGoroutine.Store(currentGoroutineID())

	h := s.CreateAsync(func() error { return nil }, nil)

	done := make(chan any, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() { done <- recover() }()
		s.DeleteAsync(h)
	}()
	wg.Wait()

	r := <-done
	require.NotNil(t, r)
	_, ok := r.(*wrongThreadError)
	assert.True(t, ok, "expected *wrongThreadError, got %T: %v", r, r)
}

// TestAsyncDeleteOwnerThreadSucceeds is the positive counterpart: the
// creating goroutine may always delete its own handle.
func TestAsyncDeleteOwnerThreadSucceeds(t *testing.T) {
	s := newTestScheduler(t)
	s.ownerGoroutine.Store(currentGoroutineID())

	h := s.CreateAsync(func() error { return nil }, nil)
	assert.NotPanics(t, func() { s.DeleteAsync(h) })

	r := registry()
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Nil(t, r.slots[h.rec.idx])
}

// TestAsyncReMarkDuringCallbackInvokedSameCall pins down DESIGN.md's Open
// Question 1: a handler that re-marks itself while its own callback is
// running is picked up again within the same InvokeAsync call, since the
// scan restarts from the head after every callback.
func TestAsyncReMarkDuringCallbackInvokedSameCall(t *testing.T) {
	s := newTestScheduler(t)
	s.ownerGoroutine.Store(currentGoroutineID())

	var calls int
	var h AsyncHandle
	h = s.CreateAsync(func() error {
		calls++
		if calls == 1 {
			s.Mark(h)
		}
		return nil
	}, nil)

	s.Mark(h)
	require.NoError(t, s.InvokeAsync())

	assert.Equal(t, 2, calls)
}

// TestAsyncDeleteOwnedByOnThreadExit verifies deleteAsyncOwnedBy removes
// every handle owned by a Scheduler, matching the thread-exit cleanup path
// from spec §4.3.
func TestAsyncDeleteOwnedByOnThreadExit(t *testing.T) {
	s := newTestScheduler(t)
	s.ownerGoroutine.Store(currentGoroutineID())

	h1 := s.CreateAsync(func() error { return nil }, nil)
	h2 := s.CreateAsync(func() error { return nil }, nil)

	deleteAsyncOwnedBy(s)

	r := registry()
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Nil(t, r.slots[h1.rec.idx])
	assert.Nil(t, r.slots[h2.rec.idx])
}
