package timercore

import (
	"sync"
	"sync/atomic"
)

// asyncReadyState is the tri-state described in spec §3: idle, a
// signal-or-programmatic mark pending dispatch, or actively running on the
// owner's Invoke call.
type asyncReadyState int32

const (
	asyncIdle asyncReadyState = iota
	asyncPending
	asyncActive
)

// asyncHandlerRecord is the process-wide async handler record from spec §3.
// The owner field is written once at create() and never mutated again, so
// MarkFromSignal may read it without acquiring the registry mutex - the one
// concession the signal-safe entry point needs.
type asyncHandlerRecord struct {
	idx   int64
	owner *Scheduler
	fn    func() error
	data  any
	ready atomic.Int32 // asyncReadyState
}

// AsyncHandle identifies a registered async handler. The zero value is not a
// valid handle.
type AsyncHandle struct {
	rec *asyncHandlerRecord
}

// Valid reports whether h was returned by CreateAsync. DeleteAsync does not
// clear the handle, so Valid stays true for a deleted handle.
func (h AsyncHandle) Valid() bool { return h.rec != nil }

// asyncRegistry is the process-wide, mutex-guarded list of async handlers
// from spec §4.3. Modeled as a growable slice of record pointers plus a
// free-list of reusable indices, per design notes §9 and grounded on
// registry.go's index/free-list shape (its weak-pointer GC scavenging is not
// reused - see DESIGN.md).
type asyncRegistry struct {
	mu       sync.Mutex
	slots    []*asyncHandlerRecord
	freeList []int64
}

var (
	globalRegistry     *asyncRegistry
	globalRegistryOnce sync.Once
)

func registry() *asyncRegistry {
	globalRegistryOnce.Do(func() {
		globalRegistry = &asyncRegistry{}
	})
	return globalRegistry
}

// CreateAsync registers fn as an async handler owned by s. fn runs on s's
// goroutine, at a safe point, the next time s.InvokeAsync observes it
// marked. data is opaque client state stored with the handler record; this
// package never inspects it and AsyncHandle does not expose it. Per spec §4.3's
// invoke(code) -> code, fn returns a possibly-non-nil completion code; a
// non-nil return replaces whatever pending code InvokeAsync is carrying.
func (s *Scheduler) CreateAsync(fn func() error, data any) AsyncHandle {
	r := registry()
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := &asyncHandlerRecord{owner: s, fn: fn, data: data}
	if n := len(r.freeList); n > 0 {
		idx := r.freeList[n-1]
		r.freeList = r.freeList[:n-1]
		rec.idx = idx
		r.slots[idx] = rec
	} else {
		rec.idx = int64(len(r.slots))
		r.slots = append(r.slots, rec)
	}
	return AsyncHandle{rec: rec}
}

// Mark sets h ready for invocation from ordinary (non-signal) code. If h's
// owning Scheduler is not currently draining its ready handlers, Mark also
// flips that Scheduler's any-ready flag and wakes it via the notifier.
func (s *Scheduler) Mark(h AsyncHandle) {
	if !h.Valid() {
		return
	}
	r := registry()
	r.mu.Lock()
	h.rec.ready.Store(int32(asyncPending))
	owner := h.rec.owner
	r.mu.Unlock()

	if owner != nil && !owner.asyncInvoking.Load() {
		owner.asyncAnyReady.Store(true)
		owner.wakeup()
	}
}

// MarkFromSignal is the signal-safe variant described in spec §4.3 and
// invariant-tested in §8: it performs exactly one atomic store and one
// self-pipe write, with no allocation and no mutex acquisition, so it is
// safe to call from a true signal handler (or any other interrupt-like
// context that must not block).
func MarkFromSignal(h AsyncHandle) {
	if !h.Valid() {
		return
	}
	h.rec.ready.Store(int32(asyncPending))
	if owner := h.rec.owner; owner != nil {
		owner.wakeupFromSignal()
	}
}

// markFromNotifier promotes any signal-pending handles owned by s to a
// confirmed any-ready state. Called by s's run loop immediately after a
// self-pipe wakeup, per spec §4.3's "mark-from-notifier...performs the full
// lock-and-wake sequence on behalf of the signal".
func (s *Scheduler) markFromNotifier() {
	r := registry()
	r.mu.Lock()
	found := false
	for _, rec := range r.slots {
		if rec != nil && rec.owner == s && asyncReadyState(rec.ready.Load()) == asyncPending {
			found = true
			break
		}
	}
	r.mu.Unlock()
	if found {
		s.asyncAnyReady.Store(true)
	}
}

// AsyncReady reports whether s has at least one async handler pending
// invocation.
func (s *Scheduler) AsyncReady() bool {
	return s.asyncAnyReady.Load()
}

// InvokeAsync is the owning thread's safe-point entry (spec §4.3's
// "invoke(code) -> code"). It repeatedly scans the registry from the head
// for the first handle owned by s that is ready, clears it, runs its
// callback outside the registry lock, and restarts the scan - so a handler
// re-marked during its own callback is picked up again within the same
// InvokeAsync call (Open Question 1 in DESIGN.md). A non-nil error returned
// by any invoked callback replaces the pending completion code; the code
// standing after the last callback runs is returned to the caller, per
// spec §4.7 step 1 / §7's propagation policy.
func (s *Scheduler) InvokeAsync() error {
	s.checkOwner("InvokeAsync")
	s.asyncInvoking.Store(true)
	s.asyncAnyReady.Store(false)
	defer s.asyncInvoking.Store(false)

	var pending error
	r := registry()
	for {
		var target *asyncHandlerRecord
		r.mu.Lock()
		for _, rec := range r.slots {
			if rec != nil && rec.owner == s && asyncReadyState(rec.ready.Load()) == asyncPending {
				rec.ready.Store(int32(asyncActive))
				target = rec
				break
			}
		}
		r.mu.Unlock()

		if target == nil {
			return pending
		}

		if err := target.fn(); err != nil {
			pending = err
		}

		r.mu.Lock()
		if asyncReadyState(target.ready.Load()) == asyncActive {
			target.ready.Store(int32(asyncIdle))
		}
		r.mu.Unlock()
	}
}

// DeleteAsync removes h from the registry. Per spec §8, deleting a handler
// from a thread other than its creator panics.
func (s *Scheduler) DeleteAsync(h AsyncHandle) {
	if !h.Valid() {
		return
	}
	if h.rec.owner != s {
		panicWrongThread("DeleteAsync")
	}
	s.checkOwner("DeleteAsync")
	r := registry()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[h.rec.idx] = nil
	r.freeList = append(r.freeList, h.rec.idx)
}

// deleteAsyncOwnedBy removes every handler owned by s, used on thread
// finalisation (Scheduler teardown, when Run returns) so signals delivered after exit cannot
// touch dead per-thread state.
func deleteAsyncOwnedBy(s *Scheduler) {
	r := registry()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rec := range r.slots {
		if rec != nil && rec.owner == s {
			r.slots[i] = nil
			r.freeList = append(r.freeList, int64(i))
		}
	}
}
