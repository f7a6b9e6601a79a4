package timercore

import "container/heap"

// timerEntry is one scheduled timer callback, grounded on loop.go's
// timerHeap element shape, extended with an index field so a token can be
// cancelled in O(log n) instead of the teacher's O(n) walk (the teacher
// never needed per-token cancel; this spec's `after cancel`/`timer cancel`
// does).
type timerEntry struct {
	deadline int64 // microseconds, on the owning queue's clock
	token    int64 // monotonically increasing per-queue, also the tie-break for equal deadlines
	index    int   // position in the heap slice, maintained by heap.Interface
	fn       func()
}

// timerHeapSlice implements container/heap.Interface over *timerEntry,
// ordered by (deadline, token) so equal deadlines preserve insertion order -
// token allocation is itself monotonic per queue, so sorting on it as a
// tie-break is equivalent to sorting on insertion order.
type timerHeapSlice []*timerEntry

func (h timerHeapSlice) Len() int { return len(h) }

func (h timerHeapSlice) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].token < h[j].token
}

func (h timerHeapSlice) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeapSlice) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeapSlice) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// timerQueue is one of a Scheduler's two per-thread queues (monotonic,
// wall-clock) from spec §4.4. It is accessed only by the owning Scheduler's
// goroutine and therefore needs no internal locking - the thread-affinity
// check lives in Scheduler, not here.
type timerQueue struct {
	h            timerHeapSlice
	byToken      map[int64]*timerEntry
	nextToken    int64
	pendingEvent bool
}

func newTimerQueue() *timerQueue {
	return &timerQueue{byToken: make(map[int64]*timerEntry)}
}

// schedule inserts a new timer for deadline (microseconds) and returns its
// token. Equal-deadline ties resolve in schedule() call order because
// nextToken only ever increases.
func (q *timerQueue) schedule(deadline int64, fn func()) int64 {
	q.nextToken++
	tok := q.nextToken
	e := &timerEntry{deadline: deadline, token: tok, fn: fn}
	heap.Push(&q.h, e)
	q.byToken[tok] = e
	return tok
}

// cancel unlinks token if it has not yet fired. Returns false if the token
// is unknown (already fired, already cancelled, or never issued) -
// spec.md's "silent if not found" policy for the underlying queue operation.
func (q *timerQueue) cancel(token int64) bool {
	e, ok := q.byToken[token]
	if !ok {
		return false
	}
	heap.Remove(&q.h, e.index)
	delete(q.byToken, token)
	return true
}

// headDeadline reports the earliest pending deadline on this queue.
func (q *timerQueue) headDeadline() (int64, bool) {
	if len(q.h) == 0 {
		return 0, false
	}
	return q.h[0].deadline, true
}

// service runs the firing engine of spec §4.4 for a single pass: callbacks
// scheduled during this pass receive tokens greater than the fence snapshot
// below and are deferred to the next pass, regardless of their deadline. A
// deferred entry can still surface at the head of the heap before an older,
// unfenced entry that is also due this pass (e.g. a callback reschedules
// itself for an earlier deadline than another timer still waiting to fire),
// so fenced-but-due entries are pulled aside rather than ending the scan,
// and pushed back once every due entry has been considered.
func (q *timerQueue) service(now int64) (fired int) {
	q.pendingEvent = false
	fence := q.nextToken
	var deferred []*timerEntry
	for len(q.h) > 0 && q.h[0].deadline <= now {
		head := heap.Pop(&q.h).(*timerEntry)
		if head.token > fence {
			deferred = append(deferred, head)
			continue
		}
		delete(q.byToken, head.token)
		head.fn()
		fired++
	}
	for _, e := range deferred {
		heap.Push(&q.h, e)
	}
	return fired
}

// tokenInfo reports whether token is still pending and its deadline, for the
// command surface's `info` implementation.
func (q *timerQueue) tokenInfo(token int64) (deadline int64, ok bool) {
	e, ok := q.byToken[token]
	if !ok {
		return 0, false
	}
	return e.deadline, true
}
