package timercore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIdleQueueGenerationBarrier covers spec §8 scenario 5: handler A
// enqueues handler B while running; B must not fire until the next
// serviceIdle call.
func TestIdleQueueGenerationBarrier(t *testing.T) {
	q := newIdleQueue()

	var ranA, ranB bool
	q.enqueue(func() {
		ranA = true
		q.enqueue(func() { ranB = true })
	})

	n := q.serviceIdle()
	assert.Equal(t, 1, n)
	assert.True(t, ranA)
	assert.False(t, ranB, "B was enqueued during the drain and must be deferred")

	n = q.serviceIdle()
	assert.Equal(t, 1, n)
	assert.True(t, ranB)
}

// TestIdleQueueFIFOOrder verifies handlers enqueued before a drain run in
// enqueue order.
func TestIdleQueueFIFOOrder(t *testing.T) {
	q := newIdleQueue()
	var order []int
	q.enqueue(func() { order = append(order, 1) })
	q.enqueue(func() { order = append(order, 2) })
	q.enqueue(func() { order = append(order, 3) })

	q.serviceIdle()
	assert.Equal(t, []int{1, 2, 3}, order)
}

// TestIdleQueueEmptyServiceIsNoop covers "if head is null, return 0".
func TestIdleQueueEmptyServiceIsNoop(t *testing.T) {
	q := newIdleQueue()
	assert.Equal(t, 0, q.serviceIdle())
}

// TestIdleQueueCancel covers cancel-before-fire for an idle handler.
func TestIdleQueueCancel(t *testing.T) {
	q := newIdleQueue()
	fired := false
	tok := q.enqueue(func() { fired = true })

	require.True(t, q.cancel(tok))
	q.serviceIdle()
	assert.False(t, fired)

	assert.False(t, q.cancel(tok), "cancelling twice is silent")
}

// TestIdleQueuePending reports whether a token is still outstanding.
func TestIdleQueuePending(t *testing.T) {
	q := newIdleQueue()
	tok := q.enqueue(func() {})
	assert.True(t, q.pending(tok))

	q.serviceIdle()
	assert.False(t, q.pending(tok))
}
