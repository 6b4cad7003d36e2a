package engine

import (
	"sync"

	"github.com/roach88/depflow/internal/ir"
)

// workItem is a chained, replayed or state-change dispatch waiting to run.
type workItem struct {
	Event ir.DispatchEvent
	// Quota is shared by every dispatch descending from one root dispatch.
	Quota *QuotaEnforcer
}

// workQueue is a thread-safe FIFO queue of pending dispatches.
//
// The queue is unbounded so a completing stream can enqueue its chained
// dispatches without blocking on the consumer.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in Manager.Run.
type workQueue struct {
	mu     sync.Mutex
	items  []workItem
	closed bool
	signal chan struct{} // buffered, size 1
}

func newWorkQueue() *workQueue {
	return &workQueue{
		items:  make([]workItem, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an item to the back of the queue.
// Returns false if the queue is closed.
func (q *workQueue) Enqueue(item workItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, item)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front item without blocking.
func (q *workQueue) TryDequeue() (workItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return workItem{}, false
	}

	item := q.items[0]

	// Drop the reference so event data can be collected.
	q.items[0] = workItem{}

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return item, true
}

// Wait returns a channel that signals when items may be available.
// The channel is closed when the queue is closed.
func (q *workQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *workQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more items will be enqueued.
func (q *workQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
