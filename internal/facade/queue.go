package facade

import (
	"sync"

	"github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"
)

// requestQueue is the unbounded FIFO the worker pulls request ids from.
// Enqueue/Dequeue block on a condition variable rather than a busy loop.
type requestQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []burwell.RequestID
	closed bool
}

func newRequestQueue() *requestQueue {
	q := &requestQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends id to the back of the queue and wakes one waiter.
func (q *requestQueue) Enqueue(id burwell.RequestID) {
	q.mu.Lock()
	q.items = append(q.items, id)
	q.mu.Unlock()
	q.cond.Signal()
}

// Dequeue blocks until an item is available or the queue is closed, in
// which case it returns ("", false).
func (q *requestQueue) Dequeue() (burwell.RequestID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return "", false
	}
	id := q.items[0]
	q.items = q.items[1:]
	return id, true
}

// Remove drops id from the queue if it hasn't been dequeued yet. Returns
// true if it was present.
func (q *requestQueue) Remove(id burwell.RequestID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, v := range q.items {
		if v == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Drain empties the queue, returning whatever was still waiting.
func (q *requestQueue) Drain() []burwell.RequestID {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.items
	q.items = nil
	return drained
}

// Len returns the number of items currently queued.
func (q *requestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes every blocked Dequeue call; subsequent Dequeues return
// immediately with ok=false once the queue empties.
func (q *requestQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
