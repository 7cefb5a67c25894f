// Package readyqueue implements the per-worker ready queue: a multi-level
// priority queue offered in a locked variant (default), FIFO within each
// priority, and a lock-free variant selectable per cluster, which is LIFO
// within each priority.
package readyqueue

import (
	"container/list"
	"sync"

	"github.com/go-foundations/fibre/task"
)

// Queue is satisfied by both variants; Worker selects one at construction.
type Queue interface {
	// Enqueue adds t to its priority's sub-queue. Safe for concurrent
	// callers (producer-multi).
	Enqueue(t *task.Task)
	// Dequeue is consumer-one: only the owning worker calls this. It scans
	// priorities Top..Low and takes one task from the first non-empty one:
	// the oldest for LockedQueue, the newest for LockFreeQueue.
	Dequeue() *task.Task
	// TryDequeue is the stealer-safe variant: non-blocking, may spuriously
	// fail under contention even when the queue is logically non-empty.
	TryDequeue() (*task.Task, bool)
	// Len reports an advisory (possibly stale) count, for idle-manager and
	// stats purposes only.
	Len() int
}

// LockedQueue is three container/list sub-queues behind one mutex, FIFO
// within each priority. This is the default variant: most of this module's
// shared structures favor a plain mutex over lock-free schemes.
type LockedQueue struct {
	mu    sync.Mutex
	subqs [task.NumPriority]*list.List
}

// NewLocked constructs an empty LockedQueue.
func NewLocked() *LockedQueue {
	q := &LockedQueue{}
	for i := range q.subqs {
		q.subqs[i] = list.New()
	}
	return q
}

func (q *LockedQueue) Enqueue(t *task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subqs[t.Priority()].PushBack(t)
}

func (q *LockedQueue) Dequeue() *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *LockedQueue) TryDequeue() (*task.Task, bool) {
	if !q.mu.TryLock() {
		return nil, false // spurious failure under contention, per contract
	}
	defer q.mu.Unlock()
	t := q.popLocked()
	return t, t != nil
}

func (q *LockedQueue) popLocked() *task.Task {
	for p := 0; p < int(task.NumPriority); p++ {
		sub := q.subqs[p]
		if front := sub.Front(); front != nil {
			sub.Remove(front)
			return front.Value.(*task.Task)
		}
	}
	return nil
}

func (q *LockedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, sub := range q.subqs {
		n += sub.Len()
	}
	return n
}
