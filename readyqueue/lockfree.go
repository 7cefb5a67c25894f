package readyqueue

import (
	"sync/atomic"

	"github.com/go-foundations/fibre/task"
)

// node is a Treiber-stack node. Each priority is LIFO: the most recently
// enqueued task is dequeued first, trading FIFO order for a lock-free
// push/pop pair. Owners and stealers both pop the head via CAS. No tag
// bits are needed against ABA: every Enqueue allocates a fresh node, and
// the garbage collector never reuses a node another goroutine still holds.
type node struct {
	t    *task.Task
	next *node
}

// LockFreeQueue is the lock-free MPSC variant, one Treiber stack per
// priority level. Selected via cluster.Options.LockFreeQueues for
// parity with the compile-time switch libfibre offers between its locked
// and Nemesis-queue ready queues.
type LockFreeQueue struct {
	heads [task.NumPriority]atomic.Pointer[node]
}

// NewLockFree constructs an empty LockFreeQueue.
func NewLockFree() *LockFreeQueue {
	return &LockFreeQueue{}
}

func (q *LockFreeQueue) Enqueue(t *task.Task) {
	n := &node{t: t}
	head := &q.heads[t.Priority()]
	for {
		old := head.Load()
		n.next = old
		if head.CompareAndSwap(old, n) {
			return
		}
	}
}

func (q *LockFreeQueue) Dequeue() *task.Task {
	for p := 0; p < int(task.NumPriority); p++ {
		head := &q.heads[p]
		for {
			old := head.Load()
			if old == nil {
				break // this priority is empty, try the next one
			}
			if head.CompareAndSwap(old, old.next) {
				return old.t
			}
		}
	}
	return nil
}

func (q *LockFreeQueue) TryDequeue() (*task.Task, bool) {
	for p := 0; p < int(task.NumPriority); p++ {
		head := &q.heads[p]
		for {
			old := head.Load()
			if old == nil {
				break // this priority is empty, try the next one
			}
			if head.CompareAndSwap(old, old.next) {
				return old.t, true
			}
			// CAS lost the race (another stealer/owner got there first);
			// spuriously fail upward rather than spin indefinitely here,
			// matching the "TryDequeue may fail spuriously" contract.
			return nil, false
		}
	}
	return nil, false
}

func (q *LockFreeQueue) Len() int {
	n := 0
	for p := range q.heads {
		for cur := q.heads[p].Load(); cur != nil; cur = cur.next {
			n++
		}
	}
	return n
}
