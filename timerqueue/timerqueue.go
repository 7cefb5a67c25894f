// Package timerqueue implements the scope-global timer wheel: a sorted
// multimap from absolute deadline to waiting task, used both for sleep()
// and for every blocking primitive's timed-wait overload. It participates
// in the same suspend/resume race protocol as the primitive's own wait
// queue: whichever source's RaceResume wins becomes the task's winning
// sentinel.
package timerqueue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/go-foundations/fibre/internal/rtstats"
	"github.com/go-foundations/fibre/task"
)

// ArmFunc is called whenever the earliest pending deadline changes, so the
// owning event scope can (re)arm its master timer fd accordingly.
type ArmFunc func(deadline time.Time)

// node is one pending timeout. expired is set by CheckExpiry when it has
// already popped the node but lost the race to another source, so that
// winner's erase call (racing concurrently) can tell it must not touch
// the heap slot again.
type node struct {
	task     *task.Task
	deadline time.Time
	expired  bool
	index    int // heap slot, maintained by container/heap
}

// Queue is a sorted-by-deadline collection of pending timeouts. It is its
// own race sentinel: the pointer value of the Queue itself is what wins
// when a task's timeout fires (mirroring libfibre's "&queue" address
// sentinel).
//
// A heap (container/list would require linear insert) is the idiomatic Go
// analogue of std::multimap here, recorded in DESIGN.md.
type Queue struct {
	mu    sync.Mutex
	nodes nodeHeap
	arm   ArmFunc
}

// New constructs a timer queue. arm may be nil if no master-timer wiring
// is needed (e.g. in unit tests).
func New(arm ArmFunc) *Queue {
	if arm == nil {
		arm = func(time.Time) {}
	}
	q := &Queue{arm: arm}
	heap.Init(&q.nodes)
	return q
}

var (
	globalMu sync.Mutex
	globalQ  *Queue
)

// Global returns the process-wide default timer queue used by sync2
// primitives that do not belong to an explicit event scope (tests,
// standalone use). A real scope.Scope installs its own via SetGlobal.
func Global() *Queue {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalQ == nil {
		globalQ = New(nil)
	}
	return globalQ
}

// SetGlobal installs q as the process-wide default timer queue.
func SetGlobal(q *Queue) {
	globalMu.Lock()
	globalQ = q
	globalMu.Unlock()
}

func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nodes.Len() == 0
}

// BlockTimeout inserts a node for cf at absDeadline and suspends it. The
// caller must already have called cf.PrepareResumeRace() (and typically
// also registered cf with some other wait queue sharing the same race).
// Returns nil if the timer itself won (i.e. expired before anything else
// resumed cf), or the other source's sentinel if that source won instead.
func (q *Queue) BlockTimeout(cf *task.Task, absDeadline time.Time) any {
	n := &node{task: cf, deadline: absDeadline}
	q.enqueue(n)

	winner := cf.Suspend()
	if winner == q {
		return nil // timer expired: the caller sees "timeout"
	}
	q.erase(n)
	return winner // cancelled: some other source resumed first
}

func (q *Queue) enqueue(n *node) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.nodes, n)
	if q.nodes[0] == n {
		q.arm(n.deadline)
	}
}

// erase removes n from the heap unless the timer thread already marked it
// expired (in which case CheckExpiry owns cleanup and this is a no-op).
func (q *Queue) erase(n *node) {
	if n.expired {
		rtstats.Global().TimersFired.Inc()
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if n.expired {
		return
	}
	if n.index >= 0 {
		heap.Remove(&q.nodes, n.index)
	}
	rtstats.Global().TimersCancelled.Inc()
}

// CheckExpiry is called by the master poller on timer-fd readiness (or by
// a test driver). It pops every node whose deadline has passed, races to
// resume each one, and re-arms the master timer for the new head if any
// nodes remain.
func (q *Queue) CheckExpiry(now time.Time) {
	q.mu.Lock()
	var fired []*node
	for q.nodes.Len() > 0 {
		n := q.nodes[0]
		if n.deadline.After(now) {
			break
		}
		heap.Pop(&q.nodes)
		fired = append(fired, n)
	}
	var nextDeadline time.Time
	hasNext := q.nodes.Len() > 0
	if hasNext {
		nextDeadline = q.nodes[0].deadline
	}
	q.mu.Unlock()

	for _, n := range fired {
		if n.task.RaceResume(q) {
			n.task.Resume()
			rtstats.Global().TimersFired.Inc()
		} else {
			n.expired = true
		}
	}
	if hasNext {
		q.arm(nextDeadline)
	}
}

// nodeHeap implements container/heap.Interface ordered by deadline.
type nodeHeap []*node

func (h nodeHeap) Len() int            { return len(h) }
func (h nodeHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h nodeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *nodeHeap) Push(x any) {
	n := x.(*node)
	n.index = len(*h)
	*h = append(*h, n)
}
func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}
