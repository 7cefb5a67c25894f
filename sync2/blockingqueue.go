// Package sync2 implements the runtime's blocking primitives: Semaphore,
// Mutex, Cond, RWMutex, Barrier and SyncPoint. Every wait operation is
// built on the same two building blocks: task.PrepareResumeRace/RaceResume
// (the suspend/resume race protocol) and blockingQueue below (the locked
// FIFO wait-list every primitive shares).
package sync2

import (
	"container/list"
	"sync"
	"time"

	"github.com/go-foundations/fibre/task"
	"github.com/go-foundations/fibre/timerqueue"
)

// Locker is whatever external lock a primitive's wait queue is released
// under while the caller blocks (a plain sync.Mutex for most primitives,
// or a caller-supplied lock for Cond).
type Locker interface {
	Lock()
	Unlock()
}

// blockingQueue is a FIFO list of waiting tasks, shared by every sync2
// primitive. It mirrors libfibre's BlockingQueue: the caller must already
// hold `lock` when calling block, and block releases it after the task
// has been registered (so a concurrent unblock cannot miss the waiter).
type blockingQueue struct {
	waiters list.List // of *task.Task
	timers  *timerqueue.Queue
}

// setTimers attaches the timer queue a timed block() call on this queue
// registers deadlines with. Left unset, block falls back to
// timerqueue.Global(), which is only correct for tests and other
// standalone uses with exactly one scope in the process.
func (q *blockingQueue) setTimers(tq *timerqueue.Queue) {
	q.timers = tq
}

func (q *blockingQueue) timerQueue() *timerqueue.Queue {
	if q.timers != nil {
		return q.timers
	}
	return timerqueue.Global()
}

// block enqueues cf, releases lock, and suspends cf (optionally with an
// absolute deadline). Returns true if the primitive itself resumed the
// task (the blocking "completed"), or false if a timeout fired first.
func (q *blockingQueue) block(lock Locker, cf *task.Task, deadline *time.Time) bool {
	cf.PrepareResumeRace()
	el := q.waiters.PushBack(cf)
	lock.Unlock()

	var winner any
	if deadline != nil {
		winner = q.timerQueue().BlockTimeout(cf, *deadline)
	} else {
		winner = cf.Suspend()
	}

	if winner == q {
		return true // the primitive itself won the race
	}
	// cancelled: clean up our own queue membership under the lock.
	lock.Lock()
	q.removeIfPresent(el)
	lock.Unlock()
	return false
}

func (q *blockingQueue) removeIfPresent(el *list.Element) {
	for e := q.waiters.Front(); e != nil; e = e.Next() {
		if e == el {
			q.waiters.Remove(e)
			return
		}
	}
}

// unblock pops the first waiter that wins the race and (optionally)
// resumes it ("baton passing": the caller already transferred whatever
// resource the waiter needed before calling unblock, so the resumed
// waiter sees itself as already owning it).
func (q *blockingQueue) unblock(resume bool) *task.Task {
	for e := q.waiters.Front(); e != nil; e = e.Next() {
		cf := e.Value.(*task.Task)
		if cf.RaceResume(q) {
			q.waiters.Remove(e)
			if resume {
				cf.Resume()
			}
			return cf
		}
	}
	return nil
}

// unblockAll pops and resumes every waiter currently in the queue.
func (q *blockingQueue) unblockAll() []*task.Task {
	var woken []*task.Task
	for {
		cf := q.unblock(true)
		if cf == nil {
			break
		}
		woken = append(woken, cf)
	}
	return woken
}

func (q *blockingQueue) empty() bool { return q.waiters.Len() == 0 }

func (q *blockingQueue) len() int { return q.waiters.Len() }

// guardLock is a tiny sync.Mutex wrapper used where a primitive needs a
// Locker but does not otherwise expose one.
type guardLock struct{ sync.Mutex }
