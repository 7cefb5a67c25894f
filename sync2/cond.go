package sync2

import (
	"time"

	"github.com/go-foundations/fibre/task"
	"github.com/go-foundations/fibre/timerqueue"
)

// Cond is a condition variable associated with an external lock supplied
// by the caller at every call, matching spec's "external lock" contract.
// As with a pthread condition variable, Signal/Broadcast must be called
// while the caller already holds the same lock used in the matching
// Wait calls — the lock is what protects the wait queue itself, Cond
// keeps no lock of its own.
type Cond struct {
	q blockingQueue
}

// NewCond constructs an empty condition variable.
func NewCond() *Cond { return &Cond{} }

// Wait enqueues cf, releases lock, suspends, and on wakeup the caller must
// reacquire lock itself (Wait does not do so, mirroring the libfibre
// contract exactly: the caller regains responsibility for the lock).
// The caller must hold lock when calling Wait.
func (c *Cond) Wait(lock Locker, cf *task.Task) {
	c.q.block(lock, cf, nil)
}

// WaitTimeout is the timed overload. The caller must hold lock.
func (c *Cond) WaitTimeout(lock Locker, cf *task.Task, deadline time.Time) Result {
	if c.q.block(lock, cf, &deadline) {
		return Success
	}
	return Timeout
}

// SetTimers attaches the timer queue WaitTimeout registers deadlines
// with, normally a real event scope's scope.Scope.Timers. Unset,
// WaitTimeout falls back to the process-wide timerqueue.Global().
func (c *Cond) SetTimers(tq *timerqueue.Queue) {
	c.q.setTimers(tq)
}

// Signal wakes one waiter, if any. The caller must hold the same lock
// used for the matching Wait calls.
func (c *Cond) Signal() {
	c.q.unblock(true)
}

// Broadcast wakes every waiter. The caller must hold the same lock used
// for the matching Wait calls.
func (c *Cond) Broadcast() {
	c.q.unblockAll()
}
