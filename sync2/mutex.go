package sync2

import (
	"time"

	"github.com/go-foundations/fibre/internal/rterror"
	"github.com/go-foundations/fibre/task"
	"github.com/go-foundations/fibre/timerqueue"
)

// Mutex is a blocking, FIFO-fair, optionally-recursive mutex whose waiters
// are tasks, built on the same race protocol as Semaphore.
type Mutex struct {
	lock      guardLock
	owner     *task.Task
	recursion int
	q         blockingQueue
}

// NewMutex constructs an unowned mutex.
func NewMutex() *Mutex { return &Mutex{} }

// Acquire blocks cf until the mutex is owned by it.
func (m *Mutex) Acquire(cf *task.Task) { m.acquire(cf, nil) }

// TryAcquire attempts to acquire without blocking.
func (m *Mutex) TryAcquire(cf *task.Task) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.tryLocked(cf)
}

// AcquireTimeout acquires with an absolute deadline.
func (m *Mutex) AcquireTimeout(cf *task.Task, deadline time.Time) Result {
	return m.acquire(cf, &deadline)
}

// SetTimers attaches the timer queue AcquireTimeout registers deadlines
// with, normally a real event scope's scope.Scope.Timers. Unset,
// AcquireTimeout falls back to the process-wide timerqueue.Global().
func (m *Mutex) SetTimers(tq *timerqueue.Queue) {
	m.q.setTimers(tq)
}

func (m *Mutex) tryLocked(cf *task.Task) bool {
	if m.owner == nil {
		m.owner = cf
		m.recursion = 1
		return true
	}
	if m.owner == cf {
		m.recursion++
		return true
	}
	return false
}

func (m *Mutex) acquire(cf *task.Task, deadline *time.Time) Result {
	m.lock.Lock()
	if m.tryLocked(cf) {
		m.lock.Unlock()
		return WasOpen
	}
	ok := m.q.block(&m.lock, cf, deadline)
	if !ok {
		return Timeout
	}
	// baton-passed: resumed task is already the owner (set by Release).
	return Success
}

// Release releases one level of recursion; the lock is actually freed
// only when the recursion counter reaches zero, at which point the next
// FIFO waiter (if any) is handed ownership directly.
func (m *Mutex) Release(cf *task.Task) {
	m.lock.Lock()
	rterror.Assert(m.owner == cf, "mutex release by non-owner")
	m.recursion--
	if m.recursion > 0 {
		m.lock.Unlock()
		return
	}
	next := m.q.unblock(false) // peek the winner before resuming it
	m.owner = next
	if next != nil {
		m.recursion = 1
	}
	m.lock.Unlock()
	if next != nil {
		next.Resume()
	}
}
