package sync2

import (
	"time"

	"github.com/go-foundations/fibre/internal/rtstats"
	"github.com/go-foundations/fibre/task"
	"github.com/go-foundations/fibre/timerqueue"
)

// Result is the three-outcome return of a primitive's wait operation,
// mirroring libfibre's SemaphoreResult.
type Result int

const (
	Timeout  Result = iota // deadline passed before the resource was granted
	Success                // granted, blocked on the wait queue first
	WasOpen                // granted immediately, no blocking required
)

// Semaphore is a counting semaphore whose waiters are tasks. V "baton
// passes" directly to the next waiter without touching the counter, so
// the counter only ever reflects credit nobody is yet waiting for.
type Semaphore struct {
	lock    guardLock
	counter int64
	binary  bool
	q       blockingQueue
}

// NewSemaphore constructs a counting semaphore with the given initial
// count.
func NewSemaphore(initial int64) *Semaphore {
	return &Semaphore{counter: initial}
}

// NewBinarySemaphore constructs a semaphore whose counter collapses to
// {0,1}; a spurious V while already at 1 is a no-op.
func NewBinarySemaphore(open bool) *Semaphore {
	s := &Semaphore{binary: true}
	if open {
		s.counter = 1
	}
	return s
}

// P acquires the semaphore, blocking the calling task if necessary.
func (s *Semaphore) P(cf *task.Task) {
	s.acquire(cf, nil)
}

// TryP attempts to acquire without blocking.
func (s *Semaphore) TryP() Result {
	s.lock.Lock()
	if s.counter >= 1 {
		s.counter--
		s.lock.Unlock()
		rtstats.Global().SemaphoreFastP.Inc()
		return WasOpen
	}
	s.lock.Unlock()
	return Timeout
}

// PTimeout acquires with an absolute deadline.
func (s *Semaphore) PTimeout(cf *task.Task, deadline time.Time) Result {
	return s.acquire(cf, &deadline)
}

// SetTimers attaches the timer queue PTimeout registers deadlines with,
// normally a real event scope's scope.Scope.Timers. Unset, PTimeout falls
// back to the process-wide timerqueue.Global().
func (s *Semaphore) SetTimers(tq *timerqueue.Queue) {
	s.q.setTimers(tq)
}

func (s *Semaphore) acquire(cf *task.Task, deadline *time.Time) Result {
	s.lock.Lock()
	if s.counter >= 1 {
		s.counter--
		s.lock.Unlock()
		rtstats.Global().SemaphoreFastP.Inc()
		return WasOpen
	}
	// block releases s.lock for us.
	ok := s.q.block(&s.lock, cf, deadline)
	rtstats.Global().SemaphoreSlowP.Inc()
	if ok {
		return Success
	}
	return Timeout
}

// PWait acquires ignoring any available count, always enqueuing and
// suspending the caller. Used for level-triggered readiness semaphores,
// where a stale count must never be reused to satisfy a fresh wait (spec:
// "P that always suspends, because spurious wakeups must not reuse stale
// state").
func (s *Semaphore) PWait(cf *task.Task) {
	s.lock.Lock()
	s.q.block(&s.lock, cf, nil)
	rtstats.Global().SemaphoreSlowP.Inc()
}

// V releases the semaphore: if a waiter is queued it is handed the
// resource directly (baton passing); otherwise the counter increments.
func (s *Semaphore) V() {
	s.lock.Lock()
	if s.q.unblock(true) != nil {
		s.lock.Unlock()
		return
	}
	if s.binary && s.counter >= 1 {
		s.lock.Unlock()
		return // spurious V while already open: no-op
	}
	s.counter++
	s.lock.Unlock()
}
