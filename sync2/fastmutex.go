package sync2

import (
	"runtime"

	"go.uber.org/atomic"

	"github.com/go-foundations/fibre/task"
)

// FastMutex is the "Benaphore" fast-path mutex from
// original_source/libfibre/runtime/Benaphore.h: an atomic counter handles
// the uncontended case with a single atomic decrement, only falling back to the
// full semaphore wait queue when contended. It trades strict FIFO
// ordering for throughput, matching spec's "fast-path variant ... may
// yield the lock without FIFO ordering".
type FastMutex struct {
	counter atomic.Int32 // >0 means free-ish; goes negative under contention
	sem     *Semaphore
	spins   int
}

// NewFastMutex constructs an unowned fast-path mutex. spinIterations
// bounds the busy-wait before falling back to the semaphore.
func NewFastMutex(spinIterations int) *FastMutex {
	fm := &FastMutex{sem: NewSemaphore(0), spins: spinIterations}
	fm.counter.Store(1)
	return fm
}

// Acquire takes the lock, spinning briefly before blocking on contention.
func (fm *FastMutex) Acquire(cf *task.Task) {
	if fm.counter.Dec() >= 0 {
		return // uncontended fast path
	}
	for i := 0; i < fm.spins; i++ {
		runtime.Gosched()
	}
	fm.sem.P(cf)
}

// Release frees the lock, waking one waiter if the counter shows
// contention.
func (fm *FastMutex) Release() {
	if fm.counter.Inc() > 0 {
		return
	}
	fm.sem.V()
}
