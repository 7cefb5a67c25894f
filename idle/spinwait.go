package idle

import (
	"container/list"
	"sync"

	"go.uber.org/atomic"

	"github.com/go-foundations/fibre/internal/rtstats"
	"github.com/go-foundations/fibre/task"
)

// SpinWaitIdle is the two-counter design from spec.md: a worker first
// joins the "spinning" set (briefly polling all queues, modeled here by
// the caller's own scheduleNonblocking loop happening before
// GetReadyFred is even called), then joins "waiting" and parks. Any
// producer enqueuing a task decrements spinning first; only when
// spinning reaches zero does it wake a waiter, on the theory that a still
// spinning worker will find the work itself without needing a wakeup.
type SpinWaitIdle struct {
	spinning atomic.Int64
	waiting  atomic.Int64

	mu      sync.Mutex
	waiters list.List // of Worker
}

// NewSpinWait constructs a spin+wait idle manager with everyone initially
// neither spinning nor waiting.
func NewSpinWait() *SpinWaitIdle { return &SpinWaitIdle{} }

// EnterSpin marks self as joining the spin phase; call before the bounded
// scheduleNonblocking polling loop in the worker's idle loop.
func (s *SpinWaitIdle) EnterSpin() { s.spinning.Inc() }

// ExitSpin marks self as leaving the spin phase, either because it found
// work or is about to call GetReadyFred.
func (s *SpinWaitIdle) ExitSpin() { s.spinning.Dec() }

// AddReadyFred and GetReadyFred both take mu across their waiting-counter
// update and waiters-list access, so the two stay atomic with each other:
// without this, a GetReadyFred that has Inc()'d waiting but not yet pushed
// itself onto waiters could have its wakeup missed by a concurrent
// AddReadyFred that sees waiting>0 but an empty list, permanently parking a
// worker no one will ever wake.
func (s *SpinWaitIdle) AddReadyFred(t *task.Task, producer Worker) bool {
	if s.spinning.Dec() >= 0 {
		return false // some worker is still spinning, it will find t itself
	}
	s.spinning.Inc() // restore: we didn't actually consume a spinner
	s.mu.Lock()
	if s.waiting.Load() <= 0 {
		s.mu.Unlock()
		return false
	}
	front := s.waiters.Front()
	var w Worker
	if front != nil {
		w = s.waiters.Remove(front).(Worker)
	}
	s.mu.Unlock()
	if w == nil {
		return false
	}
	if w.Handover(t) {
		w.WakeHalted()
		return true
	}
	return false
}

func (s *SpinWaitIdle) GetReadyFred(self Worker) *task.Task {
	s.mu.Lock()
	s.waiting.Inc()
	s.waiters.PushBack(self)
	s.mu.Unlock()

	rtstats.Global().WorkersParked.Inc()
	t := self.ParkHalted()
	rtstats.Global().WorkersWoken.Inc()
	s.waiting.Dec()
	return t
}
