package idle

import (
	"container/list"
	"sync"

	"go.uber.org/atomic"

	"github.com/go-foundations/fibre/internal/rtstats"
	"github.com/go-foundations/fibre/task"
)

// CounterIdle is the "fredCounter" design from spec.md: a single signed
// counter. Positive means ready tasks are available for stealing;
// negative means workers are parked waiting for one. A small FIFO of
// parked workers backs the counter so AddReadyFred knows whom to wake
// (spec.md leaves the exact waiter-selection data structure unspecified;
// FIFO matches the ready queue's own fairness-per-priority convention).
type CounterIdle struct {
	counter atomic.Int64

	mu      sync.Mutex
	waiting list.List // of Worker
}

// NewCounter constructs a counter-based idle manager with no ready tasks
// and no waiting workers.
func NewCounter() *CounterIdle { return &CounterIdle{} }

// AddReadyFred and GetReadyFred both take mu across their counter update
// and waiter-list access, so the two stay atomic with each other: without
// this, a GetReadyFred that has Dec()'d but not yet pushed itself onto
// waiting could have its wakeup missed by a concurrent AddReadyFred that
// sees the decremented counter but an empty list, permanently parking a
// worker no one will ever wake.
func (c *CounterIdle) AddReadyFred(t *task.Task, producer Worker) bool {
	c.mu.Lock()
	result := c.counter.Inc()
	if result > 0 {
		c.mu.Unlock()
		return false
	}
	front := c.waiting.Front()
	var w Worker
	if front != nil {
		w = c.waiting.Remove(front).(Worker)
	}
	c.mu.Unlock()
	if w == nil {
		return false // counter says a waiter exists but hasn't registered yet
	}
	if w.Handover(t) {
		w.WakeHalted()
		return true
	}
	return false
}

func (c *CounterIdle) GetReadyFred(self Worker) *task.Task {
	c.mu.Lock()
	result := c.counter.Dec()
	if result >= 0 {
		c.mu.Unlock()
		return nil
	}
	c.waiting.PushBack(self)
	c.mu.Unlock()

	rtstats.Global().WorkersParked.Inc()
	t := self.ParkHalted()
	rtstats.Global().WorkersWoken.Inc()
	return t
}
