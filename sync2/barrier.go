package sync2

import "github.com/go-foundations/fibre/task"

// Barrier releases all participants once N have arrived, then resets for
// reuse. The releasing (Nth) participant receives BarrierLast instead of
// BarrierWaited so callers can run "do this once" logic.
type Barrier struct {
	lock    guardLock
	target  int
	arrived int
	q       blockingQueue
}

type BarrierResult int

const (
	BarrierWaited BarrierResult = iota
	BarrierLast
)

// NewBarrier constructs a barrier for target participants.
func NewBarrier(target int) *Barrier {
	return &Barrier{target: target}
}

// Wait blocks cf until target participants in the current cycle have
// called Wait; the Nth caller releases everyone else and returns
// BarrierLast instead of blocking.
func (b *Barrier) Wait(cf *task.Task) BarrierResult {
	b.lock.Lock()
	b.arrived++
	if b.arrived < b.target {
		b.q.block(&b.lock, cf, nil)
		return BarrierWaited
	}
	b.arrived = 0
	b.q.unblockAll()
	b.lock.Unlock()
	return BarrierLast
}
