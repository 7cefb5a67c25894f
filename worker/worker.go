// Package worker implements the per-worker scheduling loop: local
// dequeue, then steal from ring-mates, then idle-park, exactly the
// "idleLoop"/"scheduleNonblocking" pair from spec.md §4.4.
package worker

import (
	"runtime"
	"sync"

	"go.uber.org/atomic"

	"github.com/go-foundations/fibre/idle"
	"github.com/go-foundations/fibre/internal/rtlog"
	"github.com/go-foundations/fibre/internal/rtstats"
	"github.com/go-foundations/fibre/readyqueue"
	"github.com/go-foundations/fibre/sync2"
	"github.com/go-foundations/fibre/task"
)

// IdleSpinMax bounds the number of non-blocking schedule attempts before
// a worker calls into the idle manager and risks parking.
const IdleSpinMax = 100

// Ring is the minimal surface a worker needs from its cluster: the set of
// ring-mates to steal from and the shared idle manager.
type Ring interface {
	// Mates returns the other workers in this worker's cluster ring,
	// in steal order, excluding self.
	Mates(self *Worker) []*Worker
	Idle() idle.Manager
}

// Worker is one scheduling domain's kernel-thread-equivalent: a single
// goroutine running Run(), with its own ready queue, halt semaphore, and
// handover slot.
type Worker struct {
	id    int
	ring  Ring
	queue readyqueue.Queue

	halt     *sync2.Semaphore
	handover atomic.Pointer[task.Task]

	// idleFiber is the special task whose only job is to run this
	// worker's scheduling loop; per spec.md it is never enqueued on any
	// ready queue, and exists purely so the halt semaphore's P/V
	// machinery (built on *task.Task) has an identity to block.
	idleFiber *task.Task

	stopped atomic.Bool
	wg      sync.WaitGroup

	pinCPU int // -1 means unpinned
}

// New constructs a worker bound to ring, using lockFree to select the
// ready-queue variant (false = locked, the default).
func New(id int, ring Ring, lockFree bool) *Worker {
	var q readyqueue.Queue
	if lockFree {
		q = readyqueue.NewLockFree()
	} else {
		q = readyqueue.NewLocked()
	}
	w := &Worker{
		id:     id,
		ring:   ring,
		halt:   sync2.NewSemaphore(0),
		pinCPU: -1,
	}
	w.queue = q
	w.idleFiber = task.New("idle-fiber", discardWorker{}, nil)
	return w
}

func (w *Worker) ID() int { return w.id }

// PinTo requests that Run lock its goroutine to its OS thread and bind
// that thread to cpu once started. Must be called before Run.
func (w *Worker) PinTo(cpu int) { w.pinCPU = cpu }

// Enqueue offers t to the cluster's idle manager first; if a parked
// worker was woken and handed t directly, t is not queued anywhere else.
// Otherwise t goes on this worker's own ready queue.
func (w *Worker) Enqueue(t *task.Task) {
	if w.ring.Idle().AddReadyFred(t, w) {
		return
	}
	w.queue.Enqueue(t)
}

// Handover attempts to place t into this worker's handover slot for
// direct pickup by a waking worker; fails if the slot is already full.
func (w *Worker) Handover(t *task.Task) bool {
	return w.handover.CompareAndSwap(nil, t)
}

// WakeHalted posts to the halt semaphore, releasing one ParkHalted call.
func (w *Worker) WakeHalted() {
	w.halt.V()
}

// ParkHalted blocks until WakeHalted is called, then returns and clears
// whatever task (if any) was placed in the handover slot.
func (w *Worker) ParkHalted() *task.Task {
	w.halt.P(w.idleFiber)
	return w.handover.Swap(nil)
}

// discardWorker is the idle-fiber's handle. No worker ever schedules the
// idle-fiber, so when the halt semaphore resumes it, Enqueue itself takes
// the place of a worker's dequeue-and-run step: it collects the yield the
// fiber's Suspend posted and grants it the turn to continue.
type discardWorker struct{}

func (discardWorker) Enqueue(t *task.Task) {
	t.WaitYield()
	t.GrantTurn()
}
func (discardWorker) ID() int { return -1 }

// Stop requests the worker's Run loop to exit after its current
// iteration and unparks it if currently halted.
func (w *Worker) Stop() {
	w.stopped.Store(true)
	w.WakeHalted()
}

// Run is the idle loop: scan for local work, then steal, then park.
// Intended to be launched as `go w.Run()`.
func (w *Worker) Run() {
	w.wg.Add(1)
	defer w.wg.Done()
	if w.pinCPU >= 0 {
		runtime.LockOSThread()
		if err := BindCPU(w.pinCPU); err != nil {
			rtlog.For(rtlog.CategoryScheduler).Warnw("cpu pin failed", "cpu", w.pinCPU, "err", err)
		}
	}
	log := rtlog.For(rtlog.CategoryScheduler)
	for !w.stopped.Load() {
		t := w.scheduleNonblocking()
		if t != nil {
			w.runTask(t)
			continue
		}
		t = w.ring.Idle().GetReadyFred(w)
		if t != nil {
			w.runTask(t)
		}
	}
	log.Debugw("worker stopped", "id", w.id)
}

// scheduleNonblocking tries local dequeue, then a bounded scan stealing
// from ring-mates, consistent with spec.md's "repeat until the cluster
// ring has been fully scanned".
func (w *Worker) scheduleNonblocking() *task.Task {
	for i := 0; i < IdleSpinMax; i++ {
		if t := w.queue.Dequeue(); t != nil {
			return t
		}
		mates := w.ring.Mates(w)
		for _, mate := range mates {
			rtstats.Global().StealAttempts.Inc()
			t, ok := mate.queue.TryDequeue()
			if !ok || t == nil {
				continue
			}
			if t.CheckAffinity(w) {
				// affinity task stolen from an unrelated worker: put it
				// back so its home worker eventually re-steals it.
				mate.queue.Enqueue(t)
				continue
			}
			rtstats.Global().StealSuccesses.Inc()
			return t
		}
		if len(mates) == 0 {
			break
		}
	}
	return nil
}

// runTask gives t the worker's current scheduling quantum and blocks
// until t either suspends again or finishes. t's body itself never runs
// on this goroutine: it runs on t's own persistent goroutine (spawned
// once via Launch), so that a Suspend deep inside the body only parks
// that goroutine, never this one — letting Run loop back around to
// schedule other ready tasks the moment t yields. Synthetic tasks with
// no body (e.g. the idle-fiber) are never routed through here at all.
func (w *Worker) runTask(t *task.Task) {
	if t.Body() == nil {
		return
	}
	if t.MarkStarted() {
		t.Launch()
	} else {
		t.GrantTurn()
	}
	t.WaitYield()
}

// Wait blocks until Run has returned.
func (w *Worker) Wait() { w.wg.Wait() }
