// Package cluster implements a scheduling domain: a ring of workers that
// share a work-stealing space and a set of I/O pollers, plus cluster-wide
// stop-the-world pause/resume used around fork and for debugging.
package cluster

import (
	"sync"

	"github.com/go-foundations/fibre/idle"
	"github.com/go-foundations/fibre/internal/rtlog"
	"github.com/go-foundations/fibre/sync2"
	"github.com/go-foundations/fibre/task"
	"github.com/go-foundations/fibre/worker"
)

// Options controls variant selection for a cluster's workers, for parity
// with libfibre's compile-time switches (locked vs. lock-free ready
// queues, counter vs. spin+wait idle manager).
type Options struct {
	NumWorkers      int
	LockFreeQueues  bool
	UseSpinWaitIdle bool

	// PinCPUs, when non-empty, binds ring workers to CPUs round-robin
	// (worker i pinned to PinCPUs[i % len(PinCPUs)]) before their Run
	// loops start, per spec.md §6's FibreCpuSet.
	PinCPUs []int
}

// DefaultOptions matches libfibre's conservative defaults: locked ready
// queues, counter-based idle manager.
func DefaultOptions(numWorkers int) Options {
	return Options{NumWorkers: numWorkers}
}

// Cluster is a ring of workers sharing a work-stealing space.
type Cluster struct {
	// ringLock guards structural changes to the ring (placement cursor
	// advance is also under this lock, per spec.md's resource-ownership
	// section: "Cluster ring: modified under a single ringLock").
	ringLock sync.RWMutex
	ring     []*worker.Worker
	cursor   int

	idleMgr idle.Manager

	pauseConfirm *sync2.Semaphore
	pauseGate    *sync2.Semaphore
}

// New constructs a cluster and starts its workers' idle loops.
func New(opts Options) *Cluster {
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	c := &Cluster{
		pauseConfirm: sync2.NewSemaphore(0),
		pauseGate:    sync2.NewSemaphore(0),
	}
	if opts.UseSpinWaitIdle {
		c.idleMgr = idle.NewSpinWait()
	} else {
		c.idleMgr = idle.NewCounter()
	}
	c.ring = make([]*worker.Worker, opts.NumWorkers)
	for i := range c.ring {
		c.ring[i] = worker.New(i, c, opts.LockFreeQueues)
		if len(opts.PinCPUs) > 0 {
			c.ring[i].PinTo(opts.PinCPUs[i%len(opts.PinCPUs)])
		}
	}
	for _, w := range c.ring {
		go w.Run()
	}
	return c
}

// Idle returns the cluster's shared idle manager.
func (c *Cluster) Idle() idle.Manager { return c.idleMgr }

// Mates returns the other workers in the ring, starting just after self,
// so repeated steal scans cycle through victims round-robin rather than
// always hammering the same neighbor first.
func (c *Cluster) Mates(self *worker.Worker) []*worker.Worker {
	c.ringLock.RLock()
	defer c.ringLock.RUnlock()
	n := len(c.ring)
	if n <= 1 {
		return nil
	}
	out := make([]*worker.Worker, 0, n-1)
	selfIdx := 0
	for i, w := range c.ring {
		if w == self {
			selfIdx = i
			break
		}
	}
	for i := 1; i < n; i++ {
		out = append(out, c.ring[(selfIdx+i)%n])
	}
	return out
}

// Place advances the round-robin placement cursor and returns the chosen
// worker, per spec.md §4.4 "Placement: ... ring.advance()". Exactly one
// worker is conceptually "place" at a time — the cursor itself plays that
// role here rather than a separate marker field.
func (c *Cluster) Place() *worker.Worker {
	c.ringLock.Lock()
	defer c.ringLock.Unlock()
	w := c.ring[c.cursor]
	c.cursor = (c.cursor + 1) % len(c.ring)
	return w
}

// NumWorkers reports the ring's current size.
func (c *Cluster) NumWorkers() int {
	c.ringLock.RLock()
	defer c.ringLock.RUnlock()
	return len(c.ring)
}

// Workers returns a snapshot of the ring, in placement order. Used by
// callers that need to act on every worker directly, such as PauseAll
// and ResumeAll.
func (c *Cluster) Workers() []*worker.Worker {
	c.ringLock.RLock()
	defer c.ringLock.RUnlock()
	return append([]*worker.Worker(nil), c.ring...)
}

// Spawn creates and starts a new task placed round-robin on this
// cluster's ring, per spec.md §4.4 placement.
func (c *Cluster) Spawn(name string, affinity bool, priority task.Priority, body func(*task.Task)) *task.Task {
	w := c.Place()
	t := task.New(name, w, body)
	t.SetAffinity(affinity)
	t.SetPriority(priority)
	startFresh(t)
	return t
}

// Migrate moves cf from c onto dst, per spec.md §4.4 "Migration": a
// same-cluster migration (dst == c) is just a yield — work-stealing
// already redistributes tasks within one ring, so nothing needs
// rebinding; a cross-cluster migration rebinds cf onto a worker placed
// by dst's own ring before yielding, so the next time cf is scheduled it
// is dst's idle manager that picks it up, not c's. Either way the
// worker cf was running on simply continues with whatever else it has
// ready; it does not wait for cf.
func (c *Cluster) Migrate(cf *task.Task, dst *Cluster) {
	if dst == c {
		cf.Yield()
		return
	}
	cf.Rebind(dst.Place())
	cf.Yield()
}

// Stop halts every worker in the ring and waits for their loops to exit.
func (c *Cluster) Stop() {
	c.ringLock.RLock()
	workers := append([]*worker.Worker(nil), c.ring...)
	c.ringLock.RUnlock()
	for _, w := range workers {
		w.Stop()
	}
	for _, w := range workers {
		w.Wait()
	}
}

// Pause implements the cluster-wide stop-the-world quiescence point: a
// Top-priority pause fiber is spawned on every worker but the caller's,
// each of which signals pauseConfirm then blocks on pauseGate; Pause
// returns once all of them have confirmed. callerTask is the task
// requesting the pause, used only as the race-protocol identity for
// the confirm wait, and its own worker is excluded since it is already
// quiesced by virtue of being the one calling Pause.
func (c *Cluster) Pause(callerTask *task.Task) {
	callerWorker, _ := callerTask.Worker().(*worker.Worker)
	c.pauseWorkers(callerTask, c.Mates(callerWorker))
}

// Resume releases every worker paused by a matching Pause call.
func (c *Cluster) Resume(callerTask *task.Task) {
	callerWorker, _ := callerTask.Worker().(*worker.Worker)
	c.resumeWorkers(c.Mates(callerWorker))
}

// PauseAll is Pause's counterpart for callers that are not themselves
// running as a task on any worker in this cluster (e.g. FibreFork,
// called directly from the goroutine that invoked FibreInit) — every
// worker in the ring participates, none excluded. callerTask is still
// required as the race-protocol identity for the confirm wait.
func (c *Cluster) PauseAll(callerTask *task.Task) {
	c.pauseWorkers(callerTask, c.Workers())
}

// ResumeAll releases every worker paused by a matching PauseAll call.
func (c *Cluster) ResumeAll() {
	c.resumeWorkers(c.Workers())
}

func (c *Cluster) pauseWorkers(callerTask *task.Task, targets []*worker.Worker) {
	log := rtlog.For(rtlog.CategoryScheduler)
	for _, w := range targets {
		// Each pause fiber's body just confirms then blocks; it is
		// scheduled like any other Top-priority task, so it preempts
		// whatever was running on its worker at the next schedule point
		// (cooperative — it must wait for the current task to yield or
		// suspend, per spec.md's non-preemption invariant).
		body := func(cf *task.Task) {
			c.pauseConfirm.V()
			c.pauseGate.P(cf)
		}
		t := task.New("pause-fiber", w, body)
		t.SetPriority(task.Top)
		startFresh(t)
	}
	for range targets {
		c.pauseConfirm.P(callerTask)
	}
	log.Debugw("cluster paused", "workers", len(targets))
}

func (c *Cluster) resumeWorkers(targets []*worker.Worker) {
	for range targets {
		c.pauseGate.V()
	}
}

// startFresh places a brand-new task directly onto its bound worker's
// ready queue. Unlike Resume (which distinguishes Parked/Running/
// ResumedEarly for an already-suspended task), a fresh task has never
// suspended, so it is enqueued directly rather than routed through the
// run-state machine.
func startFresh(t *task.Task) {
	t.Worker().Enqueue(t)
}
