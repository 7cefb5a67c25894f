// Package task implements the runtime's execution context: a lightweight
// "task" multiplexed over a worker goroutine, its run-state machine, and
// the suspend/resume race protocol shared by every blocking primitive.
//
// Go offers no portable way to save/restore an arbitrary stack pointer, so
// a Task here is realized as a goroutine parked on a private resume
// channel rather than a hand-rolled stack. "Suspend" blocks the goroutine
// on a channel receive; "resume" sends on that channel (or wins a CAS race
// against other resumers first, see PrepareResumeRace/RaceResume). Every
// invariant from the state-machine/race-protocol spec below still holds:
// a Parked task has exactly one legitimate resumer, and at most one value
// is written to its race slot between successive resumes.
package task

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/go-foundations/fibre/internal/rterror"
	"github.com/go-foundations/fibre/internal/rtstats"
)

// Priority is the task's scheduling priority. Lower numeric value runs first.
type Priority int

const (
	Top Priority = iota
	Default
	Low
	NumPriority
)

// RunState mirrors libfibre's Fred::RunState.
type RunState int32

const (
	Parked       RunState = 0
	Running      RunState = 1
	ResumedEarly RunState = 2
)

// SpinStart/SpinEnd bound the busy-wait window at the top of Suspend that
// may catch an extremely fresh ResumedEarly without blocking at all.
const (
	SpinStart = 1
	SpinEnd   = 16
)

// WorkerHandle is the minimal surface Task needs from its bound worker,
// kept as an interface here so the task package does not import worker
// (which itself imports task for scheduling decisions).
type WorkerHandle interface {
	// Enqueue places t on this worker's ready queue at its current priority.
	Enqueue(t *Task)
	// ID is a stable, human-readable identifier used only for logging.
	ID() int
}

// Storage is per-task thread-local-style storage. Only the owning task
// ever mutates it, so no lock is required (mirrors the per-FD
// blocking/useUring single-writer-at-birth pattern applied to task-local
// state instead of file descriptors).
type Storage map[any]any

// Task is a single lightweight execution context.
type Task struct {
	name     string
	priority Priority
	affinity atomic.Bool

	runState atomic.Int32
	raceSlot atomic.Value // holds a comparable sentinel, or nil
	raceMu   sync.Mutex   // guards raceSlot's check-then-set (no CAS on atomic.Value)

	resumeCh chan struct{} // closed/recreated across each park cycle
	resumeMu sync.Mutex

	// started/turnCh/yieldCh implement the handoff between a task's own
	// persistent goroutine (which runs body and blocks in place on every
	// Suspend, exactly like a stackful fiber) and whichever worker
	// currently holds its scheduling quantum. A worker must never invoke
	// body directly on its own goroutine — that would block the worker's
	// entire Run loop the first time the task suspends. Instead the
	// worker launches the goroutine once (MarkStarted/Launch) and on every
	// later scheduling opportunity merely grants it the turn (GrantTurn)
	// and waits for it to suspend again or finish (WaitYield).
	started atomic.Bool
	turnCh  chan struct{} // closed by GrantTurn, recreated each park cycle
	turnMu  sync.Mutex
	yieldCh chan struct{} // buffered 1: task -> worker, "quantum over"

	worker atomic.Value // WorkerHandle

	storage   Storage
	storageMu sync.Mutex

	exit *SyncPointValue

	body func(t *Task)
}

// New constructs a task bound to the given worker, ready to be enqueued
// on it.
func New(name string, w WorkerHandle, body func(t *Task)) *Task {
	t := &Task{
		name:     name,
		priority: Default,
		resumeCh: make(chan struct{}),
		turnCh:   make(chan struct{}),
		yieldCh:  make(chan struct{}, 1),
		storage:  make(Storage),
		exit:     newSyncPointValue(),
		body:     body,
	}
	t.runState.Store(int32(Running))
	t.worker.Store(w)
	rtstats.Global().TasksCreated.Inc()
	return t
}

func (t *Task) Name() string { return t.name }

// Body returns the task's entry function, or nil for tasks (such as
// synthetic placeholders used purely for their run-state machine) that
// were never given one.
func (t *Task) Body() func(*Task) { return t.body }

func (t *Task) Priority() Priority { return t.priority }

// SetPriority sets the task's scheduling priority; callers should do this
// before the task is first enqueued, or while it is not concurrently
// being enqueued.
func (t *Task) SetPriority(p Priority) *Task {
	t.priority = p
	return t
}

// Affinity reports whether the task is pinned to its current worker across
// work-stealing.
func (t *Task) Affinity() bool { return t.affinity.Load() }

// SetAffinity pins (or unpins) the task to its current worker.
func (t *Task) SetAffinity(a bool) *Task {
	t.affinity.Store(a)
	return t
}

// Worker returns the worker this task is currently bound to.
func (t *Task) Worker() WorkerHandle {
	w, _ := t.worker.Load().(WorkerHandle)
	return w
}

// CheckAffinity is called by a stealing worker: if the task has affinity
// it refuses rebinding (the caller must leave it for its home worker to
// eventually re-steal); otherwise the task adopts the new worker.
func (t *Task) CheckAffinity(newWorker WorkerHandle) (hasAffinity bool) {
	if t.affinity.Load() {
		return true
	}
	t.worker.Store(newWorker)
	return false
}

// Rebind unconditionally changes the task's worker binding, used by
// Migrate (cross-cluster moves ignore affinity, per spec).
func (t *Task) Rebind(w WorkerHandle) {
	t.worker.Store(w)
}

// Yield suspends the calling task and immediately arranges for it to be
// resumed, giving up its current scheduling quantum so the worker loop
// can run other ready work (or, if Rebind moved t onto a different
// worker first, so the next schedule picks it up there instead). Must be
// called by the task on its own goroutine, exactly like Suspend.
//
// The resumer runs concurrently on its own goroutine rather than being
// some other blocking primitive's waker, since a plain yield has no
// external event to wait for; the run-state machine's Parked/
// ResumedEarly race handles either interleaving correctly; in the rare
// case Resume's Inc wins the race before Suspend parks, t simply keeps
// its current quantum and the rebind (if any) takes effect on its next
// real suspension instead.
func (t *Task) Yield() {
	t.PrepareResumeRace()
	go t.Resume()
	t.Suspend()
}

// LocalStorage returns the task-local storage map. Only safe to call from the
// task itself or after it has terminated (finalizer teardown).
func (t *Task) LocalStorage() Storage {
	t.storageMu.Lock()
	defer t.storageMu.Unlock()
	return t.storage
}

// Exit is the task's join synchronization point.
func (t *Task) Exit() *SyncPointValue { return t.exit }

// ---- run-state machine & race protocol (spec §4.2/§4.3) ----

// PrepareResumeRace clears the race slot and asserts the task is currently
// Running, as required before entering any blocking-primitive queue.
func (t *Task) PrepareResumeRace() {
	rterror.Assert(RunState(t.runState.Load()) == Running, "prepareResumeRace: task %s not running", t.name)
	t.raceSlot.Store(nilSentinel{})
}

// RaceResume attempts to CAS the race slot from empty to sentinel. The
// first caller to succeed is the winner and must actually resume the task;
// losers must abandon their resume attempt.
func (t *Task) RaceResume(sentinel any) bool {
	// atomic.Value has no CAS; a short mutex critical section gives the
	// same exactly-once semantics a lock-free CAS would, since the slot
	// only ever transitions empty -> set once per cycle.
	t.raceMu.Lock()
	defer t.raceMu.Unlock()
	if _, empty := t.raceSlot.Load().(nilSentinel); !empty {
		return false
	}
	t.raceSlot.Store(sentinel)
	return true
}

type nilSentinel struct{}

// WonSentinel returns the value that won the race (valid after Suspend
// returns), i.e. "which source resumed me".
func (t *Task) WonSentinel() any {
	v := t.raceSlot.Load()
	if _, empty := v.(nilSentinel); empty {
		return nil
	}
	return v
}

// CancelEarlyResume reverts a Running->ResumedEarly->Running fast path:
// used when a caller decides not to block after all but a resume already
// raced in.
func (t *Task) CancelEarlyResume() {
	t.runState.Store(int32(Running))
}

// CancelRunningResumeRace poisons the race slot so no further resume can
// succeed; returns whatever sentinel (if any) had already won.
func (t *Task) CancelRunningResumeRace() any {
	t.raceMu.Lock()
	defer t.raceMu.Unlock()
	prev := t.raceSlot.Load()
	t.raceSlot.Store(poisonSentinel{})
	if _, empty := prev.(nilSentinel); empty {
		return nil
	}
	return prev
}

type poisonSentinel struct{}

// Suspend parks the calling task. It must be called by the task on its own
// goroutine. Returns the winning sentinel once resumed.
func (t *Task) Suspend() any {
	spin := SpinStart
	for spin <= SpinEnd {
		if t.runState.CompareAndSwap(int32(ResumedEarly), int32(Running)) {
			return t.WonSentinel()
		}
		spin += spin
	}
	// Prepare next cycle's turn channel before the state transition below
	// makes us visible to a concurrent Resume, so a racing GrantTurn can
	// never target a stale/already-closed channel.
	t.turnMu.Lock()
	localTurn := make(chan struct{})
	t.turnCh = localTurn
	t.turnMu.Unlock()

	after := t.runState.Dec() // atomic fetch-sub: after = before-1
	if RunState(after) == Running {
		// before == ResumedEarly: a resumer raced ahead of us arriving
		// here, so we never actually parked; this cycle's fresh turnCh
		// goes unused and the next Suspend call simply replaces it.
		return t.WonSentinel()
	}
	rterror.Assert(RunState(after) == Parked, "suspend: task %s left state %d", t.name, after)

	t.yieldCh <- struct{}{}
	<-t.resumeCh
	<-localTurn
	return t.WonSentinel()
}

// MarkStarted reports true exactly once, the first time it is called for
// this task. The worker scheduling the task for the very first time uses
// this to decide whether to Launch a fresh goroutine (true) or merely
// GrantTurn to an already-running, currently-parked one (false).
func (t *Task) MarkStarted() bool {
	return t.started.CompareAndSwap(false, true)
}

// Launch spawns the goroutine that runs this task's body for its entire
// lifetime. Must be called exactly once, immediately after MarkStarted
// returns true. The goroutine itself is the task's "stack": every
// Suspend call blocks it in place rather than abandoning it.
func (t *Task) Launch() {
	go func() {
		if t.body != nil {
			t.body(t)
		}
		t.yieldCh <- struct{}{}
	}()
}

// GrantTurn wakes an already-started, currently-parked task so its
// goroutine continues past the Suspend call it is blocked in, using the
// calling worker's current scheduling quantum. Must be followed by
// WaitYield.
func (t *Task) GrantTurn() {
	t.turnMu.Lock()
	ch := t.turnCh
	t.turnMu.Unlock()
	close(ch)
}

// WaitYield blocks until the task currently holding the scheduling
// quantum either suspends again or finishes running its body.
func (t *Task) WaitYield() {
	<-t.yieldCh
}

// Resume increments the run-state word. If the task was Parked, it
// transitions to Running and is handed back to scheduling (the caller is
// responsible for actually enqueuing/waking it via its worker); if it was
// already Running, this records an early resume that Suspend will observe.
func (t *Task) Resume() {
	prev := t.runState.Inc() - 1
	switch RunState(prev) {
	case Parked:
		t.resumeMu.Lock()
		close(t.resumeCh)
		t.resumeCh = make(chan struct{})
		t.resumeMu.Unlock()
		if w := t.Worker(); w != nil {
			w.Enqueue(t)
		}
	case Running:
		// Running -> ResumedEarly, nothing further to do here.
	default:
		rterror.Invariant("resume: task %s in unexpected state %d", t.name, prev)
	}
}

// Terminate runs the task's finalizer: releases task-local storage and
// posts the join sync point with the given result.
func (t *Task) Terminate(result any, err error) {
	t.storageMu.Lock()
	t.storage = nil
	t.storageMu.Unlock()
	rtstats.Global().TasksCompleted.Inc()
	t.exit.Post(result, err)
}
