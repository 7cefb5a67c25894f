package iodispatch

import (
	"sync"

	"github.com/go-foundations/fibre/sync2"
)

// fdSlot is the per-FD sync state from spec.md §3 "Per-FD sync slot": two
// independent counting semaphores (input/output), the poller currently
// registered in each direction (nil if none), and the blocking/useUring
// flags set once at FD birth.
//
// Resource ownership: blocking/useUring are written exactly once, by the
// wrapper routine that creates the FD (socket/pipe/accept/dup/fcntl),
// before the FD is ever handed to application code — so no lock is needed
// for those two fields, matching spec.md's resource-ownership note. The
// semaphores and poller pointers are mutated by the dispatch/wrapper hot
// path and are guarded by FDTable's own lock for structural changes only;
// the semaphores' own internal locking handles the P/V race.
type fdSlot struct {
	sem      [2]*sync2.Semaphore // indexed by Direction
	poller   [2]ReadinessSource
	blocking bool
	useUring bool
}

// FDTable is the scope-wide registry of per-FD sync slots, sized at
// construction from the process's open-file-descriptor limit.
type FDTable struct {
	mu    sync.RWMutex
	slots map[int]*fdSlot
	limit int
}

// NewFDTable constructs a table pre-sized for limit file descriptors (the
// caller is expected to pass the process RLIMIT_NOFILE soft limit).
func NewFDTable(limit int) *FDTable {
	if limit <= 0 {
		limit = 1024
	}
	return &FDTable{
		slots: make(map[int]*fdSlot, limit),
		limit: limit,
	}
}

// Limit reports the table's configured capacity.
func (t *FDTable) Limit() int { return t.limit }

// Register creates a fresh slot for fd, recording whether it was opened in
// application-blocking mode and whether it should route through a
// worker-local submission interface instead of readiness polling. Called
// at FD birth (socket/pipe/accept/open, and via Inherit for dup); fcntl's
// F_SETFL calls it again, which replaces the slot with a fresh one.
func (t *FDTable) Register(fd int, blocking, useUring bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[fd] = &fdSlot{
		sem:      [2]*sync2.Semaphore{sync2.NewSemaphore(0), sync2.NewSemaphore(0)},
		blocking: blocking,
		useUring: useUring,
	}
}

// Inherit registers newFD with the blocking/useUring flags the caller read
// from fd (and nothing else — fresh semaphores and no poller
// registration), for dup. fd itself is not consulted.
func (t *FDTable) Inherit(fd, newFD int, blocking, useUring bool) {
	t.Register(newFD, blocking, useUring)
	_ = fd
}

// Close clears the slot for fd, per spec.md "close clears the slot".
func (t *FDTable) Close(fd int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.slots, fd)
}

func (t *FDTable) get(fd int) *fdSlot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.slots[fd]
}

// Flags reports the persisted blocking/useUring flags for fd.
func (t *FDTable) Flags(fd int) (blocking, useUring, ok bool) {
	s := t.get(fd)
	if s == nil {
		return false, false, false
	}
	return s.blocking, s.useUring, true
}

// Semaphore returns the per-direction semaphore for fd, or nil if fd is
// not registered.
func (t *FDTable) Semaphore(fd int, dir Direction) *sync2.Semaphore {
	s := t.get(fd)
	if s == nil {
		return nil
	}
	return s.sem[dir]
}

// SetPoller records which ReadinessSource currently holds fd's
// registration in the given direction, or clears it with nil.
func (t *FDTable) SetPoller(fd int, dir Direction, src ReadinessSource) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.slots[fd]; s != nil {
		s.poller[dir] = src
	}
}

// Poller returns the ReadinessSource currently registered for fd in dir,
// or nil if none.
func (t *FDTable) Poller(fd int, dir Direction) ReadinessSource {
	s := t.get(fd)
	if s == nil {
		return nil
	}
	return s.poller[dir]
}

// Dispatch maps one readiness event to its per-FD semaphore and signals
// it, waking whatever task (if any) is waiting on that FD+direction. The
// race-resume integration lives inside the semaphore's own V, which
// baton-passes to the next waiter via the shared blocking-queue/race-slot
// protocol — iodispatch need not duplicate that logic.
func (t *FDTable) Dispatch(ev Event) {
	s := t.get(ev.FD)
	if s == nil {
		return
	}
	s.sem[ev.Direction].V()
}
