// Package idle implements the two interchangeable idle-manager designs
// from spec.md: counter-based and spin+wait. Both satisfy the same
// Manager contract so a cluster can pick either at construction.
package idle

import "github.com/go-foundations/fibre/task"

// Manager coordinates handoff between workers that just made a task
// ready and workers that are (or are about to become) idle.
type Manager interface {
	// AddReadyFred is called when t becomes ready, before it is placed on
	// a ready queue. Returns true iff a sleeping worker was woken and
	// handed t directly (in which case t must NOT also be placed on a
	// ready queue — the caller is responsible for only one of the two).
	AddReadyFred(t *task.Task, producer Worker) bool
	// GetReadyFred returns nil if self already has a ready task queued;
	// otherwise parks self until handed a task directly or a task
	// appears on some ready queue (in which case nil is returned and the
	// caller is expected to re-scan queues itself).
	GetReadyFred(self Worker) *task.Task
}

// Worker is the minimal surface idle managers need from a worker: a
// handover slot for direct task handoff and a halt semaphore to park on.
type Worker interface {
	ID() int
	// Handover attempts to place t directly into this worker's handover
	// slot, returning true on success (the worker will pick it up instead
	// of scanning its ready queue).
	Handover(t *task.Task) bool
	// WakeHalted posts to this worker's halt semaphore, optionally also
	// delivering a handed-off task via Handover first.
	WakeHalted()
	// ParkHalted blocks the calling goroutine (the worker itself) until
	// WakeHalted is called, then returns whatever task was handed off (or
	// nil if the caller should re-scan its own queue instead).
	ParkHalted() *task.Task
}
