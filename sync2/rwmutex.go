package sync2

import (
	"time"

	"github.com/go-foundations/fibre/internal/rterror"
	"github.com/go-foundations/fibre/task"
	"github.com/go-foundations/fibre/timerqueue"
)

// RWMutex is a reader-writer lock whose state is a signed integer:
// positive counts concurrent readers, -1 means a writer holds it, 0 is
// free. Release alternates between waking readers and the writer to avoid
// starvation, per spec: a writer's release wakes one writer if any is
// queued, else wakes all queued readers; a reader's release hands off to
// a queued writer only when it is the last reader leaving.
type RWMutex struct {
	lock     guardLock
	state    int
	readersQ blockingQueue
	writersQ blockingQueue
}

// NewRWMutex constructs a free reader-writer lock.
func NewRWMutex() *RWMutex { return &RWMutex{} }

// RLock acquires for reading.
func (rw *RWMutex) RLock(cf *task.Task) Result {
	return rw.rlock(cf, nil)
}

// RLockTimeout acquires for reading with an absolute deadline.
func (rw *RWMutex) RLockTimeout(cf *task.Task, deadline time.Time) Result {
	return rw.rlock(cf, &deadline)
}

func (rw *RWMutex) rlock(cf *task.Task, deadline *time.Time) Result {
	rw.lock.Lock()
	// Readers may proceed if no writer holds or is queued ahead of them.
	if rw.state >= 0 && rw.writersQ.empty() {
		rw.state++
		rw.lock.Unlock()
		return WasOpen
	}
	if rw.readersQ.block(&rw.lock, cf, deadline) {
		return Success
	}
	return Timeout
}

// Lock acquires for writing.
func (rw *RWMutex) Lock(cf *task.Task) Result {
	return rw.lock_(cf, nil)
}

// LockTimeout acquires for writing with an absolute deadline.
func (rw *RWMutex) LockTimeout(cf *task.Task, deadline time.Time) Result {
	return rw.lock_(cf, &deadline)
}

func (rw *RWMutex) lock_(cf *task.Task, deadline *time.Time) Result {
	rw.lock.Lock()
	if rw.state == 0 {
		rw.state = -1
		rw.lock.Unlock()
		return WasOpen
	}
	if rw.writersQ.block(&rw.lock, cf, deadline) {
		return Success
	}
	return Timeout
}

// SetTimers attaches the timer queue RLockTimeout/LockTimeout register
// deadlines with, normally a real event scope's scope.Scope.Timers.
// Unset, both fall back to the process-wide timerqueue.Global().
func (rw *RWMutex) SetTimers(tq *timerqueue.Queue) {
	rw.readersQ.setTimers(tq)
	rw.writersQ.setTimers(tq)
}

// RUnlock releases a reader's hold.
func (rw *RWMutex) RUnlock() {
	rw.lock.Lock()
	rterror.Assert(rw.state > 0, "RUnlock: no reader held")
	rw.state--
	if rw.state == 0 {
		if w := rw.writersQ.unblock(false); w != nil {
			rw.state = -1
			rw.lock.Unlock()
			w.Resume()
			return
		}
	}
	rw.lock.Unlock()
}

// Unlock releases a writer's hold, preferring to wake the next writer,
// else all queued readers.
func (rw *RWMutex) Unlock() {
	rw.lock.Lock()
	rterror.Assert(rw.state == -1, "Unlock: no writer held")
	if w := rw.writersQ.unblock(false); w != nil {
		rw.lock.Unlock()
		w.Resume()
		return
	}
	// state must count only readers unblockAll actually won the resume
	// race for, not readersQ.len(): a reader whose RLockTimeout deadline
	// is concurrently firing is still in the list (its own cleanup is
	// blocked on rw.lock, which we hold) but will never call RUnlock, so
	// counting it here would leave state permanently off by one.
	woken := rw.readersQ.unblockAll()
	rw.state = len(woken)
	rw.lock.Unlock()
}
