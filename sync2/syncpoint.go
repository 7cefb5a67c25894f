package sync2

import "github.com/go-foundations/fibre/task"

// SyncPointState mirrors spec's join-point state machine.
type SyncPointState int

const (
	SPRunning SyncPointState = iota
	SPPosted
	SPDetached
)

// SyncPoint is the task-native join point. It differs from
// task.SyncPointValue only in that waiters here are tasks
// participating in the race protocol rather than arbitrary goroutines,
// so Wait can be called from inside another blocking primitive's
// composition without pulling in condition-variable machinery.
type SyncPoint struct {
	lock   guardLock
	state  SyncPointState
	result any
	q      blockingQueue
}

// NewSyncPoint constructs a join point in the Running state.
func NewSyncPoint() *SyncPoint { return &SyncPoint{} }

// Wait blocks cf until Post or Detach. Returns the posted result (nil if
// detached) and whether the point was posted (false means detached).
func (sp *SyncPoint) Wait(cf *task.Task) (any, bool) {
	sp.lock.Lock()
	switch sp.state {
	case SPPosted:
		r := sp.result
		sp.lock.Unlock()
		return r, true
	case SPDetached:
		sp.lock.Unlock()
		return nil, false
	default:
		sp.q.block(&sp.lock, cf, nil)
		sp.lock.Lock()
		posted := sp.state == SPPosted
		r := sp.result
		sp.lock.Unlock()
		return r, posted
	}
}

// Post transitions Running->Posted and resumes any waiter.
func (sp *SyncPoint) Post(result any) {
	sp.lock.Lock()
	sp.state = SPPosted
	sp.result = result
	sp.q.unblockAll()
	sp.lock.Unlock()
}

// Detach transitions Running->Detached and resumes any waiter.
func (sp *SyncPoint) Detach() {
	sp.lock.Lock()
	sp.state = SPDetached
	sp.q.unblockAll()
	sp.lock.Unlock()
}
