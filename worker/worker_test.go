package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-foundations/fibre/idle"
	"github.com/go-foundations/fibre/sync2"
	"github.com/go-foundations/fibre/task"
)

type soloRing struct {
	idleMgr idle.Manager
}

func (r *soloRing) Mates(self *Worker) []*Worker { return nil }
func (r *soloRing) Idle() idle.Manager           { return r.idleMgr }

// TestWorkerRunsMultipleTasksAcrossSuspend is the regression test for the
// bug where a task's body ran synchronously on the worker's own Run
// goroutine: a task that suspends used to wedge the entire worker,
// preventing a second task from ever getting scheduled. With the
// launch/grant-turn/yield protocol, the worker must keep making progress
// on other ready tasks while the first is parked.
func TestWorkerRunsMultipleTasksAcrossSuspend(t *testing.T) {
	ring := &soloRing{idleMgr: idle.NewCounter()}
	w := New(0, ring, false)
	go w.Run()
	defer func() { w.Stop(); w.Wait() }()

	sem := sync2.NewSemaphore(0)
	var mu sync.Mutex
	var order []string

	blockerStarted := make(chan struct{})
	blockerDone := make(chan struct{})
	first := task.New("blocker", w, func(cf *task.Task) {
		close(blockerStarted)
		sem.P(cf) // parks until the second task signals it
		mu.Lock()
		order = append(order, "blocker-resumed")
		mu.Unlock()
		close(blockerDone)
	})
	w.Enqueue(first)

	<-blockerStarted
	// By this point, if the worker were wedged on the blocked first task,
	// a second task would never run.
	secondDone := make(chan struct{})
	second := task.New("signaler", w, func(cf *task.Task) {
		mu.Lock()
		order = append(order, "signaler-ran")
		mu.Unlock()
		sem.V()
		close(secondDone)
	})
	w.Enqueue(second)

	select {
	case <-secondDone:
	case <-time.After(time.Second):
		t.Fatal("second task never ran: worker appears wedged on the first task's Suspend")
	}

	select {
	case <-blockerDone:
	case <-time.After(time.Second):
		t.Fatal("blocker never resumed after being signaled")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, "signaler-ran", order[0])
	assert.Equal(t, "blocker-resumed", order[1])
}
