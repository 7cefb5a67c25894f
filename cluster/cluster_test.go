package cluster

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-foundations/fibre/task"
)

func TestSpawnRunsBody(t *testing.T) {
	c := New(DefaultOptions(2))
	defer c.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	c.Spawn("greeter", false, task.Default, func(cf *task.Task) {
		defer wg.Done()
		cf.Terminate("hello", nil)
	})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("spawned task never ran")
	}
}

func TestPlaceRoundRobins(t *testing.T) {
	c := New(DefaultOptions(3))
	defer c.Stop()

	seen := map[int]int{}
	for i := 0; i < 6; i++ {
		w := c.Place()
		seen[w.ID()]++
	}
	assert.Equal(t, 2, seen[0])
	assert.Equal(t, 2, seen[1])
	assert.Equal(t, 2, seen[2])
}

func TestMatesExcludesSelf(t *testing.T) {
	c := New(DefaultOptions(4))
	defer c.Stop()

	self := c.ring[0]
	mates := c.Mates(self)
	require.Len(t, mates, 3)
	for _, m := range mates {
		assert.NotEqual(t, self.ID(), m.ID())
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	c := New(DefaultOptions(3))
	defer c.Stop()

	done := make(chan struct{})
	c.Spawn("pauser", false, task.Default, func(cf *task.Task) {
		c.Pause(cf)
		c.Resume(cf)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pause/resume round trip never completed")
	}
}

// TestPauseAllResumeAllFromOutsideScheduler exercises the variant used by
// callers (like FibreFork) that are not themselves a task on any worker:
// every worker in the ring must be paused, not just "every worker but the
// caller's" (there is no caller worker to exclude).
func TestPauseAllResumeAllFromOutsideScheduler(t *testing.T) {
	c := New(DefaultOptions(3))
	defer c.Stop()

	token := task.New("external", discardHandleForTest{}, nil)

	confirmed := make(chan struct{})
	go func() {
		c.PauseAll(token)
		close(confirmed)
	}()

	select {
	case <-confirmed:
	case <-time.After(2 * time.Second):
		t.Fatal("PauseAll never confirmed against all 3 workers")
	}
	c.ResumeAll()
}

// discardHandleForTest mirrors FibreFork's pause token handle: no worker
// schedules the token, so Enqueue collects the yield its Suspend posted
// and grants it the turn.
type discardHandleForTest struct{}

func (discardHandleForTest) Enqueue(t *task.Task) {
	t.WaitYield()
	t.GrantTurn()
}
func (discardHandleForTest) ID() int { return -1 }
