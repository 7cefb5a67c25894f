package scope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-foundations/fibre/cluster"
	"github.com/go-foundations/fibre/sync2"
	"github.com/go-foundations/fibre/task"
)

func TestNewScopeRunsMainCluster(t *testing.T) {
	s, err := New(1, 2, 1, cluster.DefaultOptions(0))
	require.NoError(t, err)
	defer s.Main.Stop()
	defer s.Disk.Stop()

	require.NotNil(t, s.FDTable)
	require.Len(t, s.Pollers, 1)
	assert.Equal(t, 2, s.Main.NumWorkers())
	assert.Equal(t, 1, s.Disk.NumWorkers())

	done := make(chan struct{})
	s.Main.Spawn("probe", false, task.Default, func(cf *task.Task) {
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scope's main cluster never ran the spawned task")
	}
}

func TestForkProducesIndependentChild(t *testing.T) {
	parent, err := New(1, 1, 1, cluster.DefaultOptions(0))
	require.NoError(t, err)
	defer parent.Main.Stop()
	defer parent.Disk.Stop()

	child, err := Fork(parent, 1, 1, 1, cluster.DefaultOptions(0))
	require.NoError(t, err)
	defer child.Main.Stop()
	defer child.Disk.Stop()

	assert.Same(t, parent, child.Parent)
	assert.NotSame(t, parent.FDTable, child.FDTable)
}

func TestCloseIsNoOp(t *testing.T) {
	s, err := New(1, 1, 1, cluster.DefaultOptions(0))
	require.NoError(t, err)
	defer s.Main.Stop()
	defer s.Disk.Stop()
	assert.NoError(t, s.Close())
}

// TestMutexAcquireTimeoutExpiresThroughRealScope proves a timed-wait
// primitive actually times out when it is wired to a real scope's timer
// queue: AcquireTimeout must block past its deadline, since the mutex is
// already held by another task, and CheckExpiry only fires through
// s.Timers' own armTimer/time.AfterFunc callback.
func TestMutexAcquireTimeoutExpiresThroughRealScope(t *testing.T) {
	s, err := New(1, 2, 1, cluster.DefaultOptions(0))
	require.NoError(t, err)
	defer s.Main.Stop()
	defer s.Disk.Stop()

	m := sync2.NewMutex()
	m.SetTimers(s.Timers)

	holderReady := make(chan struct{})
	release := make(chan struct{})
	s.Main.Spawn("holder", false, task.Default, func(cf *task.Task) {
		m.Acquire(cf)
		close(holderReady)
		<-release
		m.Release(cf)
	})
	<-holderReady

	result := make(chan sync2.Result, 1)
	s.Main.Spawn("waiter", false, task.Default, func(cf *task.Task) {
		result <- m.AcquireTimeout(cf, time.Now().Add(50*time.Millisecond))
	})

	select {
	case r := <-result:
		assert.Equal(t, sync2.Timeout, r)
	case <-time.After(2 * time.Second):
		t.Fatal("AcquireTimeout never returned: scope's timer queue never fired")
	}
	close(release)
}
