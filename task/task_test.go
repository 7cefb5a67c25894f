package task

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorker struct {
	mu    sync.Mutex
	ready []*Task
}

// Enqueue stands in for a real worker's ready queue + eventual dequeue:
// it records the task and immediately grants it the turn, since these
// tests drive Suspend/Resume directly without a scheduling loop.
func (w *fakeWorker) Enqueue(t *Task) {
	w.mu.Lock()
	w.ready = append(w.ready, t)
	w.mu.Unlock()
	t.GrantTurn()
}
func (w *fakeWorker) ID() int { return 0 }

// TestSuspendResumeBasic exercises the happy path: a goroutine suspends,
// another goroutine resumes it, and the waiting goroutine observes the
// winning sentinel passed through RaceResume.
func TestSuspendResumeBasic(t *testing.T) {
	w := &fakeWorker{}
	var tk *Task
	started := make(chan struct{})
	done := make(chan any, 1)

	tk = New("t1", w, nil)
	go func() {
		close(started)
		tk.PrepareResumeRace()
		tk.runState.Store(int32(Running))
		// simulate entering a blocking primitive queue then suspending
		won := tk.Suspend()
		done <- won
	}()

	<-started
	time.Sleep(10 * time.Millisecond)

	require.True(t, tk.RaceResume("sentinel-A"))
	tk.Resume()

	select {
	case got := <-done:
		assert.Equal(t, "sentinel-A", got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resume")
	}
}

// TestAtMostOneResume verifies the at-most-one-resume invariant: of many
// concurrent RaceResume callers, exactly one wins.
func TestAtMostOneResume(t *testing.T) {
	w := &fakeWorker{}
	tk := New("t2", w, nil)
	tk.PrepareResumeRace()

	const n = 50
	var wins atomic32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			if tk.RaceResume(i) {
				wins.add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.get())
}

type atomic32 struct {
	mu sync.Mutex
	v  int
}

func (a *atomic32) add(n int) {
	a.mu.Lock()
	a.v += n
	a.mu.Unlock()
}
func (a *atomic32) get() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}

// TestCancelEarlyResume checks the Running->ResumedEarly->Running revert
// path used by a blocking primitive's fast-path-after-all decision.
func TestCancelEarlyResume(t *testing.T) {
	w := &fakeWorker{}
	tk := New("t3", w, nil)
	tk.Resume() // Running -> ResumedEarly
	assert.EqualValues(t, ResumedEarly, tk.runState.Load())
	tk.CancelEarlyResume()
	assert.EqualValues(t, Running, tk.runState.Load())
}

// TestCancelRunningResumeRace verifies poisoning prevents any further
// winner and returns whatever had already won, if anything.
func TestCancelRunningResumeRace(t *testing.T) {
	w := &fakeWorker{}
	tk := New("t4", w, nil)
	tk.PrepareResumeRace()
	require.True(t, tk.RaceResume("first"))

	prev := tk.CancelRunningResumeRace()
	assert.Equal(t, "first", prev)
	assert.False(t, tk.RaceResume("second"))
}

// TestAffinityCheck verifies CheckAffinity refuses rebinding a
// affinity-pinned task and accepts rebinding otherwise.
func TestAffinityCheck(t *testing.T) {
	w1 := &fakeWorker{}
	w2 := &fakeWorker{}
	tk := New("t5", w1, nil)
	tk.SetAffinity(true)

	hasAffinity := tk.CheckAffinity(w2)
	assert.True(t, hasAffinity)
	assert.Equal(t, w1, tk.Worker())

	tk.SetAffinity(false)
	hasAffinity = tk.CheckAffinity(w2)
	assert.False(t, hasAffinity)
	assert.Equal(t, w2, tk.Worker())
}

func TestSyncPointPostAndWait(t *testing.T) {
	sp := newSyncPointValue()
	go func() {
		time.Sleep(5 * time.Millisecond)
		sp.Post(42, nil)
	}()
	v, err := sp.Wait()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestSyncPointDetach(t *testing.T) {
	sp := newSyncPointValue()
	go func() {
		time.Sleep(5 * time.Millisecond)
		sp.Detach()
	}()
	_, err := sp.Wait()
	assert.ErrorIs(t, err, ErrDetached)
}
