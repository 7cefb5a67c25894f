package timerqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-foundations/fibre/task"
)

type nopWorker struct{}

func (nopWorker) Enqueue(t *task.Task) { t.GrantTurn() }
func (nopWorker) ID() int              { return 0 }

// TestCheckExpiryResumesTask verifies a task parked via BlockTimeout is
// woken, with nil (timeout) as its winning sentinel, once CheckExpiry
// passes its deadline.
func TestCheckExpiryResumesTask(t *testing.T) {
	q := New(nil)
	cf := task.New("t", nopWorker{}, nil)
	deadline := time.Now().Add(20 * time.Millisecond)

	done := make(chan any, 1)
	go func() {
		cf.PrepareResumeRace()
		done <- q.BlockTimeout(cf, deadline)
	}()

	time.Sleep(5 * time.Millisecond)
	q.CheckExpiry(time.Now()) // too early, nothing fires
	assert.Equal(t, 0, len(done))

	time.Sleep(25 * time.Millisecond)
	q.CheckExpiry(time.Now())

	select {
	case winner := <-done:
		assert.Nil(t, winner) // timer won => nil sentinel
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

// TestTimerLosesRaceToExternalResume mirrors scenario S3's other branch:
// if some other source resumes the task first, the timer node must be
// cleaned up and CheckExpiry must not also try to resume it.
func TestTimerLosesRaceToExternalResume(t *testing.T) {
	q := New(nil)
	cf := task.New("t", nopWorker{}, nil)
	deadline := time.Now().Add(time.Hour)

	done := make(chan any, 1)
	go func() {
		cf.PrepareResumeRace()
		done <- q.BlockTimeout(cf, deadline)
	}()

	time.Sleep(10 * time.Millisecond)
	require.True(t, cf.RaceResume("external"))
	cf.Resume()

	select {
	case winner := <-done:
		assert.Equal(t, "external", winner)
	case <-time.After(time.Second):
		t.Fatal("external resume never observed")
	}
	assert.True(t, q.Empty())
}
