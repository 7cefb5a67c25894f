package iodispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-foundations/fibre/sync2"
	"github.com/go-foundations/fibre/task"
)

type nopWorker struct{}

func (nopWorker) Enqueue(t *task.Task) { t.GrantTurn() }
func (nopWorker) ID() int              { return 0 }

func TestFDTableDispatchWakesReader(t *testing.T) {
	table := NewFDTable(16)
	table.Register(5, true, false)

	sem := table.Semaphore(5, Input)
	require.NotNil(t, sem)

	done := make(chan struct{})
	go func() {
		// TryP would be simpler, but Dispatch races with a blocked P to
		// exercise the same baton-pass path the real wrapper uses.
		time.Sleep(10 * time.Millisecond)
		table.Dispatch(Event{FD: 5, Direction: Input})
	}()
	go func() {
		cf := task.New("reader", nopWorker{}, nil)
		sem.P(cf)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch never woke the waiting reader")
	}
}

func TestFDTableCloseClearsSlot(t *testing.T) {
	table := NewFDTable(4)
	table.Register(3, false, false)
	require.NotNil(t, table.Semaphore(3, Output))
	table.Close(3)
	assert.Nil(t, table.Semaphore(3, Output))
}

func TestChanSourceOneshotConsumesRegistration(t *testing.T) {
	src := NewChanSource(4)
	require.NoError(t, src.SetupFD(7, Create, Input, Oneshot))

	src.Inject(7, Input)
	events, err := src.Poll(false)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 7, events[0].FD)

	// Second injection after the oneshot fired should be dropped until
	// re-armed with Modify.
	src.Inject(7, Input)
	events, err = src.Poll(false)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestThreadedPollerDispatchesToTable(t *testing.T) {
	src := NewChanSource(4)
	table := NewFDTable(4)
	table.Register(9, true, false)
	require.NoError(t, src.SetupFD(9, Create, Output, Level))

	p := NewThreadedPoller(src, table)
	p.Start()
	defer func() {
		p.Stop()
		src.Close()
		p.Wait()
	}()

	sem := table.Semaphore(9, Output)
	src.Inject(9, Output)

	assert.Eventually(t, func() bool {
		return sem.TryP() == sync2.WasOpen
	}, time.Second, 5*time.Millisecond)
}
