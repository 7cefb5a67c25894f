package readyqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-foundations/fibre/task"
)

type nopWorker struct{}

func (nopWorker) Enqueue(*task.Task) {}
func (nopWorker) ID() int            { return 0 }

func TestLockedQueueFIFOPerPriority(t *testing.T) {
	q := NewLocked()
	w := nopWorker{}
	a := task.New("a", w, nil)
	b := task.New("b", w, nil)
	c := task.New("c", w, nil)

	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)

	got1 := q.Dequeue()
	got2 := q.Dequeue()
	got3 := q.Dequeue()
	assert.Equal(t, a, got1)
	assert.Equal(t, b, got2)
	assert.Equal(t, c, got3)
	assert.Nil(t, q.Dequeue())
}

func TestLockedQueuePriorityOrdering(t *testing.T) {
	q := NewLocked()
	w := nopWorker{}
	low := task.New("low", w, nil).SetPriority(task.Low)
	top := task.New("top", w, nil).SetPriority(task.Top)
	def := task.New("default", w, nil).SetPriority(task.Default)

	q.Enqueue(low)
	q.Enqueue(def)
	q.Enqueue(top)

	assert.Equal(t, top, q.Dequeue())
	assert.Equal(t, def, q.Dequeue())
	assert.Equal(t, low, q.Dequeue())
}

func TestLockFreeQueueBasic(t *testing.T) {
	q := NewLockFree()
	w := nopWorker{}
	a := task.New("a", w, nil)
	b := task.New("b", w, nil)

	q.Enqueue(a)
	q.Enqueue(b)

	got, ok := q.TryDequeue()
	assert.True(t, ok)
	assert.Equal(t, b, got) // Treiber stack: LIFO within a priority

	got, ok = q.TryDequeue()
	assert.True(t, ok)
	assert.Equal(t, a, got)

	_, ok = q.TryDequeue()
	assert.False(t, ok)
}
