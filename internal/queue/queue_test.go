package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue_PriorityOrder(t *testing.T) {
	q := NewInMemoryQueue(0)

	require.NoError(t, q.Push(&Task{ID: "low-1", Priority: 0}))
	require.NoError(t, q.Push(&Task{ID: "high", Priority: 5}))
	require.NoError(t, q.Push(&Task{ID: "low-2", Priority: 0}))
	assert.Equal(t, 3, q.Size())

	var order []string
	for i := 0; i < 3; i++ {
		task, err := q.Pop(context.Background())
		require.NoError(t, err)
		order = append(order, task.ID)
	}
	assert.Equal(t, []string{"high", "low-1", "low-2"}, order)

	_, err := q.TryPop()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(1)

	require.NoError(t, q.Push(&Task{ID: "a"}))
	assert.ErrorIs(t, q.Push(&Task{ID: "b"}), ErrQueueFull)
}

func TestInMemoryQueue_PopWaitsForPush(t *testing.T) {
	q := NewInMemoryQueue(0)

	var wg sync.WaitGroup
	var got *Task
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, _ = q.Pop(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(&Task{ID: "late"}))
	wg.Wait()

	require.NotNil(t, got)
	assert.Equal(t, "late", got.ID)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestInMemoryQueue_PopHonoursContext(t *testing.T) {
	q := NewInMemoryQueue(0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue(0)
	require.NoError(t, q.Push(&Task{ID: "queued"}))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Push(&Task{ID: "rejected"}), ErrQueueClosed)

	task, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "queued", task.ID)

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestInMemoryQueue_CloseWakesWaiters(t *testing.T) {
	q := NewInMemoryQueue(0)

	errs := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Close")
	}
}
