package dispatcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMapPreservesOrder(t *testing.T) {
	t.Parallel()

	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}
	got, err := Map(context.Background(), Config{Workers: 4, QueueDepth: 3}, zap.NewNop(), items, func(_ context.Context, n int) int {
		time.Sleep(time.Duration(n%3) * time.Millisecond)
		return n * n
	})
	require.NoError(t, err)
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i*i, v)
	}
}

func TestMapBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var active, peak atomic.Int32
	items := make([]struct{}, 20)
	_, err := Map(context.Background(), Config{Workers: 3}, nil, items, func(context.Context, struct{}) bool {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return true
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestMapEmpty(t *testing.T) {
	t.Parallel()

	got, err := Map(context.Background(), Config{Workers: 4}, nil, []string{}, func(context.Context, string) int { return 1 })
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMapStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var processed atomic.Int32
	items := make([]int, 100)
	done := make(chan struct{})
	var err error
	go func() {
		_, err = Map(ctx, Config{Workers: 2, QueueDepth: 1}, nil, items, func(context.Context, int) int {
			if processed.Add(1) == 3 {
				cancel()
			}
			time.Sleep(time.Millisecond)
			return 0
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Map did not stop after cancel")
	}
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, processed.Load(), int32(100))
}

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue[string](1)
	require.NoError(t, q.Enqueue(context.Background(), "2020-12"))
	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2020-12", got)

	q.Close()
	q.Close()
	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Enqueue(ctx, 1), context.DeadlineExceeded)
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
