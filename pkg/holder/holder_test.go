package holder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hold = 50 * time.Millisecond

func TestFirstBatchImmediate(t *testing.T) {
	h := New[int](hold)
	h.Append(1, 2)
	start := time.Now()
	b, ok := h.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, b)
	assert.Less(t, time.Since(start), hold)
}

func TestWindowBoundsLatency(t *testing.T) {
	h := New[int](hold)
	h.Append(0)
	_, ok := h.Next(context.Background())
	require.True(t, ok)
	// inside the window now, the consumer waits for it to close
	h.Append(1)
	start := time.Now()
	b, ok := h.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, []int{1}, b)
	elapsed := time.Since(start)
	assert.Less(t, elapsed, hold+40*time.Millisecond)
}

func TestWaiterReleasedByAppend(t *testing.T) {
	h := New[string](hold)
	got := make(chan []string, 1)
	go func() {
		b, _ := h.Next(context.Background())
		got <- b
	}()
	time.Sleep(2 * hold)
	start := time.Now()
	h.Append("a")
	select {
	case b := <-got:
		assert.Equal(t, []string{"a"}, b)
		assert.Less(t, time.Since(start), hold)
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
}

func TestBatchesCoalesce(t *testing.T) {
	h := New[int](hold)
	h.Append(0)
	_, _ = h.Next(context.Background())
	got := make(chan []int, 1)
	go func() {
		b, _ := h.Next(context.Background())
		got <- b
	}()
	for i := 1; i <= 5; i++ {
		h.Append(i)
	}
	select {
	case b := <-got:
		assert.Equal(t, []int{1, 2, 3, 4, 5}, b)
	case <-time.After(time.Second):
		t.Fatal("no batch")
	}
}

func TestRunTicks(t *testing.T) {
	h := New[int](hold)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	h.Append(1)
	b, ok := h.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, []int{1}, b)
	h.Append(2)
	start := time.Now()
	b, ok = h.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, []int{2}, b)
	assert.LessOrEqual(t, time.Since(start), hold+40*time.Millisecond)
}

func TestFinish(t *testing.T) {
	h := New[int](time.Hour)
	h.Append(0)
	_, _ = h.Next(context.Background())
	var wg sync.WaitGroup
	results := make(chan bool, 3)
	batches := make(chan []int, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, ok := h.Next(context.Background())
			results <- ok
			if ok {
				batches <- b
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	h.Append(7)
	h.Finish()
	h.Finish()
	wg.Wait()
	close(results)
	close(batches)
	var oks int
	for ok := range results {
		if ok {
			oks++
		}
	}
	assert.Equal(t, 1, oks)
	assert.Equal(t, []int{7}, <-batches)
	assert.False(t, h.Append(8))
	_, ok := h.Next(context.Background())
	assert.False(t, ok)
}

func TestFinishKeepsUnclaimed(t *testing.T) {
	h := New[int](time.Hour)
	h.Append(0)
	_, _ = h.Next(context.Background())
	h.Append(1, 2)
	h.Finish()
	b, ok := h.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, b)
	_, ok = h.Next(context.Background())
	assert.False(t, ok)
}

func TestCancel(t *testing.T) {
	h := New[int](time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	h.Append(0)
	_, _ = h.Next(context.Background())
	h.Append(1)
	_, ok := h.Next(ctx)
	assert.False(t, ok)
	assert.Equal(t, 1, h.Pending())
}

func TestLazy(t *testing.T) {
	l := NewLazy[int]()
	l.Append(1)
	l.Append(2, 3)
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, []int{1, 2, 3}, l.Take())
	assert.Empty(t, l.Take())
}
