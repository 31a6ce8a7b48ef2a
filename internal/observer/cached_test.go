package observer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitValueAfterDelivery(t *testing.T) {
	stream := make(chan Item[int], 1)
	c := NewCached[int]()
	c.Subscribe(stream)

	stream <- Item[int]{Value: 42}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v, err := c.WaitValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	// A second call returns the cached value without blocking.
	v, err = c.WaitValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestWaitValueBeforeDelivery(t *testing.T) {
	stream := make(chan Item[string])
	c := NewCached[string]()
	c.Subscribe(stream)

	var wg sync.WaitGroup
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.WaitValue(context.Background())
			if err == nil {
				results[i] = v
			}
		}(i)
	}

	// Give the waiters time to park before delivering.
	time.Sleep(20 * time.Millisecond)
	stream <- Item[string]{Value: "tick"}
	wg.Wait()

	for i, r := range results {
		assert.Equal(t, "tick", r, "waiter %d", i)
	}
}

func TestValueThenErrorSupersedes(t *testing.T) {
	upstream := errors.New("feed dropped")
	stream := make(chan Item[int])
	c := NewCached[int]()
	c.Subscribe(stream)

	stream <- Item[int]{Value: 7}

	ctx := context.Background()
	v, err := c.WaitValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	stream <- Item[int]{Err: upstream}
	// Let the subscription goroutine apply the error.
	require.Eventually(t, func() bool {
		_, ok := c.Value()
		return !ok
	}, time.Second, 5*time.Millisecond)

	_, err = c.WaitValue(ctx)
	assert.ErrorIs(t, err, upstream)
}

func TestErrorDeliveredToPendingWaiter(t *testing.T) {
	upstream := errors.New("feed dropped")
	stream := make(chan Item[int])
	c := NewCached[int]()
	c.Subscribe(stream)

	done := make(chan error, 1)
	go func() {
		_, err := c.WaitValue(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	stream <- Item[int]{Err: upstream}

	select {
	case err := <-done:
		assert.ErrorIs(t, err, upstream)
	case <-time.After(time.Second):
		t.Fatal("waiter was not resolved by upstream error")
	}
}

func TestStreamEndedWithoutValue(t *testing.T) {
	stream := make(chan Item[int])
	c := NewCached[int]()
	c.Subscribe(stream)

	done := make(chan error, 1)
	go func() {
		_, err := c.WaitValue(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	close(stream)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStreamEnded)
	case <-time.After(time.Second):
		t.Fatal("waiter was not resolved by stream end")
	}
}

func TestWaitValueContextCancelled(t *testing.T) {
	c := NewCached[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.WaitValue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFirst(t *testing.T) {
	stream := make(chan Item[float64], 2)
	stream <- Item[float64]{Value: 101.5}
	stream <- Item[float64]{Value: 102.0}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v, err := First(ctx, stream)
	require.NoError(t, err)
	assert.Equal(t, 101.5, v, "First observes exactly one value")
}
