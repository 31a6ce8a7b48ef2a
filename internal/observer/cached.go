// Package observer adapts push-based event streams into pull-based "give me
// the latest value" accessors.
package observer

import (
	"context"
	"errors"
	"sync"
)

// ErrStreamEnded is delivered to waiters when the upstream stream closes
// before any value arrived.
var ErrStreamEnded = errors.New("observer: stream ended without a value")

// Item is one element of a stream: either a value or an upstream error.
type Item[T any] struct {
	Value T
	Err   error
}

// Cached is a single-slot asynchronous result cache. It consumes a stream,
// remembers the most recent value or error, and lets any number of callers
// await the current/next value without re-subscribing.
//
// An upstream error is captured and handed to waiters as a failure result
// instead of crashing the subscription; once an error has been observed it
// supersedes any previously cached value.
type Cached[T any] struct {
	mu      sync.Mutex
	has     bool
	value   T
	err     error
	waiters []chan Item[T]
}

// NewCached creates an empty cache. Attach it to a stream with Subscribe.
func NewCached[T any]() *Cached[T] {
	return &Cached[T]{}
}

// Subscribe consumes the stream in a background goroutine, caching each
// delivered item and resolving pending waiters. Closing the stream before
// any item arrives resolves waiters with ErrStreamEnded.
func (c *Cached[T]) Subscribe(stream <-chan Item[T]) {
	go func() {
		delivered := false
		for item := range stream {
			delivered = true
			c.deliver(item)
		}
		if !delivered {
			c.mu.Lock()
			ended := !c.has && c.err == nil
			c.mu.Unlock()
			if ended {
				c.deliver(Item[T]{Err: ErrStreamEnded})
			}
		}
	}()
}

// Send delivers a value directly, outside any subscribed stream. Used by
// gateways that produce values from callbacks rather than channels.
func (c *Cached[T]) Send(v T) {
	c.deliver(Item[T]{Value: v})
}

// Fail delivers an error directly.
func (c *Cached[T]) Fail(err error) {
	c.deliver(Item[T]{Err: err})
}

func (c *Cached[T]) deliver(item Item[T]) {
	c.mu.Lock()
	if item.Err != nil {
		c.err = item.Err
	} else {
		c.value = item.Value
		c.has = true
		c.err = nil
	}
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, w := range waiters {
		w <- item // each waiter channel has capacity 1
	}
}

// Value returns the cached value, if any. An observed error counts as no
// value.
func (c *Cached[T]) Value() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil || !c.has {
		var zero T
		return zero, false
	}
	return c.value, true
}

// WaitValue returns the cached value immediately when one is available, or
// suspends the caller until the next value or upstream error arrives. A
// captured upstream error is returned as the result, superseding any earlier
// cached value.
func (c *Cached[T]) WaitValue(ctx context.Context) (T, error) {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		var zero T
		return zero, err
	}
	if c.has {
		v := c.value
		c.mu.Unlock()
		return v, nil
	}
	w := make(chan Item[T], 1)
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case item := <-w:
		if item.Err != nil {
			var zero T
			return zero, item.Err
		}
		return item.Value, nil
	}
}

// First subscribes a fresh cache to the stream and waits for exactly one
// observed value. It is the one-shot request/response helper used for price
// snapshots.
func First[T any](ctx context.Context, stream <-chan Item[T]) (T, error) {
	c := NewCached[T]()
	c.Subscribe(stream)
	return c.WaitValue(ctx)
}
