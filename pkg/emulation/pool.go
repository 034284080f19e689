package emulation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/stratopt/internal/metrics"
)

var (
	// ErrPoolClosed is returned by Acquire after Close
	ErrPoolClosed = errors.New("pool is closed")

	// ErrNotBorrowed is returned when releasing an item that is not borrowed
	ErrNotBorrowed = errors.New("item is not borrowed from this pool")
)

// Pool is a fixed set of reusable items. Acquire blocks until an item is free.
type Pool[T comparable] struct {
	name     string
	items    chan T
	closed   chan struct{}
	closeOne sync.Once

	mu       sync.Mutex
	borrowed map[T]struct{}

	acquired atomic.Int64
	released atomic.Int64
}

// NewPool creates a pool holding items; name labels the borrow gauge
func NewPool[T comparable](name string, items ...T) *Pool[T] {
	p := &Pool[T]{
		name:     name,
		items:    make(chan T, len(items)),
		closed:   make(chan struct{}),
		borrowed: make(map[T]struct{}, len(items)),
	}
	for _, item := range items {
		p.items <- item
	}
	return p
}

// Acquire borrows an item, waiting until one is released, ctx is done or the pool closes
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T

	select {
	case <-p.closed:
		return zero, ErrPoolClosed
	default:
	}

	select {
	case item := <-p.items:
		p.mu.Lock()
		p.borrowed[item] = struct{}{}
		n := len(p.borrowed)
		p.mu.Unlock()

		p.acquired.Add(1)
		metrics.SetPoolBorrowed(p.name, n)
		return item, nil
	case <-p.closed:
		return zero, ErrPoolClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Release returns a borrowed item. Releasing twice fails with ErrNotBorrowed.
func (p *Pool[T]) Release(item T) error {
	p.mu.Lock()
	if _, ok := p.borrowed[item]; !ok {
		p.mu.Unlock()
		return ErrNotBorrowed
	}
	delete(p.borrowed, item)
	n := len(p.borrowed)
	p.mu.Unlock()

	p.released.Add(1)
	metrics.SetPoolBorrowed(p.name, n)

	// capacity equals the number of items, so this never blocks
	p.items <- item
	return nil
}

// Close wakes blocked Acquire calls; borrowed items may still be released
func (p *Pool[T]) Close() {
	p.closeOne.Do(func() { close(p.closed) })
}

// Name of the pool
func (p *Pool[T]) Name() string { return p.name }

// Cap is the number of items owned by the pool
func (p *Pool[T]) Cap() int { return cap(p.items) }

// Borrowed is the number of items currently out
func (p *Pool[T]) Borrowed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.borrowed)
}

// Acquired counts successful Acquire calls
func (p *Pool[T]) Acquired() int64 { return p.acquired.Load() }

// Released counts successful Release calls
func (p *Pool[T]) Released() int64 { return p.released.Load() }
