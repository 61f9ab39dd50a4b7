// Package refpool provides a free-list allocation pool for reusable objects.
//
// Objects are reset when they are released, so an acquired object is always
// in its zero state. Holding a reference after Release is a bug: the object
// may already be handed out again.
package refpool

import "sync"

// Resetter is implemented by pooled objects.
type Resetter interface {
	// Reset clears the object back to its zero state.
	Reset()
}

// Stats is a snapshot of pool usage.
type Stats struct {
	Free     int // objects waiting in the free list
	InUse    int // objects acquired and not yet released
	Acquired int // total Acquire calls
	Released int // total Release calls
	Created  int // objects built by the constructor
}

// Pool is a free list of T. It is safe for concurrent use.
type Pool[T Resetter] struct {
	mu      sync.Mutex
	newFn   func() T
	free    []T
	stats   Stats
	maxFree int
}

// Option configures a Pool.
type Option func(*options)

type options struct {
	maxFree int
}

// WithMaxFree caps the number of objects retained in the free list.
// Released objects beyond the cap are dropped for the garbage collector.
func WithMaxFree(n int) Option {
	return func(o *options) {
		o.maxFree = n
	}
}

// New creates a pool that builds new objects with newFn.
func New[T Resetter](newFn func() T, opts ...Option) *Pool[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	return &Pool[T]{
		newFn:   newFn,
		maxFree: o.maxFree,
	}
}

// Acquire returns a reset object, reusing a released one when available.
func (p *Pool[T]) Acquire() T {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Acquired++
	p.stats.InUse++

	if n := len(p.free); n > 0 {
		obj := p.free[n-1]
		var zero T
		p.free[n-1] = zero
		p.free = p.free[:n-1]
		p.stats.Free = len(p.free)
		return obj
	}

	p.stats.Created++
	return p.newFn()
}

// Release resets obj and returns it to the free list.
func (p *Pool[T]) Release(obj T) {
	obj.Reset()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Released++
	p.stats.InUse--
	if p.maxFree > 0 && len(p.free) >= p.maxFree {
		return
	}
	p.free = append(p.free, obj)
	p.stats.Free = len(p.free)
}

// Stats returns current usage counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
