// Package lazy provides a resettable once-initialized cell.
package lazy

import (
	"sync"
	"sync/atomic"
)

// Cell holds a lazily created *T. The initializer runs at most once per
// generation of the cell: after Reset the next GetOrInit creates a new value.
//
// Loads on the fast path are a single atomic read; initialization is
// serialized by a mutex and re-checked under it.
type Cell[T any] struct {
	mu sync.Mutex
	p  atomic.Pointer[T]
}

// Get returns the current value or nil.
func (c *Cell[T]) Get() *T {
	return c.p.Load()
}

// GetOrInit returns the current value, calling init to create it if the cell
// is empty. Errors from init are returned as-is and leave the cell empty.
func (c *Cell[T]) GetOrInit(init func() (*T, error)) (*T, error) {
	if v := c.p.Load(); v != nil {
		return v, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if v := c.p.Load(); v != nil {
		return v, nil
	}
	v, err := init()
	if err != nil {
		return nil, err
	}
	c.p.Store(v)
	return v, nil
}

// Reset empties the cell and returns the previous value, if any.
func (c *Cell[T]) Reset() *T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.p.Swap(nil)
}
