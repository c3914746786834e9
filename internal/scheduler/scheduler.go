// Package scheduler admits work into a rolling concurrency window
package scheduler

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task processes the i-th item. Returning an error cancels every other
// in-flight task, so tasks absorb failures they can survive.
type Task func(ctx context.Context, i int) error

// Run executes task for 0..n-1 with at most limit in flight. A finished
// task is replaced by the next queued one immediately.
func Run(ctx context.Context, limit, n int, task Task) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			return task(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Results collects values from concurrent tasks keyed by their index
type Results[T any] struct {
	mu    sync.Mutex
	items map[int]T
}

// NewResults creates an empty collection
func NewResults[T any]() *Results[T] {
	return &Results[T]{items: make(map[int]T)}
}

// Set stores v for index i
func (r *Results[T]) Set(i int, v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[i] = v
}

// Get returns the value for index i
func (r *Results[T]) Get(i int) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[i]
	return v, ok
}

// Len returns the number of stored values
func (r *Results[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Ordered returns the stored values sorted by index
func (r *Results[T]) Ordered() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]int, 0, len(r.items))
	for k := range r.items {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.items[k])
	}
	return out
}
