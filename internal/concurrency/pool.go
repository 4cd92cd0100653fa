// Package concurrency provides bounded fan-out helpers shared by the
// engine's pipelines: Retain's capped-5 parallel embedding (§4.1) and the
// engine-level operation semaphores (§5). Grounded on the teacher's dispatchParallel worker-pool
// pattern in loop.go, reimplemented on golang.org/x/sync (errgroup +
// semaphore) the way liliang-cn-sqvect's command-line tooling does.
package concurrency

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// MapLimit runs fn(items[i]) for every index, at most limit concurrently,
// and returns results in the same order as items. The first error cancels
// remaining work and is returned; already-computed results are discarded.
func MapLimit[T, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) (R, error)) ([]R, error) {
	if limit <= 0 {
		limit = 1
	}
	results := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			r, err := fn(gctx, item)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Gate is a weighted semaphore used to cap concurrent engine operations
// (5 concurrent retain, 32 concurrent recall+reflect, §5).
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate creates a Gate allowing n concurrent holders.
func NewGate(n int64) *Gate {
	return &Gate{sem: semaphore.NewWeighted(n)}
}

// Acquire blocks until a slot is free or ctx is cancelled.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release frees a slot acquired via Acquire.
func (g *Gate) Release() {
	g.sem.Release(1)
}
