package concurrent

import (
	"context"
	"errors"
	"sync"
)

// WorkerPool bounds how many functions run at once. A pool of size one serialises callers,
// which is how a session keeps its conversation non re-entrant.
type WorkerPool struct {
	sem chan struct{}
}

// NewWorkerPool creates a pool admitting maxWorkers concurrent calls (10 when not positive).
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	return &WorkerPool{sem: make(chan struct{}, maxWorkers)}
}

// Do waits for a free slot, then runs fn. It gives up with ctx.Err() if ctx ends first.
func (wp *WorkerPool) Do(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case wp.sem <- struct{}{}:
	}
	defer func() { <-wp.sem }()
	// a slot may win the race against an already cancelled context
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}

// Size is the number of concurrent slots.
func (wp *WorkerPool) Size() int { return cap(wp.sem) }

// ParallelMap applies fn to every item with at most maxConcurrency calls in flight.
// Results keep the input order. All failures are joined.
func ParallelMap[T, R any](ctx context.Context, items []T, fn func(context.Context, T) (R, error), maxConcurrency int) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}
	pool := NewWorkerPool(maxConcurrency)
	results := make([]R, len(items))
	errs := make([]error, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(idx int, val T) {
			defer wg.Done()
			errs[idx] = pool.Do(ctx, func() error {
				var err error
				results[idx], err = fn(ctx, val)
				return err
			})
		}(i, item)
	}
	wg.Wait()
	return results, errors.Join(errs...)
}

// ParallelForEach runs fn on every item with at most maxConcurrency calls in flight and
// joins all failures.
func ParallelForEach[T any](ctx context.Context, items []T, fn func(context.Context, T) error, maxConcurrency int) error {
	_, err := ParallelMap(ctx, items, func(ctx context.Context, item T) (struct{}, error) {
		return struct{}{}, fn(ctx, item)
	}, maxConcurrency)
	return err
}
