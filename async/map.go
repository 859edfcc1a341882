package async

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// A Worker handles one item of a batch. It must not fail: anything that can go wrong is reported inside R (typically a
// generic.Result), so that siblings are never cancelled.
type Worker[T any, R any] func(ctx context.Context, index int, item T) R

// Map runs worker over every item with at most concurrency invocations in flight, returning one result per item in
// input order regardless of completion order. A concurrency below 1 is treated as 1.
func Map[T any, R any](ctx context.Context, items []T, concurrency int, worker Worker[T, R]) []R {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results
	}
	if concurrency < 1 {
		concurrency = 1
	}
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			results[i] = worker(ctx, i, item)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
