// Package dispatcher runs a fixed pool of workers over a bounded queue.
package dispatcher

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/lockscreen-covers/internal/metrics"
)

// Config sizes the pool.
type Config struct {
	Workers    int
	QueueDepth int
}

type job[T any] struct {
	index int
	item  T
}

// Map runs fn over items on cfg.Workers goroutines and returns the results in
// input order. Items not processed because ctx ended keep the zero value; the
// returned error is ctx.Err() in that case.
func Map[T, R any](ctx context.Context, cfg Config, logger *zap.Logger, items []T, fn func(context.Context, T) R) ([]R, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = workers * 2
	}

	results := make([]R, len(items))
	queue := NewQueue[job[T]](depth)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				next, err := queue.Dequeue(ctx)
				if err != nil {
					if !errors.Is(err, ErrQueueClosed) {
						logger.Debug("worker stopping", zap.Int("worker", id), zap.Error(err))
					}
					return
				}
				if ctx.Err() != nil {
					return
				}
				metrics.IncActiveWorkers()
				// Each index is written by exactly one worker.
				results[next.index] = fn(ctx, next.item)
				metrics.DecActiveWorkers()
			}
		}(w)
	}

	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		if err := queue.Enqueue(ctx, job[T]{index: i, item: item}); err != nil {
			break
		}
	}
	queue.Close()
	wg.Wait()

	return results, ctx.Err()
}
