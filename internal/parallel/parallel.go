// Package parallel runs independent compilations on a bounded number of goroutines.
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Config controls parallel execution behavior.
type Config struct {
	Jobs int // Maximum number of calls running at once; values below 1 mean 1.
}

// DefaultConfig runs one job per CPU.
func DefaultConfig() Config {
	return Config{Jobs: runtime.NumCPU()}
}

// ForEach calls fn(ctx, i) for i in [0, n) with at most cfg.Jobs calls in flight.
// The first error cancels the context handed to the other calls, stops scheduling
// new ones and is returned once the running calls have finished.
func ForEach(ctx context.Context, n int, cfg Config, fn func(ctx context.Context, i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Jobs, 1))
	for i := range n {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return fn(ctx, i)
		})
	}
	return g.Wait()
}

// Map applies fn to every item and returns the results in item order.
func Map[S, T any](ctx context.Context, items []S, cfg Config, fn func(ctx context.Context, item S) (T, error)) ([]T, error) {
	out := make([]T, len(items))
	err := ForEach(ctx, len(items), cfg, func(ctx context.Context, i int) error {
		v, err := fn(ctx, items[i])
		if err != nil {
			return err
		}
		out[i] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
