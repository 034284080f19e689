package genetic

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of work handed to a TaskExecutor
type Task func(ctx context.Context) error

// TaskExecutor runs a batch of tasks and returns once all of them finished
type TaskExecutor interface {
	Run(ctx context.Context, tasks []Task) error
}

// LinearTaskExecutor runs tasks one after another on the calling goroutine
type LinearTaskExecutor struct{}

// Run stops at the first failing task
func (e *LinearTaskExecutor) Run(ctx context.Context, tasks []Task) error {
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := task(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ParallelTaskExecutor runs tasks on a bounded set of goroutines
type ParallelTaskExecutor struct {
	MinThreads int
	MaxThreads int
}

// NewParallelTaskExecutor creates an executor with at most maxThreads concurrent tasks
func NewParallelTaskExecutor(minThreads, maxThreads int) *ParallelTaskExecutor {
	return &ParallelTaskExecutor{MinThreads: minThreads, MaxThreads: maxThreads}
}

// limit resolves the worker ceiling, never below one or MinThreads
func (e *ParallelTaskExecutor) limit() int {
	limit := e.MaxThreads
	if limit < e.MinThreads {
		limit = e.MinThreads
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// Run executes every task with at most MaxThreads in flight. The first error
// cancels the context handed to tasks that have not started yet.
func (e *ParallelTaskExecutor) Run(ctx context.Context, tasks []Task) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit())

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return task(gctx)
		})
	}

	return g.Wait()
}
