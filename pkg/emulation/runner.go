// Package emulation is the strategy execution runtime used by the optimizer.
//
// A Runner executes one parameterized strategy asynchronously against a
// borrowed pair of caches and reports completion exactly once. Caches are
// handed out by bounded Pools so concurrent runs never share engine or
// candle state.
package emulation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ajitpratap0/stratopt/pkg/backtest"
	"github.com/ajitpratap0/stratopt/pkg/strategy"
)

var (
	// ErrInvalidRequest is returned for a request missing its strategy or caches
	ErrInvalidRequest = errors.New("invalid run request")

	// ErrCircuitOpen is returned while the runner circuit breaker rejects runs
	ErrCircuitOpen = errors.New("runner circuit breaker is open")
)

// RunRequest is one strategy run
type RunRequest struct {
	// Strategy is exclusively owned by the run until completion
	Strategy strategy.Strategy
	Adapter  *AdapterCache
	Storage  *StorageCache

	// Iterations is the iteration budget of the optimization the run belongs to
	Iterations int
}

// Validate checks the request carries everything a runner needs
func (r RunRequest) Validate() error {
	switch {
	case r.Strategy == nil:
		return fmt.Errorf("%w: strategy is required", ErrInvalidRequest)
	case r.Adapter == nil:
		return fmt.Errorf("%w: adapter cache is required", ErrInvalidRequest)
	case r.Storage == nil:
		return fmt.Errorf("%w: storage cache is required", ErrInvalidRequest)
	}
	return nil
}

// RunResult is delivered to the completion callback
type RunResult struct {
	Metrics  *backtest.Metrics
	Err      error
	Duration time.Duration
}

// Runner executes strategies asynchronously. Run returns immediately and
// onComplete is invoked exactly once, on success, failure or cancellation.
type Runner interface {
	Run(ctx context.Context, req RunRequest, onComplete func(RunResult))
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, req RunRequest, onComplete func(RunResult))

// Run calls f
func (f RunnerFunc) Run(ctx context.Context, req RunRequest, onComplete func(RunResult)) {
	f(ctx, req, onComplete)
}

// Once wraps a completion callback so that only the first call reaches it
func Once(onComplete func(RunResult)) func(RunResult) {
	var once sync.Once
	return func(res RunResult) {
		once.Do(func() {
			if onComplete != nil {
				onComplete(res)
			}
		})
	}
}

// Go runs fn in a goroutine and reports its result through onComplete exactly
// once. A panic in fn is reported as an error.
func Go(onComplete func(RunResult), fn func() (*backtest.Metrics, error)) {
	done := Once(onComplete)
	go func() {
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				done(RunResult{Err: fmt.Errorf("strategy run panicked: %v", p), Duration: time.Since(start)})
			}
		}()

		m, err := fn()
		done(RunResult{Metrics: m, Err: err, Duration: time.Since(start)})
	}()
}
