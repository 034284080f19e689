// Package optimizer searches strategy parameter spaces with a genetic algorithm.
//
// The GeneticOptimizer encodes every tunable parameter as a gene, scores each
// chromosome by running a cloned strategy through an emulation.Runner and
// evolves the population until fitness stagnates or the iteration budget is
// spent. Runs can be suspended, resumed and stopped while evaluations are in
// flight.
package optimizer

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/stratopt/internal/marketdata"
	"github.com/ajitpratap0/stratopt/internal/metrics"
	"github.com/ajitpratap0/stratopt/pkg/emulation"
)

// RunState is the optimizer lifecycle state
type RunState int

const (
	StateStopped RunState = iota
	StateStarting
	StateStarted
	StateSuspending
	StateSuspended
	StateStopping
)

func (s RunState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateSuspending:
		return "suspending"
	case StateSuspended:
		return "suspended"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// BaseOptimizer owns the run state, the cache pools and run submission shared
// by optimizer implementations
type BaseOptimizer struct {
	// Emulation is read when a run starts
	Emulation EmulationSettings

	runner emulation.Runner
	source marketdata.Source
	log    zerolog.Logger

	stateMu     sync.RWMutex
	state       RunState
	subscribers []func(from, to RunState)

	poolMu   sync.RWMutex
	adapters *emulation.Pool[*emulation.AdapterCache]
	storages *emulation.Pool[*emulation.StorageCache]
	limiter  *rate.Limiter
	active   emulation.Runner

	inflight  sync.WaitGroup
	planned   atomic.Int64
	completed atomic.Int64
}

// NewBaseOptimizer creates a stopped optimizer that submits runs to runner and
// feeds storage caches from source
func NewBaseOptimizer(runner emulation.Runner, source marketdata.Source, settings EmulationSettings) *BaseOptimizer {
	return &BaseOptimizer{
		Emulation: settings,
		runner:    runner,
		source:    source,
		log:       log.With().Str("component", "optimizer").Logger(),
		state:     StateStopped,
	}
}

// ============================================================================
// RUN STATE
// ============================================================================

// State returns the current run state
func (b *BaseOptimizer) State() RunState {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.state
}

// OnStateChanged registers fn for every state transition. Callbacks run
// synchronously on the goroutine that changes the state.
func (b *BaseOptimizer) OnStateChanged(fn func(from, to RunState)) {
	b.stateMu.Lock()
	b.subscribers = append(b.subscribers, fn)
	b.stateMu.Unlock()
}

func (b *BaseOptimizer) setState(to RunState) {
	b.stateMu.Lock()
	from := b.state
	if from == to {
		b.stateMu.Unlock()
		return
	}
	b.state = to
	subscribers := slices.Clone(b.subscribers)
	b.stateMu.Unlock()

	metrics.RunState.Set(float64(to))
	b.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("Optimizer state changed")

	for _, fn := range subscribers {
		fn(from, to)
	}
}

// BatchSize is the evaluation worker ceiling, never below one
func (b *BaseOptimizer) BatchSize() int {
	return b.Emulation.batchSize()
}

// ============================================================================
// RESOURCES
// ============================================================================

// prepare builds fresh pools, limiter and runner for a run of planned strategy runs
func (b *BaseOptimizer) prepare(planned int) {
	settings := b.Emulation

	limit := rate.Inf
	if settings.RunsPerSecond > 0 {
		limit = rate.Limit(settings.RunsPerSecond)
	}

	runner := b.runner
	if settings.Breaker.Enabled {
		runner = emulation.NewBreakerRunner("strategy_runner", runner, settings.Breaker)
	}

	b.poolMu.Lock()
	b.adapters = emulation.NewAdapterPool(settings.poolSize(settings.AdapterCaches))
	b.storages = emulation.NewStoragePool(settings.poolSize(settings.StorageCaches), b.source)
	b.limiter = rate.NewLimiter(limit, settings.batchSize())
	b.active = runner
	b.poolMu.Unlock()

	b.planned.Store(int64(planned))
	b.completed.Store(0)
	metrics.RunProgress.Set(0)

	b.log.Info().
		Str("emulation", settings.String()).
		Int("planned_runs", planned).
		Msg("Prepared optimization resources")
}

// AllocateAdapterCache borrows an adapter cache, blocking until one is free
func (b *BaseOptimizer) AllocateAdapterCache(ctx context.Context) (*emulation.AdapterCache, error) {
	return b.AdapterPool().Acquire(ctx)
}

// FreeAdapterCache returns an adapter cache to its pool
func (b *BaseOptimizer) FreeAdapterCache(c *emulation.AdapterCache) error {
	return b.AdapterPool().Release(c)
}

// AllocateStorageCache borrows a storage cache, blocking until one is free
func (b *BaseOptimizer) AllocateStorageCache(ctx context.Context) (*emulation.StorageCache, error) {
	return b.StoragePool().Acquire(ctx)
}

// FreeStorageCache returns a storage cache to its pool
func (b *BaseOptimizer) FreeStorageCache(c *emulation.StorageCache) error {
	return b.StoragePool().Release(c)
}

// AdapterPool is the adapter cache pool of the current or last run
func (b *BaseOptimizer) AdapterPool() *emulation.Pool[*emulation.AdapterCache] {
	b.poolMu.RLock()
	defer b.poolMu.RUnlock()
	return b.adapters
}

// StoragePool is the storage cache pool of the current or last run
func (b *BaseOptimizer) StoragePool() *emulation.Pool[*emulation.StorageCache] {
	b.poolMu.RLock()
	defer b.poolMu.RUnlock()
	return b.storages
}

// closePools wakes evaluations blocked on a cache; borrowed caches can still be freed
func (b *BaseOptimizer) closePools() {
	b.poolMu.RLock()
	defer b.poolMu.RUnlock()
	if b.adapters != nil {
		b.adapters.Close()
	}
	if b.storages != nil {
		b.storages.Close()
	}
}

// ============================================================================
// RUN SUBMISSION
// ============================================================================

// TryNextRun submits req to the runner once the rate limiter allows it.
// onComplete is invoked exactly once, also when the submission itself fails.
func (b *BaseOptimizer) TryNextRun(ctx context.Context, req emulation.RunRequest, onComplete func(emulation.RunResult)) {
	b.poolMu.RLock()
	limiter, runner := b.limiter, b.active
	b.poolMu.RUnlock()

	b.inflight.Add(1)
	done := emulation.Once(func(res emulation.RunResult) {
		defer b.inflight.Done()

		completed := b.completed.Add(1)
		if planned := b.planned.Load(); planned > 0 {
			metrics.RunProgress.Set(min(float64(completed)/float64(planned), 1))
		}
		if onComplete != nil {
			onComplete(res)
		}
	})

	if runner == nil {
		done(emulation.RunResult{Err: fmt.Errorf("optimizer has no active runner")})
		return
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			done(emulation.RunResult{Err: fmt.Errorf("run throttled: %w", err)})
			return
		}
	}

	runner.Run(ctx, req, done)
}

// waitRuns blocks until every submitted run has completed
func (b *BaseOptimizer) waitRuns() {
	b.inflight.Wait()
}

// Progress returns completed and planned strategy runs
func (b *BaseOptimizer) Progress() (completed, planned int64) {
	return b.completed.Load(), b.planned.Load()
}
