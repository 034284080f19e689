package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ajitpratap0/stratopt/internal/metrics"
	"github.com/ajitpratap0/stratopt/pkg/backtest"
	"github.com/ajitpratap0/stratopt/pkg/emulation"
	"github.com/ajitpratap0/stratopt/pkg/genetic"
	"github.com/ajitpratap0/stratopt/pkg/strategy"
)

// FitnessFunc scores a strategy whose run has completed. Higher is better.
type FitnessFunc func(s strategy.Strategy) float64

// ObjectiveFitness scores strategies by a backtest objective over their last
// run metrics. Strategies without metrics score genetic.MinFitness.
func ObjectiveFitness(objective backtest.Objective) FitnessFunc {
	return func(s strategy.Strategy) float64 {
		m := s.Metrics()
		if m == nil {
			return genetic.MinFitness
		}
		return objective(m)
	}
}

// StrategyFitness evaluates a chromosome by running a parameterized clone of
// the template strategy and scoring it
type StrategyFitness struct {
	optimizer  *BaseOptimizer
	template   strategy.Strategy
	calc       FitnessFunc
	iterations int

	// evaluated is called after each successful or soft-failed evaluation
	evaluated func()
}

// NewStrategyFitness creates the evaluator used by GeneticOptimizer
func NewStrategyFitness(optimizer *BaseOptimizer, template strategy.Strategy, calc FitnessFunc, iterations int) (*StrategyFitness, error) {
	switch {
	case optimizer == nil:
		return nil, invalidArgument("optimizer is required")
	case template == nil:
		return nil, invalidArgument("strategy is required")
	case calc == nil:
		return nil, invalidArgument("fitness function is required")
	}
	return &StrategyFitness{optimizer: optimizer, template: template, calc: calc, iterations: iterations}, nil
}

// Evaluate runs the chromosome's strategy and blocks until it completes.
// Both caches are borrowed before the run and released exactly once by the
// completion callback.
func (f *StrategyFitness) Evaluate(ctx context.Context, c genetic.Chromosome) (float64, error) {
	pc, ok := c.(*ParametersChromosome)
	if !ok {
		return 0, fmt.Errorf("unexpected chromosome type %T", c)
	}

	metrics.EvaluationsInFlight.Inc()
	defer metrics.EvaluationsInFlight.Dec()
	started := time.Now()

	instance := f.template.Clone()
	if err := pc.Apply(instance.Params()); err != nil {
		return 0, err
	}

	result, err := f.run(ctx, instance)
	metrics.RecordEvaluation(err, time.Since(started).Seconds())

	if err != nil {
		// cancellation is the run being stopped, not a bad individual
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return 0, err
		}
		return f.failed(pc, err)
	}

	score := f.calc(instance)
	if math.IsNaN(score) {
		score = genetic.MinFitness
	}

	f.optimizer.log.Debug().
		Interface("parameters", pc.Values()).
		Float64("fitness", score).
		Dur("duration", result.Duration).
		Msg("Chromosome evaluated")

	if f.evaluated != nil {
		f.evaluated()
	}
	return score, nil
}

func (f *StrategyFitness) run(ctx context.Context, instance strategy.Strategy) (emulation.RunResult, error) {
	adapter, err := f.optimizer.AllocateAdapterCache(ctx)
	if err != nil {
		return emulation.RunResult{}, fmt.Errorf("failed to allocate adapter cache: %w", err)
	}
	storage, err := f.optimizer.AllocateStorageCache(ctx)
	if err != nil {
		f.release(adapter, nil)
		return emulation.RunResult{}, fmt.Errorf("failed to allocate storage cache: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan emulation.RunResult, 1)
	f.optimizer.TryNextRun(runCtx, emulation.RunRequest{
		Strategy:   instance,
		Adapter:    adapter,
		Storage:    storage,
		Iterations: f.iterations,
	}, func(res emulation.RunResult) {
		f.release(adapter, storage)
		done <- res
	})

	var timeout <-chan time.Time
	if d := f.optimizer.Emulation.EvaluationTimeout; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-done:
		return res, res.Err
	case <-timeout:
		return emulation.RunResult{}, fmt.Errorf("%w after %s", ErrEvaluationTimeout, f.optimizer.Emulation.EvaluationTimeout)
	case <-ctx.Done():
		return emulation.RunResult{}, ctx.Err()
	}
}

func (f *StrategyFitness) release(adapter *emulation.AdapterCache, storage *emulation.StorageCache) {
	if adapter != nil {
		if err := f.optimizer.FreeAdapterCache(adapter); err != nil {
			f.optimizer.log.Error().Err(err).Int("adapter", adapter.ID).Msg("Failed to free adapter cache")
		}
	}
	if storage != nil {
		if err := f.optimizer.FreeStorageCache(storage); err != nil {
			f.optimizer.log.Error().Err(err).Int("storage", storage.ID).Msg("Failed to free storage cache")
		}
	}
}

// failed applies the failure policy to an evaluation error
func (f *StrategyFitness) failed(pc *ParametersChromosome, err error) (float64, error) {
	if f.optimizer.Emulation.FailurePolicy == FailureHard {
		if errors.Is(err, ErrEvaluationTimeout) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %w", ErrEvaluationFailed, err)
	}

	f.optimizer.log.Warn().
		Err(err).
		Interface("parameters", pc.Values()).
		Msg("Strategy evaluation failed, scoring as minimal fitness")

	if f.evaluated != nil {
		f.evaluated()
	}
	return genetic.MinFitness, nil
}
