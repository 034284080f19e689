package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/stratopt/internal/marketdata"
	"github.com/ajitpratap0/stratopt/internal/metrics"
	"github.com/ajitpratap0/stratopt/pkg/emulation"
	"github.com/ajitpratap0/stratopt/pkg/genetic"
	"github.com/ajitpratap0/stratopt/pkg/strategy"
)

// observerTimeout bounds each observer callback
const observerTimeout = 5 * time.Second

// Option overrides an operator resolved from Settings
type Option func(*operators)

type operators struct {
	selection   genetic.Selection
	crossover   genetic.Crossover
	mutation    genetic.Mutation
	reinsertion genetic.Reinsertion
}

// WithSelection uses s instead of Settings.Selection
func WithSelection(s genetic.Selection) Option { return func(o *operators) { o.selection = s } }

// WithCrossover uses c instead of Settings.Crossover
func WithCrossover(c genetic.Crossover) Option { return func(o *operators) { o.crossover = c } }

// WithMutation uses m instead of Settings.Mutation
func WithMutation(m genetic.Mutation) Option { return func(o *operators) { o.mutation = m } }

// WithReinsertion uses r instead of Settings.Reinsertion
func WithReinsertion(r genetic.Reinsertion) Option { return func(o *operators) { o.reinsertion = r } }

// GeneticOptimizer searches strategy parameters with a genetic algorithm.
// Lifecycle calls are serialized internally; the loop runs on its own goroutine.
type GeneticOptimizer struct {
	*BaseOptimizer

	// Settings is read once per Start
	Settings Settings

	mu            sync.Mutex
	ga            *genetic.GeneticAlgorithm
	runCtx        context.Context
	cancel        context.CancelFunc
	done          chan struct{}
	stopRequested atomic.Bool
	runID         string
	strategyName  string
	startedAt     time.Time
	lastErr       error
	evaluated     atomic.Int64

	observers []Observer
}

// NewGeneticOptimizer creates a stopped optimizer
func NewGeneticOptimizer(runner emulation.Runner, source marketdata.Source, settings Settings, emulationSettings EmulationSettings) *GeneticOptimizer {
	done := make(chan struct{})
	close(done)

	return &GeneticOptimizer{
		BaseOptimizer: NewBaseOptimizer(runner, source, emulationSettings),
		Settings:      settings,
		done:          done,
	}
}

// AddObserver registers o for subsequent runs
func (o *GeneticOptimizer) AddObserver(obs Observer) {
	o.mu.Lock()
	o.observers = append(o.observers, obs)
	o.mu.Unlock()
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Start validates the arguments, seeds the population and begins evolving in
// the background. The run ends after iterations generations or once the best
// fitness stagnates for Settings.StagnationGenerations generations.
func (o *GeneticOptimizer) Start(ctx context.Context, template strategy.Strategy, specs []ParameterSpec, iterations int, fitness FitnessFunc, opts ...Option) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.State() != StateStopped {
		return ErrAlreadyRunning
	}

	switch {
	case template == nil:
		return invalidArgument("strategy is required")
	case len(specs) == 0:
		return invalidArgument("parameter specs are required")
	case fitness == nil:
		return invalidArgument("fitness function is required")
	case iterations < 1:
		return invalidArgument("iteration count must be positive, got %d", iterations)
	}
	settings := o.Settings
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := o.Emulation.Validate(); err != nil {
		return err
	}

	o.setState(StateStarting)

	ga, err := o.build(template, specs, iterations, fitness, settings, opts)
	if err != nil {
		o.setState(StateStopping)
		o.setState(StateStopped)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.ga = ga
	o.runCtx, o.cancel = runCtx, cancel
	o.done = make(chan struct{})
	o.stopRequested.Store(false)
	o.runID = uuid.NewString()
	o.strategyName = template.Name()
	o.startedAt = time.Now().UTC()
	o.lastErr = nil
	o.evaluated.Store(0)

	o.notifyStarted(RunInfo{
		RunID:      o.runID,
		Strategy:   o.strategyName,
		Iterations: iterations,
		Settings:   settings,
		StartedAt:  o.startedAt,
	})

	o.log.Info().
		Str("run_id", o.runID).
		Str("strategy", o.strategyName).
		Int("parameters", len(specs)).
		Int("iterations", iterations).
		Int("population", settings.PopulationSize).
		Int("batch_size", o.BatchSize()).
		Msg("Starting genetic optimization")

	o.setState(StateStarted)
	go o.loop(runCtx, ga, ga.Start)

	return nil
}

func (o *GeneticOptimizer) build(template strategy.Strategy, specs []ParameterSpec, iterations int, fitness FitnessFunc, settings Settings, opts []Option) (*genetic.GeneticAlgorithm, error) {
	rng := genetic.NewRand(settings.Seed)

	adam, err := NewParametersChromosome(specs, NewGeneCodec(rng))
	if err != nil {
		return nil, err
	}

	population, err := genetic.NewPopulation(settings.PopulationSize, settings.PopulationSizeMax, adam)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	ops, err := resolveOperators(settings, opts)
	if err != nil {
		return nil, err
	}

	evaluator, err := NewStrategyFitness(o.BaseOptimizer, template, fitness, iterations)
	if err != nil {
		return nil, err
	}
	evaluator.evaluated = func() { o.evaluated.Add(1) }

	ga, err := genetic.NewGeneticAlgorithm(population, evaluator, ops.selection, ops.crossover, ops.mutation)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	ga.Reinsertion = ops.reinsertion
	ga.Termination = genetic.NewOrTermination(
		genetic.NewFitnessStagnationTermination(settings.StagnationGenerations),
		genetic.NewGenerationNumberTermination(iterations),
	)
	ga.TaskExecutor = genetic.NewParallelTaskExecutor(1, o.BatchSize())
	ga.MutationProbability = settings.MutationProbability
	ga.CrossoverProbability = settings.CrossoverProbability
	ga.Rand = rng
	ga.OnGenerationRan = o.generationRan
	ga.OnTerminationReached = o.terminationReached

	o.prepare(iterations * settings.PopulationSize)
	return ga, nil
}

func resolveOperators(settings Settings, opts []Option) (operators, error) {
	var ops operators
	for _, opt := range opts {
		opt(&ops)
	}

	var err error
	if ops.selection == nil {
		if ops.selection, err = genetic.NewSelection(settings.Selection); err != nil {
			return ops, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
	}
	if ops.crossover == nil {
		if ops.crossover, err = genetic.NewCrossover(settings.Crossover); err != nil {
			return ops, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
	}
	if ops.mutation == nil {
		if ops.mutation, err = genetic.NewMutation(settings.Mutation); err != nil {
			return ops, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
	}
	if ops.reinsertion == nil {
		if ops.reinsertion, err = genetic.NewReinsertion(settings.Reinsertion); err != nil {
			return ops, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
	}
	return ops, nil
}

// Suspend halts the run after the in-flight generation completes. In-flight
// evaluations are not cancelled.
func (o *GeneticOptimizer) Suspend() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.State() != StateStarted {
		return ErrNotRunning
	}

	o.setState(StateSuspending)
	o.ga.Stop()
	o.log.Info().Str("run_id", o.runID).Msg("Suspending optimization")
	return nil
}

// Resume continues a suspended run from its last completed generation
func (o *GeneticOptimizer) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.State() != StateSuspended {
		return ErrNotRunning
	}

	o.setState(StateStarted)
	o.log.Info().Str("run_id", o.runID).Int("generation", o.ga.GenerationsNumber()).Msg("Resuming optimization")
	go o.loop(o.runCtx, o.ga, o.ga.Resume)
	return nil
}

// Stop cancels in-flight strategy runs and ends the run. The optimizer
// reaches Stopped once every borrowed cache has been returned.
func (o *GeneticOptimizer) Stop() error {
	o.mu.Lock()

	switch o.State() {
	case StateStopped, StateStopping:
		o.mu.Unlock()
		return ErrNotRunning
	case StateSuspended:
		o.stopRequested.Store(true)
		o.setState(StateStopping)
		o.cancel()
		o.mu.Unlock()
		o.finish(nil)
		return nil
	default:
		o.stopRequested.Store(true)
		o.setState(StateStopping)
		o.ga.Stop()
		o.cancel()
		o.mu.Unlock()
		o.log.Info().Str("run_id", o.runID).Msg("Stopping optimization")
		return nil
	}
}

// Wait blocks until the current run has reached Stopped and returns its error
func (o *GeneticOptimizer) Wait(ctx context.Context) error {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()

	select {
	case <-done:
		return o.LastError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop runs step on the current goroutine and settles the state afterwards
func (o *GeneticOptimizer) loop(ctx context.Context, ga *genetic.GeneticAlgorithm, step func(context.Context) error) {
	err := step(ctx)

	o.mu.Lock()
	suspended := err == nil && ga.State() == genetic.StateStopped && !o.stopRequested.Load()
	if suspended {
		o.setState(StateSuspended)
		o.log.Info().
			Str("run_id", o.runID).
			Int("generation", ga.GenerationsNumber()).
			Msg("Optimization suspended")
	}
	o.mu.Unlock()

	if !suspended {
		o.finish(err)
	}
}

// finish tears the run down. It runs once per run, from the loop goroutine or from Stop.
func (o *GeneticOptimizer) finish(err error) {
	// a cancelled parent context ends the run like Stop does
	if errors.Is(err, context.Canceled) {
		o.stopRequested.Store(true)
		err = nil
	}

	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()

	// runs abandoned by an evaluation timeout must not outlive the run
	cancel()
	o.setState(StateStopping)
	o.waitRuns()
	o.closePools()

	o.mu.Lock()
	o.lastErr = err
	ga, done := o.ga, o.done

	summary := RunSummary{
		RunID:       o.runID,
		Strategy:    o.strategyName,
		Generations: ga.GenerationsNumber(),
		BestFitness: ga.BestFitness(),
		StartedAt:   o.startedAt,
		FinishedAt:  time.Now().UTC(),
	}
	if best, ok := ga.BestChromosome().(*ParametersChromosome); ok {
		summary.BestParameters = best.Values()
	}
	switch {
	case err != nil:
		summary.Outcome = OutcomeFailed
		summary.Error = err.Error()
	case o.stopRequested.Load():
		summary.Outcome = OutcomeStopped
	default:
		summary.Outcome = OutcomeTerminated
	}
	o.mu.Unlock()

	metrics.RunsTotal.WithLabelValues(summary.Outcome).Inc()
	if err != nil {
		o.log.Error().Err(err).Str("run_id", summary.RunID).Msg("Optimization failed")
	} else {
		o.log.Info().
			Str("run_id", summary.RunID).
			Str("outcome", summary.Outcome).
			Int("generations", summary.Generations).
			Float64("best_fitness", summary.BestFitness).
			Interface("best_parameters", summary.BestParameters).
			Msg("Optimization finished")
	}

	o.notifyFinished(summary)
	o.setState(StateStopped)
	close(done)
}

// ============================================================================
// ENGINE CALLBACKS
// ============================================================================

func (o *GeneticOptimizer) generationRan(ga *genetic.GeneticAlgorithm) {
	best := ga.BestFitness()
	metrics.RecordGeneration(best)

	event := GenerationEvent{
		RunID:        o.runID,
		Strategy:     o.strategyName,
		Generation:   ga.GenerationsNumber(),
		Evaluated:    int(o.evaluated.Swap(0)),
		BestFitness:  best,
		TimeEvolving: ga.TimeEvolving(),
		Timestamp:    time.Now().UTC(),
	}
	if c, ok := ga.BestChromosome().(*ParametersChromosome); ok {
		event.BestParameters = c.Values()
	}

	completed, planned := o.Progress()
	o.log.Info().
		Str("run_id", event.RunID).
		Int("generation", event.Generation).
		Int("evaluated", event.Evaluated).
		Float64("best_fitness", best).
		Int64("completed_runs", completed).
		Int64("planned_runs", planned).
		Msg("Generation completed")

	for _, obs := range o.snapshotObservers() {
		ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
		if err := obs.GenerationCompleted(ctx, event); err != nil {
			o.log.Warn().Err(err).Msg("Observer failed on generation")
		}
		cancel()
	}
}

func (o *GeneticOptimizer) terminationReached(ga *genetic.GeneticAlgorithm) {
	o.log.Info().
		Str("run_id", o.runID).
		Int("generation", ga.GenerationsNumber()).
		Msg("Termination reached")
	o.setState(StateStopping)
}

func (o *GeneticOptimizer) snapshotObservers() []Observer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Observer(nil), o.observers...)
}

// notifyStarted is called with o.mu held
func (o *GeneticOptimizer) notifyStarted(info RunInfo) {
	for _, obs := range o.observers {
		ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
		if err := obs.RunStarted(ctx, info); err != nil {
			o.log.Warn().Err(err).Msg("Observer failed on run start")
		}
		cancel()
	}
}

func (o *GeneticOptimizer) notifyFinished(summary RunSummary) {
	for _, obs := range o.snapshotObservers() {
		ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
		if err := obs.RunFinished(ctx, summary); err != nil {
			o.log.Warn().Err(err).Msg("Observer failed on run finish")
		}
		cancel()
	}
}

// ============================================================================
// RESULTS
// ============================================================================

// Best returns the parameters and fitness of the best chromosome so far
func (o *GeneticOptimizer) Best() (map[string]interface{}, float64, bool) {
	o.mu.Lock()
	ga := o.ga
	o.mu.Unlock()

	if ga == nil {
		return nil, genetic.MinFitness, false
	}
	best, ok := ga.BestChromosome().(*ParametersChromosome)
	if !ok {
		return nil, genetic.MinFitness, false
	}
	fitness, _ := best.Fitness()
	return best.Values(), fitness, true
}

// Generation is the number of evaluated generations of the current or last run
func (o *GeneticOptimizer) Generation() int {
	o.mu.Lock()
	ga := o.ga
	o.mu.Unlock()

	if ga == nil {
		return 0
	}
	return ga.GenerationsNumber()
}

// RunID identifies the current or last run
func (o *GeneticOptimizer) RunID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runID
}

// LastError is the error that ended the last run, if any
func (o *GeneticOptimizer) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}
