package genetic

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrNotStarted is returned when resuming an algorithm that is not stopped
	ErrNotStarted = errors.New("genetic algorithm is not stopped")

	// ErrRunning is returned when the loop is entered twice concurrently
	ErrRunning = errors.New("genetic algorithm is already running")
)

// Default operator probabilities
const (
	DefaultCrossoverProbability = 0.75
	DefaultMutationProbability  = 0.1
)

// Fitness scores a chromosome. Higher is better.
type Fitness interface {
	Evaluate(ctx context.Context, c Chromosome) (float64, error)
}

// FitnessFunc adapts a function to the Fitness interface
type FitnessFunc func(ctx context.Context, c Chromosome) (float64, error)

// Evaluate calls f
func (f FitnessFunc) Evaluate(ctx context.Context, c Chromosome) (float64, error) {
	return f(ctx, c)
}

// State of the generational loop
type State int

const (
	StateNotStarted State = iota
	StateStarted
	StateStopped
	StateResumed
	StateTerminationReached
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateResumed:
		return "resumed"
	case StateTerminationReached:
		return "termination_reached"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// GeneticAlgorithm drives selection, crossover, mutation, reinsertion and fitness
// evaluation one generation at a time until its Termination is reached.
type GeneticAlgorithm struct {
	population *Population
	fitness    Fitness
	selection  Selection
	crossover  Crossover
	mutation   Mutation

	Reinsertion          Reinsertion
	Termination          Termination
	TaskExecutor         TaskExecutor
	CrossoverProbability float64
	MutationProbability  float64
	Rand                 *rand.Rand

	// OnGenerationRan fires after every evaluated generation
	OnGenerationRan func(ga *GeneticAlgorithm)

	// OnTerminationReached fires once when Termination reports completion
	OnTerminationReached func(ga *GeneticAlgorithm)

	mu           sync.RWMutex
	state        State
	timeEvolving time.Duration

	running       atomic.Bool
	stopRequested atomic.Bool
}

// NewGeneticAlgorithm wires the core operators. Reinsertion defaults to elitist,
// termination to a single generation and execution to the calling goroutine.
func NewGeneticAlgorithm(population *Population, fitness Fitness, selection Selection, crossover Crossover, mutation Mutation) (*GeneticAlgorithm, error) {
	switch {
	case population == nil:
		return nil, errors.New("population is required")
	case fitness == nil:
		return nil, errors.New("fitness is required")
	case selection == nil:
		return nil, errors.New("selection is required")
	case crossover == nil:
		return nil, errors.New("crossover is required")
	case mutation == nil:
		return nil, errors.New("mutation is required")
	}

	return &GeneticAlgorithm{
		population:           population,
		fitness:              fitness,
		selection:            selection,
		crossover:            crossover,
		mutation:             mutation,
		Reinsertion:          NewElitistReinsertion(),
		Termination:          NewGenerationNumberTermination(1),
		TaskExecutor:         &LinearTaskExecutor{},
		CrossoverProbability: DefaultCrossoverProbability,
		MutationProbability:  DefaultMutationProbability,
		Rand:                 NewRand(0),
		state:                StateNotStarted,
	}, nil
}

// Start seeds the population and evolves it on the calling goroutine until the
// termination is reached, Stop is requested or ctx is cancelled.
func (ga *GeneticAlgorithm) Start(ctx context.Context) error {
	if !ga.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer ga.running.Store(false)

	ga.setState(StateStarted)
	started := time.Now()
	defer func() { ga.addTimeEvolving(time.Since(started)) }()

	if err := ga.population.CreateInitialGeneration(); err != nil {
		return err
	}

	terminated, err := ga.endCurrentGeneration(ctx)
	if err != nil || terminated {
		return err
	}

	return ga.loop(ctx)
}

// Resume continues a stopped algorithm from its last completed generation
func (ga *GeneticAlgorithm) Resume(ctx context.Context) error {
	if ga.State() != StateStopped {
		return ErrNotStarted
	}
	if !ga.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer ga.running.Store(false)

	ga.stopRequested.Store(false)
	ga.setState(StateResumed)
	started := time.Now()
	defer func() { ga.addTimeEvolving(time.Since(started)) }()

	return ga.loop(ctx)
}

// Stop asks the loop to halt once the in-flight generation completes
func (ga *GeneticAlgorithm) Stop() {
	ga.stopRequested.Store(true)
}

// IsRunning reports whether Start or Resume is executing
func (ga *GeneticAlgorithm) IsRunning() bool {
	return ga.running.Load()
}

func (ga *GeneticAlgorithm) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if ga.stopRequested.Load() {
			ga.setState(StateStopped)
			return nil
		}

		terminated, err := ga.evolveOneGeneration(ctx)
		if err != nil || terminated {
			return err
		}
	}
}

func (ga *GeneticAlgorithm) evolveOneGeneration(ctx context.Context) (bool, error) {
	current := ga.population.CurrentGeneration()

	parents, err := ga.selection.Select(ga.population.MinSize, current, ga.Rand)
	if err != nil {
		return false, fmt.Errorf("selection failed: %w", err)
	}

	offspring, err := ga.cross(parents)
	if err != nil {
		return false, fmt.Errorf("crossover failed: %w", err)
	}

	for _, child := range offspring {
		if err := ga.mutation.Mutate(child, ga.MutationProbability, ga.Rand); err != nil {
			return false, fmt.Errorf("mutation failed: %w", err)
		}
	}

	next, err := ga.Reinsertion.SelectChromosomes(ga.population, offspring, parents, ga.Rand)
	if err != nil {
		return false, fmt.Errorf("reinsertion failed: %w", err)
	}

	if err := ga.population.CreateNewGeneration(next); err != nil {
		return false, err
	}

	return ga.endCurrentGeneration(ctx)
}

// cross pairs parents in order. Groups that skip crossover pass to the offspring as copies.
func (ga *GeneticAlgorithm) cross(parents []Chromosome) ([]Chromosome, error) {
	n := ga.crossover.ParentsNumber()
	offspring := make([]Chromosome, 0, len(parents))

	i := 0
	for ; i+n <= len(parents); i += n {
		group := parents[i : i+n]
		if ga.Rand.Float64() < ga.CrossoverProbability {
			children, err := ga.crossover.Cross(group, ga.Rand)
			if err != nil {
				return nil, err
			}
			offspring = append(offspring, children...)
			continue
		}
		for _, p := range group {
			offspring = append(offspring, p.Clone())
		}
	}
	for ; i < len(parents); i++ {
		offspring = append(offspring, parents[i].Clone())
	}

	return offspring, nil
}

func (ga *GeneticAlgorithm) endCurrentGeneration(ctx context.Context) (bool, error) {
	if err := ga.evaluateFitness(ctx); err != nil {
		return false, err
	}

	ga.population.EndCurrentGeneration()

	if ga.OnGenerationRan != nil {
		ga.OnGenerationRan(ga)
	}

	if ga.Termination.HasReached(ga) {
		ga.setState(StateTerminationReached)
		if ga.OnTerminationReached != nil {
			ga.OnTerminationReached(ga)
		}
		return true, nil
	}

	return false, nil
}

// evaluateFitness scores every chromosome of the current generation that has no fitness yet
func (ga *GeneticAlgorithm) evaluateFitness(ctx context.Context) error {
	chromosomes := ga.population.CurrentGeneration().Chromosomes

	tasks := make([]Task, 0, len(chromosomes))
	for _, c := range chromosomes {
		if _, ok := c.Fitness(); ok {
			continue
		}
		c := c
		tasks = append(tasks, func(ctx context.Context) error {
			score, err := ga.fitness.Evaluate(ctx, c)
			if err != nil {
				return fmt.Errorf("fitness evaluation failed: %w", err)
			}
			c.SetFitness(score)
			return nil
		})
	}

	if err := ga.TaskExecutor.Run(ctx, tasks); err != nil {
		return err
	}
	return ctx.Err()
}

// Population returns the evolving population
func (ga *GeneticAlgorithm) Population() *Population {
	return ga.population
}

// GenerationsNumber is the number of evaluated generations
func (ga *GeneticAlgorithm) GenerationsNumber() int {
	return ga.population.GenerationsNumber()
}

// BestChromosome is the best chromosome found so far, or nil
func (ga *GeneticAlgorithm) BestChromosome() Chromosome {
	return ga.population.BestChromosome()
}

// BestFitness is the fitness of the best chromosome, or MinFitness before any evaluation
func (ga *GeneticAlgorithm) BestFitness() float64 {
	best := ga.population.BestChromosome()
	if best == nil {
		return MinFitness
	}
	return fitnessOf(best)
}

// State returns the loop state
func (ga *GeneticAlgorithm) State() State {
	ga.mu.RLock()
	defer ga.mu.RUnlock()
	return ga.state
}

// TimeEvolving is the accumulated wall time spent in Start and Resume
func (ga *GeneticAlgorithm) TimeEvolving() time.Duration {
	ga.mu.RLock()
	defer ga.mu.RUnlock()
	return ga.timeEvolving
}

func (ga *GeneticAlgorithm) setState(state State) {
	ga.mu.Lock()
	ga.state = state
	ga.mu.Unlock()
}

func (ga *GeneticAlgorithm) addTimeEvolving(d time.Duration) {
	ga.mu.Lock()
	ga.timeEvolving += d
	ga.mu.Unlock()
}
