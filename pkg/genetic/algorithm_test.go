package genetic

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// TEST CHROMOSOME
// ============================================================================

// intChromosome holds integers drawn from [0, max]
type intChromosome struct {
	ChromosomeBase
	max int
	rng *rand.Rand
}

func newIntChromosome(length, max int, rng *rand.Rand) *intChromosome {
	c := &intChromosome{ChromosomeBase: NewChromosomeBase(length), max: max, rng: rng}
	if err := Randomize(c); err != nil {
		panic(err)
	}
	return c
}

func (c *intChromosome) GenerateGene(index int) (Gene, error) {
	return Gene{Value: c.rng.Intn(c.max + 1)}, nil
}

func (c *intChromosome) CreateNew() (Chromosome, error) {
	return newIntChromosome(c.Length(), c.max, c.rng), nil
}

func (c *intChromosome) Clone() Chromosome {
	clone := &intChromosome{max: c.max, rng: c.rng}
	clone.CopyFrom(&c.ChromosomeBase)
	return clone
}

// sumFitness scores a chromosome by the sum of its genes
func sumFitness(ctx context.Context, c Chromosome) (float64, error) {
	sum := 0
	for _, g := range c.Genes() {
		sum += g.Value.(int)
	}
	return float64(sum), nil
}

func newTestAlgorithm(t *testing.T, fitness Fitness, minSize int) *GeneticAlgorithm {
	t.Helper()
	rng := NewRand(42)

	population, err := NewPopulation(minSize, minSize*2, newIntChromosome(4, 10, rng))
	require.NoError(t, err)

	ga, err := NewGeneticAlgorithm(population, fitness, NewTournamentSelection(2, true), NewUniformCrossover(0.5), NewUniformMutation())
	require.NoError(t, err)
	ga.Rand = rng
	return ga
}

// ============================================================================
// LOOP AND TERMINATION TESTS
// ============================================================================

func TestGeneticAlgorithm_GenerationNumberTermination(t *testing.T) {
	ga := newTestAlgorithm(t, FitnessFunc(sumFitness), 6)
	ga.Termination = NewOrTermination(
		NewFitnessStagnationTermination(100),
		NewGenerationNumberTermination(3),
	)

	var generations, terminations int
	ga.OnGenerationRan = func(*GeneticAlgorithm) { generations++ }
	ga.OnTerminationReached = func(*GeneticAlgorithm) { terminations++ }

	require.NoError(t, ga.Start(context.Background()))

	assert.Equal(t, 3, ga.GenerationsNumber())
	assert.Equal(t, 3, generations)
	assert.Equal(t, 1, terminations)
	assert.Equal(t, StateTerminationReached, ga.State())
	assert.NotNil(t, ga.BestChromosome())
}

func TestGeneticAlgorithm_StagnationTermination(t *testing.T) {
	constant := FitnessFunc(func(ctx context.Context, c Chromosome) (float64, error) {
		return 1, nil
	})

	tests := []struct {
		name       string
		stagnation int
	}{
		{"one stagnant generation", 1},
		{"five stagnant generations", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ga := newTestAlgorithm(t, constant, 4)
			ga.Termination = NewOrTermination(
				NewFitnessStagnationTermination(tt.stagnation),
				NewGenerationNumberTermination(1000),
			)

			require.NoError(t, ga.Start(context.Background()))

			// the first generation sets the best and counts toward the streak
			assert.Equal(t, tt.stagnation, ga.GenerationsNumber())
		})
	}
}

func TestFitnessStagnationTermination_CountsStreak(t *testing.T) {
	ga := newTestAlgorithm(t, FitnessFunc(sumFitness), 4)
	rule := NewFitnessStagnationTermination(3)

	// best fitness reported after each generation
	sequence := []float64{1, 1, 2, 2, 2}
	want := []bool{false, false, false, false, true}

	for i, fitness := range sequence {
		best := newIntChromosome(4, 10, NewRand(1))
		best.SetFitness(fitness)
		ga.population.best = best

		assert.Equal(t, want[i], rule.HasReached(ga), "generation %d", i+1)
	}
}

// fixedTermination reports a constant answer and counts consultations
type fixedTermination struct {
	reached bool
	calls   int
}

func (f *fixedTermination) HasReached(*GeneticAlgorithm) bool {
	f.calls++
	return f.reached
}

func TestCompositeTerminations(t *testing.T) {
	tests := []struct {
		name    string
		combine func(...Termination) Termination
		inner   []bool
		want    bool
	}{
		{"or none reached", func(ts ...Termination) Termination { return NewOrTermination(ts...) }, []bool{false, false}, false},
		{"or one reached", func(ts ...Termination) Termination { return NewOrTermination(ts...) }, []bool{true, false}, true},
		{"or empty", func(ts ...Termination) Termination { return NewOrTermination(ts...) }, nil, false},
		{"and all reached", func(ts ...Termination) Termination { return NewAndTermination(ts...) }, []bool{true, true}, true},
		{"and one missing", func(ts ...Termination) Termination { return NewAndTermination(ts...) }, []bool{true, false}, false},
		{"and empty", func(ts ...Termination) Termination { return NewAndTermination(ts...) }, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var inner []Termination
			var fixed []*fixedTermination
			for _, reached := range tt.inner {
				f := &fixedTermination{reached: reached}
				fixed = append(fixed, f)
				inner = append(inner, f)
			}

			assert.Equal(t, tt.want, tt.combine(inner...).HasReached(nil))
			for _, f := range fixed {
				assert.Equal(t, 1, f.calls, "every rule is consulted so stateful rules keep counting")
			}
		})
	}
}

func TestGeneticAlgorithm_AndTerminationRunsUntilBothReached(t *testing.T) {
	ga := newTestAlgorithm(t, FitnessFunc(func(ctx context.Context, c Chromosome) (float64, error) {
		return 1, nil
	}), 4)
	ga.Termination = NewAndTermination(
		NewFitnessStagnationTermination(2),
		NewGenerationNumberTermination(5),
	)

	require.NoError(t, ga.Start(context.Background()))
	assert.Equal(t, 5, ga.GenerationsNumber())
}

func TestGeneticAlgorithm_BestFitnessNeverDecreases(t *testing.T) {
	ga := newTestAlgorithm(t, FitnessFunc(sumFitness), 8)
	ga.Termination = NewGenerationNumberTermination(15)

	var history []float64
	ga.OnGenerationRan = func(ga *GeneticAlgorithm) {
		history = append(history, ga.BestFitness())
	}

	require.NoError(t, ga.Start(context.Background()))
	require.Len(t, history, 15)
	for i := 1; i < len(history); i++ {
		assert.GreaterOrEqual(t, history[i], history[i-1])
	}
	assert.LessOrEqual(t, ga.BestFitness(), 40.0)
}

func TestGeneticAlgorithm_StopAndResume(t *testing.T) {
	ga := newTestAlgorithm(t, FitnessFunc(sumFitness), 4)
	ga.Termination = NewGenerationNumberTermination(10)

	ga.OnGenerationRan = func(ga *GeneticAlgorithm) {
		if ga.GenerationsNumber() == 2 {
			ga.Stop()
		}
	}

	require.NoError(t, ga.Start(context.Background()))
	assert.Equal(t, StateStopped, ga.State())
	assert.Equal(t, 2, ga.GenerationsNumber())
	assert.False(t, ga.IsRunning())

	ga.OnGenerationRan = nil
	require.NoError(t, ga.Resume(context.Background()))
	assert.Equal(t, StateTerminationReached, ga.State())
	assert.Equal(t, 10, ga.GenerationsNumber())
}

func TestGeneticAlgorithm_ResumeRequiresStopped(t *testing.T) {
	ga := newTestAlgorithm(t, FitnessFunc(sumFitness), 4)
	assert.ErrorIs(t, ga.Resume(context.Background()), ErrNotStarted)
}

func TestGeneticAlgorithm_FitnessErrorAbortsRun(t *testing.T) {
	boom := errors.New("boom")
	failing := FitnessFunc(func(ctx context.Context, c Chromosome) (float64, error) {
		return 0, boom
	})

	ga := newTestAlgorithm(t, failing, 4)
	err := ga.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestGeneticAlgorithm_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ga := newTestAlgorithm(t, FitnessFunc(sumFitness), 4)
	ga.Termination = NewGenerationNumberTermination(1000)
	ga.OnGenerationRan = func(ga *GeneticAlgorithm) {
		if ga.GenerationsNumber() == 3 {
			cancel()
		}
	}

	err := ga.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, ga.GenerationsNumber())
}

func TestGeneticAlgorithm_OnlyUnevaluatedChromosomesAreScored(t *testing.T) {
	var calls atomic.Int64
	counting := FitnessFunc(func(ctx context.Context, c Chromosome) (float64, error) {
		calls.Add(1)
		return sumFitness(ctx, c)
	})

	ga := newTestAlgorithm(t, counting, 6)
	ga.CrossoverProbability = 0
	ga.MutationProbability = 0
	ga.Termination = NewGenerationNumberTermination(4)

	require.NoError(t, ga.Start(context.Background()))

	// without crossover or mutation every later chromosome is a copy that keeps its fitness
	assert.Equal(t, int64(6), calls.Load())
}

// ============================================================================
// EXECUTOR TESTS
// ============================================================================

func TestParallelTaskExecutor_RespectsCeiling(t *testing.T) {
	tests := []struct {
		name       string
		maxThreads int
		tasks      int
	}{
		{"single worker", 1, 8},
		{"three workers", 3, 20},
		{"more workers than tasks", 16, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var inFlight, peak atomic.Int64
			var mu sync.Mutex
			done := 0

			tasks := make([]Task, tt.tasks)
			for i := range tasks {
				tasks[i] = func(ctx context.Context) error {
					n := inFlight.Add(1)
					for {
						p := peak.Load()
						if n <= p || peak.CompareAndSwap(p, n) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					inFlight.Add(-1)

					mu.Lock()
					done++
					mu.Unlock()
					return nil
				}
			}

			executor := NewParallelTaskExecutor(1, tt.maxThreads)
			require.NoError(t, executor.Run(context.Background(), tasks))

			assert.Equal(t, tt.tasks, done)
			assert.LessOrEqual(t, peak.Load(), int64(tt.maxThreads))
			assert.GreaterOrEqual(t, peak.Load(), int64(1))
		})
	}
}

func TestParallelTaskExecutor_ZeroCeilingRunsOneAtATime(t *testing.T) {
	executor := NewParallelTaskExecutor(0, 0)
	assert.Equal(t, 1, executor.limit())
}

func TestLinearTaskExecutor_StopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	ran := 0
	tasks := []Task{
		func(context.Context) error { ran++; return nil },
		func(context.Context) error { ran++; return boom },
		func(context.Context) error { ran++; return nil },
	}

	err := (&LinearTaskExecutor{}).Run(context.Background(), tasks)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, ran)
}
