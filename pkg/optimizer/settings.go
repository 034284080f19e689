package optimizer

import (
	"fmt"
	"runtime"
	"time"

	"github.com/ajitpratap0/stratopt/pkg/emulation"
	"github.com/ajitpratap0/stratopt/pkg/genetic"
)

// Settings configures the genetic search. It is read once per Start.
type Settings struct {
	PopulationSize        int     `mapstructure:"population_size" json:"population_size"`
	PopulationSizeMax     int     `mapstructure:"population_size_max" json:"population_size_max"`
	MutationProbability   float64 `mapstructure:"mutation_probability" json:"mutation_probability"`
	CrossoverProbability  float64 `mapstructure:"crossover_probability" json:"crossover_probability"`
	StagnationGenerations int     `mapstructure:"stagnation_generations" json:"stagnation_generations"`

	Selection   string `mapstructure:"selection" json:"selection"`
	Crossover   string `mapstructure:"crossover" json:"crossover"`
	Mutation    string `mapstructure:"mutation" json:"mutation"`
	Reinsertion string `mapstructure:"reinsertion" json:"reinsertion"`

	// Seed makes runs reproducible; zero seeds from the clock
	Seed int64 `mapstructure:"seed" json:"seed"`
}

// DefaultSettings returns the default search settings
func DefaultSettings() Settings {
	return Settings{
		PopulationSize:        50,
		PopulationSizeMax:     100,
		MutationProbability:   genetic.DefaultMutationProbability,
		CrossoverProbability:  genetic.DefaultCrossoverProbability,
		StagnationGenerations: 10,
		Selection:             genetic.SelectionTournament,
		Crossover:             genetic.CrossoverUniform,
		Mutation:              genetic.MutationUniform,
		Reinsertion:           genetic.ReinsertionElitist,
	}
}

// Validate checks ranges; operator names are resolved at Start
func (s Settings) Validate() error {
	switch {
	case s.PopulationSize < 2:
		return invalidArgument("population_size must be at least 2, got %d", s.PopulationSize)
	case s.PopulationSizeMax < s.PopulationSize:
		return invalidArgument("population_size_max %d is lower than population_size %d", s.PopulationSizeMax, s.PopulationSize)
	case s.MutationProbability < 0 || s.MutationProbability > 1:
		return invalidArgument("mutation_probability must be within [0,1], got %v", s.MutationProbability)
	case s.CrossoverProbability < 0 || s.CrossoverProbability > 1:
		return invalidArgument("crossover_probability must be within [0,1], got %v", s.CrossoverProbability)
	case s.StagnationGenerations < 1:
		return invalidArgument("stagnation_generations must be positive, got %d", s.StagnationGenerations)
	}
	return nil
}

// FailurePolicy decides how a failed strategy run affects the search
type FailurePolicy string

const (
	// FailureSoft scores the individual genetic.MinFitness and continues
	FailureSoft FailurePolicy = "soft"

	// FailureHard aborts the run with the evaluation error
	FailureHard FailurePolicy = "hard"
)

// EmulationSettings bounds the work a run may do concurrently
type EmulationSettings struct {
	// BatchSize is the worker ceiling for fitness evaluation
	BatchSize int `mapstructure:"batch_size"`

	// AdapterCaches and StorageCaches size the cache pools; zero means BatchSize
	AdapterCaches int `mapstructure:"adapter_caches"`
	StorageCaches int `mapstructure:"storage_caches"`

	// RunsPerSecond throttles run submission; zero is unlimited
	RunsPerSecond float64 `mapstructure:"runs_per_second"`

	// EvaluationTimeout bounds one strategy run; zero waits forever
	EvaluationTimeout time.Duration `mapstructure:"evaluation_timeout"`

	FailurePolicy FailurePolicy             `mapstructure:"failure_policy"`
	Breaker       emulation.BreakerSettings `mapstructure:"breaker"`
}

// DefaultEmulationSettings sizes everything by the CPU count
func DefaultEmulationSettings() EmulationSettings {
	breaker := emulation.DefaultBreakerSettings()
	breaker.Enabled = false

	return EmulationSettings{
		BatchSize:     runtime.NumCPU(),
		FailurePolicy: FailureSoft,
		Breaker:       breaker,
	}
}

// Validate checks the emulation settings
func (s EmulationSettings) Validate() error {
	switch {
	case s.BatchSize < 0:
		return invalidArgument("batch_size must not be negative, got %d", s.BatchSize)
	case s.AdapterCaches < 0 || s.StorageCaches < 0:
		return invalidArgument("cache pool sizes must not be negative")
	case s.RunsPerSecond < 0:
		return invalidArgument("runs_per_second must not be negative, got %v", s.RunsPerSecond)
	case s.EvaluationTimeout < 0:
		return invalidArgument("evaluation_timeout must not be negative, got %v", s.EvaluationTimeout)
	}

	switch s.FailurePolicy {
	case "", FailureSoft, FailureHard:
	default:
		return invalidArgument("unknown failure_policy %q", s.FailurePolicy)
	}
	return nil
}

func (s EmulationSettings) batchSize() int {
	if s.BatchSize < 1 {
		return 1
	}
	return s.BatchSize
}

func (s EmulationSettings) poolSize(n int) int {
	if n > 0 {
		return n
	}
	return s.batchSize()
}

func (s EmulationSettings) String() string {
	return fmt.Sprintf("batch=%d adapters=%d storages=%d rps=%v timeout=%s policy=%s",
		s.batchSize(), s.poolSize(s.AdapterCaches), s.poolSize(s.StorageCaches),
		s.RunsPerSecond, s.EvaluationTimeout, s.FailurePolicy)
}
