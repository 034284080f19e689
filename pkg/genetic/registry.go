package genetic

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownOperator is returned when an operator identifier has no registered factory
var ErrUnknownOperator = errors.New("unknown genetic operator")

// Operator identifiers accepted in settings
const (
	SelectionElite         = "elite"
	SelectionRouletteWheel = "roulette-wheel"
	SelectionTournament    = "tournament"

	CrossoverUniform  = "uniform"
	CrossoverOnePoint = "one-point"
	CrossoverTwoPoint = "two-point"

	MutationUniform = "uniform"
	MutationPerGene = "per-gene"

	ReinsertionElitist = "elitist"
	ReinsertionUniform = "uniform"
	ReinsertionPure    = "pure"
)

type registry[T any] struct {
	kind      string
	mu        sync.RWMutex
	factories map[string]func() T
}

func newRegistry[T any](kind string) *registry[T] {
	return &registry[T]{kind: kind, factories: make(map[string]func() T)}
}

func (r *registry[T]) register(name string, factory func() T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

func (r *registry[T]) create(name string) (T, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s %q (known: %v)", ErrUnknownOperator, r.kind, name, r.names())
	}
	return factory(), nil
}

func (r *registry[T]) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	selections   = newRegistry[Selection]("selection")
	crossovers   = newRegistry[Crossover]("crossover")
	mutations    = newRegistry[Mutation]("mutation")
	reinsertions = newRegistry[Reinsertion]("reinsertion")
)

func init() {
	RegisterSelection(SelectionElite, func() Selection { return NewEliteSelection() })
	RegisterSelection(SelectionRouletteWheel, func() Selection { return NewRouletteWheelSelection() })
	RegisterSelection(SelectionTournament, func() Selection { return NewTournamentSelection(2, true) })

	RegisterCrossover(CrossoverUniform, func() Crossover { return NewUniformCrossover(0.5) })
	RegisterCrossover(CrossoverOnePoint, func() Crossover { return NewOnePointCrossover() })
	RegisterCrossover(CrossoverTwoPoint, func() Crossover { return NewTwoPointCrossover() })

	RegisterMutation(MutationUniform, func() Mutation { return NewUniformMutation() })
	RegisterMutation(MutationPerGene, func() Mutation { return NewPerGeneMutation() })

	RegisterReinsertion(ReinsertionElitist, func() Reinsertion { return NewElitistReinsertion() })
	RegisterReinsertion(ReinsertionUniform, func() Reinsertion { return NewUniformReinsertion() })
	RegisterReinsertion(ReinsertionPure, func() Reinsertion { return NewPureReinsertion() })
}

// RegisterSelection makes a selection available under name
func RegisterSelection(name string, factory func() Selection) { selections.register(name, factory) }

// RegisterCrossover makes a crossover available under name
func RegisterCrossover(name string, factory func() Crossover) { crossovers.register(name, factory) }

// RegisterMutation makes a mutation available under name
func RegisterMutation(name string, factory func() Mutation) { mutations.register(name, factory) }

// RegisterReinsertion makes a reinsertion available under name
func RegisterReinsertion(name string, factory func() Reinsertion) {
	reinsertions.register(name, factory)
}

// NewSelection instantiates the selection registered under name
func NewSelection(name string) (Selection, error) { return selections.create(name) }

// NewCrossover instantiates the crossover registered under name
func NewCrossover(name string) (Crossover, error) { return crossovers.create(name) }

// NewMutation instantiates the mutation registered under name
func NewMutation(name string) (Mutation, error) { return mutations.create(name) }

// NewReinsertion instantiates the reinsertion registered under name
func NewReinsertion(name string) (Reinsertion, error) { return reinsertions.create(name) }
