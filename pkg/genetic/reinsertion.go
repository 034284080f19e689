package genetic

import (
	"fmt"
	"math/rand"
)

// Reinsertion decides which offspring and parents form the next generation
type Reinsertion interface {
	SelectChromosomes(population *Population, offspring, parents []Chromosome, rng *rand.Rand) ([]Chromosome, error)
}

// ElitistReinsertion keeps all offspring and tops up with the best parents
type ElitistReinsertion struct{}

// NewElitistReinsertion creates an elitist reinsertion
func NewElitistReinsertion() *ElitistReinsertion {
	return &ElitistReinsertion{}
}

// SelectChromosomes fills up to the population minimum with the fittest parents
func (r *ElitistReinsertion) SelectChromosomes(population *Population, offspring, parents []Chromosome, rng *rand.Rand) ([]Chromosome, error) {
	next := capped(offspring, population.MaxSize)

	ranked := rankByFitness(parents)
	for i := 0; len(next) < population.MinSize && len(ranked) > 0; i++ {
		next = append(next, ranked[i%len(ranked)].Clone())
	}
	return next, nil
}

// UniformReinsertion tops up with random copies of the offspring
type UniformReinsertion struct{}

// NewUniformReinsertion creates a uniform reinsertion
func NewUniformReinsertion() *UniformReinsertion {
	return &UniformReinsertion{}
}

// SelectChromosomes fills up to the population minimum with random offspring copies
func (r *UniformReinsertion) SelectChromosomes(population *Population, offspring, parents []Chromosome, rng *rand.Rand) ([]Chromosome, error) {
	if len(offspring) == 0 {
		return nil, fmt.Errorf("%w: uniform reinsertion needs offspring", ErrInvalidPopulation)
	}

	next := capped(offspring, population.MaxSize)
	for len(next) < population.MinSize {
		next = append(next, offspring[rng.Intn(len(offspring))].Clone())
	}
	return next, nil
}

// PureReinsertion replaces the generation with the offspring only
type PureReinsertion struct{}

// NewPureReinsertion creates a pure reinsertion
func NewPureReinsertion() *PureReinsertion {
	return &PureReinsertion{}
}

// SelectChromosomes returns the offspring, which must reach the population minimum
func (r *PureReinsertion) SelectChromosomes(population *Population, offspring, parents []Chromosome, rng *rand.Rand) ([]Chromosome, error) {
	if len(offspring) < population.MinSize {
		return nil, fmt.Errorf("%w: pure reinsertion got %d offspring, needs %d",
			ErrInvalidPopulation, len(offspring), population.MinSize)
	}
	return capped(offspring, population.MaxSize), nil
}

func capped(chromosomes []Chromosome, max int) []Chromosome {
	n := len(chromosomes)
	if max > 0 && n > max {
		n = max
	}
	out := make([]Chromosome, n, n+1)
	copy(out, chromosomes[:n])
	return out
}
