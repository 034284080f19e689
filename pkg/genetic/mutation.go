package genetic

import (
	"math/rand"
)

// Mutation perturbs a chromosome in place
type Mutation interface {
	Mutate(c Chromosome, probability float64, rng *rand.Rand) error
}

// UniformMutation regenerates one randomly chosen gene with the given probability
type UniformMutation struct{}

// NewUniformMutation creates a uniform mutation
func NewUniformMutation() *UniformMutation {
	return &UniformMutation{}
}

// Mutate regenerates a single gene
func (m *UniformMutation) Mutate(c Chromosome, probability float64, rng *rand.Rand) error {
	if c.Length() == 0 || rng.Float64() >= probability {
		return nil
	}

	index := rng.Intn(c.Length())
	gene, err := c.GenerateGene(index)
	if err != nil {
		return err
	}
	c.ReplaceGene(index, gene)
	return nil
}

// PerGeneMutation regenerates every gene independently with the given probability
type PerGeneMutation struct{}

// NewPerGeneMutation creates a per-gene mutation
func NewPerGeneMutation() *PerGeneMutation {
	return &PerGeneMutation{}
}

// Mutate rolls once per gene
func (m *PerGeneMutation) Mutate(c Chromosome, probability float64, rng *rand.Rand) error {
	for i := 0; i < c.Length(); i++ {
		if rng.Float64() >= probability {
			continue
		}
		gene, err := c.GenerateGene(i)
		if err != nil {
			return err
		}
		c.ReplaceGene(i, gene)
	}
	return nil
}
