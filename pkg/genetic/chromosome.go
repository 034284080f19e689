// Package genetic provides a generational genetic algorithm engine with
// pluggable selection, crossover, mutation, reinsertion and termination rules.
package genetic

import (
	"fmt"
	"math"
)

// MinFitness is the score assigned to individuals that could not be evaluated.
// It is finite so fitness-proportionate operators can still do arithmetic on it.
const MinFitness = -math.MaxFloat64

// Gene is a single value within a chromosome
type Gene struct {
	Value interface{} `json:"value"`
}

// Chromosome is one candidate solution
type Chromosome interface {
	// Length is the fixed number of genes
	Length() int

	// Gene returns the gene at index
	Gene(index int) Gene

	// Genes returns a copy of all genes in order
	Genes() []Gene

	// ReplaceGene replaces the gene at index and clears the fitness
	ReplaceGene(index int, gene Gene)

	// GenerateGene produces a fresh random gene for index
	GenerateGene(index int) (Gene, error)

	// CreateNew returns an independent, freshly randomized chromosome of the same structure
	CreateNew() (Chromosome, error)

	// Clone returns a copy with the same genes and fitness
	Clone() Chromosome

	// Fitness returns the score and whether it has been evaluated
	Fitness() (float64, bool)

	// SetFitness records the evaluated score
	SetFitness(fitness float64)
}

// ChromosomeBase implements gene storage and fitness bookkeeping.
// Concrete chromosomes embed it and provide GenerateGene, CreateNew and Clone.
type ChromosomeBase struct {
	genes      []Gene
	fitness    float64
	hasFitness bool
}

// NewChromosomeBase allocates storage for length genes
func NewChromosomeBase(length int) ChromosomeBase {
	return ChromosomeBase{genes: make([]Gene, length)}
}

// Length returns the number of genes
func (c *ChromosomeBase) Length() int {
	return len(c.genes)
}

// Gene returns the gene at index
func (c *ChromosomeBase) Gene(index int) Gene {
	return c.genes[index]
}

// Genes returns a copy of the genes
func (c *ChromosomeBase) Genes() []Gene {
	out := make([]Gene, len(c.genes))
	copy(out, c.genes)
	return out
}

// ReplaceGene replaces one gene. The fitness no longer describes the genes, so it is cleared.
func (c *ChromosomeBase) ReplaceGene(index int, gene Gene) {
	if index < 0 || index >= len(c.genes) {
		panic(fmt.Sprintf("genetic: gene index %d out of range [0,%d)", index, len(c.genes)))
	}
	c.genes[index] = gene
	c.hasFitness = false
	c.fitness = 0
}

// Fitness returns the evaluated score
func (c *ChromosomeBase) Fitness() (float64, bool) {
	return c.fitness, c.hasFitness
}

// SetFitness records the evaluated score
func (c *ChromosomeBase) SetFitness(fitness float64) {
	c.fitness = fitness
	c.hasFitness = true
}

// CopyFrom copies genes and fitness from other into c
func (c *ChromosomeBase) CopyFrom(other *ChromosomeBase) {
	c.genes = make([]Gene, len(other.genes))
	copy(c.genes, other.genes)
	c.fitness = other.fitness
	c.hasFitness = other.hasFitness
}

// Randomize fills every gene of c with freshly generated values
func Randomize(c Chromosome) error {
	for i := 0; i < c.Length(); i++ {
		gene, err := c.GenerateGene(i)
		if err != nil {
			return err
		}
		c.ReplaceGene(i, gene)
	}
	return nil
}

// fitnessOf returns the fitness of c, or MinFitness when it was never evaluated
func fitnessOf(c Chromosome) float64 {
	f, ok := c.Fitness()
	if !ok {
		return MinFitness
	}
	return f
}
