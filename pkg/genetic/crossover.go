package genetic

import (
	"fmt"
	"math/rand"
)

// Crossover recombines parents into children
type Crossover interface {
	ParentsNumber() int
	ChildrenNumber() int
	Cross(parents []Chromosome, rng *rand.Rand) ([]Chromosome, error)
}

// UniformCrossover takes each gene from either parent with MixProbability
type UniformCrossover struct {
	MixProbability float64
}

// NewUniformCrossover creates a uniform crossover with the given mix probability
func NewUniformCrossover(mixProbability float64) *UniformCrossover {
	return &UniformCrossover{MixProbability: mixProbability}
}

func (c *UniformCrossover) ParentsNumber() int  { return 2 }
func (c *UniformCrossover) ChildrenNumber() int { return 2 }

// Cross produces two complementary children
func (c *UniformCrossover) Cross(parents []Chromosome, rng *rand.Rand) ([]Chromosome, error) {
	p1, p2, err := twoParents(parents)
	if err != nil {
		return nil, err
	}

	child1, child2 := p1.Clone(), p2.Clone()
	for i := 0; i < p1.Length(); i++ {
		if rng.Float64() < c.MixProbability {
			child1.ReplaceGene(i, p1.Gene(i))
			child2.ReplaceGene(i, p2.Gene(i))
		} else {
			child1.ReplaceGene(i, p2.Gene(i))
			child2.ReplaceGene(i, p1.Gene(i))
		}
	}
	return []Chromosome{child1, child2}, nil
}

// OnePointCrossover swaps the gene tails after a single cut point
type OnePointCrossover struct {
	// SwapPoint is the last index taken from the first parent; negative picks it at random
	SwapPoint int
}

// NewOnePointCrossover creates a one-point crossover with a random cut
func NewOnePointCrossover() *OnePointCrossover {
	return &OnePointCrossover{SwapPoint: -1}
}

func (c *OnePointCrossover) ParentsNumber() int  { return 2 }
func (c *OnePointCrossover) ChildrenNumber() int { return 2 }

// Cross cuts both parents at the same point. Chromosomes with a single gene have
// no cut point and are copied unchanged.
func (c *OnePointCrossover) Cross(parents []Chromosome, rng *rand.Rand) ([]Chromosome, error) {
	p1, p2, err := twoParents(parents)
	if err != nil {
		return nil, err
	}

	length := p1.Length()
	if length < 2 {
		return []Chromosome{p1.Clone(), p2.Clone()}, nil
	}

	point := c.SwapPoint
	if point < 0 || point >= length-1 {
		point = rng.Intn(length - 1)
	}

	return []Chromosome{
		splice(p1, p2, func(i int) bool { return i <= point }),
		splice(p2, p1, func(i int) bool { return i <= point }),
	}, nil
}

// TwoPointCrossover exchanges the genes between two cut points
type TwoPointCrossover struct{}

// NewTwoPointCrossover creates a two-point crossover
func NewTwoPointCrossover() *TwoPointCrossover {
	return &TwoPointCrossover{}
}

func (c *TwoPointCrossover) ParentsNumber() int  { return 2 }
func (c *TwoPointCrossover) ChildrenNumber() int { return 2 }

// Cross picks two distinct cut points. Short chromosomes degrade to one-point crossover.
func (c *TwoPointCrossover) Cross(parents []Chromosome, rng *rand.Rand) ([]Chromosome, error) {
	p1, p2, err := twoParents(parents)
	if err != nil {
		return nil, err
	}

	length := p1.Length()
	if length < 3 {
		return NewOnePointCrossover().Cross(parents, rng)
	}

	cuts := rng.Perm(length - 1)[:2]
	first, second := cuts[0], cuts[1]
	if first > second {
		first, second = second, first
	}
	outer := func(i int) bool { return i <= first || i > second }

	return []Chromosome{splice(p1, p2, outer), splice(p2, p1, outer)}, nil
}

// splice builds a child taking gene i from primary when fromPrimary(i), else from secondary
func splice(primary, secondary Chromosome, fromPrimary func(i int) bool) Chromosome {
	child := primary.Clone()
	for i := 0; i < primary.Length(); i++ {
		if fromPrimary(i) {
			child.ReplaceGene(i, primary.Gene(i))
		} else {
			child.ReplaceGene(i, secondary.Gene(i))
		}
	}
	return child
}

func twoParents(parents []Chromosome) (Chromosome, Chromosome, error) {
	if len(parents) != 2 {
		return nil, nil, fmt.Errorf("%w: crossover needs 2 parents, got %d", ErrInvalidPopulation, len(parents))
	}
	if parents[0].Length() != parents[1].Length() {
		return nil, nil, fmt.Errorf("%w: parents have different lengths %d and %d",
			ErrInvalidPopulation, parents[0].Length(), parents[1].Length())
	}
	return parents[0], parents[1], nil
}
