package genetic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scoredGeneration builds a generation whose chromosome i has fitness scores[i]
func scoredGeneration(t *testing.T, scores ...float64) *Generation {
	t.Helper()
	rng := NewRand(7)
	chromosomes := make([]Chromosome, len(scores))
	for i, s := range scores {
		c := newIntChromosome(3, 10, rng)
		c.SetFitness(s)
		chromosomes[i] = c
	}
	gen, err := NewGeneration(1, chromosomes)
	require.NoError(t, err)
	return gen
}

func fitnessValues(chromosomes []Chromosome) []float64 {
	out := make([]float64, len(chromosomes))
	for i, c := range chromosomes {
		out[i] = fitnessOf(c)
	}
	return out
}

// ============================================================================
// SELECTION TESTS
// ============================================================================

func TestEliteSelection_PicksFittest(t *testing.T) {
	gen := scoredGeneration(t, 3, 9, 1, 7)

	selected, err := NewEliteSelection().Select(3, gen, NewRand(1))
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 7, 3}, fitnessValues(selected))
}

func TestEliteSelection_CyclesWhenAskedForMore(t *testing.T) {
	gen := scoredGeneration(t, 2, 5)

	selected, err := NewEliteSelection().Select(4, gen, NewRand(1))
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 2, 5, 2}, fitnessValues(selected))
}

func TestRouletteWheelSelection_IgnoresFailedChromosomes(t *testing.T) {
	gen := scoredGeneration(t, MinFitness, 10, MinFitness, 20)

	selected, err := NewRouletteWheelSelection().Select(50, gen, NewRand(3))
	require.NoError(t, err)
	require.Len(t, selected, 50)
	for _, c := range selected {
		assert.NotEqual(t, MinFitness, fitnessOf(c))
	}
}

func TestRouletteWheelSelection_AllFailedFallsBackToUniform(t *testing.T) {
	gen := scoredGeneration(t, MinFitness, MinFitness, MinFitness)

	selected, err := NewRouletteWheelSelection().Select(6, gen, NewRand(3))
	require.NoError(t, err)
	assert.Len(t, selected, 6)
}

func TestTournamentSelection(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		allow   bool
		number  int
		wantErr bool
	}{
		{"winners may compete again", 2, true, 6, false},
		{"winners removed", 2, false, 3, false},
		{"winners removed runs out of candidates", 2, false, 4, true},
		{"size below two is raised", 0, true, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := scoredGeneration(t, 1, 2, 3, 4)
			selection := NewTournamentSelection(tt.size, tt.allow)
			assert.GreaterOrEqual(t, selection.Size, 2)

			selected, err := selection.Select(tt.number, gen, NewRand(11))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPopulation)
				return
			}
			require.NoError(t, err)
			assert.Len(t, selected, tt.number)
			for _, c := range selected {
				// the weakest chromosome can never win a two-way tournament
				assert.NotEqual(t, 1.0, fitnessOf(c))
			}
		})
	}
}

func TestSelection_RejectsFewerThanTwo(t *testing.T) {
	gen := scoredGeneration(t, 1, 2)
	_, err := NewEliteSelection().Select(1, gen, NewRand(1))
	assert.ErrorIs(t, err, ErrInvalidPopulation)
}

// ============================================================================
// CROSSOVER TESTS
// ============================================================================

func TestCrossover_ChildrenTakeGenesFromParents(t *testing.T) {
	rng := NewRand(5)
	p1 := newIntChromosome(6, 0, rng) // all zeros
	p2 := &intChromosome{ChromosomeBase: NewChromosomeBase(6), max: 0, rng: rng}
	for i := 0; i < 6; i++ {
		p2.ReplaceGene(i, Gene{Value: 1})
	}

	tests := []struct {
		name      string
		crossover Crossover
	}{
		{"uniform", NewUniformCrossover(0.5)},
		{"one-point", NewOnePointCrossover()},
		{"two-point", NewTwoPointCrossover()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			children, err := tt.crossover.Cross([]Chromosome{p1, p2}, rng)
			require.NoError(t, err)
			require.Len(t, children, tt.crossover.ChildrenNumber())

			for i := 0; i < 6; i++ {
				a := children[0].Gene(i).Value.(int)
				b := children[1].Gene(i).Value.(int)
				// children are complementary at every position
				assert.Equal(t, 1, a+b)
			}
			_, evaluated := children[0].Fitness()
			assert.False(t, evaluated)
		})
	}
}

func TestOnePointCrossover_FixedSwapPoint(t *testing.T) {
	rng := NewRand(5)
	p1 := newIntChromosome(4, 0, rng)
	p2 := &intChromosome{ChromosomeBase: NewChromosomeBase(4), rng: rng}
	for i := 0; i < 4; i++ {
		p2.ReplaceGene(i, Gene{Value: 1})
	}

	children, err := (&OnePointCrossover{SwapPoint: 1}).Cross([]Chromosome{p1, p2}, rng)
	require.NoError(t, err)

	var genes []int
	for _, g := range children[0].Genes() {
		genes = append(genes, g.Value.(int))
	}
	assert.Equal(t, []int{0, 0, 1, 1}, genes)
}

func TestCrossover_RejectsMismatchedParents(t *testing.T) {
	rng := NewRand(5)
	_, err := NewUniformCrossover(0.5).Cross([]Chromosome{newIntChromosome(3, 1, rng), newIntChromosome(4, 1, rng)}, rng)
	assert.ErrorIs(t, err, ErrInvalidPopulation)

	_, err = NewOnePointCrossover().Cross([]Chromosome{newIntChromosome(3, 1, rng)}, rng)
	assert.ErrorIs(t, err, ErrInvalidPopulation)
}

// ============================================================================
// MUTATION TESTS
// ============================================================================

func TestPerGeneMutation_CertainProbabilityRegeneratesEveryGene(t *testing.T) {
	rng := NewRand(9)
	c := newIntChromosome(5, 0, rng)
	c.max = 100
	for i := 0; i < 5; i++ {
		c.ReplaceGene(i, Gene{Value: -1})
	}
	c.SetFitness(3)

	require.NoError(t, NewPerGeneMutation().Mutate(c, 1, rng))
	for _, g := range c.Genes() {
		assert.GreaterOrEqual(t, g.Value.(int), 0)
	}
	_, evaluated := c.Fitness()
	assert.False(t, evaluated)
}

func TestUniformMutation_ZeroProbabilityLeavesChromosome(t *testing.T) {
	rng := NewRand(9)
	c := newIntChromosome(5, 10, rng)
	before := c.Genes()
	c.SetFitness(4)

	require.NoError(t, NewUniformMutation().Mutate(c, 0, rng))
	assert.Equal(t, before, c.Genes())
	f, evaluated := c.Fitness()
	assert.True(t, evaluated)
	assert.Equal(t, 4.0, f)
}

// ============================================================================
// REINSERTION TESTS
// ============================================================================

func TestReinsertion(t *testing.T) {
	rng := NewRand(13)
	population, err := NewPopulation(4, 6, newIntChromosome(3, 10, rng))
	require.NoError(t, err)

	parents := scoredGeneration(t, 1, 8, 5, 3).Chromosomes
	offspring := scoredGeneration(t, 2, 2).Chromosomes
	many := scoredGeneration(t, 1, 1, 1, 1, 1, 1, 1, 1).Chromosomes

	t.Run("elitist tops up with best parents", func(t *testing.T) {
		next, err := NewElitistReinsertion().SelectChromosomes(population, offspring, parents, rng)
		require.NoError(t, err)
		assert.Equal(t, []float64{2, 2, 8, 5}, fitnessValues(next))
	})

	t.Run("elitist caps at maximum", func(t *testing.T) {
		next, err := NewElitistReinsertion().SelectChromosomes(population, many, parents, rng)
		require.NoError(t, err)
		assert.Len(t, next, 6)
	})

	t.Run("uniform tops up from offspring", func(t *testing.T) {
		next, err := NewUniformReinsertion().SelectChromosomes(population, offspring, parents, rng)
		require.NoError(t, err)
		assert.Equal(t, []float64{2, 2, 2, 2}, fitnessValues(next))
	})

	t.Run("pure requires enough offspring", func(t *testing.T) {
		_, err := NewPureReinsertion().SelectChromosomes(population, offspring, parents, rng)
		assert.ErrorIs(t, err, ErrInvalidPopulation)

		next, err := NewPureReinsertion().SelectChromosomes(population, many, parents, rng)
		require.NoError(t, err)
		assert.Len(t, next, 6)
	})
}

// ============================================================================
// POPULATION AND REGISTRY TESTS
// ============================================================================

func TestNewPopulation_Validation(t *testing.T) {
	adam := newIntChromosome(2, 1, NewRand(1))

	_, err := NewPopulation(1, 4, adam)
	assert.ErrorIs(t, err, ErrInvalidPopulation)

	_, err = NewPopulation(4, 3, adam)
	assert.ErrorIs(t, err, ErrInvalidPopulation)

	_, err = NewPopulation(2, 2, nil)
	assert.ErrorIs(t, err, ErrInvalidPopulation)
}

func TestPopulation_BestIsKeptAcrossGenerations(t *testing.T) {
	rng := NewRand(1)
	population, err := NewPopulation(2, 4, newIntChromosome(2, 1, rng))
	require.NoError(t, err)

	require.NoError(t, population.CreateNewGeneration(scoredGeneration(t, 4, 9).Chromosomes))
	population.EndCurrentGeneration()
	require.NoError(t, population.CreateNewGeneration(scoredGeneration(t, 1, 2).Chromosomes))
	population.EndCurrentGeneration()

	assert.Equal(t, 2, population.GenerationsNumber())
	assert.Equal(t, 9.0, fitnessOf(population.BestChromosome()))
	assert.Equal(t, 2.0, fitnessOf(population.CurrentGeneration().BestChromosome))
}

func TestRegistry(t *testing.T) {
	for _, name := range []string{SelectionElite, SelectionRouletteWheel, SelectionTournament} {
		s, err := NewSelection(name)
		require.NoError(t, err, name)
		assert.NotNil(t, s)
	}
	for _, name := range []string{CrossoverUniform, CrossoverOnePoint, CrossoverTwoPoint} {
		c, err := NewCrossover(name)
		require.NoError(t, err, name)
		assert.NotNil(t, c)
	}
	for _, name := range []string{MutationUniform, MutationPerGene} {
		m, err := NewMutation(name)
		require.NoError(t, err, name)
		assert.NotNil(t, m)
	}
	for _, name := range []string{ReinsertionElitist, ReinsertionUniform, ReinsertionPure} {
		r, err := NewReinsertion(name)
		require.NoError(t, err, name)
		assert.NotNil(t, r)
	}

	_, err := NewSelection("lottery")
	assert.ErrorIs(t, err, ErrUnknownOperator)
	assert.Contains(t, err.Error(), "tournament")

	RegisterMutation("noop", func() Mutation { return &PerGeneMutation{} })
	m, err := NewMutation("noop")
	require.NoError(t, err)
	assert.IsType(t, &PerGeneMutation{}, m)
}
