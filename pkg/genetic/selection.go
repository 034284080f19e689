package genetic

import (
	"fmt"
	"math/rand"
	"sort"
)

// Selection picks the parents that will breed the next generation
type Selection interface {
	Select(number int, generation *Generation, rng *rand.Rand) ([]Chromosome, error)
}

// EliteSelection picks the fittest chromosomes
type EliteSelection struct{}

// NewEliteSelection creates an elite selection
func NewEliteSelection() *EliteSelection {
	return &EliteSelection{}
}

// Select returns the number best chromosomes, cycling through the ranking when number exceeds it
func (s *EliteSelection) Select(number int, generation *Generation, rng *rand.Rand) ([]Chromosome, error) {
	if err := checkSelectionInput(number, generation); err != nil {
		return nil, err
	}

	ranked := rankByFitness(generation.Chromosomes)
	selected := make([]Chromosome, 0, number)
	for i := 0; i < number; i++ {
		selected = append(selected, ranked[i%len(ranked)])
	}
	return selected, nil
}

// RouletteWheelSelection picks chromosomes with probability proportional to their fitness
type RouletteWheelSelection struct{}

// NewRouletteWheelSelection creates a roulette wheel selection
func NewRouletteWheelSelection() *RouletteWheelSelection {
	return &RouletteWheelSelection{}
}

// Select spins the wheel number times. Fitness is shifted so the weakest evaluated
// chromosome still has a small slot; unevaluated or failed chromosomes get none.
func (s *RouletteWheelSelection) Select(number int, generation *Generation, rng *rand.Rand) ([]Chromosome, error) {
	if err := checkSelectionInput(number, generation); err != nil {
		return nil, err
	}

	chromosomes := generation.Chromosomes
	lowest := 0.0
	found := false
	for _, c := range chromosomes {
		f := fitnessOf(c)
		if f == MinFitness {
			continue
		}
		if !found || f < lowest {
			lowest = f
			found = true
		}
	}

	weights := make([]float64, len(chromosomes))
	total := 0.0
	for i, c := range chromosomes {
		f := fitnessOf(c)
		if f == MinFitness {
			continue
		}
		weights[i] = f - lowest + 1e-9
		total += weights[i]
	}

	selected := make([]Chromosome, 0, number)
	for i := 0; i < number; i++ {
		if total <= 0 {
			selected = append(selected, chromosomes[rng.Intn(len(chromosomes))])
			continue
		}
		pointer := rng.Float64() * total
		cumulative := 0.0
		picked := chromosomes[len(chromosomes)-1]
		for j, w := range weights {
			cumulative += w
			if pointer < cumulative {
				picked = chromosomes[j]
				break
			}
		}
		selected = append(selected, picked)
	}
	return selected, nil
}

// TournamentSelection runs Size-way tournaments and keeps each winner
type TournamentSelection struct {
	Size int

	// AllowWinnerCompeteNextTournament keeps winners in the candidate pool
	AllowWinnerCompeteNextTournament bool
}

// NewTournamentSelection creates a tournament selection of the given size
func NewTournamentSelection(size int, allowWinnerCompete bool) *TournamentSelection {
	if size < 2 {
		size = 2
	}
	return &TournamentSelection{Size: size, AllowWinnerCompeteNextTournament: allowWinnerCompete}
}

// Select runs number tournaments
func (s *TournamentSelection) Select(number int, generation *Generation, rng *rand.Rand) ([]Chromosome, error) {
	if err := checkSelectionInput(number, generation); err != nil {
		return nil, err
	}

	candidates := make([]Chromosome, len(generation.Chromosomes))
	copy(candidates, generation.Chromosomes)

	selected := make([]Chromosome, 0, number)
	for len(selected) < number {
		if len(candidates) < s.Size {
			return nil, fmt.Errorf("%w: tournament of %d needs more candidates, %d left", ErrInvalidPopulation, s.Size, len(candidates))
		}

		winner := -1
		for _, idx := range rng.Perm(len(candidates))[:s.Size] {
			if winner < 0 || fitnessOf(candidates[idx]) > fitnessOf(candidates[winner]) {
				winner = idx
			}
		}

		selected = append(selected, candidates[winner])
		if !s.AllowWinnerCompeteNextTournament {
			candidates = append(candidates[:winner], candidates[winner+1:]...)
		}
	}
	return selected, nil
}

func checkSelectionInput(number int, generation *Generation) error {
	if number < 2 {
		return fmt.Errorf("%w: cannot select fewer than 2 chromosomes, got %d", ErrInvalidPopulation, number)
	}
	if generation == nil || len(generation.Chromosomes) == 0 {
		return fmt.Errorf("%w: generation has no chromosomes", ErrInvalidPopulation)
	}
	return nil
}

// rankByFitness returns a copy of chromosomes sorted best first
func rankByFitness(chromosomes []Chromosome) []Chromosome {
	ranked := make([]Chromosome, len(chromosomes))
	copy(ranked, chromosomes)
	sort.SliceStable(ranked, func(i, j int) bool {
		return fitnessOf(ranked[i]) > fitnessOf(ranked[j])
	})
	return ranked
}
