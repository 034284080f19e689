package genetic

// Termination decides when the generational loop ends. It is consulted once
// after every generation and may keep state between calls.
type Termination interface {
	HasReached(ga *GeneticAlgorithm) bool
}

// FitnessStagnationTermination ends the run once the best fitness has held for
// ExpectedStagnantGenerations consecutive generations. The generation that sets
// a new best counts as the first of them.
type FitnessStagnationTermination struct {
	ExpectedStagnantGenerations int

	lastFitness float64
	seen        bool
	stagnant    int
}

// NewFitnessStagnationTermination creates a stagnation rule
func NewFitnessStagnationTermination(generations int) *FitnessStagnationTermination {
	return &FitnessStagnationTermination{ExpectedStagnantGenerations: generations}
}

// HasReached counts non-improving generations
func (t *FitnessStagnationTermination) HasReached(ga *GeneticAlgorithm) bool {
	best := ga.BestFitness()

	switch {
	case !t.seen:
		t.seen = true
		t.lastFitness = best
		t.stagnant = 1
	case best > t.lastFitness:
		t.lastFitness = best
		t.stagnant = 1
	default:
		t.stagnant++
	}

	return t.stagnant >= t.ExpectedStagnantGenerations
}

// GenerationNumberTermination ends the run once N generations have been evaluated
type GenerationNumberTermination struct {
	ExpectedGenerations int
}

// NewGenerationNumberTermination creates a generation count rule
func NewGenerationNumberTermination(generations int) *GenerationNumberTermination {
	return &GenerationNumberTermination{ExpectedGenerations: generations}
}

// HasReached compares the evaluated generation count
func (t *GenerationNumberTermination) HasReached(ga *GeneticAlgorithm) bool {
	return ga.GenerationsNumber() >= t.ExpectedGenerations
}

// OrTermination is reached when any inner rule is reached. Every rule is consulted
// on each call so stateful rules keep counting.
type OrTermination struct {
	Terminations []Termination
}

// NewOrTermination combines rules with logical OR
func NewOrTermination(terminations ...Termination) *OrTermination {
	return &OrTermination{Terminations: terminations}
}

func (t *OrTermination) HasReached(ga *GeneticAlgorithm) bool {
	reached := false
	for _, inner := range t.Terminations {
		if inner.HasReached(ga) {
			reached = true
		}
	}
	return reached
}

// AndTermination is reached when all inner rules are reached
type AndTermination struct {
	Terminations []Termination
}

// NewAndTermination combines rules with logical AND
func NewAndTermination(terminations ...Termination) *AndTermination {
	return &AndTermination{Terminations: terminations}
}

func (t *AndTermination) HasReached(ga *GeneticAlgorithm) bool {
	if len(t.Terminations) == 0 {
		return false
	}
	reached := true
	for _, inner := range t.Terminations {
		if !inner.HasReached(ga) {
			reached = false
		}
	}
	return reached
}
