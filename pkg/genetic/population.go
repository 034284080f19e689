package genetic

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrInvalidPopulation is returned for inconsistent population sizes or empty generations
	ErrInvalidPopulation = errors.New("invalid population")
)

// maxStoredGenerations bounds the generation history kept in memory
const maxStoredGenerations = 10

// Generation is one evaluated set of chromosomes
type Generation struct {
	Number         int
	CreatedAt      time.Time
	Chromosomes    []Chromosome
	BestChromosome Chromosome
}

// NewGeneration creates generation number from chromosomes
func NewGeneration(number int, chromosomes []Chromosome) (*Generation, error) {
	if number < 1 {
		return nil, fmt.Errorf("%w: generation number must be positive, got %d", ErrInvalidPopulation, number)
	}
	if len(chromosomes) < 2 {
		return nil, fmt.Errorf("%w: a generation needs at least 2 chromosomes, got %d", ErrInvalidPopulation, len(chromosomes))
	}

	return &Generation{
		Number:      number,
		CreatedAt:   time.Now(),
		Chromosomes: chromosomes,
	}, nil
}

// end sorts chromosomes by fitness, best first, and records the best one
func (g *Generation) end(maxSize int) {
	sort.SliceStable(g.Chromosomes, func(i, j int) bool {
		return fitnessOf(g.Chromosomes[i]) > fitnessOf(g.Chromosomes[j])
	})
	if maxSize > 0 && len(g.Chromosomes) > maxSize {
		g.Chromosomes = g.Chromosomes[:maxSize]
	}
	g.BestChromosome = g.Chromosomes[0]
}

// Population holds the current generation and a short history. Readers may
// query it while the loop goroutine evolves it.
type Population struct {
	MinSize int
	MaxSize int

	mu          sync.RWMutex
	adam        Chromosome
	generations []*Generation
	current     *Generation
	number      int
	best        Chromosome

	// OnBestChromosomeChanged is invoked when a generation produces a new best
	OnBestChromosomeChanged func(best Chromosome)
}

// NewPopulation creates a population that grows from the adam chromosome
func NewPopulation(minSize, maxSize int, adam Chromosome) (*Population, error) {
	if minSize < 2 {
		return nil, fmt.Errorf("%w: minimum size must be at least 2, got %d", ErrInvalidPopulation, minSize)
	}
	if maxSize < minSize {
		return nil, fmt.Errorf("%w: maximum size %d is lower than minimum size %d", ErrInvalidPopulation, maxSize, minSize)
	}
	if adam == nil {
		return nil, fmt.Errorf("%w: adam chromosome is required", ErrInvalidPopulation)
	}

	return &Population{
		MinSize: minSize,
		MaxSize: maxSize,
		adam:    adam,
	}, nil
}

// CreateInitialGeneration seeds MinSize fresh chromosomes from the adam chromosome
func (p *Population) CreateInitialGeneration() error {
	p.mu.Lock()
	p.generations = nil
	p.number = 0
	p.best = nil
	p.current = nil
	p.mu.Unlock()

	chromosomes := make([]Chromosome, 0, p.MinSize)
	for i := 0; i < p.MinSize; i++ {
		c, err := p.adam.CreateNew()
		if err != nil {
			return fmt.Errorf("failed to create chromosome %d: %w", i, err)
		}
		chromosomes = append(chromosomes, c)
	}

	return p.CreateNewGeneration(chromosomes)
}

// CreateNewGeneration makes chromosomes the current generation
func (p *Population) CreateNewGeneration(chromosomes []Chromosome) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	gen, err := NewGeneration(p.number+1, chromosomes)
	if err != nil {
		return err
	}

	p.number++
	p.current = gen
	p.generations = append(p.generations, gen)
	if len(p.generations) > maxStoredGenerations {
		p.generations = p.generations[len(p.generations)-maxStoredGenerations:]
	}

	return nil
}

// EndCurrentGeneration ranks the current generation and updates the overall best
func (p *Population) EndCurrentGeneration() {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return
	}

	p.current.end(p.MaxSize)

	var changed Chromosome
	candidate := p.current.BestChromosome
	if p.best == nil || fitnessOf(candidate) > fitnessOf(p.best) {
		p.best = candidate.Clone()
		changed = p.best
	}
	p.mu.Unlock()

	if changed != nil && p.OnBestChromosomeChanged != nil {
		p.OnBestChromosomeChanged(changed)
	}
}

// CurrentGeneration returns the generation being evolved
func (p *Population) CurrentGeneration() *Generation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// GenerationsNumber is the number of generations created since seeding
func (p *Population) GenerationsNumber() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.number
}

// Generations returns the retained history, oldest first
func (p *Population) Generations() []*Generation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Generation(nil), p.generations...)
}

// BestChromosome is the best chromosome seen across all generations. The
// returned chromosome is a copy that the loop never modifies.
func (p *Population) BestChromosome() Chromosome {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.best
}
