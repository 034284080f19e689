package optimizer

import (
	"fmt"

	"github.com/ajitpratap0/stratopt/pkg/genetic"
	"github.com/ajitpratap0/stratopt/pkg/strategy"
)

// ParametersChromosome holds one gene per ParameterSpec, index aligned
type ParametersChromosome struct {
	genetic.ChromosomeBase

	specs []ParameterSpec
	codec *GeneCodec
}

// NewParametersChromosome creates a chromosome with freshly generated genes
func NewParametersChromosome(specs []ParameterSpec, codec *GeneCodec) (*ParametersChromosome, error) {
	if len(specs) == 0 {
		return nil, invalidArgument("at least one parameter spec is required")
	}
	if codec == nil {
		codec = NewGeneCodec(nil)
	}

	c := &ParametersChromosome{
		ChromosomeBase: genetic.NewChromosomeBase(len(specs)),
		specs:          specs,
		codec:          codec,
	}
	if err := genetic.Randomize(c); err != nil {
		return nil, err
	}
	return c, nil
}

// GenerateGene draws a new value for the parameter at index
func (c *ParametersChromosome) GenerateGene(index int) (genetic.Gene, error) {
	return c.codec.Generate(c.specs[index])
}

// CreateNew builds an independent chromosome over the same specs
func (c *ParametersChromosome) CreateNew() (genetic.Chromosome, error) {
	return NewParametersChromosome(c.specs, c.codec)
}

// Clone copies genes and fitness
func (c *ParametersChromosome) Clone() genetic.Chromosome {
	clone := &ParametersChromosome{specs: c.specs, codec: c.codec}
	clone.CopyFrom(&c.ChromosomeBase)
	return clone
}

// Specs returns the parameter specs the genes are aligned with
func (c *ParametersChromosome) Specs() []ParameterSpec {
	return c.specs
}

// Values maps parameter IDs to gene values
func (c *ParametersChromosome) Values() map[string]interface{} {
	out := make(map[string]interface{}, len(c.specs))
	for i, spec := range c.specs {
		out[spec.ID()] = c.Gene(i).Value
	}
	return out
}

// Apply writes every gene into the matching parameter of params
func (c *ParametersChromosome) Apply(params *strategy.Params) error {
	for i, spec := range c.specs {
		p, ok := params.Get(spec.ID())
		if !ok {
			return fmt.Errorf("strategy has no parameter %q", spec.ID())
		}
		p.SetValue(c.Gene(i).Value)
	}
	return nil
}
