package optimizer

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/spf13/cast"

	"github.com/ajitpratap0/stratopt/pkg/genetic"
	"github.com/ajitpratap0/stratopt/pkg/strategy"
)

// ParameterSpec is the search range of one strategy parameter.
//
// Numeric types take inclusive numeric bounds in From and To. Unit takes
// strategy.Unit bounds; the unit type comes from From and a nil To collapses
// the range to From. Security and string parameters take their candidate
// collection in From and ignore To.
type ParameterSpec struct {
	Param     *strategy.Param
	From      interface{}
	To        interface{}
	Precision int
}

// ID of the parameter
func (s ParameterSpec) ID() string {
	if s.Param == nil {
		return ""
	}
	return s.Param.ID
}

// GeneCodec generates random gene values from parameter specs
type GeneCodec struct {
	rng *rand.Rand
}

// NewGeneCodec creates a codec drawing from rng; nil uses a time seeded source
func NewGeneCodec(rng *rand.Rand) *GeneCodec {
	if rng == nil {
		rng = genetic.NewRand(0)
	}
	return &GeneCodec{rng: rng}
}

// Generate draws one gene for spec
func (c *GeneCodec) Generate(spec ParameterSpec) (genetic.Gene, error) {
	if spec.Param == nil {
		return genetic.Gene{}, invalidArgument("parameter spec without parameter")
	}
	if spec.Precision < 0 {
		return genetic.Gene{}, invalidArgument("parameter %s: negative precision %d", spec.ID(), spec.Precision)
	}

	var (
		v   interface{}
		err error
	)

	switch spec.Param.Type {
	case strategy.TypeSecurity, strategy.TypeString:
		v, err = c.pick(spec)
	case strategy.TypeUnit:
		v, err = c.unit(spec)
	case strategy.TypeFloat:
		v, err = c.float(spec)
	case strategy.TypeInt, strategy.TypeInt32, strategy.TypeInt64, strategy.TypeBool:
		v, err = c.integer(spec)
	default:
		return genetic.Gene{}, &UnsupportedParameterTypeError{Param: spec.ID(), Type: spec.Param.Type}
	}
	if err != nil {
		return genetic.Gene{}, err
	}

	return genetic.Gene{Value: v}, nil
}

func (c *GeneCodec) pick(spec ParameterSpec) (interface{}, error) {
	var n int
	var at func(i int) interface{}

	switch candidates := spec.From.(type) {
	case []*strategy.Security:
		n, at = len(candidates), func(i int) interface{} { return candidates[i] }
	case []string:
		n, at = len(candidates), func(i int) interface{} { return candidates[i] }
	case []interface{}:
		n, at = len(candidates), func(i int) interface{} { return candidates[i] }
	case strategy.SecurityProvider:
		all := candidates.All()
		n, at = len(all), func(i int) interface{} { return all[i] }
	default:
		return nil, invalidArgument("parameter %s: candidates must be a collection, got %T", spec.ID(), spec.From)
	}

	if n == 0 {
		return nil, invalidArgument("parameter %s: empty candidate collection", spec.ID())
	}
	return at(c.rng.Intn(n)), nil
}

func (c *GeneCodec) unit(spec ParameterSpec) (interface{}, error) {
	from, err := toUnit(spec.From)
	if err != nil {
		return nil, invalidArgument("parameter %s: lower bound: %v", spec.ID(), err)
	}

	to := from
	if spec.To != nil {
		if to, err = toUnit(spec.To); err != nil {
			return nil, invalidArgument("parameter %s: upper bound: %v", spec.ID(), err)
		}
	}

	v, err := c.decimal(spec.ID(), from.Value, to.Value, spec.Precision)
	if err != nil {
		return nil, err
	}
	return strategy.Unit{Value: v, Type: from.Type}, nil
}

func toUnit(v interface{}) (strategy.Unit, error) {
	switch u := v.(type) {
	case strategy.Unit:
		return u, nil
	case *strategy.Unit:
		if u == nil {
			return strategy.Unit{}, fmt.Errorf("nil unit")
		}
		return *u, nil
	default:
		return strategy.Unit{}, fmt.Errorf("expected unit, got %T", v)
	}
}

func (c *GeneCodec) float(spec ParameterSpec) (interface{}, error) {
	min, max, err := floatBounds(spec)
	if err != nil {
		return nil, err
	}
	return c.decimal(spec.ID(), min, max, spec.Precision)
}

func floatBounds(spec ParameterSpec) (float64, float64, error) {
	min, err := cast.ToFloat64E(spec.From)
	if err != nil {
		return 0, 0, invalidArgument("parameter %s: lower bound: %v", spec.ID(), err)
	}
	max, err := cast.ToFloat64E(spec.To)
	if err != nil {
		return 0, 0, invalidArgument("parameter %s: upper bound: %v", spec.ID(), err)
	}
	return min, max, nil
}

// decimal draws uniformly in [min, max] and rounds half away from zero to
// precision places, staying on the precision grid inside the bounds
func (c *GeneCodec) decimal(id string, min, max float64, precision int) (float64, error) {
	if min > max {
		return 0, invalidArgument("parameter %s: lower bound %v exceeds upper bound %v", id, min, max)
	}

	v := c.rng.Float64()*(max-min) + min
	scale := math.Pow(10, float64(precision))
	rounded := math.Round(v*scale) / scale

	switch {
	case rounded > max:
		rounded = math.Floor(max*scale) / scale
	case rounded < min:
		rounded = math.Ceil(min*scale) / scale
	}
	if rounded < min || rounded > max {
		// no grid point inside the bounds
		return math.Min(math.Max(v, min), max), nil
	}
	return rounded, nil
}

func (c *GeneCodec) integer(spec ParameterSpec) (interface{}, error) {
	min, err := cast.ToInt64E(spec.From)
	if err != nil {
		return nil, invalidArgument("parameter %s: lower bound: %v", spec.ID(), err)
	}
	max, err := cast.ToInt64E(spec.To)
	if err != nil {
		return nil, invalidArgument("parameter %s: upper bound: %v", spec.ID(), err)
	}
	if min > max {
		return nil, invalidArgument("parameter %s: lower bound %d exceeds upper bound %d", spec.ID(), min, max)
	}

	lo, hi := integerRange(spec.Param.Type)
	if min < lo || max > hi {
		return nil, invalidArgument("parameter %s: bounds [%d, %d] outside %s range [%d, %d]",
			spec.ID(), min, max, spec.Param.Type, lo, hi)
	}

	v := c.between(min, max)

	switch spec.Param.Type {
	case strategy.TypeInt32:
		return int32(v), nil
	case strategy.TypeInt64:
		return v, nil
	case strategy.TypeBool:
		return v != 0, nil
	default:
		return int(v), nil
	}
}

// integerRange is the inclusive range representable by an integer family type
func integerRange(t strategy.ParamType) (int64, int64) {
	switch t {
	case strategy.TypeInt32:
		return math.MinInt32, math.MaxInt32
	case strategy.TypeBool:
		return 0, 1
	case strategy.TypeInt64:
		return math.MinInt64, math.MaxInt64
	default:
		return math.MinInt, math.MaxInt
	}
}

// between draws uniformly in [min, max]. The span is computed unsigned so the
// full int64 range does not overflow.
func (c *GeneCodec) between(min, max int64) int64 {
	span := uint64(max) - uint64(min)

	var offset uint64
	switch {
	case span == math.MaxUint64:
		offset = c.rng.Uint64()
	case span < math.MaxInt64:
		offset = uint64(c.rng.Int63n(int64(span + 1)))
	default:
		n := span + 1
		for {
			offset = c.rng.Uint64()
			if offset < n {
				break
			}
		}
	}

	return int64(uint64(min) + offset)
}
