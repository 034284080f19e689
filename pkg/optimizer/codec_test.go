package optimizer

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stratopt/pkg/genetic"
	"github.com/ajitpratap0/stratopt/pkg/strategy"
)

const draws = 500

func onGrid(v float64, precision int) bool {
	scale := math.Pow(10, float64(precision))
	return math.Abs(v*scale-math.Round(v*scale)) < 1e-6
}

func TestGeneCodec_IntegerTypes(t *testing.T) {
	tests := []struct {
		name  string
		typ   strategy.ParamType
		check func(t *testing.T, v interface{})
	}{
		{"int", strategy.TypeInt, func(t *testing.T, v interface{}) {
			i, ok := v.(int)
			require.True(t, ok, "got %T", v)
			assert.True(t, i >= 1 && i <= 10, "value %d out of bounds", i)
		}},
		{"int32", strategy.TypeInt32, func(t *testing.T, v interface{}) {
			i, ok := v.(int32)
			require.True(t, ok, "got %T", v)
			assert.True(t, i >= 1 && i <= 10)
		}},
		{"int64", strategy.TypeInt64, func(t *testing.T, v interface{}) {
			i, ok := v.(int64)
			require.True(t, ok, "got %T", v)
			assert.True(t, i >= 1 && i <= 10)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := NewGeneCodec(genetic.NewRand(1))
			spec := ParameterSpec{Param: strategy.NewParam("p", tt.typ, 0), From: 1, To: 10}

			seen := map[interface{}]bool{}
			for i := 0; i < draws; i++ {
				gene, err := codec.Generate(spec)
				require.NoError(t, err)
				tt.check(t, gene.Value)
				seen[gene.Value] = true
			}
			assert.Len(t, seen, 10, "every value in [1,10] is reachable")
		})
	}

	t.Run("bounds outside type range", func(t *testing.T) {
		cases := []struct {
			typ      strategy.ParamType
			from, to interface{}
		}{
			{strategy.TypeInt32, int64(1) << 31, int64(1)<<31 + 10},
			{strategy.TypeInt32, int64(math.MinInt32) - 1, 0},
			{strategy.TypeBool, 0, 2},
		}
		codec := NewGeneCodec(genetic.NewRand(1))
		for _, tc := range cases {
			spec := ParameterSpec{Param: strategy.NewParam("p", tc.typ, 0), From: tc.from, To: tc.to}
			_, err := codec.Generate(spec)
			assert.ErrorIs(t, err, ErrInvalidArgument, "%s [%v, %v]", tc.typ, tc.from, tc.to)
		}
	})

	t.Run("widest spans", func(t *testing.T) {
		cases := []struct {
			name     string
			from, to int64
		}{
			{"zero to max", 0, math.MaxInt64},
			{"min to max", math.MinInt64, math.MaxInt64},
			{"min to zero", math.MinInt64, 0},
			{"negative half plus one", -1, math.MaxInt64},
		}
		codec := NewGeneCodec(genetic.NewRand(3))
		for _, tc := range cases {
			spec := ParameterSpec{Param: strategy.NewParam("p", strategy.TypeInt64, int64(0)), From: tc.from, To: tc.to}
			for i := 0; i < 50; i++ {
				var gene genetic.Gene
				var err error
				require.NotPanics(t, func() { gene, err = codec.Generate(spec) }, tc.name)
				require.NoError(t, err, tc.name)
				v, ok := gene.Value.(int64)
				require.True(t, ok)
				assert.True(t, v >= tc.from && v <= tc.to, "%s: %d out of bounds", tc.name, v)
			}
		}
	})

	t.Run("int32 extremes", func(t *testing.T) {
		codec := NewGeneCodec(genetic.NewRand(4))
		spec := ParameterSpec{Param: strategy.NewParam("p", strategy.TypeInt32, int32(0)), From: math.MaxInt32 - 1, To: math.MaxInt32}
		for i := 0; i < 20; i++ {
			gene, err := codec.Generate(spec)
			require.NoError(t, err)
			v, ok := gene.Value.(int32)
			require.True(t, ok)
			assert.True(t, v >= math.MaxInt32-1)
		}
	})
}

func TestGeneCodec_Bool(t *testing.T) {
	codec := NewGeneCodec(genetic.NewRand(2))
	spec := ParameterSpec{Param: strategy.NewParam("flag", strategy.TypeBool, false), From: 0, To: 1}

	seen := map[bool]bool{}
	for i := 0; i < 100; i++ {
		gene, err := codec.Generate(spec)
		require.NoError(t, err)
		b, ok := gene.Value.(bool)
		require.True(t, ok)
		seen[b] = true
	}
	assert.Len(t, seen, 2)
}

func TestGeneCodec_FloatBoundsAndPrecision(t *testing.T) {
	tests := []struct {
		name      string
		from, to  interface{}
		precision int
	}{
		{"two places", 0.5, 2.5, 2},
		{"whole numbers", 1.0, 10.0, 0},
		{"string bounds", "0.01", "0.05", 3},
		{"degenerate", 3.25, 3.25, 2},
		{"bounds off grid", 0.11, 0.19, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := NewGeneCodec(genetic.NewRand(3))
			spec := ParameterSpec{
				Param:     strategy.NewParam("f", strategy.TypeFloat, 0.0),
				From:      tt.from,
				To:        tt.to,
				Precision: tt.precision,
			}
			min, max, err := floatBounds(spec)
			require.NoError(t, err)

			for i := 0; i < draws; i++ {
				gene, err := codec.Generate(spec)
				require.NoError(t, err)
				v := gene.Value.(float64)
				assert.True(t, v >= min && v <= max, "value %v outside [%v,%v]", v, min, max)
				if tt.name != "bounds off grid" {
					assert.True(t, onGrid(v, tt.precision), "value %v not rounded to %d places", v, tt.precision)
				}
			}
		})
	}
}

func TestGeneCodec_Unit(t *testing.T) {
	codec := NewGeneCodec(genetic.NewRand(4))
	param := strategy.NewParam("tp", strategy.TypeUnit, strategy.Unit{})

	ranged := ParameterSpec{
		Param:     param,
		From:      strategy.Unit{Value: 1, Type: strategy.UnitPercent},
		To:        strategy.Unit{Value: 5, Type: strategy.UnitAbsolute},
		Precision: 1,
	}
	seen := map[float64]bool{}
	for i := 0; i < draws; i++ {
		gene, err := codec.Generate(ranged)
		require.NoError(t, err)
		u := gene.Value.(strategy.Unit)
		assert.Equal(t, strategy.UnitPercent, u.Type, "unit type comes from the lower bound")
		assert.True(t, u.Value >= 1 && u.Value <= 5)
		assert.True(t, onGrid(u.Value, 1))
		seen[u.Value] = true
	}
	assert.Greater(t, len(seen), 1, "upper bound is honored")

	fixed := ParameterSpec{Param: param, From: &strategy.Unit{Value: 2, Type: strategy.UnitAbsolute}}
	gene, err := codec.Generate(fixed)
	require.NoError(t, err)
	assert.Equal(t, strategy.Unit{Value: 2, Type: strategy.UnitAbsolute}, gene.Value)

	_, err = codec.Generate(ParameterSpec{Param: param, From: 2.0})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGeneCodec_DiscreteMembership(t *testing.T) {
	btc := &strategy.Security{ID: "BTC@BINANCE", Code: "BTCUSDT"}
	eth := &strategy.Security{ID: "ETH@BINANCE", Code: "ETHUSDT"}

	tests := []struct {
		name       string
		typ        strategy.ParamType
		candidates interface{}
		members    []interface{}
	}{
		{"securities", strategy.TypeSecurity, []*strategy.Security{btc, eth}, []interface{}{btc, eth}},
		{"provider", strategy.TypeSecurity, strategy.NewMemorySecurityProvider(btc, eth), []interface{}{btc, eth}},
		{"strings", strategy.TypeString, []string{"fast", "slow"}, []interface{}{"fast", "slow"}},
		{"any", strategy.TypeString, []interface{}{"a", "b", "c"}, []interface{}{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := NewGeneCodec(genetic.NewRand(5))
			spec := ParameterSpec{Param: strategy.NewParam("d", tt.typ, nil), From: tt.candidates}

			seen := map[interface{}]bool{}
			for i := 0; i < 200; i++ {
				gene, err := codec.Generate(spec)
				require.NoError(t, err)
				assert.Contains(t, tt.members, gene.Value)
				seen[gene.Value] = true
			}
			assert.Len(t, seen, len(tt.members))
		})
	}
}

func TestGeneCodec_Errors(t *testing.T) {
	codec := NewGeneCodec(genetic.NewRand(6))

	tests := []struct {
		name string
		spec ParameterSpec
		want error
	}{
		{"no param", ParameterSpec{From: 1, To: 2}, ErrInvalidArgument},
		{"negative precision", ParameterSpec{Param: strategy.NewParam("f", strategy.TypeFloat, 0.0), From: 1, To: 2, Precision: -1}, ErrInvalidArgument},
		{"inverted int range", ParameterSpec{Param: strategy.NewParam("i", strategy.TypeInt, 0), From: 5, To: 1}, ErrInvalidArgument},
		{"inverted float range", ParameterSpec{Param: strategy.NewParam("f", strategy.TypeFloat, 0.0), From: 5.0, To: 1.0}, ErrInvalidArgument},
		{"non numeric bound", ParameterSpec{Param: strategy.NewParam("i", strategy.TypeInt, 0), From: "abc", To: 1}, ErrInvalidArgument},
		{"empty candidates", ParameterSpec{Param: strategy.NewParam("s", strategy.TypeString, ""), From: []string{}}, ErrInvalidArgument},
		{"candidates not a collection", ParameterSpec{Param: strategy.NewParam("s", strategy.TypeString, ""), From: "x"}, ErrInvalidArgument},
		{"duration", ParameterSpec{Param: strategy.NewParam("hold", strategy.TypeDuration, 0), From: 1, To: 2}, ErrUnsupportedParameterType},
		{"unknown type", ParameterSpec{Param: strategy.NewParam("x", strategy.ParamType("matrix"), nil)}, ErrUnsupportedParameterType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Generate(tt.spec)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := codec.Generate(ParameterSpec{Param: strategy.NewParam("hold", strategy.TypeDuration, 0)})
	var typeErr *UnsupportedParameterTypeError
	require.True(t, errors.As(err, &typeErr))
	assert.Equal(t, "hold", typeErr.Param)
	assert.Equal(t, strategy.TypeDuration, typeErr.Type)
}

func TestGeneCodec_SeedIsReproducible(t *testing.T) {
	spec := ParameterSpec{Param: strategy.NewParam("f", strategy.TypeFloat, 0.0), From: 0, To: 100, Precision: 3}

	a, b := NewGeneCodec(genetic.NewRand(42)), NewGeneCodec(genetic.NewRand(42))
	for i := 0; i < 20; i++ {
		ga, err := a.Generate(spec)
		require.NoError(t, err)
		gb, err := b.Generate(spec)
		require.NoError(t, err)
		assert.Equal(t, ga.Value, gb.Value)
	}
}

// ============================================================================
// CHROMOSOME TESTS
// ============================================================================

func testSpecs() []ParameterSpec {
	return []ParameterSpec{
		{Param: strategy.NewParam("x", strategy.TypeInt, 0), From: 1, To: 10},
		{Param: strategy.NewParam("ratio", strategy.TypeFloat, 0.0), From: 0.1, To: 0.9, Precision: 2},
		{Param: strategy.NewParam("mode", strategy.TypeString, ""), From: []string{"a", "b"}},
	}
}

func TestParametersChromosome_AlignedWithSpecs(t *testing.T) {
	specs := testSpecs()
	c, err := NewParametersChromosome(specs, NewGeneCodec(genetic.NewRand(9)))
	require.NoError(t, err)

	require.Equal(t, len(specs), c.Length())
	_, isInt := c.Gene(0).Value.(int)
	_, isFloat := c.Gene(1).Value.(float64)
	_, isString := c.Gene(2).Value.(string)
	assert.True(t, isInt && isFloat && isString, "genes follow spec order")

	_, evaluated := c.Fitness()
	assert.False(t, evaluated)

	values := c.Values()
	assert.Equal(t, c.Gene(0).Value, values["x"])
	assert.Equal(t, c.Gene(2).Value, values["mode"])
}

func TestParametersChromosome_CreateNewAndClone(t *testing.T) {
	c, err := NewParametersChromosome(testSpecs(), NewGeneCodec(genetic.NewRand(10)))
	require.NoError(t, err)
	c.SetFitness(3)

	fresh, err := c.CreateNew()
	require.NoError(t, err)
	assert.Equal(t, c.Length(), fresh.Length())
	_, evaluated := fresh.Fitness()
	assert.False(t, evaluated)

	clone := c.Clone()
	assert.Equal(t, c.Genes(), clone.Genes())
	fitness, ok := clone.Fitness()
	assert.True(t, ok)
	assert.Equal(t, 3.0, fitness)

	clone.ReplaceGene(0, genetic.Gene{Value: 99})
	assert.NotEqual(t, 99, c.Gene(0).Value, "clone storage is independent")
}

func TestParametersChromosome_Apply(t *testing.T) {
	specs := testSpecs()
	c, err := NewParametersChromosome(specs, NewGeneCodec(genetic.NewRand(11)))
	require.NoError(t, err)

	params := strategy.NewParams(
		strategy.NewParam("x", strategy.TypeInt, 0),
		strategy.NewParam("ratio", strategy.TypeFloat, 0.0),
		strategy.NewParam("mode", strategy.TypeString, ""),
	)
	require.NoError(t, c.Apply(params))
	assert.Equal(t, c.Values(), params.Values())

	assert.Error(t, c.Apply(strategy.NewParams(strategy.NewParam("x", strategy.TypeInt, 0))))
}

func TestParametersChromosome_RejectsEmptySpecs(t *testing.T) {
	_, err := NewParametersChromosome(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
