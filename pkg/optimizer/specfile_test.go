package optimizer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stratopt/pkg/genetic"
	"github.com/ajitpratap0/stratopt/pkg/strategy"
)

type searchSpaceStrategy struct {
	stubStrategy
}

func newSearchSpace() *searchSpaceStrategy {
	return &searchSpaceStrategy{stubStrategy{Base: strategy.NewBase("space",
		strategy.NewParam("period", strategy.TypeInt, 10),
		strategy.NewParam("ratio", strategy.TypeFloat, 0.5),
		strategy.NewParam("take_profit", strategy.TypeUnit, strategy.Unit{}),
		strategy.NewParam("security", strategy.TypeSecurity, nil),
		strategy.NewParam("mode", strategy.TypeString, ""),
	)}}
}

var testSecurities = strategy.NewMemorySecurityProvider(
	&strategy.Security{ID: "BTC@BINANCE", Code: "BTCUSDT"},
	&strategy.Security{ID: "ETH@BINANCE", Code: "ETHUSDT"},
)

const yamlSpace = `
parameters:
  - id: period
    from: 5
    to: 20
  - id: ratio
    from: 0.1
    to: 0.9
    precision: 2
  - id: take_profit
    from: {value: 1, type: percent}
    to: {value: 10, type: percent}
    precision: 1
  - id: security
    values: [BTC@BINANCE, ETH@BINANCE]
  - id: mode
    values: [fast, slow]
`

const jsonSpace = `{
  "parameters": [
    {"id": "period", "from": 5, "to": 20},
    {"id": "ratio", "from": 0.1, "to": 0.9, "precision": 2},
    {"id": "take_profit", "from": {"value": 1, "type": "percent"}, "to": {"value": 10, "type": "percent"}, "precision": 1},
    {"id": "security", "values": ["BTC@BINANCE", "ETH@BINANCE"]},
    {"id": "mode", "values": ["fast", "slow"]}
  ]
}`

func TestParseParameterFile_Formats(t *testing.T) {
	for name, data := range map[string]string{"yaml": yamlSpace, "json": jsonSpace} {
		t.Run(name, func(t *testing.T) {
			file, err := ParseParameterFile([]byte(data))
			require.NoError(t, err)
			require.Len(t, file.Parameters, 5)

			specs, err := file.Specs(newSearchSpace(), testSecurities)
			require.NoError(t, err)
			require.Len(t, specs, 5)

			assert.Equal(t, "period", specs[0].ID())
			assert.Equal(t, 2, specs[1].Precision)
			assert.Equal(t, strategy.Unit{Value: 1, Type: strategy.UnitPercent}, specs[2].From)
			assert.Equal(t, strategy.Unit{Value: 10, Type: strategy.UnitPercent}, specs[2].To)
			require.Len(t, specs[3].From, 2)
			assert.Equal(t, []string{"fast", "slow"}, specs[4].From)

			// every bound decodes into something the codec can draw from
			chromosome, err := NewParametersChromosome(specs, NewGeneCodec(genetic.NewRand(1)))
			require.NoError(t, err)
			period := chromosome.Values()["period"].(int)
			assert.True(t, period >= 5 && period <= 20)
		})
	}
}

func TestParseParameterFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"no parameters", "parameters: []"},
		{"malformed", "{parameters: [}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseParameterFile([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestParameterFile_SpecsErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown parameter", "parameters:\n  - id: missing\n    from: 1\n    to: 2\n"},
		{"duplicate", "parameters:\n  - id: period\n    from: 1\n    to: 2\n  - id: period\n    from: 1\n    to: 2\n"},
		{"unknown security", "parameters:\n  - id: security\n    values: [DOGE@NOWHERE]\n"},
		{"unknown unit type", "parameters:\n  - id: take_profit\n    from: {value: 1, type: pips}\n"},
		{"unit not a number", "parameters:\n  - id: take_profit\n    from: lots\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, err := ParseParameterFile([]byte(tt.data))
			require.NoError(t, err)
			_, err = file.Specs(newSearchSpace(), testSecurities)
			assert.Error(t, err)
		})
	}
}

func TestParameterFile_PlainNumberUnitIsAbsolute(t *testing.T) {
	file, err := ParseParameterFile([]byte("parameters:\n  - id: take_profit\n    from: 2.5\n"))
	require.NoError(t, err)

	specs, err := file.Specs(newSearchSpace(), nil)
	require.NoError(t, err)
	assert.Equal(t, strategy.Unit{Value: 2.5, Type: strategy.UnitAbsolute}, specs[0].From)
	assert.Nil(t, specs[0].To)
}

func TestLoadParameterSpecs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "space.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlSpace), 0o600))

	specs, err := LoadParameterSpecs(path, newSearchSpace(), testSecurities)
	require.NoError(t, err)
	assert.Len(t, specs, 5)

	_, err = LoadParameterSpecs(filepath.Join(t.TempDir(), "missing.yaml"), newSearchSpace(), testSecurities)
	assert.Error(t, err)
}
