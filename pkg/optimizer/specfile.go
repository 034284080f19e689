package optimizer

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/stratopt/pkg/strategy"
)

// ParameterFile is the on-disk description of a search space.
//
//	parameters:
//	  - id: fast_period
//	    from: 5
//	    to: 20
//	  - id: take_profit
//	    from: {value: 1, type: percent}
//	    to: {value: 10, type: percent}
//	    precision: 1
//	  - id: security
//	    values: [BTC@BINANCE, ETH@BINANCE]
type ParameterFile struct {
	Parameters []ParameterEntry `json:"parameters" yaml:"parameters"`
}

// ParameterEntry is one parameter range in a ParameterFile
type ParameterEntry struct {
	ID        string        `json:"id" yaml:"id"`
	From      interface{}   `json:"from,omitempty" yaml:"from,omitempty"`
	To        interface{}   `json:"to,omitempty" yaml:"to,omitempty"`
	Values    []interface{} `json:"values,omitempty" yaml:"values,omitempty"`
	Precision int           `json:"precision,omitempty" yaml:"precision,omitempty"`
}

// ParseParameterFile decodes YAML or JSON, detected from the first non-whitespace character
func ParseParameterFile(data []byte) (*ParameterFile, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty parameter file")
	}

	isJSON := false
	for _, b := range data {
		if b == ' ' || b == '\t' || b == '\n' || b == '\r' {
			continue
		}
		isJSON = b == '{' || b == '['
		break
	}

	var file ParameterFile
	if isJSON {
		if err := json.Unmarshal(data, &file); err != nil {
			if yamlErr := yaml.Unmarshal(data, &file); yamlErr != nil {
				return nil, fmt.Errorf("failed to parse as JSON (%v) or YAML (%v)", err, yamlErr)
			}
		}
	} else {
		if err := yaml.Unmarshal(data, &file); err != nil {
			if jsonErr := json.Unmarshal(data, &file); jsonErr != nil {
				return nil, fmt.Errorf("failed to parse as YAML (%v) or JSON (%v)", err, jsonErr)
			}
		}
	}

	if len(file.Parameters) == 0 {
		return nil, fmt.Errorf("parameter file declares no parameters")
	}
	return &file, nil
}

// Specs binds the entries to the parameters of template. Security IDs are
// resolved through securities.
func (f *ParameterFile) Specs(template strategy.Strategy, securities strategy.SecurityProvider) ([]ParameterSpec, error) {
	specs := make([]ParameterSpec, 0, len(f.Parameters))
	seen := make(map[string]bool, len(f.Parameters))

	for _, entry := range f.Parameters {
		if seen[entry.ID] {
			return nil, fmt.Errorf("parameter %q declared twice", entry.ID)
		}
		seen[entry.ID] = true

		param, ok := template.Params().Get(entry.ID)
		if !ok {
			return nil, fmt.Errorf("strategy %s has no parameter %q", template.Name(), entry.ID)
		}

		spec, err := entry.spec(param, securities)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", entry.ID, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (e ParameterEntry) spec(param *strategy.Param, securities strategy.SecurityProvider) (ParameterSpec, error) {
	spec := ParameterSpec{Param: param, Precision: e.Precision}

	switch param.Type {
	case strategy.TypeSecurity:
		if securities == nil {
			return spec, fmt.Errorf("no security provider configured")
		}
		candidates := make([]*strategy.Security, 0, len(e.Values))
		for _, v := range e.Values {
			id := cast.ToString(v)
			sec, ok := securities.LookupByID(id)
			if !ok {
				return spec, fmt.Errorf("unknown security %q", id)
			}
			candidates = append(candidates, sec)
		}
		spec.From = candidates

	case strategy.TypeString:
		values, err := cast.ToStringSliceE(e.Values)
		if err != nil {
			return spec, err
		}
		spec.From = values

	case strategy.TypeUnit:
		from, err := parseUnit(e.From)
		if err != nil {
			return spec, fmt.Errorf("from: %w", err)
		}
		spec.From = from
		if e.To != nil {
			to, err := parseUnit(e.To)
			if err != nil {
				return spec, fmt.Errorf("to: %w", err)
			}
			spec.To = to
		}

	default:
		spec.From, spec.To = e.From, e.To
	}

	return spec, nil
}

// parseUnit accepts {value, type} maps or plain numbers (absolute)
func parseUnit(v interface{}) (strategy.Unit, error) {
	if m, err := cast.ToStringMapE(v); err == nil {
		value, err := cast.ToFloat64E(m["value"])
		if err != nil {
			return strategy.Unit{}, fmt.Errorf("unit value: %w", err)
		}
		unitType := strategy.UnitType(cast.ToString(m["type"]))
		switch unitType {
		case "":
			unitType = strategy.UnitAbsolute
		case strategy.UnitAbsolute, strategy.UnitPercent:
		default:
			return strategy.Unit{}, fmt.Errorf("unknown unit type %q", unitType)
		}
		return strategy.Unit{Value: value, Type: unitType}, nil
	}

	value, err := cast.ToFloat64E(v)
	if err != nil {
		return strategy.Unit{}, fmt.Errorf("expected unit, got %T", v)
	}
	return strategy.Unit{Value: value, Type: strategy.UnitAbsolute}, nil
}

// LoadParameterSpecs reads a parameter file and binds it to template
func LoadParameterSpecs(path string, template strategy.Strategy, securities strategy.SecurityProvider) ([]ParameterSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter file: %w", err)
	}

	file, err := ParseParameterFile(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load parameters from %s: %w", path, err)
	}

	specs, err := file.Specs(template, securities)
	if err != nil {
		return nil, fmt.Errorf("failed to load parameters from %s: %w", path, err)
	}
	return specs, nil
}
