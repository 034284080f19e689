package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// UnitType is the measure of a Unit value
type UnitType string

const (
	UnitAbsolute UnitType = "absolute"
	UnitPercent  UnitType = "percent"
)

// Unit is a quantity paired with its measure, e.g. 2.5 percent
type Unit struct {
	Value float64  `json:"value" yaml:"value"`
	Type  UnitType `json:"type" yaml:"type"`
}

// Offset converts the unit into an absolute distance from base
func (u Unit) Offset(base float64) float64 {
	if u.Type == UnitPercent {
		return base * u.Value / 100
	}
	return u.Value
}

func (u Unit) String() string {
	if u.Type == UnitPercent {
		return fmt.Sprintf("%g%%", u.Value)
	}
	return fmt.Sprintf("%g", u.Value)
}

// Security identifies a tradable instrument
type Security struct {
	ID        string  `json:"id" yaml:"id"`
	Code      string  `json:"code" yaml:"code"`
	Board     string  `json:"board" yaml:"board"`
	PriceStep float64 `json:"price_step" yaml:"price_step"`
}

func (s *Security) String() string {
	return s.ID
}

// SecurityProvider looks up instruments by ID
type SecurityProvider interface {
	LookupByID(id string) (*Security, bool)
	All() []*Security
}

// MemorySecurityProvider is a static SecurityProvider
type MemorySecurityProvider struct {
	mu         sync.RWMutex
	securities map[string]*Security
}

// NewMemorySecurityProvider creates a provider holding securities
func NewMemorySecurityProvider(securities ...*Security) *MemorySecurityProvider {
	p := &MemorySecurityProvider{securities: make(map[string]*Security, len(securities))}
	for _, s := range securities {
		p.Add(s)
	}
	return p
}

// Add registers s, replacing any security with the same ID
func (p *MemorySecurityProvider) Add(s *Security) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.securities[s.ID] = s
}

// LookupByID returns the security with id
func (p *MemorySecurityProvider) LookupByID(id string) (*Security, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.securities[id]
	return s, ok
}

// All returns every security ordered by ID
func (p *MemorySecurityProvider) All() []*Security {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Security, 0, len(p.securities))
	for _, s := range p.securities {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
