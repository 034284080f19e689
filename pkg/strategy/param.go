package strategy

import (
	"fmt"
	"sync"

	"github.com/spf13/cast"
)

// ParamType is the declared value type of a strategy parameter
type ParamType string

const (
	TypeInt      ParamType = "int"
	TypeInt32    ParamType = "int32"
	TypeInt64    ParamType = "int64"
	TypeBool     ParamType = "bool"
	TypeFloat    ParamType = "float"
	TypeUnit     ParamType = "unit"
	TypeSecurity ParamType = "security"
	TypeString   ParamType = "string"
	TypeDuration ParamType = "duration"
)

// Param is a named, typed strategy setting. Value access is synchronized.
type Param struct {
	ID   string    `json:"id" yaml:"id"`
	Name string    `json:"name" yaml:"name"`
	Type ParamType `json:"type" yaml:"type"`

	mu    sync.RWMutex
	value interface{}
}

// NewParam creates a parameter holding value
func NewParam(id string, typ ParamType, value interface{}) *Param {
	return &Param{ID: id, Name: id, Type: typ, value: value}
}

// Value returns the current value
func (p *Param) Value() interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// SetValue replaces the current value
func (p *Param) SetValue(v interface{}) {
	p.mu.Lock()
	p.value = v
	p.mu.Unlock()
}

// Int returns the value converted to int
func (p *Param) Int() int {
	return cast.ToInt(p.Value())
}

// Float returns the value converted to float64
func (p *Param) Float() float64 {
	return cast.ToFloat64(p.Value())
}

// Bool returns the value converted to bool
func (p *Param) Bool() bool {
	return cast.ToBool(p.Value())
}

// String returns the value as text
func (p *Param) String() string {
	return fmt.Sprintf("%s=%v", p.ID, p.Value())
}

func (p *Param) clone() *Param {
	return &Param{ID: p.ID, Name: p.Name, Type: p.Type, value: p.Value()}
}

// Params is an ordered set of parameters keyed by ID
type Params struct {
	order []string
	byID  map[string]*Param
}

// NewParams creates a set from params in order
func NewParams(params ...*Param) *Params {
	ps := &Params{byID: make(map[string]*Param, len(params))}
	for _, p := range params {
		ps.Add(p)
	}
	return ps
}

// Add appends p, replacing any parameter with the same ID in place
func (ps *Params) Add(p *Param) {
	if _, ok := ps.byID[p.ID]; !ok {
		ps.order = append(ps.order, p.ID)
	}
	ps.byID[p.ID] = p
}

// Get returns the parameter with id
func (ps *Params) Get(id string) (*Param, bool) {
	p, ok := ps.byID[id]
	return p, ok
}

// All returns the parameters in insertion order
func (ps *Params) All() []*Param {
	out := make([]*Param, 0, len(ps.order))
	for _, id := range ps.order {
		out = append(out, ps.byID[id])
	}
	return out
}

// Len is the number of parameters
func (ps *Params) Len() int {
	return len(ps.order)
}

// Values snapshots every parameter value by ID
func (ps *Params) Values() map[string]interface{} {
	out := make(map[string]interface{}, len(ps.order))
	for _, id := range ps.order {
		out[id] = ps.byID[id].Value()
	}
	return out
}

// Clone deep-copies the set; values are copied by assignment
func (ps *Params) Clone() *Params {
	clone := &Params{order: append([]string(nil), ps.order...), byID: make(map[string]*Param, len(ps.byID))}
	for id, p := range ps.byID {
		clone.byID[id] = p.clone()
	}
	return clone
}
