// Package strategy defines the parameterized trading strategy contract used by the optimizer
package strategy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ajitpratap0/stratopt/pkg/backtest"
)

// ErrUnknownStrategy is returned by New for unregistered names
var ErrUnknownStrategy = errors.New("unknown strategy")

// Strategy is a backtestable strategy with tunable parameters.
// Clone must return an instance that shares no mutable state with the receiver.
type Strategy interface {
	backtest.Strategy

	Name() string
	Params() *Params
	Clone() Strategy

	// Symbols lists the instruments the strategy needs data for
	Symbols() []string

	// Metrics returns the result of the last completed run, or nil
	Metrics() *backtest.Metrics
	SetMetrics(m *backtest.Metrics)
}

// Base carries the name, parameters and last metrics of a strategy
type Base struct {
	name   string
	params *Params

	mu      sync.RWMutex
	metrics *backtest.Metrics
}

// NewBase creates a Base with params
func NewBase(name string, params ...*Param) Base {
	return Base{name: name, params: NewParams(params...)}
}

func (b *Base) Name() string    { return b.name }
func (b *Base) Params() *Params { return b.params }

func (b *Base) Metrics() *backtest.Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metrics
}

func (b *Base) SetMetrics(m *backtest.Metrics) {
	b.mu.Lock()
	b.metrics = m
	b.mu.Unlock()
}

// CloneBase copies the name and parameters. Metrics are not carried over.
func (b *Base) CloneBase() Base {
	return Base{name: b.name, params: b.params.Clone()}
}

// Param returns the parameter id or panics; used by strategies for their own declared params
func (b *Base) Param(id string) *Param {
	p, ok := b.params.Get(id)
	if !ok {
		panic(fmt.Sprintf("strategy %s: parameter %q is not declared", b.name, id))
	}
	return p
}

// ============================================================================
// REGISTRY
// ============================================================================

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Strategy{}
)

// Register makes a strategy constructor available under name
func Register(name string, factory func() Strategy) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New creates the strategy registered under name with default parameters
func New(name string) (Strategy, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownStrategy, name, Names())
	}
	return factory(), nil
}

// Names lists registered strategies
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
