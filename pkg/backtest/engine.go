// Package backtest simulates a strategy over historical candles and reports its performance
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNoData is returned when a symbol has no loaded candles
	ErrNoData = errors.New("no data loaded")
)

// ============================================================================
// DATA STRUCTURES
// ============================================================================

// Candlestick represents OHLCV data for a time period
type Candlestick struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Side of a signal or trade
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	SideHold Side = "HOLD"
)

// Signal is an instruction emitted by a strategy for the current step
type Signal struct {
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason,omitempty"`
	Source     string    `json:"source,omitempty"`
}

// Trade represents an executed fill
type Trade struct {
	ID         int       `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Value      float64   `json:"value"`
}

// Position is an open long position
type Position struct {
	Symbol       string    `json:"symbol"`
	EntryTime    time.Time `json:"entry_time"`
	EntryPrice   float64   `json:"entry_price"`
	Quantity     float64   `json:"quantity"`
	CurrentPrice float64   `json:"current_price"`
	Commission   float64   `json:"commission"`
}

// UnrealizedPL marks the position to its current price, net of the entry commission
func (p *Position) UnrealizedPL() float64 {
	return (p.CurrentPrice-p.EntryPrice)*p.Quantity - p.Commission
}

// ClosedPosition is a round trip with its realized result
type ClosedPosition struct {
	Symbol      string        `json:"symbol"`
	EntryTime   time.Time     `json:"entry_time"`
	ExitTime    time.Time     `json:"exit_time"`
	EntryPrice  float64       `json:"entry_price"`
	ExitPrice   float64       `json:"exit_price"`
	Quantity    float64       `json:"quantity"`
	RealizedPL  float64       `json:"realized_pl"`
	ReturnPct   float64       `json:"return_pct"`
	HoldingTime time.Duration `json:"holding_time"`
	Commission  float64       `json:"commission"`
}

// EquityPoint is the portfolio value after a step
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
	Cash      float64   `json:"cash"`
}

// ============================================================================
// CONFIGURATION
// ============================================================================

// Sizing selects how much capital a BUY commits
type Sizing string

const (
	// SizingFixed spends PositionSize currency units per entry
	SizingFixed Sizing = "fixed"
	// SizingPercent spends PositionSize (0..1) of current equity per entry
	SizingPercent Sizing = "percent"
)

// Config holds the simulation parameters
type Config struct {
	InitialCapital float64   `mapstructure:"initial_capital"`
	CommissionRate float64   `mapstructure:"commission_rate"`
	PositionSizing Sizing    `mapstructure:"position_sizing"`
	PositionSize   float64   `mapstructure:"position_size"`
	MaxPositions   int       `mapstructure:"max_positions"`
	StartDate      time.Time `mapstructure:"start_date"`
	EndDate        time.Time `mapstructure:"end_date"`
	Symbols        []string  `mapstructure:"symbols"`
}

// DefaultConfig returns a 10k account trading 10% of equity per entry
func DefaultConfig() Config {
	return Config{
		InitialCapital: 10000,
		CommissionRate: 0.001,
		PositionSizing: SizingPercent,
		PositionSize:   0.1,
		MaxPositions:   1,
	}
}

// ============================================================================
// BACKTEST ENGINE
// ============================================================================

// Strategy is driven by the engine one step at a time
type Strategy interface {
	// Initialize is called once before the first step
	Initialize(engine *Engine) error

	// GenerateSignals is called on every step with the engine positioned at the current time
	GenerateSignals(engine *Engine) ([]*Signal, error)

	// Finalize is called after open positions were closed
	Finalize(engine *Engine) error
}

// Engine replays candles for one or more symbols and executes strategy signals at the close.
// An Engine is not safe for concurrent use; Reset makes it reusable for another run.
type Engine struct {
	config Config

	Cash            float64
	Positions       map[string]*Position
	Trades          []*Trade
	ClosedPositions []*ClosedPosition
	EquityCurve     []*EquityPoint

	WinningTrades  int
	LosingTrades   int
	PeakEquity     float64
	MaxDrawdown    float64
	MaxDrawdownPct float64

	data   map[string][]*Candlestick
	cursor map[string]int
	now    time.Time
	steps  int
}

// NewEngine creates an engine for config
func NewEngine(config Config) *Engine {
	e := &Engine{
		Positions: make(map[string]*Position),
		data:      make(map[string][]*Candlestick),
		cursor:    make(map[string]int),
	}
	e.Reset(config)
	return e
}

// Reset clears all state and loaded data and applies config
func (e *Engine) Reset(config Config) {
	if config.MaxPositions <= 0 {
		config.MaxPositions = 1
	}
	e.config = config
	e.Cash = config.InitialCapital
	e.PeakEquity = config.InitialCapital
	e.MaxDrawdown = 0
	e.MaxDrawdownPct = 0
	e.WinningTrades = 0
	e.LosingTrades = 0
	e.Trades = e.Trades[:0]
	e.ClosedPositions = e.ClosedPositions[:0]
	e.EquityCurve = e.EquityCurve[:0]
	e.now = time.Time{}
	e.steps = 0
	clear(e.Positions)
	clear(e.data)
	clear(e.cursor)
}

// Config returns the active configuration
func (e *Engine) Config() Config {
	return e.config
}

// LoadCandles installs the candles of symbol, sorted by time and limited to the configured date range
func (e *Engine) LoadCandles(symbol string, candles []*Candlestick) error {
	filtered := make([]*Candlestick, 0, len(candles))
	for _, c := range candles {
		if !e.config.StartDate.IsZero() && c.Timestamp.Before(e.config.StartDate) {
			continue
		}
		if !e.config.EndDate.IsZero() && c.Timestamp.After(e.config.EndDate) {
			continue
		}
		filtered = append(filtered, c)
	}
	if len(filtered) == 0 {
		return fmt.Errorf("%w for symbol %s", ErrNoData, symbol)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.Before(filtered[j].Timestamp)
	})

	e.data[symbol] = filtered
	e.cursor[symbol] = 0
	return nil
}

// Symbols returns the loaded symbols in lexical order
func (e *Engine) Symbols() []string {
	symbols := make([]string, 0, len(e.data))
	for s := range e.data {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// Now is the timestamp of the current step
func (e *Engine) Now() time.Time {
	return e.now
}

// Current returns the latest candle of symbol that is not after Now
func (e *Engine) Current(symbol string) (*Candlestick, error) {
	candles, ok := e.data[symbol]
	if !ok {
		return nil, fmt.Errorf("%w for symbol %s", ErrNoData, symbol)
	}

	idx := e.cursor[symbol]
	if idx < len(candles) && !candles[idx].Timestamp.After(e.now) {
		return candles[idx], nil
	}
	if idx > 0 {
		return candles[idx-1], nil
	}
	return nil, fmt.Errorf("no candle for symbol %s at %s", symbol, e.now.Format(time.RFC3339))
}

// Closes returns up to lookback closing prices of symbol ending with the current candle
func (e *Engine) Closes(symbol string, lookback int) []float64 {
	candles := e.data[symbol]
	end := e.cursor[symbol]
	if end < len(candles) && !candles[end].Timestamp.After(e.now) {
		end++
	}
	start := end - lookback
	if start < 0 || lookback <= 0 {
		start = 0
	}

	closes := make([]float64, 0, end-start)
	for _, c := range candles[start:end] {
		closes = append(closes, c.Close)
	}
	return closes
}

// HasPosition reports whether symbol has an open position
func (e *Engine) HasPosition(symbol string) bool {
	_, ok := e.Positions[symbol]
	return ok
}

// Equity is cash plus the market value of open positions
func (e *Engine) Equity() float64 {
	equity := e.Cash
	for _, p := range e.Positions {
		equity += p.CurrentPrice * p.Quantity
	}
	return equity
}

// Steps is the number of completed steps
func (e *Engine) Steps() int {
	return e.steps
}

// ============================================================================
// TIME-STEP SIMULATION
// ============================================================================

// Step advances the simulation to the next timestamp, asks strategy for signals and executes them.
// It returns false once every symbol is exhausted.
func (e *Engine) Step(strategy Strategy) (bool, error) {
	var next time.Time
	for symbol, candles := range e.data {
		idx := e.cursor[symbol]
		if idx >= len(candles) {
			continue
		}
		if next.IsZero() || candles[idx].Timestamp.Before(next) {
			next = candles[idx].Timestamp
		}
	}
	if next.IsZero() {
		return false, nil
	}
	e.now = next

	e.markToMarket()

	signals, err := strategy.GenerateSignals(e)
	if err != nil {
		return false, fmt.Errorf("failed to generate signals at %s: %w", next.Format(time.RFC3339), err)
	}
	for _, signal := range signals {
		if err := e.Execute(signal); err != nil {
			log.Debug().Err(err).Str("symbol", signal.Symbol).Str("side", string(signal.Side)).Msg("Signal rejected")
		}
	}

	e.recordEquity()

	for symbol, candles := range e.data {
		idx := e.cursor[symbol]
		if idx < len(candles) && !candles[idx].Timestamp.After(next) {
			e.cursor[symbol] = idx + 1
		}
	}
	e.steps++

	return true, nil
}

// Run replays every loaded candle through strategy, closes open positions at the last price
// and returns the performance metrics.
func (e *Engine) Run(ctx context.Context, strategy Strategy) (*Metrics, error) {
	if len(e.data) == 0 {
		return nil, ErrNoData
	}

	if err := strategy.Initialize(e); err != nil {
		return nil, fmt.Errorf("failed to initialize strategy: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		more, err := e.Step(strategy)
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}

	e.closeAll()

	if err := strategy.Finalize(e); err != nil {
		return nil, fmt.Errorf("failed to finalize strategy: %w", err)
	}

	log.Debug().
		Int("steps", e.steps).
		Int("trades", len(e.Trades)).
		Float64("final_equity", e.Equity()).
		Msg("Backtest complete")

	return CalculateMetrics(e)
}

// ============================================================================
// ORDER EXECUTION
// ============================================================================

// Execute fills signal at the current close. Duplicate entries, exits without a position
// and entries beyond MaxPositions are ignored.
func (e *Engine) Execute(signal *Signal) error {
	candle, err := e.Current(signal.Symbol)
	if err != nil {
		return fmt.Errorf("cannot execute signal: %w", err)
	}

	switch signal.Side {
	case SideBuy:
		return e.buy(signal.Symbol, candle.Close)
	case SideSell:
		e.sell(signal.Symbol, candle.Close)
		return nil
	case SideHold:
		return nil
	default:
		return fmt.Errorf("unknown signal side: %s", signal.Side)
	}
}

func (e *Engine) buy(symbol string, price float64) error {
	if e.HasPosition(symbol) || len(e.Positions) >= e.config.MaxPositions {
		return nil
	}
	if price <= 0 {
		return fmt.Errorf("invalid price %f for %s", price, symbol)
	}

	quantity := e.positionSize(price)
	value := price * quantity
	commission := value * e.config.CommissionRate
	if quantity <= 0 || e.Cash < value+commission {
		return nil
	}

	e.Cash -= value + commission
	e.Positions[symbol] = &Position{
		Symbol:       symbol,
		EntryTime:    e.now,
		EntryPrice:   price,
		Quantity:     quantity,
		CurrentPrice: price,
		Commission:   commission,
	}
	e.appendTrade(symbol, SideBuy, quantity, price, commission)
	return nil
}

func (e *Engine) sell(symbol string, price float64) {
	position, ok := e.Positions[symbol]
	if !ok {
		return
	}

	value := price * position.Quantity
	commission := value * e.config.CommissionRate
	entryValue := position.EntryPrice * position.Quantity
	realized := value - commission - entryValue - position.Commission

	closed := &ClosedPosition{
		Symbol:      symbol,
		EntryTime:   position.EntryTime,
		ExitTime:    e.now,
		EntryPrice:  position.EntryPrice,
		ExitPrice:   price,
		Quantity:    position.Quantity,
		RealizedPL:  realized,
		HoldingTime: e.now.Sub(position.EntryTime),
		Commission:  position.Commission + commission,
	}
	if entryValue > 0 {
		closed.ReturnPct = realized / entryValue * 100
	}

	if realized > 0 {
		e.WinningTrades++
	} else {
		e.LosingTrades++
	}

	e.Cash += value - commission
	delete(e.Positions, symbol)
	e.ClosedPositions = append(e.ClosedPositions, closed)
	e.appendTrade(symbol, SideSell, position.Quantity, price, commission)
}

func (e *Engine) appendTrade(symbol string, side Side, quantity, price, commission float64) {
	e.Trades = append(e.Trades, &Trade{
		ID:         len(e.Trades) + 1,
		Timestamp:  e.now,
		Symbol:     symbol,
		Side:       side,
		Quantity:   quantity,
		Price:      price,
		Commission: commission,
		Value:      price * quantity,
	})
}

func (e *Engine) positionSize(price float64) float64 {
	switch e.config.PositionSizing {
	case SizingFixed:
		return e.config.PositionSize / price
	case SizingPercent:
		return e.Equity() * e.config.PositionSize / price
	default:
		return e.Equity() * 0.1 / price
	}
}

func (e *Engine) closeAll() {
	for _, symbol := range e.Symbols() {
		if !e.HasPosition(symbol) {
			continue
		}
		candle, err := e.Current(symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to close position at end of backtest")
			continue
		}
		e.sell(symbol, candle.Close)
	}
	if len(e.EquityCurve) > 0 {
		last := e.EquityCurve[len(e.EquityCurve)-1]
		last.Equity = e.Equity()
		last.Cash = e.Cash
	}
}

// ============================================================================
// EQUITY
// ============================================================================

func (e *Engine) markToMarket() {
	for symbol, position := range e.Positions {
		if candle, err := e.Current(symbol); err == nil {
			position.CurrentPrice = candle.Close
		}
	}
}

func (e *Engine) recordEquity() {
	equity := e.Equity()
	e.EquityCurve = append(e.EquityCurve, &EquityPoint{Timestamp: e.now, Equity: equity, Cash: e.Cash})

	if equity > e.PeakEquity {
		e.PeakEquity = equity
	}
	drawdown := e.PeakEquity - equity
	if drawdown > e.MaxDrawdown {
		e.MaxDrawdown = drawdown
		if e.PeakEquity > 0 {
			e.MaxDrawdownPct = drawdown / e.PeakEquity * 100
		}
	}
}
