package strategy

import (
	"fmt"

	"github.com/cinar/indicator/v2/trend"

	"github.com/ajitpratap0/stratopt/pkg/backtest"
)

// EMACrossoverName is the registry name of EMACrossover
const EMACrossoverName = "ema-crossover"

// EMACrossover parameter IDs
const (
	ParamFastPeriod = "fast_period"
	ParamSlowPeriod = "slow_period"
	ParamTakeProfit = "take_profit"
	ParamSecurity   = "security"
)

func init() {
	Register(EMACrossoverName, func() Strategy { return NewEMACrossover() })
}

// EMACrossover buys when the fast EMA crosses above the slow EMA and exits on the
// opposite cross or when the take-profit distance is reached.
type EMACrossover struct {
	Base

	symbol string
}

// NewEMACrossover creates the strategy with 12/26 periods and a 5% take profit
func NewEMACrossover() *EMACrossover {
	return &EMACrossover{
		Base: NewBase(EMACrossoverName,
			NewParam(ParamFastPeriod, TypeInt, 12),
			NewParam(ParamSlowPeriod, TypeInt, 26),
			NewParam(ParamTakeProfit, TypeUnit, Unit{Value: 5, Type: UnitPercent}),
			NewParam(ParamSecurity, TypeSecurity, (*Security)(nil)),
		),
	}
}

// Clone returns an independent copy with the same parameter values
func (s *EMACrossover) Clone() Strategy {
	return &EMACrossover{Base: s.CloneBase()}
}

// Symbols returns the configured security, if any
func (s *EMACrossover) Symbols() []string {
	if sec, ok := s.Param(ParamSecurity).Value().(*Security); ok && sec != nil {
		return []string{sec.Code}
	}
	return nil
}

// Initialize validates periods and resolves the traded symbol
func (s *EMACrossover) Initialize(engine *backtest.Engine) error {
	fast, slow := s.Param(ParamFastPeriod).Int(), s.Param(ParamSlowPeriod).Int()
	if fast < 1 || slow < 1 {
		return fmt.Errorf("ema periods must be positive, got fast=%d slow=%d", fast, slow)
	}

	if symbols := s.Symbols(); len(symbols) > 0 {
		s.symbol = symbols[0]
	} else if loaded := engine.Symbols(); len(loaded) > 0 {
		s.symbol = loaded[0]
	} else {
		return fmt.Errorf("no symbol to trade")
	}
	return nil
}

// GenerateSignals compares the last two values of both EMAs
func (s *EMACrossover) GenerateSignals(engine *backtest.Engine) ([]*backtest.Signal, error) {
	fast, slow := s.Param(ParamFastPeriod).Int(), s.Param(ParamSlowPeriod).Int()
	longest := max(fast, slow)

	closes := engine.Closes(s.symbol, longest*4)
	if len(closes) < longest+1 {
		return nil, nil
	}

	fastEMA := ema(closes, fast)
	slowEMA := ema(closes, slow)
	if len(fastEMA) < 2 || len(slowEMA) < 2 {
		return nil, nil
	}

	prevDiff := fastEMA[len(fastEMA)-2] - slowEMA[len(slowEMA)-2]
	diff := fastEMA[len(fastEMA)-1] - slowEMA[len(slowEMA)-1]
	price := closes[len(closes)-1]

	signal := func(side backtest.Side, reason string) []*backtest.Signal {
		return []*backtest.Signal{{
			Timestamp:  engine.Now(),
			Symbol:     s.symbol,
			Side:       side,
			Confidence: 1,
			Reason:     reason,
			Source:     EMACrossoverName,
		}}
	}

	if position, ok := engine.Positions[s.symbol]; ok {
		if tp, ok := s.Param(ParamTakeProfit).Value().(Unit); ok && tp.Value > 0 {
			if price >= position.EntryPrice+tp.Offset(position.EntryPrice) {
				return signal(backtest.SideSell, "take profit"), nil
			}
		}
		if prevDiff >= 0 && diff < 0 {
			return signal(backtest.SideSell, "bearish cross"), nil
		}
		return nil, nil
	}

	if prevDiff <= 0 && diff > 0 {
		return signal(backtest.SideBuy, "bullish cross"), nil
	}
	return nil, nil
}

// Finalize is a no-op
func (s *EMACrossover) Finalize(engine *backtest.Engine) error {
	return nil
}

func ema(values []float64, period int) []float64 {
	in := make(chan float64, len(values))
	for _, v := range values {
		in <- v
	}
	close(in)

	var out []float64
	for v := range trend.NewEmaWithPeriod[float64](period).Compute(in) {
		out = append(out, v)
	}
	return out
}
