package emulation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratopt/internal/marketdata"
	"github.com/ajitpratap0/stratopt/pkg/backtest"
)

// BacktestRunner runs strategies on the candle backtest engine
type BacktestRunner struct {
	Config backtest.Config

	// Query is the template for candle loads; Symbol is set per strategy symbol
	Query marketdata.Query
}

// NewBacktestRunner creates a backtest runner
func NewBacktestRunner(config backtest.Config, query marketdata.Query) *BacktestRunner {
	return &BacktestRunner{Config: config, Query: query}
}

// Run executes req in a goroutine. The metrics are stored on the strategy
// before onComplete fires.
func (r *BacktestRunner) Run(ctx context.Context, req RunRequest, onComplete func(RunResult)) {
	Go(onComplete, func() (*backtest.Metrics, error) {
		return r.run(ctx, req)
	})
}

func (r *BacktestRunner) run(ctx context.Context, req RunRequest) (*backtest.Metrics, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	symbols := req.Strategy.Symbols()
	if len(symbols) == 0 {
		symbols = r.Config.Symbols
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: strategy %s has no symbols", ErrInvalidRequest, req.Strategy.Name())
	}

	engine := req.Adapter.Engine(r.Config)
	for _, symbol := range symbols {
		q := r.Query
		q.Symbol = symbol
		if q.Start.IsZero() {
			q.Start = r.Config.StartDate
		}
		if q.End.IsZero() {
			q.End = r.Config.EndDate
		}

		candles, err := req.Storage.Candles(ctx, q)
		if err != nil {
			return nil, err
		}
		if err := engine.LoadCandles(symbol, candles); err != nil {
			return nil, err
		}
	}

	result, err := engine.Run(ctx, req.Strategy)
	if err != nil {
		return nil, fmt.Errorf("backtest of %s failed: %w", req.Strategy.Name(), err)
	}
	req.Strategy.SetMetrics(result)

	log.Debug().
		Str("strategy", req.Strategy.Name()).
		Int("adapter", req.Adapter.ID).
		Int("storage", req.Storage.ID).
		Int("iterations", req.Iterations).
		Float64("total_return", result.TotalReturn).
		Msg("Strategy run complete")

	return result, nil
}
