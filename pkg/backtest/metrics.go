package backtest

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// ============================================================================
// PERFORMANCE METRICS
// ============================================================================

// Metrics summarizes a completed backtest
type Metrics struct {
	// Returns
	TotalReturn    float64 `json:"total_return"`
	TotalReturnPct float64 `json:"total_return_pct"`
	CAGR           float64 `json:"cagr"`

	// Risk
	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	Volatility     float64 `json:"volatility"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	SortinoRatio   float64 `json:"sortino_ratio"`
	CalmarRatio    float64 `json:"calmar_ratio"`

	// Trades
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
	ProfitFactor  float64 `json:"profit_factor"`
	Expectancy    float64 `json:"expectancy"`

	MedianHoldingTime time.Duration `json:"median_holding_time"`

	// Portfolio
	InitialCapital float64   `json:"initial_capital"`
	FinalEquity    float64   `json:"final_equity"`
	PeakEquity     float64   `json:"peak_equity"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	Steps          int       `json:"steps"`
}

// CalculateMetrics derives the metrics from the engine state after a run
func CalculateMetrics(engine *Engine) (*Metrics, error) {
	curve := engine.EquityCurve
	if len(curve) == 0 {
		return nil, fmt.Errorf("no equity curve data")
	}

	m := &Metrics{
		InitialCapital: engine.config.InitialCapital,
		FinalEquity:    engine.Equity(),
		PeakEquity:     engine.PeakEquity,
		MaxDrawdown:    engine.MaxDrawdown,
		MaxDrawdownPct: engine.MaxDrawdownPct,
		TotalTrades:    len(engine.ClosedPositions),
		WinningTrades:  engine.WinningTrades,
		LosingTrades:   engine.LosingTrades,
		StartDate:      curve[0].Timestamp,
		EndDate:        curve[len(curve)-1].Timestamp,
		Steps:          engine.steps,
	}

	m.TotalReturn = m.FinalEquity - m.InitialCapital
	if m.InitialCapital > 0 {
		m.TotalReturnPct = m.TotalReturn / m.InitialCapital * 100
	}

	years := m.EndDate.Sub(m.StartDate).Hours() / 24 / 365.25
	if years > 0 && m.InitialCapital > 0 && m.FinalEquity > 0 {
		m.CAGR = (math.Pow(m.FinalEquity/m.InitialCapital, 1/years) - 1) * 100
	}

	tradeStatistics(m, engine.ClosedPositions)
	riskRatios(m, curve)

	if m.MaxDrawdownPct > 0 {
		m.CalmarRatio = m.CAGR / m.MaxDrawdownPct
	}

	return m, nil
}

func tradeStatistics(m *Metrics, closed []*ClosedPosition) {
	if len(closed) == 0 {
		return
	}

	var wins, losses float64
	holding := make([]time.Duration, 0, len(closed))
	for _, p := range closed {
		holding = append(holding, p.HoldingTime)
		if p.RealizedPL > 0 {
			wins += p.RealizedPL
		} else {
			losses += p.RealizedPL
		}
	}

	n := float64(len(closed))
	m.WinRate = float64(m.WinningTrades) / n * 100
	if m.WinningTrades > 0 {
		m.AverageWin = wins / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = losses / float64(m.LosingTrades)
	}
	if losses != 0 {
		m.ProfitFactor = wins / math.Abs(losses)
	}
	m.Expectancy = (wins + losses) / n

	sort.Slice(holding, func(i, j int) bool { return holding[i] < holding[j] })
	mid := len(holding) / 2
	if len(holding)%2 == 0 {
		m.MedianHoldingTime = (holding[mid-1] + holding[mid]) / 2
	} else {
		m.MedianHoldingTime = holding[mid]
	}
}

// riskRatios computes annualized volatility, Sharpe and Sortino from per-step returns.
// The annualization factor is inferred from the average spacing of the equity curve.
func riskRatios(m *Metrics, curve []*EquityPoint) {
	if len(curve) < 3 {
		return
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	if len(returns) < 2 {
		return
	}

	mean, downside := 0.0, 0.0
	for _, r := range returns {
		mean += r
		if r < 0 {
			downside += r * r
		}
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(returns)-1))
	downDev := math.Sqrt(downside / float64(len(returns)))

	annual := math.Sqrt(periodsPerYear(curve))
	m.Volatility = stdDev * annual * 100
	if stdDev > 0 {
		m.SharpeRatio = mean / stdDev * annual
	}
	if downDev > 0 {
		m.SortinoRatio = mean / downDev * annual
	}
}

func periodsPerYear(curve []*EquityPoint) float64 {
	span := curve[len(curve)-1].Timestamp.Sub(curve[0].Timestamp)
	if span <= 0 {
		return 252
	}
	step := span / time.Duration(len(curve)-1)
	return float64(365*24*time.Hour) / float64(step)
}

// ============================================================================
// FITNESS OBJECTIVES
// ============================================================================

// Objective reduces metrics to a single score, higher is better
type Objective func(m *Metrics) float64

var objectives = map[string]Objective{
	"sharpe":        func(m *Metrics) float64 { return m.SharpeRatio },
	"sortino":       func(m *Metrics) float64 { return m.SortinoRatio },
	"calmar":        func(m *Metrics) float64 { return m.CalmarRatio },
	"total-return":  func(m *Metrics) float64 { return m.TotalReturnPct },
	"profit-factor": func(m *Metrics) float64 { return m.ProfitFactor },
	"expectancy":    func(m *Metrics) float64 { return m.Expectancy },
}

// ObjectiveByName resolves a named objective
func ObjectiveByName(name string) (Objective, error) {
	obj, ok := objectives[strings.ToLower(name)]
	if !ok {
		names := make([]string, 0, len(objectives))
		for n := range objectives {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown objective %q (known: %s)", name, strings.Join(names, ", "))
	}
	return obj, nil
}

// Summary renders the headline numbers on one line
func (m *Metrics) Summary() string {
	return fmt.Sprintf("return=%.2f%% sharpe=%.2f sortino=%.2f max_dd=%.2f%% trades=%d win_rate=%.1f%%",
		m.TotalReturnPct, m.SharpeRatio, m.SortinoRatio, m.MaxDrawdownPct, m.TotalTrades, m.WinRate)
}
