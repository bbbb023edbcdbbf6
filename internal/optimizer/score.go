package optimizer

import (
	"fmt"
	"math"

	"github.com/ibrahiminano/pipflow-sub001/internal/model"
)

// minDrawdownFloor keeps return/drawdown finite for near-flat curves.
const minDrawdownFloor = 0.01

// Score rates a result against goal; higher is better. ok is false when the
// result cannot be ranked for the goal: a strategy that never trades has no
// drawdown or volatility and would otherwise always win those goals.
func Score(goal model.OptimizationGoal, res *model.BacktestResult) (score float64, ok bool) {
	p := res.Performance
	trades := res.Statistics.TotalTrades
	switch goal {
	case model.GoalMaximizeProfit:
		return p.TotalReturn, true
	case model.GoalMinimizeDrawdown:
		return -p.MaxDrawdown, trades > 0
	case model.GoalMaximizeSharpeRatio:
		return p.SharpeRatio, true
	case model.GoalBalancedRiskReward:
		return 0.4*p.SharpeRatio + 0.4*(p.TotalReturn/math.Max(p.MaxDrawdown, minDrawdownFloor)) + 0.2*p.WinRate, true
	case model.GoalMinimizeVolatility:
		return -p.Volatility, trades > 0
	}
	return 0, false
}

// goalLabel is the metric name used in recommendation text.
func goalLabel(goal model.OptimizationGoal) string {
	switch goal {
	case model.GoalMaximizeProfit:
		return "total return"
	case model.GoalMinimizeDrawdown:
		return "drawdown"
	case model.GoalMaximizeSharpeRatio:
		return "Sharpe ratio"
	case model.GoalMinimizeVolatility:
		return "volatility"
	}
	return "risk/reward score"
}

// Violations lists every constraint the result breaks. An empty list means
// the candidate is feasible.
func Violations(c model.OptimizationConstraints, s model.TradingStrategy, res *model.BacktestResult) []string {
	var out []string
	p, st := res.Performance, res.Statistics
	if c.MaxDrawdown > 0 && p.MaxDrawdown > c.MaxDrawdown {
		out = append(out, fmt.Sprintf("max drawdown %.4f above %.4f", p.MaxDrawdown, c.MaxDrawdown))
	}
	if c.MinWinRate > 0 && p.WinRate < c.MinWinRate {
		out = append(out, fmt.Sprintf("win rate %.4f below %.4f", p.WinRate, c.MinWinRate))
	}
	if c.MaxLeverage > 0 && s.Risk.Leverage() > c.MaxLeverage {
		out = append(out, fmt.Sprintf("leverage %.2f above %.2f", s.Risk.Leverage(), c.MaxLeverage))
	}
	if c.MinTradesPerMonth > 0 && p.TradesPerMonth < c.MinTradesPerMonth {
		out = append(out, fmt.Sprintf("%.2f trades per month below %.2f", p.TradesPerMonth, c.MinTradesPerMonth))
	}
	if c.MaxConsecutiveLosses > 0 && st.MaxConsecutiveLosses > c.MaxConsecutiveLosses {
		out = append(out, fmt.Sprintf("%d consecutive losses above %d", st.MaxConsecutiveLosses, c.MaxConsecutiveLosses))
	}
	return out
}
