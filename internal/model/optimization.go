package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OptimizationGoal selects how candidates are scored.
type OptimizationGoal string

const (
	GoalMaximizeProfit      OptimizationGoal = "maximizeProfit"
	GoalMinimizeDrawdown    OptimizationGoal = "minimizeDrawdown"
	GoalMaximizeSharpeRatio OptimizationGoal = "maximizeSharpeRatio"
	GoalBalancedRiskReward  OptimizationGoal = "balancedRiskReward"
	GoalMinimizeVolatility  OptimizationGoal = "minimizeVolatility"
)

// Valid reports whether g is a known goal.
func (g OptimizationGoal) Valid() bool {
	switch g {
	case GoalMaximizeProfit, GoalMinimizeDrawdown, GoalMaximizeSharpeRatio, GoalBalancedRiskReward, GoalMinimizeVolatility:
		return true
	}
	return false
}

// OptimizationConstraints exclude candidates. Zero values disable a bound.
// MaxDrawdown and MinWinRate are fractions.
type OptimizationConstraints struct {
	MaxDrawdown          float64 `json:"max_drawdown"`
	MinWinRate           float64 `json:"min_win_rate"`
	MaxLeverage          float64 `json:"max_leverage"`
	MinTradesPerMonth    float64 `json:"min_trades_per_month"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
}

// OptimizationRequest describes one search.
type OptimizationRequest struct {
	BaseStrategy   TradingStrategy         `json:"base_strategy"`
	Goal           OptimizationGoal        `json:"goal"`
	Constraints    OptimizationConstraints `json:"constraints"`
	Timeframe      Timeframe               `json:"timeframe"`
	Symbol         string                  `json:"symbol"`
	From           time.Time               `json:"from"`
	To             time.Time               `json:"to"`
	InitialCapital decimal.Decimal         `json:"initial_capital"`
}

// Recommendation is one parameter change of the optimized strategy.
type Recommendation struct {
	Parameter        ParamName `json:"parameter"`
	OriginalValue    float64   `json:"original_value"`
	RecommendedValue float64   `json:"recommended_value"`
	Impact           string    `json:"impact"`
	ImpactScore      float64   `json:"impact_score"`
	Confidence       float64   `json:"confidence"`
}

// Improvements are deltas of the optimized strategy against the
// pre-optimization baseline.
type Improvements struct {
	ProfitImprovement  float64 `json:"profit_improvement"`
	DrawdownReduction  float64 `json:"drawdown_reduction"`
	SharpeImprovement  float64 `json:"sharpe_improvement"`
	WinRateImprovement float64 `json:"win_rate_improvement"`
	ConsistencyScore   float64 `json:"consistency_score"`
}

// StrategyComparison holds baseline and optimized metrics side by side.
type StrategyComparison struct {
	Original  PerformanceMetrics `json:"original"`
	Optimized PerformanceMetrics `json:"optimized"`
}

// OptimizationResult is immutable once produced.
type OptimizationResult struct {
	ID                  string             `json:"id"`
	Goal                OptimizationGoal   `json:"goal"`
	OriginalStrategy    TradingStrategy    `json:"original_strategy"`
	OptimizedStrategy   TradingStrategy    `json:"optimized_strategy"`
	Recommendations     []Recommendation   `json:"recommendations"`
	Improvements        Improvements       `json:"improvements"`
	Comparison          StrategyComparison `json:"comparison"`
	Confidence          float64            `json:"confidence"`
	CandidatesEvaluated int                `json:"candidates_evaluated"`
	CandidatesRejected  int                `json:"candidates_rejected"`
	CandidatesFailed    int                `json:"candidates_failed"`
	Improved            bool               `json:"improved"`
	Notes               string             `json:"notes,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
}
