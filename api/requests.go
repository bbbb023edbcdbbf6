package api

import (
	"fmt"
	"time"

	"github.com/ibrahiminano/pipflow-sub001/internal/engine"
	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/ibrahiminano/pipflow-sub001/internal/strategy"
	"github.com/shopspring/decimal"
)

// StrategySpec names a strategy either in full or as a template with its
// config.
type StrategySpec struct {
	Strategy     *model.TradingStrategy `json:"strategy"`
	StrategyType string                 `json:"strategy_type"`
	Config       map[string]interface{} `json:"config"`
	Risk         *model.RiskRules       `json:"risk"`
}

func (s StrategySpec) build() (model.TradingStrategy, error) {
	if s.Strategy != nil {
		return s.Strategy.Clone(), nil
	}
	if s.StrategyType == "" {
		return model.TradingStrategy{}, fmt.Errorf("%w: strategy or strategy_type is required", model.ErrInvalidStrategy)
	}
	return strategy.NewStrategy(s.StrategyType, s.Config, s.Risk)
}

// Window is the market data a request runs over.
type Window struct {
	Symbol         string          `json:"symbol"`
	Timeframe      model.Timeframe `json:"timeframe"`
	From           time.Time       `json:"from"`
	To             time.Time       `json:"to"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
}

type BacktestRequest struct {
	StrategySpec
	Window
}

type OptimizeRequest struct {
	StrategySpec
	Window
	Goal        model.OptimizationGoal        `json:"goal" binding:"required"`
	Constraints model.OptimizationConstraints `json:"constraints"`
}

type ABTestRequest struct {
	Name            string          `json:"name"`
	Seed            string          `json:"seed"`
	StrategyA       StrategySpec    `json:"strategy_a"`
	StrategyB       StrategySpec    `json:"strategy_b"`
	Symbols         []string        `json:"symbols" binding:"required,min=1"`
	Timeframe       model.Timeframe `json:"timeframe"`
	From            time.Time       `json:"from"`
	To              time.Time       `json:"to"`
	Duration        string          `json:"duration" binding:"required"`
	SplitRatio      float64         `json:"split_ratio"`
	MinimumTrades   int             `json:"minimum_trades"`
	ConfidenceLevel float64         `json:"confidence_level"`
}

func (r ABTestRequest) configuration() (model.ABTestConfiguration, error) {
	d, err := time.ParseDuration(r.Duration)
	if err != nil {
		return model.ABTestConfiguration{}, fmt.Errorf("%w: duration: %v", engine.ErrInvalidRequest, err)
	}
	a, err := r.StrategyA.build()
	if err != nil {
		return model.ABTestConfiguration{}, fmt.Errorf("strategy a: %w", err)
	}
	b, err := r.StrategyB.build()
	if err != nil {
		return model.ABTestConfiguration{}, fmt.Errorf("strategy b: %w", err)
	}
	return model.ABTestConfiguration{
		Name:            r.Name,
		Seed:            r.Seed,
		StrategyA:       a,
		StrategyB:       b,
		Duration:        d,
		SplitRatio:      r.SplitRatio,
		MinimumTrades:   r.MinimumTrades,
		ConfidenceLevel: r.ConfidenceLevel,
	}, nil
}

type PredictRequest struct {
	StrategySpec
	Window
	Baseline *model.PerformanceMetrics `json:"baseline"`
	Features *model.MarketFeatures     `json:"features"`
}

// TaskView is the public state of an asynchronous backtest.
type TaskView struct {
	RunID    string                `json:"run_id"`
	Finished bool                  `json:"finished"`
	Progress engine.Progress       `json:"progress"`
	Result   *model.BacktestResult `json:"result,omitempty"`
	Error    interface{}           `json:"error,omitempty"`
}
