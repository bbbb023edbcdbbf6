package model

import "time"

// ABStatus is the lifecycle state of an A/B test.
type ABStatus string

const (
	ABScheduled ABStatus = "scheduled"
	ABRunning   ABStatus = "running"
	ABCompleted ABStatus = "completed"
)

// ABWinner is the outcome of a test.
type ABWinner string

const (
	WinnerStrategyA               ABWinner = "strategyA"
	WinnerStrategyB               ABWinner = "strategyB"
	WinnerNoSignificantDifference ABWinner = "noSignificantDifference"
)

// ABCompletion names what ended a test.
type ABCompletion string

const (
	CompletionDurationElapsed ABCompletion = "duration_elapsed"
	CompletionMinimumTrades   ABCompletion = "minimum_trades"
	// CompletionDataExhausted ends a replay whose bars ran out before either
	// of the other triggers held.
	CompletionDataExhausted ABCompletion = "data_exhausted"
)

// ABTestConfiguration defines a controlled comparison of two strategies.
// SplitRatio is the share of allocated events that go to arm A. Seed keys
// the allocation hash; when empty it is derived from the configuration.
type ABTestConfiguration struct {
	Name            string          `json:"name"`
	Seed            string          `json:"seed,omitempty"`
	StrategyA       TradingStrategy `json:"strategy_a"`
	StrategyB       TradingStrategy `json:"strategy_b"`
	Duration        time.Duration   `json:"duration"`
	SplitRatio      float64         `json:"split_ratio"`
	MinimumTrades   int             `json:"minimum_trades"`
	ConfidenceLevel float64         `json:"confidence_level"`
}

// ArmPerformance accumulates one arm's closed trades.
type ArmPerformance struct {
	Trades         int     `json:"trades"`
	WinningTrades  int     `json:"winning_trades"`
	WinRate        float64 `json:"win_rate"`
	NetProfit      float64 `json:"net_profit"`
	MeanReturnPct  float64 `json:"mean_return_pct"`
	StdDevPct      float64 `json:"std_dev_pct"`
	TotalReturnPct float64 `json:"total_return_pct"`
}

// ABTestResult can change only while the test runs.
type ABTestResult struct {
	ID                      string              `json:"id"`
	Configuration           ABTestConfiguration `json:"configuration"`
	Status                  ABStatus            `json:"status"`
	StartDate               time.Time           `json:"start_date"`
	EndDate                 time.Time           `json:"end_date"`
	PerformanceA            ArmPerformance      `json:"performance_a"`
	PerformanceB            ArmPerformance      `json:"performance_b"`
	Winner                  ABWinner            `json:"winner"`
	StatisticalSignificance float64             `json:"statistical_significance"`
	CompletedBy             ABCompletion        `json:"completed_by,omitempty"`
}
