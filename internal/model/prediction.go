package model

// TimeHorizon is the discrete window a prediction covers.
type TimeHorizon string

const (
	HorizonOneWeek     TimeHorizon = "1w"
	HorizonOneMonth    TimeHorizon = "1m"
	HorizonThreeMonths TimeHorizon = "3m"
)

// MarketFeatures describe the current regime. VolatilityIndex is 1 for
// normal volatility, TrendStrength is in [0,1].
type MarketFeatures struct {
	VolatilityIndex    float64            `json:"volatility_index"`
	TrendStrength      float64            `json:"trend_strength"`
	TrendDirection     float64            `json:"trend_direction"`
	Correlations       map[string]float64 `json:"correlations,omitempty"`
	EconomicIndicators map[string]float64 `json:"economic_indicators,omitempty"`
}

// PerformancePrediction is a projection for one strategy.
type PerformancePrediction struct {
	StrategyID       string      `json:"strategy_id"`
	ExpectedReturn   float64     `json:"expected_return"`
	ExpectedDrawdown float64     `json:"expected_drawdown"`
	ExpectedSharpe   float64     `json:"expected_sharpe"`
	Confidence       float64     `json:"confidence"`
	TimeHorizon      TimeHorizon `json:"time_horizon"`
}
