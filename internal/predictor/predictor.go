package predictor

import (
	"fmt"
	"math"
	"sort"

	"github.com/ibrahiminano/pipflow-sub001/internal/engine"
	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"go.uber.org/zap"
)

const (
	minConfidence = 0.05
	maxConfidence = 0.95
)

// style is how a strategy makes money, which decides the regime it needs.
type style int

const (
	trendFollowing style = iota
	meanReverting
)

// Predictor projects a strategy's performance from its backtest baseline
// and the current market regime. Identical inputs give identical output.
type Predictor struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Predictor {
	return &Predictor{logger: logger}
}

// Predict scales the baseline by how well the regime suits the strategy. A
// nil baseline yields a flat projection with minimum confidence.
func (p *Predictor) Predict(s model.TradingStrategy, baseline *model.PerformanceMetrics, f model.MarketFeatures) (model.PerformancePrediction, error) {
	if err := s.Validate(); err != nil {
		return model.PerformancePrediction{}, err
	}
	if err := validateFeatures(f); err != nil {
		return model.PerformancePrediction{}, err
	}
	horizon := Horizon(s.Timeframe)
	out := model.PerformancePrediction{StrategyID: s.ID, TimeHorizon: horizon, Confidence: minConfidence}
	if baseline == nil {
		return out, nil
	}

	months := horizonMonths(horizon)
	fit := regimeFit(s, f)
	volPenalty := math.Min(1, math.Abs(f.VolatilityIndex-1))
	mult := (0.5 + fit) * (1 - 0.5*volPenalty)
	vol := math.Max(0.5, f.VolatilityIndex)

	monthly := baseline.ExpectancyPct / 100 * s.Risk.PositionSizePct / 100 * baseline.TradesPerMonth
	out.ExpectedReturn = monthly * months * mult
	out.ExpectedDrawdown = math.Min(1, baseline.MaxDrawdown*vol*math.Sqrt(months))
	out.ExpectedSharpe = baseline.SharpeRatio * mult / vol

	sample := math.Min(1, baseline.TradesPerMonth*months/10)
	conf := 0.25 + 0.4*fit*(1-volPenalty) + 0.2*sample
	conf *= 1 - 0.2*meanAbs(f.Correlations)
	conf *= 1 - 0.1*meanAbs(f.EconomicIndicators)
	out.Confidence = math.Round(clamp(conf, minConfidence, maxConfidence)*100) / 100

	p.logger.Debug("prediction",
		zap.String("strategy", s.ID),
		zap.String("horizon", string(horizon)),
		zap.Float64("regime_fit", fit),
		zap.Float64("confidence", out.Confidence))
	return out, nil
}

// Horizon maps a bar period to the window a prediction covers.
func Horizon(tf model.Timeframe) model.TimeHorizon {
	switch tf {
	case model.Timeframe1m, model.Timeframe5m, model.Timeframe15m, model.Timeframe30m, model.Timeframe1h:
		return model.HorizonOneWeek
	case model.Timeframe1w:
		return model.HorizonThreeMonths
	}
	return model.HorizonOneMonth
}

func horizonMonths(h model.TimeHorizon) float64 {
	switch h {
	case model.HorizonOneWeek:
		return 0.25
	case model.HorizonThreeMonths:
		return 3
	}
	return 1
}

// regimeFit is in [0,1]: trend followers want strong trends in their
// direction, mean reversion wants the opposite.
func regimeFit(s model.TradingStrategy, f model.MarketFeatures) float64 {
	if styleOf(s) == meanReverting {
		return 1 - f.TrendStrength
	}
	aligned := float64(s.Direction.Sign()) * clamp(f.TrendDirection, -1, 1)
	return clamp(f.TrendStrength*(0.5+0.5*aligned)+0.25*(1-f.TrendStrength), 0, 1)
}

func styleOf(s model.TradingStrategy) style {
	for _, g := range s.Entry.Groups {
		for _, c := range g.Conditions {
			for _, o := range []model.Operand{c.Left, c.Right} {
				switch o.Indicator {
				case model.IndRSI, model.IndBBUpper, model.IndBBLower:
					return meanReverting
				}
			}
		}
	}
	return trendFollowing
}

func validateFeatures(f model.MarketFeatures) error {
	switch {
	case math.IsNaN(f.VolatilityIndex) || f.VolatilityIndex < 0:
		return fmt.Errorf("%w: volatility index %v", engine.ErrInvalidRequest, f.VolatilityIndex)
	case math.IsNaN(f.TrendStrength) || f.TrendStrength < 0 || f.TrendStrength > 1:
		return fmt.Errorf("%w: trend strength %v outside [0,1]", engine.ErrInvalidRequest, f.TrendStrength)
	case math.IsNaN(f.TrendDirection):
		return fmt.Errorf("%w: trend direction is NaN", engine.ErrInvalidRequest)
	}
	return nil
}

// meanAbs averages |v| clipped to 1, summing in key order.
func meanAbs(m map[string]float64) float64 {
	if len(m) == 0 {
		return 0
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sum float64
	for _, k := range keys {
		v := m[k]
		if math.IsNaN(v) {
			continue
		}
		sum += math.Min(1, math.Abs(v))
	}
	return sum / float64(len(keys))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
