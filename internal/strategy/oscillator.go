package strategy

import (
	"fmt"

	"github.com/ibrahiminano/pipflow-sub001/internal/model"
)

const (
	ParamRSIPeriod  model.ParamName = "rsi_period"
	ParamOversold   model.ParamName = "oversold"
	ParamOverbought model.ParamName = "overbought"
	ParamBBPeriod   model.ParamName = "bb_period"
)

// NewRSIReversion buys when RSI drops below oversold and sells when it rises
// above overbought.
func NewRSIReversion(period int, oversold, overbought float64, risk model.RiskRules) (model.TradingStrategy, error) {
	if period < 1 || oversold >= overbought {
		return model.TradingStrategy{}, fmt.Errorf("%w: rsi_reversion period %d thresholds %.4g/%.4g",
			model.ErrInvalidStrategy, period, oversold, overbought)
	}
	rsi := model.IndP(model.IndRSI, ParamRSIPeriod)
	s := model.TradingStrategy{
		ID:        fmt.Sprintf("rsi_reversion_%d", period),
		Name:      "RSI Reversion",
		Direction: model.DirectionLong,
		Entry: model.RuleSet{Operator: model.OpAnd, Groups: []model.ConditionGroup{{
			Conditions: []model.Condition{{Left: rsi, Op: model.CmpLess, Right: model.Param(ParamOversold)}},
		}}},
		Exit: model.RuleSet{Operator: model.OpAnd, Groups: []model.ConditionGroup{{
			Conditions: []model.Condition{{Left: rsi, Op: model.CmpGreater, Right: model.Param(ParamOverbought)}},
		}}},
		Risk: risk,
		Params: map[model.ParamName]float64{
			ParamRSIPeriod:  float64(period),
			ParamOversold:   oversold,
			ParamOverbought: overbought,
		},
	}
	return s, s.Validate()
}

// NewBollingerBreakout enters on a close above the upper band and exits on a
// close back under the lower band or the SMA.
func NewBollingerBreakout(period int, multiplier float64, risk model.RiskRules) (model.TradingStrategy, error) {
	if period < 2 || multiplier <= 0 {
		return model.TradingStrategy{}, fmt.Errorf("%w: bollinger_breakout period %d multiplier %.4g",
			model.ErrInvalidStrategy, period, multiplier)
	}
	upper := model.IndP(model.IndBBUpper, ParamBBPeriod)
	upper.Multiplier = multiplier
	lower := model.IndP(model.IndBBLower, ParamBBPeriod)
	lower.Multiplier = multiplier
	closeOp := model.Ind(model.IndClose, 0)
	s := model.TradingStrategy{
		ID:        fmt.Sprintf("bollinger_breakout_%d", period),
		Name:      "Bollinger Breakout",
		Direction: model.DirectionLong,
		Entry: model.RuleSet{Operator: model.OpAnd, Groups: []model.ConditionGroup{{
			Conditions: []model.Condition{{Left: closeOp, Op: model.CmpCrossAbove, Right: upper}},
		}}},
		Exit: model.RuleSet{Operator: model.OpOr, Groups: []model.ConditionGroup{
			{Conditions: []model.Condition{{Left: closeOp, Op: model.CmpLess, Right: lower}}},
			{Conditions: []model.Condition{{Left: closeOp, Op: model.CmpCrossBelow, Right: model.IndP(model.IndSMA, ParamBBPeriod)}}},
		}},
		Risk:   risk,
		Params: map[model.ParamName]float64{ParamBBPeriod: float64(period)},
	}
	return s, s.Validate()
}
