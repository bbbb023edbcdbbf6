package strategy

import (
	"fmt"

	"github.com/ibrahiminano/pipflow-sub001/internal/model"
)

// NewMACross is the golden/death cross of two SMAs.
func NewMACross(shortPeriod, longPeriod int, risk model.RiskRules) (model.TradingStrategy, error) {
	if shortPeriod < 1 || longPeriod <= shortPeriod {
		return model.TradingStrategy{}, fmt.Errorf("%w: ma_cross needs 0 < short < long, got %d/%d",
			model.ErrInvalidStrategy, shortPeriod, longPeriod)
	}
	short := model.IndP(model.IndSMA, ParamShortPeriod)
	long := model.IndP(model.IndSMA, ParamLongPeriod)
	s := model.TradingStrategy{
		ID:        fmt.Sprintf("ma_cross_%d_%d", shortPeriod, longPeriod),
		Name:      "MA_Cross",
		Direction: model.DirectionLong,
		Entry: model.RuleSet{Operator: model.OpAnd, Groups: []model.ConditionGroup{{
			Conditions: []model.Condition{{Left: short, Op: model.CmpCrossAbove, Right: long}},
		}}},
		Exit: model.RuleSet{Operator: model.OpAnd, Groups: []model.ConditionGroup{{
			Conditions: []model.Condition{{Left: short, Op: model.CmpCrossBelow, Right: long}},
		}}},
		Risk: risk,
		Params: map[model.ParamName]float64{
			ParamShortPeriod: float64(shortPeriod),
			ParamLongPeriod:  float64(longPeriod),
		},
	}
	return s, s.Validate()
}
