package strategy

import (
	"fmt"

	"github.com/ibrahiminano/pipflow-sub001/internal/model"
)

// Parameter names shared by the moving-average templates.
const (
	ParamPeriod      model.ParamName = "period"
	ParamShortPeriod model.ParamName = "short_period"
	ParamLongPeriod  model.ParamName = "long_period"
)

// NewMATrend goes long while the close sits above its SMA and exits when it
// falls back below.
func NewMATrend(period int, risk model.RiskRules) (model.TradingStrategy, error) {
	if period < 1 {
		return model.TradingStrategy{}, fmt.Errorf("%w: ma_trend period %d", model.ErrInvalidStrategy, period)
	}
	s := model.TradingStrategy{
		ID:        fmt.Sprintf("ma_trend_%d", period),
		Name:      "Moving Average Trend",
		Direction: model.DirectionLong,
		Entry: model.RuleSet{Operator: model.OpAnd, Groups: []model.ConditionGroup{{
			Conditions: []model.Condition{{Left: model.Ind(model.IndClose, 0), Op: model.CmpCrossAbove, Right: model.IndP(model.IndSMA, ParamPeriod)}},
		}}},
		Exit: model.RuleSet{Operator: model.OpAnd, Groups: []model.ConditionGroup{{
			Conditions: []model.Condition{{Left: model.Ind(model.IndClose, 0), Op: model.CmpCrossBelow, Right: model.IndP(model.IndSMA, ParamPeriod)}},
		}}},
		Risk:   risk,
		Params: map[model.ParamName]float64{ParamPeriod: float64(period)},
	}
	return s, s.Validate()
}
