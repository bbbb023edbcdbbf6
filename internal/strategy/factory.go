package strategy

import (
	"fmt"

	"github.com/ibrahiminano/pipflow-sub001/internal/model"
)

// DefaultRisk is applied by NewStrategy when the caller gives none.
var DefaultRisk = model.RiskRules{
	StopLossPct:     2,
	TakeProfitPct:   4,
	PositionSizePct: 10,
	MaxOpenTrades:   1,
}

// NewStrategy builds a template by type name. Numeric config values arrive as
// float64, the way encoding/json decodes them.
func NewStrategy(strategyType string, config map[string]interface{}, risk *model.RiskRules) (model.TradingStrategy, error) {
	r := DefaultRisk
	if risk != nil {
		r = *risk
	}
	num := func(key string) (float64, error) {
		v, ok := config[key].(float64)
		if !ok {
			return 0, fmt.Errorf("%w: %s needs numeric %s", model.ErrInvalidStrategy, strategyType, key)
		}
		return v, nil
	}
	numOr := func(key string, def float64) float64 {
		if v, ok := config[key].(float64); ok {
			return v
		}
		return def
	}

	switch strategyType {
	case "ma_trend":
		period, err := num("period")
		if err != nil {
			return model.TradingStrategy{}, err
		}
		return NewMATrend(int(period), r)
	case "ma_cross":
		short, err := num("short_period")
		if err != nil {
			return model.TradingStrategy{}, err
		}
		long, err := num("long_period")
		if err != nil {
			return model.TradingStrategy{}, err
		}
		return NewMACross(int(short), int(long), r)
	case "rsi_reversion":
		return NewRSIReversion(int(numOr("period", 14)), numOr("oversold", 30), numOr("overbought", 70), r)
	case "bollinger_breakout":
		return NewBollingerBreakout(int(numOr("period", 20)), numOr("multiplier", 2), r)
	default:
		return model.TradingStrategy{}, fmt.Errorf("%w: unknown strategy type: %s", model.ErrInvalidStrategy, strategyType)
	}
}

// Types lists the template names NewStrategy accepts.
func Types() []string {
	return []string{"ma_trend", "ma_cross", "rsi_reversion", "bollinger_breakout"}
}
