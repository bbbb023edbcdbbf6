package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crossStrategy() TradingStrategy {
	return TradingStrategy{
		ID:        "cross",
		Direction: DirectionLong,
		Entry: RuleSet{Operator: OpAnd, Groups: []ConditionGroup{{Conditions: []Condition{
			{Left: IndP(IndSMA, "fast"), Op: CmpCrossAbove, Right: IndP(IndSMA, "slow")},
		}}}},
		Exit: RuleSet{Operator: OpOr, Groups: []ConditionGroup{{Conditions: []Condition{
			{Left: Ind(IndRSI, 14), Op: CmpGreater, Right: Param("exit_rsi")},
		}}}},
		Risk:   RiskRules{StopLossPct: 2, TakeProfitPct: 4, PositionSizePct: 10, MaxOpenTrades: 1},
		Params: map[ParamName]float64{"fast": 10, "slow": 30, "exit_rsi": 70},
	}
}

func TestTradingStrategy_WithCopies(t *testing.T) {
	s := crossStrategy()

	out, err := s.With("fast", 12)
	require.NoError(t, err)
	assert.Equal(t, 12.0, out.Params["fast"])
	assert.Equal(t, 10.0, s.Params["fast"])

	out, err = s.With(ParamStopLoss, 3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, out.Risk.StopLossPct)
	assert.Equal(t, 2.0, s.Risk.StopLossPct)

	_, err = s.With("missing", 1)
	assert.ErrorIs(t, err, ErrInvalidStrategy)
	_, err = s.With("risk.leverage", 1)
	assert.ErrorIs(t, err, ErrInvalidStrategy)
}

func TestTradingStrategy_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TradingStrategy)
	}{
		{"direction", func(s *TradingStrategy) { s.Direction = "both" }},
		{"timeframe", func(s *TradingStrategy) { s.Timeframe = "2h" }},
		{"no entry", func(s *TradingStrategy) { s.Entry = RuleSet{} }},
		{"dangling period param", func(s *TradingStrategy) { delete(s.Params, "slow") }},
		{"dangling param operand", func(s *TradingStrategy) { delete(s.Params, "exit_rsi") }},
		{"unknown indicator", func(s *TradingStrategy) { s.Exit.Groups[0].Conditions[0].Left = Ind("vwap", 5) }},
		{"zero period", func(s *TradingStrategy) { s.Exit.Groups[0].Conditions[0].Left = Ind(IndRSI, 0) }},
		{"comparator", func(s *TradingStrategy) { s.Entry.Groups[0].Conditions[0].Op = "between" }},
		{"stop loss", func(s *TradingStrategy) { s.Risk.StopLossPct = 100 }},
		{"position size", func(s *TradingStrategy) { s.Risk.PositionSizePct = 0 }},
		{"trailing distance", func(s *TradingStrategy) { s.Risk.TrailingStop = true }},
		{"schema bounds", func(s *TradingStrategy) {
			s.Schema = ParamSchema{Version: 1, Specs: []ParamSpec{{Name: "fast", Min: 20, Max: 5}}}
		}},
	}
	require.NoError(t, crossStrategy().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := crossStrategy().Clone()
			tt.mutate(&s)
			assert.ErrorIs(t, s.Validate(), ErrInvalidStrategy)
		})
	}
}

func TestTradingStrategy_DefaultSchema(t *testing.T) {
	schema := crossStrategy().DefaultSchema()
	assert.Equal(t, ParamSchemaVersion, schema.Version)

	fast, ok := schema.Spec("fast")
	require.True(t, ok)
	assert.True(t, fast.Integer)
	assert.Equal(t, 5.0, fast.Min)
	assert.Equal(t, 15.0, fast.Max)

	rsi, ok := schema.Spec("exit_rsi")
	require.True(t, ok)
	assert.False(t, rsi.Integer)
	assert.InDelta(t, 35.0, rsi.Min, 1e-9)
	assert.InDelta(t, 105.0, rsi.Max, 1e-9)

	stop, ok := schema.Spec(ParamStopLoss)
	require.True(t, ok)
	assert.Equal(t, 1.0, stop.Min)
	assert.Equal(t, 3.0, stop.Max)

	_, ok = schema.Spec(ParamPositionSize)
	assert.False(t, ok)
	_, ok = schema.Spec(ParamTrailingDistance)
	assert.False(t, ok)
}

func TestParamSpec_Clamp(t *testing.T) {
	p := ParamSpec{Min: 2, Max: 10, Integer: true}
	assert.Equal(t, 2.0, p.Clamp(-4))
	assert.Equal(t, 10.0, p.Clamp(12.2))
	assert.Equal(t, 7.0, p.Clamp(6.6))
}
