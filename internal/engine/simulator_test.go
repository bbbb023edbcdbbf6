package engine

import (
	"testing"

	"github.com/ibrahiminano/pipflow-sub001/internal/indicator"
	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/ibrahiminano/pipflow-sub001/internal/strategy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// alwaysIn enters on every bar and relies on the stop to leave.
func alwaysIn(risk model.RiskRules) model.TradingStrategy {
	return model.TradingStrategy{
		ID:        "always",
		Direction: model.DirectionLong,
		Entry: model.RuleSet{Operator: model.OpAnd, Groups: []model.ConditionGroup{{
			Conditions: []model.Condition{{Left: model.Ind(model.IndClose, 0), Op: model.CmpGreater, Right: model.Const(0)}},
		}}},
		Risk: risk,
	}
}

func simulate(t *testing.T, s model.TradingStrategy, bars []model.Bar) *Simulator {
	t.Helper()
	compiled, err := strategy.Compile(s, indicator.NewCache(bars))
	require.NoError(t, err)
	sim := NewSimulator("BTCUSDT", NewSignalGenerator(compiled), DefaultCosts(), decimal.NewFromInt(1000), nil)
	for i, b := range bars {
		sim.Step(i, b, i == len(bars)-1)
	}
	return sim
}

func decline(n int, step float64) []float64 {
	out := make([]float64, n)
	v := 100.0
	for i := range out {
		out[i] = v
		v *= 1 - step
	}
	return out
}

func TestSimulator_DrawdownKillSwitch(t *testing.T) {
	s := alwaysIn(model.RiskRules{StopLossPct: 1, PositionSizePct: 100, MaxOpenTrades: 1, MaxDrawdownPct: 5})
	bars := makeBars("BTCUSDT", model.Timeframe1d, decline(40, 0.02))
	sim := simulate(t, s, bars)

	assert.True(t, sim.Halted())
	trades := sim.Trades()
	assert.GreaterOrEqual(t, len(trades), 3)
	assert.LessOrEqual(t, len(trades), 6)
	for _, tr := range trades {
		assert.Equal(t, model.ExitStopLoss, tr.ExitReason)
		assert.True(t, tr.PnL.IsNegative())
	}
	eq := sim.Equity()
	require.Len(t, eq, len(bars))
	for _, p := range eq[len(eq)-20:] {
		assert.Equal(t, 0, p.OpenTrades)
	}
}

func TestSimulator_DailyLossBlocksRestOfDay(t *testing.T) {
	s := alwaysIn(model.RiskRules{StopLossPct: 1, PositionSizePct: 100, MaxOpenTrades: 1, MaxDailyLossPct: 2})
	// 24 hourly bars per day for two days, falling throughout
	bars := makeBars("BTCUSDT", model.Timeframe1h, decline(48, 0.02))
	sim := simulate(t, s, bars)

	perDay := map[int]int{}
	for _, tr := range sim.Trades() {
		perDay[tr.EntryTime.Day()]++
	}
	assert.LessOrEqual(t, perDay[1], 3)
	assert.LessOrEqual(t, perDay[2], 3)
	assert.Greater(t, perDay[2], 0, "the switch resets on a new day")
	assert.False(t, sim.Halted())
}

func TestSimulator_ShortProfitsOnDecline(t *testing.T) {
	s := alwaysIn(model.RiskRules{TakeProfitPct: 3, PositionSizePct: 50, MaxOpenTrades: 1})
	s.Direction = model.DirectionShort
	sim := simulate(t, s, makeBars("BTCUSDT", model.Timeframe1d, decline(20, 0.02)))

	require.NotEmpty(t, sim.Trades())
	for _, tr := range sim.Trades() {
		assert.Equal(t, model.DirectionShort, tr.Direction)
		assert.True(t, tr.PnL.IsPositive(), "short trade %d pnl %s", tr.ID, tr.PnL)
	}
}

func TestSimulator_MaxOpenTrades(t *testing.T) {
	s := alwaysIn(model.RiskRules{PositionSizePct: 10, MaxOpenTrades: 3})
	sim := simulate(t, s, makeBars("BTCUSDT", model.Timeframe1d, flatCloses(30)))
	for _, p := range sim.Equity() {
		assert.LessOrEqual(t, p.OpenTrades, 3)
	}
	assert.Len(t, sim.Trades(), 3)
	for _, tr := range sim.Trades() {
		assert.True(t, tr.ForcedClose)
	}
}
