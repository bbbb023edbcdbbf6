package engine

import (
	"testing"
	"time"

	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func trade(pnl float64) model.BacktestTrade {
	return model.BacktestTrade{
		Direction: model.DirectionLong,
		PnL:       decimal.NewFromFloat(pnl),
		PnLPct:    pnl / 10,
		Duration:  time.Hour,
	}
}

func equityCurve(values ...float64) []model.EquityPoint {
	out := make([]model.EquityPoint, len(values))
	for i, v := range values {
		out[i] = model.EquityPoint{Timestamp: testStart.Add(time.Duration(i) * 24 * time.Hour), Equity: decimal.NewFromFloat(v)}
	}
	return out
}

func TestAnalyze_ProfitFactor(t *testing.T) {
	tests := []struct {
		name   string
		trades []model.BacktestTrade
		want   float64
	}{
		{"no trades", nil, 0},
		{"only winners", []model.BacktestTrade{trade(10), trade(5)}, model.InfiniteProfitFactor},
		{"only losers", []model.BacktestTrade{trade(-10)}, 0},
		{"mixed", []model.BacktestTrade{trade(30), trade(-10), trade(-5)}, 2},
		{"break-even counts as loser", []model.BacktestTrade{trade(10), trade(0)}, model.InfiniteProfitFactor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Analyze(tt.trades, equityCurve(100, 100), decimal.NewFromInt(100), model.Timeframe1d)
			assert.Equal(t, tt.want, a.Performance.ProfitFactor)
			st := a.Statistics
			assert.Equal(t, st.TotalTrades, st.WinningTrades+st.LosingTrades)
			assert.GreaterOrEqual(t, a.Performance.WinRate, 0.0)
			assert.LessOrEqual(t, a.Performance.WinRate, 1.0)
		})
	}
}

func TestAnalyze_TradeStatistics(t *testing.T) {
	trades := []model.BacktestTrade{trade(5), trade(7), trade(-2), trade(-3), trade(-1), trade(4)}
	trades[5].Direction = model.DirectionShort
	trades[5].ForcedClose = true

	a := Analyze(trades, equityCurve(100, 110), decimal.NewFromInt(100), model.Timeframe1d)
	st := a.Statistics
	assert.Equal(t, 6, st.TotalTrades)
	assert.Equal(t, 3, st.WinningTrades)
	assert.Equal(t, 3, st.LosingTrades)
	assert.Equal(t, 2, st.MaxConsecutiveWins)
	assert.Equal(t, 3, st.MaxConsecutiveLosses)
	assert.Equal(t, 5, st.LongTrades)
	assert.Equal(t, 1, st.ShortTrades)
	assert.Equal(t, 1, st.ForcedCloses)
	assert.Equal(t, 7.0, st.LargestWin)
	assert.Equal(t, -3.0, st.LargestLoss)
	assert.Equal(t, time.Hour, st.AverageDuration)

	p := a.Performance
	assert.InDelta(t, 0.5, p.WinRate, 1e-12)
	assert.InDelta(t, 16.0, p.GrossProfit, 1e-9)
	assert.InDelta(t, 6.0, p.GrossLoss, 1e-9)
	assert.InDelta(t, 16.0/3, p.AverageWin, 1e-9)
	assert.InDelta(t, 2.0, p.AverageLoss, 1e-9)
	assert.InDelta(t, 10.0/6, p.Expectancy, 1e-9)
}

func TestAnalyze_DrawdownAndReturns(t *testing.T) {
	a := Analyze(nil, equityCurve(100, 120, 90, 108, 130), decimal.NewFromInt(100), model.Timeframe1d)
	p := a.Performance
	assert.InDelta(t, 0.25, p.MaxDrawdown, 1e-12)
	assert.InDelta(t, 30.0, p.MaxDrawdownAmount, 1e-9)
	assert.InDelta(t, 0.30, p.TotalReturn, 1e-12)
	assert.InDelta(t, 30.0, p.TotalReturnPct, 1e-9)
	assert.Greater(t, p.SharpeRatio, 0.0)
	assert.Greater(t, p.SortinoRatio, 0.0)
	assert.Greater(t, p.Volatility, 0.0)
	assert.Greater(t, p.CalmarRatio, 0.0)

	assert.Len(t, a.DrawdownCurve, 5)
	assert.InDelta(t, 0.25, a.DrawdownCurve[2].Drawdown, 1e-12)
	assert.True(t, a.DrawdownCurve[3].Peak.Equal(decimal.NewFromInt(120)))
}

func TestAnalyze_FlatEquityHasZeroRatios(t *testing.T) {
	a := Analyze(nil, equityCurve(100, 100, 100, 100), decimal.NewFromInt(100), model.Timeframe1h)
	assert.Equal(t, model.PerformanceMetrics{}, a.Performance)
}

func TestAnalyze_MonthlyReturns(t *testing.T) {
	eq := []model.EquityPoint{
		{Timestamp: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), Equity: decimal.NewFromInt(105)},
		{Timestamp: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), Equity: decimal.NewFromInt(110)},
		{Timestamp: time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC), Equity: decimal.NewFromInt(99)},
	}
	got := Analyze(nil, eq, decimal.NewFromInt(100), model.Timeframe1d).MonthlyReturns
	assert.Len(t, got, 2)
	assert.Equal(t, time.January, got[0].Month)
	assert.InDelta(t, 10.0, got[0].ReturnPct, 1e-9)
	assert.Equal(t, time.February, got[1].Month)
	assert.InDelta(t, -10.0, got[1].ReturnPct, 1e-9)
}
