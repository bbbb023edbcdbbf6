package app

import (
	"context"
	"testing"
	"time"

	"github.com/ibrahiminano/pipflow-sub001/internal/abtest"
	"github.com/ibrahiminano/pipflow-sub001/internal/config"
	"github.com/ibrahiminano/pipflow-sub001/internal/engine"
	"github.com/ibrahiminano/pipflow-sub001/internal/evolution"
	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/ibrahiminano/pipflow-sub001/internal/strategy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testApp() *App {
	logger := zap.NewNop()
	return &App{
		Config:    &config.Config{ABTestSweepSpec: "@every 1m"},
		Logger:    logger,
		Memory:    engine.NewMemorySource(),
		Tasks:     engine.NewTasks(),
		ABTests:   abtest.NewManager(logger),
		Evolution: evolution.NewTracker(logger),
	}
}

func abConfig(t *testing.T) model.ABTestConfiguration {
	t.Helper()
	risk := model.RiskRules{StopLossPct: 2, TakeProfitPct: 4, PositionSizePct: 10, MaxOpenTrades: 1}
	a, err := strategy.NewMATrend(10, risk)
	require.NoError(t, err)
	b, err := strategy.NewMATrend(20, risk)
	require.NoError(t, err)
	return model.ABTestConfiguration{
		StrategyA:       a,
		StrategyB:       b,
		Duration:        time.Hour,
		SplitRatio:      0.5,
		MinimumTrades:   10,
		ConfidenceLevel: 0.95,
	}
}

func TestBaseBarSink(t *testing.T) {
	mem := engine.NewMemorySource()
	sink := baseBarSink{next: mem}
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := decimal.NewFromInt(100)
	bar := func(symbol string, tf model.Timeframe, i int) model.Bar {
		return model.Bar{Symbol: symbol, Timeframe: tf, Timestamp: ts.Add(time.Duration(i) * time.Minute),
			Open: p, High: p, Low: p, Close: p, Volume: decimal.NewFromInt(1)}
	}

	sink.Add(bar("btc-usdt", model.Timeframe1m, 0), bar("BTC/USDT", model.Timeframe5m, 0), bar("btc_usdt", model.Timeframe1m, 1))
	sink.Add(bar("ETHUSDT", model.Timeframe1h, 0))

	assert.Equal(t, []string{"BTCUSDT"}, mem.Symbols())
	bars, err := mem.LoadBars(context.Background(), "BTCUSDT", "", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, bars, 2)
}

func TestHousekeeping_CompletesExpiredTests(t *testing.T) {
	a := testApp()
	test, err := a.ABTests.Create(abConfig(t))
	require.NoError(t, err)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, test.Start(start))

	a.housekeeping(start.Add(30 * time.Minute))
	assert.Equal(t, model.ABRunning, test.Status())

	a.housekeeping(start.Add(2 * time.Hour))
	assert.Equal(t, model.ABCompleted, test.Status())
}

func TestABTestFinished_RecordsWinner(t *testing.T) {
	a := testApp()
	cfg := abConfig(t)
	res := model.ABTestResult{
		ID:            "ab-1",
		Configuration: cfg,
		Status:        model.ABCompleted,
		Winner:        model.WinnerStrategyB,
		PerformanceA:  model.ArmPerformance{MeanReturnPct: 0.5},
		PerformanceB:  model.ArmPerformance{MeanReturnPct: 1.25},
	}
	a.abTestFinished(res)

	history := a.Evolution.History(cfg.StrategyA.ID)
	require.Len(t, history, 1)
	assert.Equal(t, model.TriggerABTest, history[0].Trigger)
	assert.Equal(t, "ab-1", history[0].SourceID)
	assert.InDelta(t, 0.75, history[0].PerformanceDeltaPct, 1e-9)

	res.ID, res.Winner = "ab-2", model.WinnerNoSignificantDifference
	a.abTestFinished(res)
	assert.Len(t, a.Evolution.History(cfg.StrategyA.ID), 1)
}

func TestStartScheduler_RejectsBadSpec(t *testing.T) {
	a := testApp()
	a.Config.ABTestSweepSpec = "every minute"
	_, err := a.startScheduler()
	assert.Error(t, err)

	a.Config.ABTestSweepSpec = "@every 1h"
	c, err := a.startScheduler()
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)
	<-c.Stop().Done()
}
