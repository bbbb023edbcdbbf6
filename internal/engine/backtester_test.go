package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/ibrahiminano/pipflow-sub001/internal/strategy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBacktester_FlatSeriesRSIProducesNoTrades(t *testing.T) {
	s, err := strategy.NewRSIReversion(14, 30, 70, model.RiskRules{
		StopLossPct:     0.5,
		TakeProfitPct:   1,
		PositionSizePct: 10,
		MaxOpenTrades:   1,
	})
	require.NoError(t, err)

	bars := makeBars("EURUSD", model.Timeframe1h, flatCloses(200))
	capital := decimal.NewFromInt(10000)
	res, err := newTestBacktester(nil).RunBars(context.Background(), Request{Strategy: s, InitialCapital: capital}, bars)
	require.NoError(t, err)

	assert.Empty(t, res.Trades)
	assert.Len(t, res.EquityCurve, 200)
	assert.Len(t, res.DrawdownCurve, 200)
	assert.True(t, res.FinalEquity.Equal(capital))
	assert.Equal(t, model.PerformanceMetrics{}, res.Performance)
	assert.Equal(t, 0, res.Statistics.TotalTrades)
	assert.Equal(t, "EURUSD", res.Symbol)
}

func TestBacktester_Deterministic(t *testing.T) {
	bars := makeBars("BTCUSDT", model.Timeframe1h, waveCloses(400))
	req := Request{RunID: "fixed", Strategy: maCross(t), InitialCapital: decimal.NewFromInt(10000)}
	bt := newTestBacktester(nil)

	first, err := bt.RunBars(context.Background(), req, bars)
	require.NoError(t, err)
	second, err := bt.RunBars(context.Background(), req, bars)
	require.NoError(t, err)

	require.NotEmpty(t, first.Trades)
	assert.Equal(t, first, second)
}

func TestBacktester_Invariants(t *testing.T) {
	bars := makeBars("BTCUSDT", model.Timeframe1h, waveCloses(400))
	capital := decimal.NewFromInt(10000)
	res, err := newTestBacktester(nil).RunBars(context.Background(), Request{Strategy: maCross(t), InitialCapital: capital}, bars)
	require.NoError(t, err)

	assert.Len(t, res.EquityCurve, len(bars))
	assert.Equal(t, len(bars), res.BarsProcessed)
	st := res.Statistics
	assert.Equal(t, st.TotalTrades, st.WinningTrades+st.LosingTrades)
	assert.GreaterOrEqual(t, res.Performance.WinRate, 0.0)
	assert.LessOrEqual(t, res.Performance.WinRate, 1.0)
	assert.GreaterOrEqual(t, res.Performance.MaxDrawdown, 0.0)
	assert.LessOrEqual(t, res.Performance.MaxDrawdown, 1.0)

	total := decimal.Zero
	for _, tr := range res.Trades {
		assert.False(t, tr.ExitTime.Before(tr.EntryTime))
		assert.True(t, tr.Volume.IsPositive())
		total = total.Add(tr.PnL)
	}
	assert.True(t, total.Equal(res.FinalEquity.Sub(capital)), "trade pnl %s vs equity change %s", total, res.FinalEquity.Sub(capital))
}

func TestBacktester_CapitalScaling(t *testing.T) {
	bars := makeBars("BTCUSDT", model.Timeframe1h, waveCloses(400))
	s := maCross(t)
	bt := newTestBacktester(nil)

	small, err := bt.RunBars(context.Background(), Request{Strategy: s, InitialCapital: decimal.NewFromInt(1000)}, bars)
	require.NoError(t, err)
	large, err := bt.RunBars(context.Background(), Request{Strategy: s, InitialCapital: decimal.NewFromInt(100000)}, bars)
	require.NoError(t, err)

	require.Equal(t, len(small.Trades), len(large.Trades))
	require.NotEmpty(t, small.Trades)
	assert.Equal(t, small.Performance.WinRate, large.Performance.WinRate)
	assert.InDelta(t, small.Performance.TotalReturnPct, large.Performance.TotalReturnPct, 1e-9)
	assert.InDelta(t, small.Performance.MaxDrawdown, large.Performance.MaxDrawdown, 1e-9)
	for i := range small.Trades {
		assert.InDelta(t, small.Trades[i].PnLPct, large.Trades[i].PnLPct, 1e-9)
		if !small.Trades[i].PnL.IsZero() {
			ratio := large.Trades[i].PnL.Div(small.Trades[i].PnL).InexactFloat64()
			assert.InDelta(t, 100.0, ratio, 1e-6)
		}
	}
}

func TestBacktester_NoData(t *testing.T) {
	bt := newTestBacktester(NewMemorySource())
	_, err := bt.Run(context.Background(), Request{
		Strategy:       maCross(t),
		Symbol:         "BTCUSDT",
		Timeframe:      model.Timeframe1h,
		From:           testStart,
		To:             testStart.Add(24 * time.Hour),
		InitialCapital: decimal.NewFromInt(1000),
	})
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestBacktester_RunLoadsAndResamples(t *testing.T) {
	src := NewMemorySource()
	src.Add(makeBars("BTCUSDT", model.Timeframe15m, waveCloses(800))...)
	res, err := newTestBacktester(src).Run(context.Background(), Request{
		Strategy:       maCross(t),
		Symbol:         "BTCUSDT",
		Timeframe:      model.Timeframe1h,
		From:           testStart,
		To:             testStart.Add(200 * time.Hour),
		InitialCapital: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	assert.Equal(t, 200, res.BarsProcessed)
	assert.Equal(t, model.Timeframe1h, res.Timeframe)
}

func TestBacktester_RejectsBadInput(t *testing.T) {
	bars := makeBars("BTCUSDT", model.Timeframe1h, waveCloses(50))
	bt := newTestBacktester(nil)

	_, err := bt.RunBars(context.Background(), Request{Strategy: maCross(t)}, bars)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	bad := maCross(t)
	bad.Risk.MaxOpenTrades = 0
	_, err = bt.RunBars(context.Background(), Request{Strategy: bad, InitialCapital: decimal.NewFromInt(1)}, bars)
	assert.ErrorIs(t, err, model.ErrInvalidStrategy)

	unordered := append([]model.Bar{}, bars...)
	unordered[3], unordered[4] = unordered[4], unordered[3]
	_, err = bt.RunBars(context.Background(), Request{Strategy: maCross(t), InitialCapital: decimal.NewFromInt(1)}, unordered)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = bt.RunBars(context.Background(), Request{Strategy: maCross(t), Timeframe: model.Timeframe1h, InitialCapital: decimal.NewFromInt(1)}, nil)
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestBacktester_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bars := makeBars("BTCUSDT", model.Timeframe1h, waveCloses(100))
	res, err := newTestBacktester(nil).RunBars(ctx, Request{Strategy: maCross(t), InitialCapital: decimal.NewFromInt(1000)}, bars)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Nil(t, res)
}

func TestBacktester_ProgressPhases(t *testing.T) {
	src := NewMemorySource()
	src.Add(makeBars("BTCUSDT", model.Timeframe1h, waveCloses(300))...)

	var phases []Phase
	var fractions []float64
	_, err := newTestBacktester(src).Run(context.Background(), Request{
		Strategy:       maCross(t),
		Symbol:         "BTCUSDT",
		Timeframe:      model.Timeframe1h,
		InitialCapital: decimal.NewFromInt(1000),
	}, WithProgress(func(p Progress) {
		if len(phases) == 0 || phases[len(phases)-1] != p.Phase {
			phases = append(phases, p.Phase)
		}
		fractions = append(fractions, p.Fraction)
	}))
	require.NoError(t, err)

	assert.Equal(t, []Phase{PhaseIdle, PhaseLoadingData, PhaseGeneratingSignals, PhaseSimulating, PhaseComputingMetrics, PhaseDone}, phases)
	for i := 1; i < len(fractions); i++ {
		assert.GreaterOrEqual(t, fractions[i], fractions[i-1])
	}
	assert.Equal(t, 1.0, fractions[len(fractions)-1])
}

func TestBacktester_ConcurrentRunsAreIsolated(t *testing.T) {
	bars := makeBars("BTCUSDT", model.Timeframe1h, waveCloses(400))
	bt := newTestBacktester(nil)
	req := Request{RunID: "same", Strategy: maCross(t), InitialCapital: decimal.NewFromInt(5000)}

	want, err := bt.RunBars(context.Background(), req, bars)
	require.NoError(t, err)

	const n = 8
	results := make([]*model.BacktestResult, n)
	counts := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := bt.RunBars(context.Background(), req, bars, WithProgress(func(Progress) { counts[i]++ }))
			if err == nil {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		assert.Equal(t, want, results[i])
		assert.Equal(t, counts[0], counts[i])
	}
}

func TestBacktester_EntryFilter(t *testing.T) {
	bars := makeBars("BTCUSDT", model.Timeframe1h, waveCloses(400))
	res, err := newTestBacktester(nil).RunBars(context.Background(),
		Request{Strategy: maCross(t), InitialCapital: decimal.NewFromInt(1000)}, bars,
		WithEntryFilter(func(string, time.Time) bool { return false }))
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
}

func TestBacktester_ForcedCloseAtEnd(t *testing.T) {
	s, err := strategy.NewMATrend(3, model.RiskRules{PositionSizePct: 100, MaxOpenTrades: 1})
	require.NoError(t, err)
	closes := []float64{100, 99, 98, 97, 99, 101, 103, 105, 107, 109}
	res, err := newTestBacktester(nil).RunBars(context.Background(),
		Request{Strategy: s, InitialCapital: decimal.NewFromInt(1000)}, makeBars("BTCUSDT", model.Timeframe1d, closes))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.True(t, tr.ForcedClose)
	assert.Equal(t, model.ExitEndOfData, tr.ExitReason)
	assert.Equal(t, 1, res.Statistics.ForcedCloses)
	assert.True(t, tr.PnL.IsPositive())
	assert.Equal(t, 0, res.EquityCurve[len(res.EquityCurve)-1].OpenTrades)
}

func TestTask_StartAndWait(t *testing.T) {
	src := NewMemorySource()
	src.Add(makeBars("BTCUSDT", model.Timeframe1h, waveCloses(300))...)
	bt := newTestBacktester(src)
	tasks := NewTasks()

	task := bt.Start(context.Background(), Request{
		Strategy:       maCross(t),
		Symbol:         "BTCUSDT",
		Timeframe:      model.Timeframe1h,
		InitialCapital: decimal.NewFromInt(1000),
	})
	tasks.Add(task)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := task.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.ID, res.RunID)
	assert.Equal(t, PhaseDone, task.Progress().Phase)

	got, ok := tasks.Get(task.ID)
	require.True(t, ok)
	assert.Same(t, task, got)
	assert.Equal(t, 1, tasks.Prune())
}

func TestTask_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := NewMemorySource()
	src.Add(makeBars("BTCUSDT", model.Timeframe1h, waveCloses(100))...)
	task := newTestBacktester(src).Start(ctx, Request{
		Strategy:       maCross(t),
		Symbol:         "BTCUSDT",
		Timeframe:      model.Timeframe1h,
		InitialCapital: decimal.NewFromInt(1000),
	})
	<-task.Done()
	res, err := task.Result()
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrCancelled)
}
