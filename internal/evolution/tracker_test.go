package evolution

import (
	"sync"
	"testing"
	"time"

	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/ibrahiminano/pipflow-sub001/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func trend(t *testing.T, period int, stop float64) model.TradingStrategy {
	t.Helper()
	s, err := strategy.NewMATrend(period, model.RiskRules{StopLossPct: stop, TakeProfitPct: 4, PositionSizePct: 10, MaxOpenTrades: 1})
	require.NoError(t, err)
	return s
}

func TestTracker_VersionsAreSequential(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	base := trend(t, 10, 2)
	for i := 0; i < 3; i++ {
		_, err := tr.Record(base.ID, model.TriggerManual, base, trend(t, 11+i, 2), 0, "")
		require.NoError(t, err)
	}
	h := tr.History(base.ID)
	require.Len(t, h, 3)
	for i, rec := range h {
		assert.Equal(t, i+1, rec.Version)
		assert.NotEmpty(t, rec.ID)
	}
	latest, ok := tr.Latest(base.ID)
	require.True(t, ok)
	assert.Equal(t, 3, latest.Version)

	_, ok = tr.Latest("unknown")
	assert.False(t, ok)
	assert.Empty(t, tr.History("unknown"))
}

func TestTracker_ReservedVersionsAreNeverReused(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	base := trend(t, 10, 2)
	assert.Equal(t, 1, tr.ReserveVersion(base.ID))
	assert.Equal(t, 2, tr.ReserveVersion(base.ID))
	rec, err := tr.Record(base.ID, model.TriggerManual, base, trend(t, 12, 2), 1.5, "")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Version)
	assert.Equal(t, 1, tr.ReserveVersion("other"))
}

func TestTracker_ConcurrentRecordsHaveNoDuplicates(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	base := trend(t, 10, 2)
	next := trend(t, 12, 2)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%5 == 0 {
				tr.ReserveVersion(base.ID)
				return
			}
			_, err := tr.Record(base.ID, model.TriggerManual, base, next, 0, "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	h := tr.History(base.ID)
	require.Len(t, h, 40)
	seen := make(map[int]bool)
	for i, rec := range h {
		assert.False(t, seen[rec.Version])
		seen[rec.Version] = true
		if i > 0 {
			assert.Greater(t, rec.Version, h[i-1].Version)
		}
		assert.LessOrEqual(t, rec.Version, 50)
	}
}

func TestTracker_RecordOptimization(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	base := trend(t, 10, 2)
	opt := trend(t, 14, 1.5)
	opt.ID = base.ID

	rec, err := tr.RecordOptimization(&model.OptimizationResult{ID: "opt-1", OriginalStrategy: base, OptimizedStrategy: base})
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = tr.RecordOptimization(&model.OptimizationResult{
		ID:                "opt-2",
		Improved:          true,
		OriginalStrategy:  base,
		OptimizedStrategy: opt,
		Improvements:      model.Improvements{ProfitImprovement: 3.25},
	})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, model.TriggerOptimization, rec.Trigger)
	assert.Equal(t, "opt-2", rec.SourceID)
	assert.Equal(t, 3.25, rec.PerformanceDeltaPct)
	require.Len(t, rec.Changes, 2)
	assert.Equal(t, strategy.ParamPeriod, rec.Changes[0].Parameter)
	assert.Equal(t, 10.0, *rec.Changes[0].OldValue)
	assert.Equal(t, 14.0, *rec.Changes[0].NewValue)
	assert.Equal(t, model.ParamStopLoss, rec.Changes[1].Parameter)
}

func TestTracker_RecordABTest(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	a, b := trend(t, 10, 2), trend(t, 20, 2)
	res := model.ABTestResult{
		ID:            "ab-1",
		Configuration: model.ABTestConfiguration{StrategyA: a, StrategyB: b},
		Status:        model.ABRunning,
		Winner:        model.WinnerStrategyB,
	}
	_, err := tr.RecordABTest(res)
	assert.Error(t, err)

	res.Status = model.ABCompleted
	res.Winner = model.WinnerNoSignificantDifference
	rec, err := tr.RecordABTest(res)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, tr.History(a.ID))

	res.Winner = model.WinnerStrategyB
	res.PerformanceA.MeanReturnPct = 0.4
	res.PerformanceB.MeanReturnPct = 1.1
	rec, err = tr.RecordABTest(res)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, a.ID, rec.StrategyID)
	assert.Equal(t, model.TriggerABTest, rec.Trigger)
	assert.InDelta(t, 0.7, rec.PerformanceDeltaPct, 1e-12)
	require.Len(t, rec.Changes, 1)
	assert.Equal(t, 20.0, *rec.Changes[0].NewValue)
	assert.WithinDuration(t, time.Now(), rec.Timestamp, time.Minute)
}

func TestDiff_AddedAndRemoved(t *testing.T) {
	got := Diff(
		map[model.ParamName]float64{"a": 1, "b": 2},
		map[model.ParamName]float64{"b": 2, "c": 3},
	)
	require.Len(t, got, 2)
	assert.Equal(t, model.ParamName("a"), got[0].Parameter)
	assert.Nil(t, got[0].NewValue)
	assert.Equal(t, 1.0, *got[0].OldValue)
	assert.Equal(t, model.ParamName("c"), got[1].Parameter)
	assert.Nil(t, got[1].OldValue)

	assert.Empty(t, Diff(map[model.ParamName]float64{"x": 1}, map[model.ParamName]float64{"x": 1}))
}
