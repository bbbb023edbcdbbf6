package engine

import (
	"math"
	"testing"
	"time"

	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/ibrahiminano/pipflow-sub001/internal/strategy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// makeBars opens every bar at the previous close with a 0.1% wick.
func makeBars(symbol string, tf model.Timeframe, closes []float64) []model.Bar {
	out := make([]model.Bar, len(closes))
	prev := closes[0]
	for i, c := range closes {
		hi, lo := math.Max(prev, c)*1.001, math.Min(prev, c)*0.999
		out[i] = model.Bar{
			Symbol:    symbol,
			Timeframe: tf,
			Open:      decimal.NewFromFloat(prev),
			High:      decimal.NewFromFloat(hi),
			Low:       decimal.NewFromFloat(lo),
			Close:     decimal.NewFromFloat(c),
			Volume:    decimal.NewFromInt(10),
			Timestamp: testStart.Add(time.Duration(i) * tf.Duration()),
		}
		prev = c
	}
	return out
}

func waveCloses(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + 10*math.Sin(float64(i)/8) + 0.02*float64(i)
	}
	return out
}

func flatCloses(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100
	}
	return out
}

func maCross(t *testing.T) model.TradingStrategy {
	t.Helper()
	s, err := strategy.NewMACross(5, 20, model.RiskRules{
		StopLossPct:     2,
		TakeProfitPct:   4,
		PositionSizePct: 50,
		MaxOpenTrades:   1,
	})
	require.NoError(t, err)
	return s
}

func newTestBacktester(src Source) *Backtester {
	if src == nil {
		src = NewMemorySource()
	}
	return NewBacktester(src, DefaultCosts(), zap.NewNop())
}
