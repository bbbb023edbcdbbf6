package engine

import (
	"testing"

	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func ohlc(o, h, l, c float64) model.Bar {
	return model.Bar{Open: d(o), High: d(h), Low: d(l), Close: d(c)}
}

func TestSignalGenerator_Protective(t *testing.T) {
	long := &SignalGenerator{sign: 1}
	short := &SignalGenerator{sign: -1}

	tests := []struct {
		name       string
		gen        *SignalGenerator
		pos        position
		bar        model.Bar
		wantExit   bool
		wantPrice  float64
		wantReason model.ExitReason
	}{
		{"long inside range", long, position{stop: d(98), target: d(104)}, ohlc(100, 103, 99, 101), false, 0, ""},
		{"long stop touched", long, position{stop: d(98), target: d(104)}, ohlc(100, 101, 97, 99), true, 98, model.ExitStopLoss},
		{"long target touched", long, position{stop: d(98), target: d(104)}, ohlc(100, 105, 99, 104.5), true, 104, model.ExitTakeProfit},
		{"long both in bar stop wins", long, position{stop: d(98), target: d(104)}, ohlc(100, 105, 97, 101), true, 98, model.ExitStopLoss},
		{"long gap below stop fills at open", long, position{stop: d(98), target: d(104)}, ohlc(96, 97, 95, 96), true, 96, model.ExitStopLoss},
		{"long gap above target fills at open", long, position{stop: d(98), target: d(104)}, ohlc(106, 107, 105, 106), true, 106, model.ExitTakeProfit},
		{"long trailing tighter than stop", long, position{stop: d(98), target: d(120), trailStop: d(104.5)}, ohlc(106, 107, 104, 105), true, 104.5, model.ExitTrailingStop},
		{"long no levels", long, position{}, ohlc(100, 150, 50, 100), false, 0, ""},
		{"short stop touched", short, position{stop: d(102), target: d(96)}, ohlc(100, 103, 99, 101), true, 102, model.ExitStopLoss},
		{"short target touched", short, position{stop: d(102), target: d(96)}, ohlc(100, 101, 95, 97), true, 96, model.ExitTakeProfit},
		{"short both in bar stop wins", short, position{stop: d(102), target: d(96)}, ohlc(100, 103, 95, 99), true, 102, model.ExitStopLoss},
		{"short gap above stop fills at open", short, position{stop: d(102), target: d(96)}, ohlc(104, 105, 103, 104), true, 104, model.ExitStopLoss},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := tt.pos
			sig, ok := tt.gen.Protective(&pos, tt.bar)
			assert.Equal(t, tt.wantExit, ok)
			if tt.wantExit {
				assert.True(t, sig.Price.Equal(d(tt.wantPrice)), "price %s", sig.Price)
				assert.Equal(t, tt.wantReason, sig.Reason)
			}
		})
	}
}

func TestSignalGenerator_LevelsAndTrail(t *testing.T) {
	g := &SignalGenerator{sign: 1, stopPct: d(0.02), tpPct: d(0.04), trailPct: d(0.05)}
	stop, target := g.Levels(d(100))
	assert.True(t, stop.Equal(d(98)))
	assert.True(t, target.Equal(d(104)))

	best, trail := g.Trail(d(100), ohlc(100, 110, 99, 108))
	assert.True(t, best.Equal(d(110)))
	assert.True(t, trail.Equal(d(104.5)))

	best, _ = g.Trail(best, ohlc(108, 109, 100, 101))
	assert.True(t, best.Equal(d(110)), "best price never moves back")

	s := &SignalGenerator{sign: -1, stopPct: d(0.02), tpPct: d(0.04)}
	stop, target = s.Levels(d(100))
	assert.True(t, stop.Equal(d(102)))
	assert.True(t, target.Equal(d(96)))
	_, trail = s.Trail(d(100), ohlc(100, 101, 90, 95))
	assert.True(t, trail.IsZero())
}
