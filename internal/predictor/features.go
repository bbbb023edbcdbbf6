package predictor

import (
	"fmt"
	"math"

	"github.com/ibrahiminano/pipflow-sub001/internal/engine"
	"github.com/ibrahiminano/pipflow-sub001/internal/indicator"
	"github.com/ibrahiminano/pipflow-sub001/internal/model"
)

// minFeatureBars covers ATR(30) and ADX(14).
const minFeatureBars = 31

// FeaturesFromBars classifies the regime at the last bar: short over long
// ATR for volatility, ADX for trend strength and weighted momentum for
// direction.
func FeaturesFromBars(bars []model.Bar) (model.MarketFeatures, error) {
	if len(bars) < minFeatureBars {
		return model.MarketFeatures{}, fmt.Errorf("%w: %d bars, need %d", engine.ErrDataUnavailable, len(bars), minFeatureBars)
	}
	c := indicator.NewCache(bars)
	high, low, closes := c.Highs(), c.Lows(), c.Closes()
	n := len(closes)

	f := model.MarketFeatures{VolatilityIndex: 1}
	atr10 := indicator.ATR(high, low, closes, 10)[n-1]
	atr30 := indicator.ATR(high, low, closes, 30)[n-1]
	if atr30 > 0 {
		f.VolatilityIndex = atr10 / atr30
	}

	adx, _, _ := indicator.ADX(high, low, closes, 14)
	f.TrendStrength = clamp(adx/100, 0, 1)

	momentum := 0.5*change(closes, 5) + 0.3*change(closes, 10) + 0.2*change(closes, 20)
	f.TrendDirection = clamp(momentum*10, -1, 1)
	return f, nil
}

func change(closes []float64, back int) float64 {
	n := len(closes)
	prev := closes[n-1-back]
	if prev == 0 || math.IsNaN(prev) {
		return 0
	}
	return (closes[n-1] - prev) / prev
}
