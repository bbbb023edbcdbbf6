package indicator

import (
	"fmt"
	"math"

	"github.com/ibrahiminano/pipflow-sub001/internal/model"
)

// Key identifies one precomputed series.
type Key struct {
	Kind       model.IndicatorKind
	Period     int
	Multiplier float64
}

func (k Key) String() string {
	if !k.Kind.NeedsPeriod() {
		return string(k.Kind)
	}
	if k.Multiplier != 0 {
		return fmt.Sprintf("%s(%d,%g)", k.Kind, k.Period, k.Multiplier)
	}
	return fmt.Sprintf("%s(%d)", k.Kind, k.Period)
}

// Lookback is the number of leading bars for which the series is undefined.
func (k Key) Lookback() int {
	switch k.Kind {
	case model.IndSMA, model.IndEMA, model.IndBBUpper, model.IndBBLower:
		return k.Period - 1
	case model.IndRSI, model.IndATR, model.IndROC:
		return k.Period
	}
	return 0
}

// Cache holds the float view of one bar sequence and the indicator series
// computed over it. A cache belongs to a single run and is not safe for
// concurrent use.
type Cache struct {
	open, high, low, close, volume []float64
	series                         map[Key][]float64
}

// NewCache converts the bars once.
func NewCache(bars []model.Bar) *Cache {
	n := len(bars)
	c := &Cache{
		open:   make([]float64, n),
		high:   make([]float64, n),
		low:    make([]float64, n),
		close:  make([]float64, n),
		volume: make([]float64, n),
		series: make(map[Key][]float64),
	}
	for i, b := range bars {
		c.open[i] = b.Open.InexactFloat64()
		c.high[i] = b.High.InexactFloat64()
		c.low[i] = b.Low.InexactFloat64()
		c.close[i] = b.Close.InexactFloat64()
		c.volume[i] = b.Volume.InexactFloat64()
	}
	return c
}

// Len is the number of bars.
func (c *Cache) Len() int { return len(c.close) }

// Closes exposes the close series.
func (c *Cache) Closes() []float64 { return c.close }

// Highs exposes the high series.
func (c *Cache) Highs() []float64 { return c.high }

// Lows exposes the low series.
func (c *Cache) Lows() []float64 { return c.low }

// Series returns the series for k, computing it on first use.
func (c *Cache) Series(k Key) ([]float64, error) {
	if s, ok := c.series[k]; ok {
		return s, nil
	}
	if !k.Kind.Known() {
		return nil, fmt.Errorf("%w: unknown indicator %q", model.ErrInvalidStrategy, k.Kind)
	}
	if k.Kind.NeedsPeriod() && k.Period < 1 {
		return nil, fmt.Errorf("%w: %s needs a positive period", model.ErrInvalidStrategy, k.Kind)
	}
	var s []float64
	switch k.Kind {
	case model.IndClose:
		s = c.close
	case model.IndOpen:
		s = c.open
	case model.IndHigh:
		s = c.high
	case model.IndLow:
		s = c.low
	case model.IndVolume:
		s = c.volume
	case model.IndSMA:
		s = SMA(c.close, k.Period)
	case model.IndEMA:
		s = EMA(c.close, k.Period)
	case model.IndRSI:
		s = RSI(c.close, k.Period)
	case model.IndATR:
		s = ATR(c.high, c.low, c.close, k.Period)
	case model.IndROC:
		s = ROC(c.close, k.Period)
	case model.IndBBUpper, model.IndBBLower:
		mult := k.Multiplier
		if mult == 0 {
			mult = 2
		}
		upper, lower := Bollinger(c.close, k.Period, mult)
		c.series[Key{Kind: model.IndBBUpper, Period: k.Period, Multiplier: k.Multiplier}] = upper
		c.series[Key{Kind: model.IndBBLower, Period: k.Period, Multiplier: k.Multiplier}] = lower
		return c.series[k], nil
	default:
		return nil, fmt.Errorf("%w: unknown indicator %q", model.ErrInvalidStrategy, k.Kind)
	}
	c.series[k] = s
	return s, nil
}

// Defined reports whether v is a computed value.
func Defined(v float64) bool {
	return !math.IsNaN(v)
}
