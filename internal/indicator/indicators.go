package indicator

import "math"

// Series functions return a slice the length of their input. Positions
// before the warm-up are NaN.

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA is the simple moving average over period values.
func SMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period < 1 || len(values) < period {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA is seeded with the SMA of the first period values.
func EMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period < 1 || len(values) < period {
		return out
	}
	var sum float64
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	out[period-1] = ema
	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		out[i] = ema
	}
	return out
}

// RSI uses Wilder smoothing. A window with neither gains nor losses reads
// 50; one with gains and no losses reads 100.
func RSI(closes []float64, period int) []float64 {
	out := nanSeries(len(closes))
	if period < 1 || len(closes) < period+1 {
		return out
	}
	var gains, losses float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// TrueRange of every bar; the first bar uses high-low only.
func TrueRange(high, low, close []float64) []float64 {
	out := make([]float64, len(close))
	for i := range close {
		tr := high[i] - low[i]
		if i > 0 {
			tr = math.Max(tr, math.Max(math.Abs(high[i]-close[i-1]), math.Abs(low[i]-close[i-1])))
		}
		out[i] = tr
	}
	return out
}

// ATR is the Wilder-smoothed average true range.
func ATR(high, low, close []float64, period int) []float64 {
	out := nanSeries(len(close))
	if period < 1 || len(close) < period+1 {
		return out
	}
	tr := TrueRange(high, low, close)
	var sum float64
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	atr := sum / float64(period)
	out[period] = atr
	for i := period + 1; i < len(close); i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		out[i] = atr
	}
	return out
}

// Bollinger returns the upper and lower bands at multiplier population
// standard deviations around the SMA.
func Bollinger(closes []float64, period int, multiplier float64) (upper, lower []float64) {
	upper, lower = nanSeries(len(closes)), nanSeries(len(closes))
	if period < 1 || len(closes) < period {
		return upper, lower
	}
	middle := SMA(closes, period)
	for i := period - 1; i < len(closes); i++ {
		var variance float64
		for j := i - period + 1; j <= i; j++ {
			d := closes[j] - middle[i]
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		upper[i] = middle[i] + sd*multiplier
		lower[i] = middle[i] - sd*multiplier
	}
	return upper, lower
}

// ROC is the percent rate of change over period bars.
func ROC(closes []float64, period int) []float64 {
	out := nanSeries(len(closes))
	if period < 1 {
		return out
	}
	for i := period; i < len(closes); i++ {
		prev := closes[i-period]
		if prev != 0 {
			out[i] = (closes[i] - prev) / prev * 100
		}
	}
	return out
}

// ADX returns the latest average directional index with +DI and -DI. It
// returns zeros when fewer than 2*period bars are available.
func ADX(high, low, close []float64, period int) (adx, plusDI, minusDI float64) {
	n := len(close)
	if period < 1 || n < period*2 {
		return 0, 0, 0
	}
	plusDM := make([]float64, 0, n-1)
	minusDM := make([]float64, 0, n-1)
	tr := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		p, m := 0.0, 0.0
		if up > down && up > 0 {
			p = up
		}
		if down > up && down > 0 {
			m = down
		}
		plusDM = append(plusDM, p)
		minusDM = append(minusDM, m)
		tr = append(tr, math.Max(high[i]-low[i], math.Max(math.Abs(high[i]-close[i-1]), math.Abs(low[i]-close[i-1]))))
	}

	var sp, sm, st float64
	for i := 0; i < period; i++ {
		sp += plusDM[i]
		sm += minusDM[i]
		st += tr[i]
	}
	dx := func() float64 {
		if st == 0 {
			plusDI, minusDI = 0, 0
			return 0
		}
		plusDI = sp / st * 100
		minusDI = sm / st * 100
		if plusDI+minusDI == 0 {
			return 0
		}
		return math.Abs(plusDI-minusDI) / (plusDI + minusDI) * 100
	}
	adx = dx()
	for i := period; i < len(tr); i++ {
		sp = sp - sp/float64(period) + plusDM[i]
		sm = sm - sm/float64(period) + minusDM[i]
		st = st - st/float64(period) + tr[i]
		adx = (adx*float64(period-1) + dx()) / float64(period)
	}
	return adx, plusDI, minusDI
}
