package processor

import (
	"fmt"

	"github.com/ibrahiminano/pipflow-sub001/internal/model"
)

// Resample aggregates ordered bars into the coarser timeframe tf. Buckets
// start at the bar timestamp truncated to tf; weekly buckets start on Monday
// (UTC). Bars already at tf are returned unchanged.
func Resample(bars []model.Bar, tf model.Timeframe) ([]model.Bar, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("unknown timeframe %q", tf)
	}
	if len(bars) == 0 {
		return nil, nil
	}
	if src := bars[0].Timeframe; src != "" && src.Duration() > tf.Duration() {
		return nil, fmt.Errorf("cannot resample %s bars down to %s", src, tf)
	}
	if bars[0].Timeframe == tf {
		return bars, nil
	}

	window := tf.Duration()
	out := make([]model.Bar, 0, len(bars))
	var current *model.Bar
	for _, b := range bars {
		bucket := b.Timestamp.UTC().Truncate(window)
		if current != nil && current.Timestamp.Equal(bucket) {
			if b.High.GreaterThan(current.High) {
				current.High = b.High
			}
			if b.Low.LessThan(current.Low) {
				current.Low = b.Low
			}
			current.Close = b.Close
			current.Volume = current.Volume.Add(b.Volume)
			continue
		}
		out = append(out, model.Bar{
			Symbol:    b.Symbol,
			Timeframe: tf,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			Timestamp: bucket,
		})
		current = &out[len(out)-1]
	}
	return out, nil
}
