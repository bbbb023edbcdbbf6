package processor

import (
	"testing"
	"time"

	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sliceSink struct{ bars []model.Bar }

func (s *sliceSink) Add(bars ...model.Bar) { s.bars = append(s.bars, bars...) }

func minuteBar(ts time.Time, o, h, l, c, v float64) model.Bar {
	return model.Bar{
		Symbol:    "BTCUSDT",
		Timeframe: model.Timeframe1m,
		Open:      decimal.NewFromFloat(o),
		High:      decimal.NewFromFloat(h),
		Low:       decimal.NewFromFloat(l),
		Close:     decimal.NewFromFloat(c),
		Volume:    decimal.NewFromFloat(v),
		Timestamp: ts,
	}
}

func TestResample_FiveMinutes(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	bars := []model.Bar{
		minuteBar(start, 100, 101, 99, 100.5, 1),
		minuteBar(start.Add(time.Minute), 100.5, 103, 100, 102, 2),
		minuteBar(start.Add(4*time.Minute), 102, 102.5, 98, 99, 0.5),
		minuteBar(start.Add(5*time.Minute), 99, 100, 97, 97.5, 3),
	}

	out, err := Resample(bars, model.Timeframe5m)
	require.NoError(t, err)
	require.Len(t, out, 2)

	first := out[0]
	assert.Equal(t, start, first.Timestamp)
	assert.Equal(t, model.Timeframe5m, first.Timeframe)
	assert.True(t, first.Open.Equal(decimal.NewFromFloat(100)))
	assert.True(t, first.High.Equal(decimal.NewFromFloat(103)))
	assert.True(t, first.Low.Equal(decimal.NewFromFloat(98)))
	assert.True(t, first.Close.Equal(decimal.NewFromFloat(99)))
	assert.True(t, first.Volume.Equal(decimal.NewFromFloat(3.5)))

	assert.Equal(t, start.Add(5*time.Minute), out[1].Timestamp)
	assert.True(t, out[1].Close.Equal(decimal.NewFromFloat(97.5)))
}

func TestResample_Rejects(t *testing.T) {
	bars := []model.Bar{minuteBar(time.Now(), 1, 1, 1, 1, 1)}
	bars[0].Timeframe = model.Timeframe1h

	_, err := Resample(bars, model.Timeframe5m)
	assert.Error(t, err)

	_, err = Resample(bars, "2h")
	assert.Error(t, err)

	same, err := Resample(bars, model.Timeframe1h)
	require.NoError(t, err)
	assert.Equal(t, bars, same)
}

func TestKlineIngestor_Handle(t *testing.T) {
	sink := &sliceSink{}
	p := NewKlineIngestor(nil, sink, zap.NewNop())

	p.handle([]byte(`{"symbol":"ETHUSDT","timeframe":"1m","o":"10","h":"11","l":"9","c":"10.5","v":"3","t":"2024-03-01T10:00:00Z"}`))
	p.handle([]byte(`not json`))
	p.handle([]byte(`{"symbol":"ETHUSDT","timeframe":"7m","c":"1"}`))

	require.Len(t, sink.bars, 1)
	assert.Equal(t, "ETHUSDT", sink.bars[0].Symbol)
	assert.True(t, sink.bars[0].Close.Equal(decimal.NewFromFloat(10.5)))
}
