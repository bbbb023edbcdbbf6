package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"BTC-USDT", "BTCUSDT"},
		{"btcusdt", "BTCUSDT"},
		{"BTC/USDT", "BTCUSDT"},
		{"ETH_USDT", "ETHUSDT"},
		{"XBT/USD", "XBTUSD"},
		{" sol-usdt ", "SOLUSDT"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeSymbol(tt.input))
		})
	}
}

func TestTimeframe(t *testing.T) {
	assert.True(t, Timeframe4h.Valid())
	assert.False(t, Timeframe("2h").Valid())
	assert.Equal(t, 4*time.Hour, Timeframe4h.Duration())
	assert.InDelta(t, 8760.0, Timeframe1h.PeriodsPerYear(), 1e-9)
	assert.InDelta(t, 252.0, Timeframe1d.PeriodsPerYear(), 1e-9)
	assert.InDelta(t, 36.0, Timeframe1w.PeriodsPerYear(), 1e-9)
}

func TestValidateBars(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.NoError(t, ValidateBars([]Bar{{Timestamp: t0}, {Timestamp: t0.Add(time.Hour)}}))
	assert.Error(t, ValidateBars([]Bar{{Timestamp: t0}, {Timestamp: t0}}))
}
