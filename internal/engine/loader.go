package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/ibrahiminano/pipflow-sub001/internal/processor"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ErrDataUnavailable is returned when the requested window holds no bars.
var ErrDataUnavailable = errors.New("no market data for the requested window")

// Source supplies ordered bars for a symbol, timeframe and inclusive window.
type Source interface {
	LoadBars(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]model.Bar, error)
}

const klineSchema = `
CREATE TABLE IF NOT EXISTS market_klines (
	time   TIMESTAMPTZ NOT NULL,
	symbol TEXT        NOT NULL,
	period TEXT        NOT NULL,
	open   NUMERIC     NOT NULL,
	high   NUMERIC     NOT NULL,
	low    NUMERIC     NOT NULL,
	close  NUMERIC     NOT NULL,
	volume NUMERIC     NOT NULL,
	PRIMARY KEY (symbol, period, time)
)`

// DataLoader reads bars from the market_klines table.
type DataLoader struct {
	pool *pgxpool.Pool
}

func NewDataLoader(pool *pgxpool.Pool) *DataLoader {
	return &DataLoader{pool: pool}
}

// Migrate creates the market_klines table when it is missing.
func (l *DataLoader) Migrate(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, klineSchema); err != nil {
		return fmt.Errorf("create market_klines: %w", err)
	}
	return nil
}

// LoadBars reads stored bars of one period. A zero to leaves the window open.
func (l *DataLoader) LoadBars(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]model.Bar, error) {
	if tf == "" {
		tf = model.Timeframe1m
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	rows, err := l.pool.Query(ctx, `
		SELECT time, symbol, period, open, high, low, close, volume
		FROM market_klines
		WHERE symbol = $1 AND period = $2 AND time >= $3 AND time <= $4
		ORDER BY time ASC`,
		symbol, string(tf), from, to)
	if err != nil {
		return nil, fmt.Errorf("query market_klines: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var period string
		if err := rows.Scan(&b.Timestamp, &b.Symbol, &period, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan market_klines: %w", err)
		}
		b.Timeframe = model.Timeframe(period)
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bars, nil
}

// MemorySource keeps bars in memory per symbol and serves any timeframe at
// or above the stored one by resampling. Safe for concurrent use.
type MemorySource struct {
	mu   sync.RWMutex
	bars map[string][]model.Bar
}

func NewMemorySource() *MemorySource {
	return &MemorySource{bars: make(map[string][]model.Bar)}
}

// Add merges bars into the store. A bar with an existing timestamp replaces
// the stored one.
func (s *MemorySource) Add(bars ...model.Bar) {
	if len(bars) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range bars {
		series := s.bars[b.Symbol]
		n := len(series)
		switch {
		case n == 0 || b.Timestamp.After(series[n-1].Timestamp):
			series = append(series, b)
		default:
			i := sort.Search(n, func(i int) bool { return !series[i].Timestamp.Before(b.Timestamp) })
			if i < n && series[i].Timestamp.Equal(b.Timestamp) {
				series[i] = b
			} else {
				series = slices.Insert(series, i, b)
			}
		}
		s.bars[b.Symbol] = series
	}
}

// Symbols lists the stored symbols in sorted order.
func (s *MemorySource) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.bars))
	for symbol := range s.bars {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func (s *MemorySource) LoadBars(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]model.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	series := s.bars[symbol]
	lo := sort.Search(len(series), func(i int) bool { return !series[i].Timestamp.Before(from) })
	hi := len(series)
	if !to.IsZero() {
		hi = sort.Search(len(series), func(i int) bool { return series[i].Timestamp.After(to) })
	}
	var window []model.Bar
	if lo < hi {
		window = append([]model.Bar(nil), series[lo:hi]...)
	}
	s.mu.RUnlock()

	if len(window) == 0 || tf == "" {
		return window, nil
	}
	out, err := processor.Resample(window, tf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return out, nil
}
