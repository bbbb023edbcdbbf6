package abtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ibrahiminano/pipflow-sub001/internal/engine"
	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Backtests runs one isolated backtest over bars the caller holds.
type Backtests interface {
	RunBars(ctx context.Context, req engine.Request, bars []model.Bar, opts ...engine.RunOption) (*model.BacktestResult, error)
}

// Runner replays historical bars through both arms of a test.
type Runner struct {
	backtests Backtests
	capital   decimal.Decimal
	logger    *zap.Logger
}

func NewRunner(backtests Backtests, capital decimal.Decimal, logger *zap.Logger) *Runner {
	return &Runner{backtests: backtests, capital: capital, logger: logger}
}

type armTrade struct {
	arm   Arm
	trade model.BacktestTrade
}

// Run drives one goroutine per symbol. Each stream backtests both arms with
// an entry filter so an arm only trades the events allocated to it. The
// closed trades are then recorded in exit-time order, with the test clock
// following the replayed bars.
func (r *Runner) Run(ctx context.Context, t *Test, barsBySymbol map[string][]model.Bar) (model.ABTestResult, error) {
	symbols := make([]string, 0, len(barsBySymbol))
	for s, bars := range barsBySymbol {
		if len(bars) > 0 {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		return model.ABTestResult{}, fmt.Errorf("%w: no bars for a/b test %s", engine.ErrDataUnavailable, t.ID())
	}
	sort.Strings(symbols)

	first, last := barsBySymbol[symbols[0]][0].Timestamp, barsBySymbol[symbols[0]][0].Timestamp
	for _, s := range symbols {
		bars := barsBySymbol[s]
		if ts := bars[0].Timestamp; ts.Before(first) {
			first = ts
		}
		if ts := bars[len(bars)-1].Timestamp; ts.After(last) {
			last = ts
		}
	}
	if t.Status() == model.ABScheduled {
		if err := t.StartReplay(first); err != nil {
			return model.ABTestResult{}, err
		}
	}

	streams := make([][]armTrade, len(symbols))
	errs := make([]error, len(symbols))
	var wg sync.WaitGroup
	for i, symbol := range symbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			streams[i], errs[i] = r.stream(ctx, t, symbol, barsBySymbol[symbol])
		}(i, symbol)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return model.ABTestResult{}, err
	}

	var trades []armTrade
	for _, s := range streams {
		trades = append(trades, s...)
	}
	sort.SliceStable(trades, func(i, j int) bool {
		a, b := trades[i].trade, trades[j].trade
		if !a.ExitTime.Equal(b.ExitTime) {
			return a.ExitTime.Before(b.ExitTime)
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return trades[i].arm < trades[j].arm
	})
	for _, at := range trades {
		t.Tick(at.trade.ExitTime)
		if err := t.RecordTrade(at.arm, at.trade); err != nil {
			if errors.Is(err, ErrCompleted) {
				break
			}
			return model.ABTestResult{}, err
		}
	}
	if !t.Tick(last) {
		t.Complete(last, model.CompletionDataExhausted)
	}
	return t.Result(), nil
}

func (r *Runner) stream(ctx context.Context, t *Test, symbol string, bars []model.Bar) ([]armTrade, error) {
	cfg := t.Config()
	var out []armTrade
	for _, side := range []struct {
		arm      Arm
		strategy model.TradingStrategy
	}{{ArmA, cfg.StrategyA}, {ArmB, cfg.StrategyB}} {
		which := side.arm
		req := engine.Request{
			Strategy:       side.strategy,
			Symbol:         symbol,
			Timeframe:      bars[0].Timeframe,
			InitialCapital: r.capital,
		}
		res, err := r.backtests.RunBars(ctx, req, bars, engine.WithEntryFilter(func(sym string, ts time.Time) bool {
			return t.Allocate(sym, ts) == which
		}))
		if err != nil {
			return nil, fmt.Errorf("arm %s on %s: %w", which, symbol, err)
		}
		for _, tr := range res.Trades {
			out = append(out, armTrade{arm: which, trade: tr})
		}
		r.logger.Debug("a/b arm replayed",
			zap.String("test", t.ID()), zap.String("arm", string(which)),
			zap.String("symbol", symbol), zap.Int("trades", len(res.Trades)))
	}
	return out, nil
}
