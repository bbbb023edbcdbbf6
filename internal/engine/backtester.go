package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ibrahiminano/pipflow-sub001/internal/indicator"
	"github.com/ibrahiminano/pipflow-sub001/internal/infrastructure"
	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/ibrahiminano/pipflow-sub001/internal/strategy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrCancelled is returned when a run stops on context cancellation. No
	// result accompanies it.
	ErrCancelled = errors.New("run cancelled")
	// ErrInvalidRequest marks request fields the engine cannot work with.
	ErrInvalidRequest = errors.New("invalid backtest request")
)

// Phase of a single run.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseLoadingData       Phase = "loading_data"
	PhaseGeneratingSignals Phase = "generating_signals"
	PhaseSimulating        Phase = "simulating"
	PhaseComputingMetrics  Phase = "computing_metrics"
	PhaseDone              Phase = "done"
)

const (
	fracLoading    = 0.05
	fracGenerating = 0.15
	fracComputing  = 0.90
)

// Progress is reported to the caller of one run only.
type Progress struct {
	RunID         string  `json:"run_id"`
	Phase         Phase   `json:"phase"`
	Fraction      float64 `json:"fraction"`
	BarsProcessed int     `json:"bars_processed"`
	TotalBars     int     `json:"total_bars"`
}

// Request describes one backtest. Timeframe and Symbol fall back to the
// strategy's own when empty.
type Request struct {
	RunID          string                `json:"run_id,omitempty"`
	Strategy       model.TradingStrategy `json:"strategy"`
	Symbol         string                `json:"symbol"`
	Timeframe      model.Timeframe       `json:"timeframe"`
	From           time.Time             `json:"from"`
	To             time.Time             `json:"to"`
	InitialCapital decimal.Decimal       `json:"initial_capital"`
}

type runConfig struct {
	progress []func(Progress)
	filter   EntryFilter
}

// RunOption configures one run.
type RunOption func(*runConfig)

// WithProgress registers a callback invoked synchronously on the run's
// goroutine at every phase change and as bars are simulated.
func WithProgress(fn func(Progress)) RunOption {
	return func(c *runConfig) {
		if fn != nil {
			c.progress = append(c.progress, fn)
		}
	}
}

// WithEntryFilter lets the caller veto individual entry signals.
func WithEntryFilter(f EntryFilter) RunOption {
	return func(c *runConfig) { c.filter = f }
}

// Backtester only holds immutable collaborators; every run builds its own
// cache, generator and simulator, so concurrent runs share no state.
type Backtester struct {
	source Source
	costs  CostModel
	logger *zap.Logger
}

func NewBacktester(source Source, costs CostModel, logger *zap.Logger) *Backtester {
	return &Backtester{source: source, costs: costs, logger: logger}
}

// Costs returns the execution cost model applied to every run.
func (b *Backtester) Costs() CostModel { return b.costs }

// Run loads the window from the source and backtests it.
func (b *Backtester) Run(ctx context.Context, req Request, opts ...RunOption) (*model.BacktestResult, error) {
	started := time.Now()
	res, err := b.run(ctx, req, nil, opts)
	b.observe(started, res, err)
	return res, err
}

// RunBars backtests bars the caller already holds.
func (b *Backtester) RunBars(ctx context.Context, req Request, bars []model.Bar, opts ...RunOption) (*model.BacktestResult, error) {
	started := time.Now()
	if bars == nil {
		bars = []model.Bar{}
	}
	res, err := b.run(ctx, req, bars, opts)
	b.observe(started, res, err)
	return res, err
}

func (b *Backtester) observe(started time.Time, res *model.BacktestResult, err error) {
	outcome := "ok"
	switch {
	case err == nil:
		infrastructure.BarsProcessed.Add(float64(res.BarsProcessed))
	case errors.Is(err, ErrCancelled):
		outcome = "cancelled"
	case errors.Is(err, ErrDataUnavailable):
		outcome = "no_data"
	case errors.Is(err, model.ErrInvalidStrategy), errors.Is(err, ErrInvalidRequest):
		outcome = "invalid"
	default:
		outcome = "error"
	}
	infrastructure.BacktestRuns.WithLabelValues(outcome).Inc()
	infrastructure.BacktestDuration.Observe(time.Since(started).Seconds())
}

func (b *Backtester) run(ctx context.Context, req Request, bars []model.Bar, opts []RunOption) (*model.BacktestResult, error) {
	cfg := &runConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.Symbol == "" && len(req.Strategy.Symbols) > 0 {
		req.Symbol = req.Strategy.Symbols[0]
	}
	if req.Timeframe == "" {
		req.Timeframe = req.Strategy.Timeframe
	}
	if req.Timeframe == "" && len(bars) > 0 {
		req.Timeframe = bars[0].Timeframe
	}
	if !req.InitialCapital.IsPositive() {
		return nil, fmt.Errorf("%w: initial capital must be positive", ErrInvalidRequest)
	}
	if !req.Timeframe.Valid() {
		return nil, fmt.Errorf("%w: timeframe %q", ErrInvalidRequest, req.Timeframe)
	}
	if err := req.Strategy.Validate(); err != nil {
		return nil, err
	}

	r := &runState{id: req.RunID, cfg: cfg}
	r.report(PhaseIdle, 0)

	if bars == nil {
		if req.Symbol == "" {
			return nil, fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
		}
		r.report(PhaseLoadingData, fracLoading)
		loaded, err := b.source.LoadBars(ctx, req.Symbol, req.Timeframe, req.From, req.To)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			}
			return nil, fmt.Errorf("load %s %s: %w", req.Symbol, req.Timeframe, err)
		}
		bars = loaded
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s %s %s..%s", ErrDataUnavailable, req.Symbol, req.Timeframe,
			req.From.Format(time.RFC3339), req.To.Format(time.RFC3339))
	}
	if err := model.ValidateBars(bars); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Symbol == "" {
		req.Symbol = bars[0].Symbol
	}
	r.total = len(bars)

	r.report(PhaseGeneratingSignals, fracGenerating)
	compiled, err := strategy.Compile(req.Strategy, indicator.NewCache(bars))
	if err != nil {
		return nil, err
	}
	gen := NewSignalGenerator(compiled)
	sim := NewSimulator(req.Symbol, gen, b.costs, req.InitialCapital, cfg.filter)

	r.report(PhaseSimulating, fracGenerating)
	last := len(bars) - 1
	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		sim.Step(i, bar, i == last)
		r.bar(i + 1)
	}

	r.report(PhaseComputingMetrics, fracComputing)
	analysis := Analyze(sim.Trades(), sim.Equity(), req.InitialCapital, req.Timeframe)
	equity := sim.Equity()

	res := &model.BacktestResult{
		RunID:          req.RunID,
		Strategy:       req.Strategy.Clone(),
		Symbol:         req.Symbol,
		Timeframe:      req.Timeframe,
		From:           bars[0].Timestamp,
		To:             bars[last].Timestamp,
		InitialCapital: req.InitialCapital,
		FinalEquity:    equity[len(equity)-1].Equity,
		Performance:    analysis.Performance,
		Statistics:     analysis.Statistics,
		Trades:         sim.Trades(),
		EquityCurve:    equity,
		DrawdownCurve:  analysis.DrawdownCurve,
		MonthlyReturns: analysis.MonthlyReturns,
		BarsProcessed:  len(bars),
	}
	if res.Trades == nil {
		res.Trades = []model.BacktestTrade{}
	}
	r.report(PhaseDone, 1)

	b.logger.Debug("backtest finished",
		zap.String("run_id", req.RunID),
		zap.String("strategy", req.Strategy.ID),
		zap.String("symbol", req.Symbol),
		zap.Int("bars", len(bars)),
		zap.Int("trades", len(res.Trades)),
		zap.Float64("return_pct", res.Performance.TotalReturnPct),
	)
	return res, nil
}

type runState struct {
	id      string
	cfg     *runConfig
	total   int
	lastPct int
}

func (r *runState) report(phase Phase, fraction float64) {
	r.emit(Progress{RunID: r.id, Phase: phase, Fraction: fraction, TotalBars: r.total})
}

// bar reports simulation progress at most once per percent.
func (r *runState) bar(done int) {
	if len(r.cfg.progress) == 0 || r.total == 0 {
		return
	}
	frac := fracGenerating + (fracComputing-fracGenerating)*float64(done)/float64(r.total)
	if pct := int(frac * 100); pct > r.lastPct || done == r.total {
		r.lastPct = pct
		r.emit(Progress{RunID: r.id, Phase: PhaseSimulating, Fraction: frac, BarsProcessed: done, TotalBars: r.total})
	}
}

func (r *runState) emit(p Progress) {
	if p.Phase == PhaseComputingMetrics || p.Phase == PhaseDone {
		p.BarsProcessed = r.total
	}
	for _, fn := range r.cfg.progress {
		fn(p)
	}
}
