package optimizer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ibrahiminano/pipflow-sub001/internal/engine"
	"github.com/ibrahiminano/pipflow-sub001/internal/infrastructure"
	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"go.uber.org/zap"
)

// lowConfidence is reported when the baseline is returned unchanged.
const lowConfidence = 0.1

// Runner executes one isolated backtest over bars already loaded.
type Runner interface {
	RunBars(ctx context.Context, req engine.Request, bars []model.Bar, opts ...engine.RunOption) (*model.BacktestResult, error)
}

// Config bounds the search.
type Config struct {
	MaxRounds      int     `mapstructure:"OPTIMIZER_MAX_ROUNDS"`
	MaxEvaluations int     `mapstructure:"OPTIMIZER_MAX_EVALUATIONS"`
	MinImprovement float64 `mapstructure:"OPTIMIZER_MIN_IMPROVEMENT"`
}

func DefaultConfig() Config {
	return Config{MaxRounds: 12, MaxEvaluations: 200, MinImprovement: 1e-9}
}

// Engine searches a neighbourhood of a strategy's parameters. It keeps no
// per-search state, so one engine serves concurrent searches.
type Engine struct {
	runner Runner
	source engine.Source
	pool   *engine.Pool
	cfg    Config
	logger *zap.Logger
}

func NewEngine(runner Runner, source engine.Source, pool *engine.Pool, cfg Config, logger *zap.Logger) *Engine {
	if cfg.MaxRounds < 1 {
		cfg.MaxRounds = DefaultConfig().MaxRounds
	}
	if cfg.MaxEvaluations < 1 {
		cfg.MaxEvaluations = DefaultConfig().MaxEvaluations
	}
	return &Engine{runner: runner, source: source, pool: pool, cfg: cfg, logger: logger}
}

// candidate is one evaluated point of the search.
type candidate struct {
	strategy model.TradingStrategy
	result   *model.BacktestResult
	score    float64
	eligible bool
	err      error
}

// search carries the state of one Optimize call.
type search struct {
	e        *Engine
	req      model.OptimizationRequest
	bars     []model.Bar
	seen     map[string]bool
	evals    int
	rejected int
	failed   int
}

// Optimize loads the window once, scores the baseline and runs a coordinate
// descent over the strategy's parameter schema.
func (e *Engine) Optimize(ctx context.Context, req model.OptimizationRequest) (*model.OptimizationResult, error) {
	if !req.Goal.Valid() {
		return nil, fmt.Errorf("%w: unknown goal %q", engine.ErrInvalidRequest, req.Goal)
	}
	if err := req.BaseStrategy.Validate(); err != nil {
		return nil, err
	}
	if req.Timeframe == "" {
		req.Timeframe = req.BaseStrategy.Timeframe
	}
	if req.Symbol == "" && len(req.BaseStrategy.Symbols) > 0 {
		req.Symbol = req.BaseStrategy.Symbols[0]
	}

	bars, err := e.source.LoadBars(ctx, req.Symbol, req.Timeframe, req.From, req.To)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("load %s: %w", req.Symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s %s", engine.ErrDataUnavailable, req.Symbol, req.Timeframe)
	}
	return e.OptimizeBars(ctx, req, bars)
}

// OptimizeBars runs the search over bars the caller already holds.
func (e *Engine) OptimizeBars(ctx context.Context, req model.OptimizationRequest, bars []model.Bar) (*model.OptimizationResult, error) {
	if !req.Goal.Valid() {
		return nil, fmt.Errorf("%w: unknown goal %q", engine.ErrInvalidRequest, req.Goal)
	}
	s := &search{e: e, req: req, bars: bars, seen: make(map[string]bool)}
	base := req.BaseStrategy.Clone()

	baseline, err := e.runner.RunBars(ctx, s.request(base), bars)
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	s.seen[key(base)] = true
	baseScore, baseOK := Score(req.Goal, baseline)

	best := candidate{strategy: base, result: baseline, score: baseScore, eligible: baseOK}
	if !baseOK {
		best.score = math.Inf(-1)
	}
	improved := false

	schema := base.DefaultSchema()
	steps := initialSteps(schema)
	for round := 0; round < e.cfg.MaxRounds && s.evals < e.cfg.MaxEvaluations; round++ {
		neighbours := s.neighbours(best.strategy, schema, steps)
		if len(neighbours) == 0 {
			if !shrink(schema, steps) {
				break
			}
			continue
		}
		if room := e.cfg.MaxEvaluations - s.evals; len(neighbours) > room {
			neighbours = neighbours[:room]
		}

		evaluated, err := s.evaluate(ctx, neighbours)
		if err != nil {
			return nil, err
		}

		winner := -1
		for i, c := range evaluated {
			if c.eligible && c.score > best.score+e.cfg.MinImprovement && (winner < 0 || c.score > evaluated[winner].score) {
				winner = i
			}
		}
		if winner >= 0 {
			best = evaluated[winner]
			improved = true
			e.logger.Debug("optimizer step improved",
				zap.Int("round", round), zap.Float64("score", best.score), zap.String("params", key(best.strategy)))
			continue
		}
		if !shrink(schema, steps) {
			break
		}
	}

	res := &model.OptimizationResult{
		ID:                  uuid.NewString(),
		Goal:                req.Goal,
		OriginalStrategy:    base,
		CandidatesEvaluated: s.evals,
		CandidatesRejected:  s.rejected,
		CandidatesFailed:    s.failed,
		CreatedAt:           time.Now().UTC(),
	}
	if !improved {
		res.OptimizedStrategy = base.Clone()
		res.Comparison = model.StrategyComparison{Original: baseline.Performance, Optimized: baseline.Performance}
		res.Confidence = lowConfidence
		res.Recommendations = []model.Recommendation{}
		res.Notes = s.noImprovementNote()
		return res, nil
	}

	recs, err := s.recommendations(ctx, base, best, baseScore, baseOK)
	if err != nil {
		return nil, err
	}
	res.Improved = true
	res.OptimizedStrategy = best.strategy
	res.Recommendations = recs
	res.Comparison = model.StrategyComparison{Original: baseline.Performance, Optimized: best.result.Performance}
	res.Improvements = improvements(baseline, best.result)
	res.Confidence = confidence(baseline, best.result, res.Improvements.ConsistencyScore)
	res.Notes = fmt.Sprintf("%d candidates evaluated, %d rejected by constraints, %d failed",
		s.evals, s.rejected, s.failed)
	return res, nil
}

func (s *search) request(st model.TradingStrategy) engine.Request {
	return engine.Request{
		Strategy:       st,
		Symbol:         s.req.Symbol,
		Timeframe:      s.req.Timeframe,
		InitialCapital: s.req.InitialCapital,
	}
}

// neighbours steps every dimension up and down once from the current point.
// Points already evaluated are skipped.
func (s *search) neighbours(from model.TradingStrategy, schema model.ParamSchema, steps []float64) []model.TradingStrategy {
	var out []model.TradingStrategy
	for i, spec := range schema.Specs {
		cur, ok := from.Value(spec.Name)
		if !ok || steps[i] == 0 {
			continue
		}
		for _, dir := range []float64{1, -1} {
			v := spec.Clamp(cur + dir*steps[i])
			if v == cur {
				continue
			}
			next, err := from.With(spec.Name, v)
			if err != nil {
				continue
			}
			if err := next.Validate(); err != nil {
				continue
			}
			k := key(next)
			if s.seen[k] {
				continue
			}
			s.seen[k] = true
			out = append(out, next)
		}
	}
	return out
}

// evaluate backtests candidates concurrently on the pool. Results keep the
// order of the input so ties resolve the same way on every run.
func (s *search) evaluate(ctx context.Context, strategies []model.TradingStrategy) ([]candidate, error) {
	out := make([]candidate, len(strategies))
	err := s.e.pool.Each(ctx, len(strategies), func(ctx context.Context, i int) {
		c := candidate{strategy: strategies[i]}
		c.result, c.err = s.run(ctx, strategies[i])
		out[i] = c
	})
	if err != nil || ctx.Err() != nil {
		return nil, cancelled(ctx, err)
	}

	for i := range out {
		c := &out[i]
		s.evals++
		if c.err != nil {
			s.failed++
			infrastructure.OptimizationCandidates.WithLabelValues("failed").Inc()
			s.e.logger.Warn("optimization candidate failed",
				zap.String("strategy", c.strategy.ID), zap.String("params", key(c.strategy)), zap.Error(c.err))
			continue
		}
		if v := Violations(s.req.Constraints, c.strategy, c.result); len(v) > 0 {
			s.rejected++
			infrastructure.OptimizationCandidates.WithLabelValues("rejected").Inc()
			continue
		}
		c.score, c.eligible = Score(s.req.Goal, c.result)
		if !c.eligible {
			s.rejected++
			infrastructure.OptimizationCandidates.WithLabelValues("rejected").Inc()
			continue
		}
		infrastructure.OptimizationCandidates.WithLabelValues("accepted").Inc()
	}
	return out, nil
}

// run backtests one candidate. A run that panics or returns nothing counts
// as a failed candidate.
func (s *search) run(ctx context.Context, st model.TradingStrategy) (res *model.BacktestResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("backtest of %s panicked: %v", key(st), r)
		}
	}()
	res, err = s.e.runner.RunBars(ctx, s.request(st), s.bars)
	if err == nil && res == nil {
		err = fmt.Errorf("backtest of %s returned no result", key(st))
	}
	return res, err
}

func (s *search) noImprovementNote() string {
	switch {
	case s.evals == 0:
		return "no neighbouring parameter values to explore; baseline kept"
	case s.rejected+s.failed == s.evals:
		return fmt.Sprintf("all %d candidates violated the constraints or failed; baseline kept", s.evals)
	}
	return fmt.Sprintf("none of %d candidates improved on the baseline; baseline kept", s.evals)
}

// cancelled prefers ErrCancelled over whatever error a cancelled context
// produced further down.
func cancelled(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", engine.ErrCancelled, ctx.Err())
	}
	return err
}

// initialSteps uses each spec's step, or a tenth of its range.
func initialSteps(schema model.ParamSchema) []float64 {
	steps := make([]float64, len(schema.Specs))
	for i, spec := range schema.Specs {
		step := spec.Step
		if step <= 0 {
			step = (spec.Max - spec.Min) / 10
		}
		if spec.Integer {
			step = math.Max(1, math.Round(step))
		}
		steps[i] = step
	}
	return steps
}

// shrink halves every step and reports whether any dimension can still move.
func shrink(schema model.ParamSchema, steps []float64) bool {
	alive := false
	for i, spec := range schema.Specs {
		if steps[i] == 0 {
			continue
		}
		next := steps[i] / 2
		if spec.Integer {
			if steps[i] <= 1 {
				steps[i] = 0
				continue
			}
			next = math.Max(1, math.Floor(next))
		} else if next < (spec.Max-spec.Min)/1000 {
			steps[i] = 0
			continue
		}
		steps[i] = next
		alive = true
	}
	return alive
}

// key renders a strategy's searchable values in a stable order.
func key(s model.TradingStrategy) string {
	values := s.ParameterValues()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, string(name))
	}
	sort.Strings(names)
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(values[model.ParamName(name)], 'g', -1, 64))
	}
	return b.String()
}
