package abtest

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ibrahiminano/pipflow-sub001/internal/engine"
	"github.com/ibrahiminano/pipflow-sub001/internal/infrastructure"
	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"go.uber.org/zap"
)

var (
	ErrNotRunning = errors.New("a/b test is not running")
	ErrCompleted  = errors.New("a/b test already completed")
)

const (
	defaultSplitRatio      = 0.5
	defaultMinimumTrades   = 30
	defaultConfidenceLevel = 0.95
)

// Arm identifies one side of a test.
type Arm string

const (
	ArmA Arm = "A"
	ArmB Arm = "B"
)

// arm accumulates the closed trades of one side. Only RecordTrade writes it.
type arm struct {
	mu      sync.Mutex
	returns []float64
	perf    model.ArmPerformance
	sum     float64
	sumSq   float64
}

func (a *arm) add(tr model.BacktestTrade) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := tr.PnLPct
	a.returns = append(a.returns, r)
	a.sum += r
	a.sumSq += r * r

	p := &a.perf
	p.Trades++
	if tr.PnL.IsPositive() {
		p.WinningTrades++
	}
	p.NetProfit += tr.PnL.InexactFloat64()
	p.TotalReturnPct = a.sum
	p.WinRate = float64(p.WinningTrades) / float64(p.Trades)
	p.MeanReturnPct = a.sum / float64(p.Trades)
	if p.Trades > 1 {
		n := float64(p.Trades)
		variance := (a.sumSq - a.sum*a.sum/n) / (n - 1)
		p.StdDevPct = math.Sqrt(math.Max(variance, 0))
	}
}

func (a *arm) snapshot() (model.ArmPerformance, []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.perf, append([]float64(nil), a.returns...)
}

func (a *arm) trades() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.perf.Trades
}

// Test is one A/B comparison. It moves scheduled -> running -> completed and
// its result is frozen once completed.
type Test struct {
	id     string
	cfg    model.ABTestConfiguration
	logger *zap.Logger

	seed string

	mu          sync.RWMutex
	status      model.ABStatus
	replay      bool
	start       time.Time
	end         time.Time
	completedBy model.ABCompletion
	final       *model.ABTestResult
	onFinish    []func(model.ABTestResult)

	a, b arm
}

// NewTest validates cfg and fills its defaults.
func NewTest(cfg model.ABTestConfiguration, logger *zap.Logger) (*Test, error) {
	if cfg.SplitRatio == 0 {
		cfg.SplitRatio = defaultSplitRatio
	}
	if cfg.MinimumTrades == 0 {
		cfg.MinimumTrades = defaultMinimumTrades
	}
	if cfg.ConfidenceLevel == 0 {
		cfg.ConfidenceLevel = defaultConfidenceLevel
	}
	switch {
	case cfg.SplitRatio <= 0 || cfg.SplitRatio >= 1:
		return nil, fmt.Errorf("%w: split ratio %.4g outside (0,1)", engine.ErrInvalidRequest, cfg.SplitRatio)
	case cfg.MinimumTrades < 2:
		return nil, fmt.Errorf("%w: minimum trades %d below 2", engine.ErrInvalidRequest, cfg.MinimumTrades)
	case cfg.ConfidenceLevel <= 0 || cfg.ConfidenceLevel >= 1:
		return nil, fmt.Errorf("%w: confidence level %.4g outside (0,1)", engine.ErrInvalidRequest, cfg.ConfidenceLevel)
	case cfg.Duration <= 0:
		return nil, fmt.Errorf("%w: duration must be positive", engine.ErrInvalidRequest)
	}
	if err := cfg.StrategyA.Validate(); err != nil {
		return nil, fmt.Errorf("strategy A: %w", err)
	}
	if err := cfg.StrategyB.Validate(); err != nil {
		return nil, fmt.Errorf("strategy B: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Test{id: uuid.NewString(), cfg: cfg, seed: allocationSeed(cfg), status: model.ABScheduled, logger: logger}, nil
}

// allocationSeed keys the allocation hash. Tests built from the same
// configuration split the same events the same way.
func allocationSeed(cfg model.ABTestConfiguration) string {
	if cfg.Seed != "" {
		return cfg.Seed
	}
	return strings.Join([]string{
		cfg.Name,
		cfg.StrategyA.ID, string(cfg.StrategyA.Timeframe),
		cfg.StrategyB.ID, string(cfg.StrategyB.Timeframe),
		strconv.FormatFloat(cfg.SplitRatio, 'g', -1, 64),
	}, "\x00")
}

func (t *Test) ID() string { return t.id }

func (t *Test) Config() model.ABTestConfiguration { return t.cfg }

func (t *Test) Status() model.ABStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// OnFinish registers fn to receive the frozen result. fn runs on the
// goroutine that completed the test.
func (t *Test) OnFinish(fn func(model.ABTestResult)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFinish = append(t.onFinish, fn)
}

// Start moves a scheduled test to running at now on the wall clock.
func (t *Test) Start(now time.Time) error {
	return t.begin(now, false)
}

// StartReplay moves a scheduled test to running at the first replayed bar.
// Its clock is the replayed bar time, so Sweep leaves it alone.
func (t *Test) StartReplay(first time.Time) error {
	return t.begin(first, true)
}

// Replay reports whether the test runs on replayed bar time.
func (t *Test) Replay() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.replay
}

func (t *Test) begin(now time.Time, replay bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.status {
	case model.ABRunning:
		return nil
	case model.ABCompleted:
		return ErrCompleted
	}
	t.status = model.ABRunning
	t.replay = replay
	t.start = now.UTC()
	t.end = t.start.Add(t.cfg.Duration)
	infrastructure.ABTestsActive.Inc()
	t.logger.Info("a/b test started", zap.String("test", t.id), zap.String("name", t.cfg.Name), zap.Bool("replay", replay))
	return nil
}

// Allocate decides which arm owns an event. The split depends only on the
// allocation seed, the symbol and the event time, so concurrent symbol
// streams, replays and identically configured tests agree.
func (t *Test) Allocate(symbol string, ts time.Time) Arm {
	h := fnv.New64a()
	h.Write([]byte(t.seed))
	h.Write([]byte{0})
	h.Write([]byte(symbol))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(ts.UnixNano(), 10)))
	u := float64(h.Sum64()>>11) / (1 << 53)
	if u < t.cfg.SplitRatio {
		return ArmA
	}
	return ArmB
}

// RecordTrade appends a closed trade to an arm. Once both arms hold the
// minimum number of trades the test completes.
func (t *Test) RecordTrade(which Arm, tr model.BacktestTrade) error {
	t.mu.RLock()
	switch t.status {
	case model.ABScheduled:
		t.mu.RUnlock()
		return ErrNotRunning
	case model.ABCompleted:
		t.mu.RUnlock()
		return ErrCompleted
	}
	switch which {
	case ArmA:
		t.a.add(tr)
	case ArmB:
		t.b.add(tr)
	default:
		t.mu.RUnlock()
		return fmt.Errorf("%w: unknown arm %q", engine.ErrInvalidRequest, which)
	}
	t.mu.RUnlock()
	infrastructure.ABTradesRecorded.WithLabelValues(string(which)).Inc()

	if t.a.trades() >= t.cfg.MinimumTrades && t.b.trades() >= t.cfg.MinimumTrades {
		t.Complete(tr.ExitTime, model.CompletionMinimumTrades)
	}
	return nil
}

// Tick completes the test when its duration has elapsed at now.
func (t *Test) Tick(now time.Time) bool {
	t.mu.RLock()
	due := t.status == model.ABRunning && !now.Before(t.end)
	t.mu.RUnlock()
	if !due {
		return false
	}
	return t.Complete(now, model.CompletionDurationElapsed)
}

// Complete freezes the result, recording what ended the test. It reports
// false when the test was not running.
func (t *Test) Complete(now time.Time, by model.ABCompletion) bool {
	t.mu.Lock()
	if t.status != model.ABRunning {
		t.mu.Unlock()
		return false
	}
	t.status = model.ABCompleted
	t.end = now.UTC()
	t.completedBy = by
	res := t.evaluate()
	t.final = &res
	hooks := append([]func(model.ABTestResult){}, t.onFinish...)
	t.mu.Unlock()

	infrastructure.ABTestsActive.Dec()
	t.logger.Info("a/b test completed",
		zap.String("test", t.id),
		zap.String("completed_by", string(by)),
		zap.String("winner", string(res.Winner)),
		zap.Float64("significance", res.StatisticalSignificance),
		zap.Int("trades_a", res.PerformanceA.Trades),
		zap.Int("trades_b", res.PerformanceB.Trades))
	for _, fn := range hooks {
		fn(res)
	}
	return true
}

// Result returns the frozen result of a completed test, or the live view of
// a running one.
func (t *Test) Result() model.ABTestResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.final != nil {
		return *t.final
	}
	return t.evaluate()
}

// evaluate must be called with t.mu held.
func (t *Test) evaluate() model.ABTestResult {
	perfA, returnsA := t.a.snapshot()
	perfB, returnsB := t.b.snapshot()
	res := model.ABTestResult{
		ID:            t.id,
		Configuration: t.cfg,
		Status:        t.status,
		StartDate:     t.start,
		EndDate:       t.end,
		PerformanceA:  perfA,
		PerformanceB:  perfB,
		Winner:        model.WinnerNoSignificantDifference,
		CompletedBy:   t.completedBy,
	}
	if len(returnsA) < t.cfg.MinimumTrades || len(returnsB) < t.cfg.MinimumTrades {
		return res
	}
	res.StatisticalSignificance = Significance(returnsA, returnsB)
	if res.StatisticalSignificance > t.cfg.ConfidenceLevel {
		switch {
		case perfA.MeanReturnPct > perfB.MeanReturnPct:
			res.Winner = model.WinnerStrategyA
		case perfB.MeanReturnPct > perfA.MeanReturnPct:
			res.Winner = model.WinnerStrategyB
		}
	}
	return res
}
