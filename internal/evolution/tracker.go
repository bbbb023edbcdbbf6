package evolution

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ibrahiminano/pipflow-sub001/internal/engine"
	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"go.uber.org/zap"
)

// Tracker keeps the append-only version history of every strategy. Version
// numbers are handed out per strategy id and never reused, including those
// reserved for candidates that were later discarded.
type Tracker struct {
	mu      sync.Mutex
	next    map[string]int
	history map[string][]model.StrategyEvolution
	logger  *zap.Logger
	now     func() time.Time
}

func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{
		next:    make(map[string]int),
		history: make(map[string][]model.StrategyEvolution),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ReserveVersion burns and returns the next version number of strategyID.
func (t *Tracker) ReserveVersion(strategyID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reserve(strategyID)
}

func (t *Tracker) reserve(strategyID string) int {
	t.next[strategyID]++
	return t.next[strategyID]
}

// RecordOptimization appends the version produced by accepting res. A result
// that kept the baseline changes nothing and is not recorded.
func (t *Tracker) RecordOptimization(res *model.OptimizationResult) (*model.StrategyEvolution, error) {
	if res == nil || !res.Improved {
		return nil, nil
	}
	return t.Record(res.OriginalStrategy.ID, model.TriggerOptimization,
		res.OriginalStrategy, res.OptimizedStrategy, res.Improvements.ProfitImprovement, res.ID)
}

// RecordABTest appends a version when a completed test has a winner: the
// strategy evolves from the losing arm to the winning one. Ties append
// nothing.
func (t *Tracker) RecordABTest(res model.ABTestResult) (*model.StrategyEvolution, error) {
	if res.Status != model.ABCompleted {
		return nil, fmt.Errorf("%w: a/b test %s is %s", engine.ErrInvalidRequest, res.ID, res.Status)
	}
	cfg := res.Configuration
	var from, to model.TradingStrategy
	var delta float64
	switch res.Winner {
	case model.WinnerStrategyA:
		from, to = cfg.StrategyB, cfg.StrategyA
		delta = res.PerformanceA.MeanReturnPct - res.PerformanceB.MeanReturnPct
	case model.WinnerStrategyB:
		from, to = cfg.StrategyA, cfg.StrategyB
		delta = res.PerformanceB.MeanReturnPct - res.PerformanceA.MeanReturnPct
	default:
		return nil, nil
	}
	return t.Record(cfg.StrategyA.ID, model.TriggerABTest, from, to, delta, res.ID)
}

// Record appends one version of strategyID describing the move from before
// to after.
func (t *Tracker) Record(strategyID string, trigger model.EvolutionTrigger, before, after model.TradingStrategy, deltaPct float64, sourceID string) (*model.StrategyEvolution, error) {
	if strategyID == "" {
		return nil, fmt.Errorf("%w: strategy id is required", engine.ErrInvalidRequest)
	}
	changes := Diff(before.ParameterValues(), after.ParameterValues())

	t.mu.Lock()
	rec := model.StrategyEvolution{
		ID:                  uuid.NewString(),
		StrategyID:          strategyID,
		Version:             t.reserve(strategyID),
		Timestamp:           t.now(),
		Trigger:             trigger,
		Changes:             changes,
		PerformanceDeltaPct: deltaPct,
		SourceID:            sourceID,
	}
	t.history[strategyID] = append(t.history[strategyID], rec)
	t.mu.Unlock()

	t.logger.Info("strategy version recorded",
		zap.String("strategy", strategyID),
		zap.Int("version", rec.Version),
		zap.String("trigger", string(trigger)),
		zap.Int("changes", len(changes)))
	return &rec, nil
}

// History returns a copy of the versions of strategyID in version order.
func (t *Tracker) History(strategyID string) []model.StrategyEvolution {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := append([]model.StrategyEvolution(nil), t.history[strategyID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// Latest returns the newest recorded version of strategyID.
func (t *Tracker) Latest(strategyID string) (model.StrategyEvolution, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.history[strategyID]
	if len(h) == 0 {
		return model.StrategyEvolution{}, false
	}
	latest := h[0]
	for _, rec := range h[1:] {
		if rec.Version > latest.Version {
			latest = rec
		}
	}
	return latest, true
}

// Diff lists the parameters whose value differs between before and after,
// sorted by name.
func Diff(before, after map[model.ParamName]float64) []model.ParameterChange {
	names := make(map[model.ParamName]struct{}, len(before)+len(after))
	for k := range before {
		names[k] = struct{}{}
	}
	for k := range after {
		names[k] = struct{}{}
	}
	out := make([]model.ParameterChange, 0)
	for name := range names {
		old, hadOld := before[name]
		cur, hasNew := after[name]
		if hadOld && hasNew && old == cur {
			continue
		}
		c := model.ParameterChange{Parameter: name}
		if hadOld {
			c.OldValue = &old
		}
		if hasNew {
			c.NewValue = &cur
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Parameter < out[j].Parameter })
	return out
}
