package optimizer

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"go.uber.org/zap"
)

// tradesForFullConfidence is the sample size at which the trade count stops
// limiting confidence.
const tradesForFullConfidence = 30

// recommendations diffs base against the winner and measures each change on
// its own: the base strategy with only that parameter moved.
func (s *search) recommendations(ctx context.Context, base model.TradingStrategy, best candidate, baseScore float64, baseOK bool) ([]model.Recommendation, error) {
	before, after := base.ParameterValues(), best.strategy.ParameterValues()
	names := make([]model.ParamName, 0, len(after))
	for name, v := range after {
		if before[name] != v {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	variants := make([]model.TradingStrategy, 0, len(names))
	for _, name := range names {
		v, err := base.With(name, after[name])
		if err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	outcomes := make([]candidate, len(variants))
	if err := s.e.pool.Each(ctx, len(variants), func(ctx context.Context, i int) {
		outcomes[i].result, outcomes[i].err = s.run(ctx, variants[i])
	}); err != nil || ctx.Err() != nil {
		return nil, fmt.Errorf("sensitivity runs: %w", cancelled(ctx, err))
	}

	sample := math.Min(1, float64(best.result.Statistics.TotalTrades)/tradesForFullConfidence)
	recs := make([]model.Recommendation, 0, len(names))
	for i, name := range names {
		rec := model.Recommendation{
			Parameter:        name,
			OriginalValue:    before[name],
			RecommendedValue: after[name],
		}
		o := outcomes[i]
		score, ok := 0.0, false
		if o.err == nil {
			score, ok = Score(s.req.Goal, o.result)
		} else {
			s.e.logger.Warn("sensitivity run failed", zap.String("parameter", string(name)), zap.Error(o.err))
		}
		if ok && baseOK {
			rec.ImpactScore = score - baseScore
		}
		rec.Impact = describeImpact(s.req.Goal, rec, ok && baseOK)
		rec.Confidence = round2(clamp(0.2+0.6*sample*agreement(rec.ImpactScore), 0.05, 0.95))
		recs = append(recs, rec)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return math.Abs(recs[i].ImpactScore) > math.Abs(recs[j].ImpactScore)
	})
	return recs, nil
}

// agreement is 1 when the change helps on its own and 0.5 when it only helps
// in combination with the others.
func agreement(impact float64) float64 {
	if impact > 0 {
		return 1
	}
	return 0.5
}

func describeImpact(goal model.OptimizationGoal, rec model.Recommendation, measured bool) string {
	verb := "raising"
	if rec.RecommendedValue < rec.OriginalValue {
		verb = "lowering"
	}
	change := fmt.Sprintf("%s %s from %g to %g", verb, rec.Parameter, rec.OriginalValue, rec.RecommendedValue)
	if !measured {
		return change + " contributes in combination with the other changes"
	}
	effect := "improves"
	if rec.ImpactScore < 0 {
		effect = "on its own worsens"
	}
	return fmt.Sprintf("%s %s the %s score by %.4f", change, effect, goalLabel(goal), math.Abs(rec.ImpactScore))
}

// improvements are always measured against the baseline run.
func improvements(baseline, optimized *model.BacktestResult) model.Improvements {
	b, o := baseline.Performance, optimized.Performance
	return model.Improvements{
		ProfitImprovement:  o.TotalReturnPct - b.TotalReturnPct,
		DrawdownReduction:  (b.MaxDrawdown - o.MaxDrawdown) * 100,
		SharpeImprovement:  o.SharpeRatio - b.SharpeRatio,
		WinRateImprovement: (o.WinRate - b.WinRate) * 100,
		ConsistencyScore:   consistency(baseline.MonthlyReturns, optimized.MonthlyReturns),
	}
}

// consistency is the share of months in which the optimized strategy did at
// least as well as the baseline.
func consistency(baseline, optimized []model.MonthlyReturn) float64 {
	if len(optimized) == 0 {
		return 0
	}
	type month struct {
		year  int
		month int
	}
	base := make(map[month]float64, len(baseline))
	for _, m := range baseline {
		base[month{m.Year, int(m.Month)}] = m.ReturnPct
	}
	var wins int
	for _, m := range optimized {
		if m.ReturnPct >= base[month{m.Year, int(m.Month)}] {
			wins++
		}
	}
	return float64(wins) / float64(len(optimized))
}

// confidence blends sample size, consistency and the size of the gain.
func confidence(baseline, optimized *model.BacktestResult, consistency float64) float64 {
	sample := math.Min(1, float64(optimized.Statistics.TotalTrades)/tradesForFullConfidence)
	gain := optimized.Performance.TotalReturn - baseline.Performance.TotalReturn
	magnitude := math.Min(1, math.Abs(gain)*10)
	return round2(clamp(0.15+0.45*sample+0.25*consistency+0.15*magnitude, lowConfidence, 0.95))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
