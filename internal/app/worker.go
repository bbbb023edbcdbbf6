package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ibrahiminano/pipflow-sub001/internal/infrastructure"
	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/ibrahiminano/pipflow-sub001/internal/processor"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// baseBarSink keeps 1m bars under their normalized symbol. Coarser periods
// are rebuilt on load, so the stored series never mixes timeframes.
type baseBarSink struct {
	next processor.BarSink
}

func (s baseBarSink) Add(bars ...model.Bar) {
	kept := bars[:0:0]
	for _, b := range bars {
		if b.Timeframe != model.Timeframe1m {
			continue
		}
		b.Symbol = model.NormalizeSymbol(b.Symbol)
		kept = append(kept, b)
	}
	if len(kept) > 0 {
		s.next.Add(kept...)
	}
}

// startIngestion feeds bars from the market bus into the in-memory source.
// It does nothing when bars come from the database or there is no bus.
func (a *App) startIngestion(ctx context.Context) error {
	if a.JS == nil || a.DB != nil {
		return nil
	}
	return processor.NewKlineIngestor(a.JS, baseBarSink{next: a.Memory}, a.Logger).Run(ctx)
}

// startScheduler runs housekeeping on the configured cron spec.
func (a *App) startScheduler() (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(a.Config.ABTestSweepSpec, func() { a.housekeeping(time.Now().UTC()) }); err != nil {
		return nil, fmt.Errorf("failed to add housekeeping job: %w", err)
	}
	c.Start()
	return c, nil
}

// housekeeping completes expired A/B tests and forgets finished backtests.
func (a *App) housekeeping(now time.Time) {
	completed := a.ABTests.Sweep(now)
	pruned := a.Tasks.Prune()
	if completed > 0 || pruned > 0 {
		a.Logger.Info("housekeeping",
			zap.Int("abtests_completed", completed), zap.Int("tasks_pruned", pruned))
	}
}

// abTestFinished publishes the final result and, when there is a winner,
// records the new strategy version.
func (a *App) abTestFinished(res model.ABTestResult) {
	a.Publisher.Publish(infrastructure.Subject(infrastructure.SubjectABTest, res.ID), res)
	rec, err := a.Evolution.RecordABTest(res)
	if err != nil {
		a.Logger.Error("failed to record a/b evolution", zap.String("test", res.ID), zap.Error(err))
		return
	}
	if rec == nil {
		return
	}
	a.Logger.Info("strategy evolved",
		zap.String("strategy", rec.StrategyID), zap.Int("version", rec.Version), zap.String("trigger", string(rec.Trigger)))
	a.Publisher.Publish(infrastructure.Subject(infrastructure.SubjectEvolution, rec.StrategyID), rec)
}
