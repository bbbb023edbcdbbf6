package engine

import (
	"math"
	"time"

	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

const daysPerMonth = 30.44

// Analysis is everything derived from a run's trades and equity curve.
type Analysis struct {
	Performance    model.PerformanceMetrics
	Statistics     model.TradeStatistics
	DrawdownCurve  []model.DrawdownPoint
	MonthlyReturns []model.MonthlyReturn
}

// Analyze is a pure function of its inputs. Every ratio falls back to 0
// instead of NaN or Inf, except the profit factor sentinel.
func Analyze(trades []model.BacktestTrade, equity []model.EquityPoint, initialCapital decimal.Decimal, tf model.Timeframe) Analysis {
	a := Analysis{
		Statistics:     tradeStatistics(trades),
		DrawdownCurve:  drawdownCurve(equity),
		MonthlyReturns: monthlyReturns(equity, initialCapital),
	}
	perf := &a.Performance

	initial := initialCapital.InexactFloat64()
	final := initial
	if len(equity) > 0 {
		final = equity[len(equity)-1].Equity.InexactFloat64()
	}
	perf.NetProfit = final - initial
	if initial > 0 {
		perf.TotalReturn = perf.NetProfit / initial
		perf.TotalReturnPct = perf.TotalReturn * 100
	}

	var pnlPcts []float64
	for _, t := range trades {
		pnl := t.PnL.InexactFloat64()
		if pnl > 0 {
			perf.GrossProfit += pnl
		} else {
			perf.GrossLoss -= pnl
		}
		pnlPcts = append(pnlPcts, t.PnLPct)
	}
	st := a.Statistics
	if st.TotalTrades > 0 {
		perf.WinRate = float64(st.WinningTrades) / float64(st.TotalTrades)
		perf.Expectancy = (perf.GrossProfit - perf.GrossLoss) / float64(st.TotalTrades)
		perf.ExpectancyPct = stat.Mean(pnlPcts, nil)
	}
	if st.WinningTrades > 0 {
		perf.AverageWin = perf.GrossProfit / float64(st.WinningTrades)
	}
	if st.LosingTrades > 0 {
		perf.AverageLoss = perf.GrossLoss / float64(st.LosingTrades)
	}
	perf.ProfitFactor = profitFactor(perf.GrossProfit, perf.GrossLoss)

	returns := barReturns(equity, initial)
	annual := math.Sqrt(tf.PeriodsPerYear())
	if len(returns) > 1 {
		mean, sd := stat.MeanStdDev(returns, nil)
		if sd > 0 {
			perf.SharpeRatio = mean / sd * annual
			perf.Volatility = sd * annual
		}
		if dd := downsideDeviation(returns); dd > 0 {
			perf.SortinoRatio = mean / dd * annual
		}
	}

	for i, p := range a.DrawdownCurve {
		if p.Drawdown > perf.MaxDrawdown {
			perf.MaxDrawdown = p.Drawdown
		}
		if amount := p.Peak.Sub(equity[i].Equity).InexactFloat64(); amount > perf.MaxDrawdownAmount {
			perf.MaxDrawdownAmount = amount
		}
	}

	if len(equity) > 0 {
		span := equity[len(equity)-1].Timestamp.Sub(equity[0].Timestamp) + tf.Duration()
		if months := span.Hours() / 24 / daysPerMonth; months > 0 {
			perf.TradesPerMonth = float64(st.TotalTrades) / months
		}
		if perf.MaxDrawdown > 0 && perf.TotalReturn > -1 {
			years := float64(len(equity)) / tf.PeriodsPerYear()
			annualized := math.Pow(1+perf.TotalReturn, 1/years) - 1
			perf.CalmarRatio = annualized / perf.MaxDrawdown
		}
	}
	return a
}

func profitFactor(grossProfit, grossLoss float64) float64 {
	switch {
	case grossProfit == 0:
		return 0
	case grossLoss == 0:
		return model.InfiniteProfitFactor
	}
	return grossProfit / grossLoss
}

func tradeStatistics(trades []model.BacktestTrade) model.TradeStatistics {
	st := model.TradeStatistics{TotalTrades: len(trades)}
	var wins, losses int
	var duration time.Duration
	var commission decimal.Decimal
	for _, t := range trades {
		pnl := t.PnL.InexactFloat64()
		if pnl > 0 {
			st.WinningTrades++
			wins++
			losses = 0
			st.LargestWin = math.Max(st.LargestWin, pnl)
		} else {
			st.LosingTrades++
			losses++
			wins = 0
			st.LargestLoss = math.Min(st.LargestLoss, pnl)
		}
		if wins > st.MaxConsecutiveWins {
			st.MaxConsecutiveWins = wins
		}
		if losses > st.MaxConsecutiveLosses {
			st.MaxConsecutiveLosses = losses
		}
		if t.Direction == model.DirectionShort {
			st.ShortTrades++
		} else {
			st.LongTrades++
		}
		if t.ForcedClose {
			st.ForcedCloses++
		}
		duration += t.Duration
		commission = commission.Add(t.Commission)
	}
	if len(trades) > 0 {
		st.AverageDuration = duration / time.Duration(len(trades))
	}
	st.TotalCommission = commission.InexactFloat64()
	return st
}

func drawdownCurve(equity []model.EquityPoint) []model.DrawdownPoint {
	out := make([]model.DrawdownPoint, len(equity))
	var peak decimal.Decimal
	for i, p := range equity {
		if i == 0 || p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		var dd float64
		if peak.IsPositive() {
			dd = peak.Sub(p.Equity).Div(peak).InexactFloat64()
		}
		out[i] = model.DrawdownPoint{Timestamp: p.Timestamp, Drawdown: dd, Peak: peak}
	}
	return out
}

func barReturns(equity []model.EquityPoint, initial float64) []float64 {
	out := make([]float64, 0, len(equity))
	prev := initial
	for _, p := range equity {
		e := p.Equity.InexactFloat64()
		if prev > 0 {
			out = append(out, e/prev-1)
		}
		prev = e
	}
	return out
}

func downsideDeviation(returns []float64) float64 {
	var sum float64
	for _, r := range returns {
		if r < 0 {
			sum += r * r
		}
	}
	return math.Sqrt(sum / float64(len(returns)))
}

func monthlyReturns(equity []model.EquityPoint, initialCapital decimal.Decimal) []model.MonthlyReturn {
	var out []model.MonthlyReturn
	start := initialCapital
	for i, p := range equity {
		ts := p.Timestamp.UTC()
		lastOfMonth := i == len(equity)-1
		if !lastOfMonth {
			next := equity[i+1].Timestamp.UTC()
			lastOfMonth = next.Year() != ts.Year() || next.Month() != ts.Month()
		}
		if !lastOfMonth {
			continue
		}
		var ret float64
		if start.IsPositive() {
			ret = p.Equity.Sub(start).Div(start).Mul(hundred).InexactFloat64()
		}
		out = append(out, model.MonthlyReturn{Year: ts.Year(), Month: ts.Month(), ReturnPct: ret})
		start = p.Equity
	}
	return out
}
