package engine

import (
	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/ibrahiminano/pipflow-sub001/internal/strategy"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Signal is one decision of the generator.
type Signal struct {
	Action strategy.Action
	Bar    int
	// Position is the id of the position an exit applies to.
	Position int
	Reason   model.ExitReason
	// Price is set for protective exits, which fill inside the bar.
	Price decimal.Decimal
}

// SignalGenerator evaluates a compiled strategy bar by bar. It holds no state
// between calls; positions are owned by the simulator.
type SignalGenerator struct {
	rules    *strategy.Compiled
	risk     model.RiskRules
	sign     int
	stopPct  decimal.Decimal
	tpPct    decimal.Decimal
	trailPct decimal.Decimal
}

func NewSignalGenerator(rules *strategy.Compiled) *SignalGenerator {
	risk := rules.Strategy.Risk
	g := &SignalGenerator{
		rules:   rules,
		risk:    risk,
		sign:    rules.Strategy.Direction.Sign(),
		stopPct: decimal.NewFromFloat(risk.StopLossPct).Div(hundred),
		tpPct:   decimal.NewFromFloat(risk.TakeProfitPct).Div(hundred),
	}
	if risk.TrailingStop {
		g.trailPct = decimal.NewFromFloat(risk.TrailingDistancePct).Div(hundred)
	}
	return g
}

// Warmup is the first bar on which an entry can be signalled.
func (g *SignalGenerator) Warmup() int {
	return g.rules.Warmup()
}

// Entry reports whether bar i signals a new position.
func (g *SignalGenerator) Entry(i, openCount int, blocked bool) bool {
	if blocked || i < g.rules.Warmup() || openCount >= g.risk.MaxOpenTrades {
		return false
	}
	return g.rules.Entry.Holds(i)
}

// RuleExit reports whether the exit rules fire on the close of bar i.
func (g *SignalGenerator) RuleExit(i int) bool {
	return g.rules.Exit.Holds(i)
}

// Levels returns the stop and target for a fill price. Zero means unset.
func (g *SignalGenerator) Levels(fill decimal.Decimal) (stop, target decimal.Decimal) {
	s := decimal.NewFromInt(int64(g.sign))
	one := decimal.NewFromInt(1)
	if g.stopPct.IsPositive() {
		stop = fill.Mul(one.Sub(s.Mul(g.stopPct)))
	}
	if g.tpPct.IsPositive() {
		target = fill.Mul(one.Add(s.Mul(g.tpPct)))
	}
	return stop, target
}

// Trail moves a trailing stop behind the best price reached so far. It
// returns the updated best price and stop.
func (g *SignalGenerator) Trail(best decimal.Decimal, bar model.Bar) (decimal.Decimal, decimal.Decimal) {
	if g.trailPct.IsZero() {
		return best, decimal.Zero
	}
	one := decimal.NewFromInt(1)
	if g.sign > 0 {
		best = decimal.Max(best, bar.High)
		return best, best.Mul(one.Sub(g.trailPct))
	}
	best = decimal.Min(best, bar.Low)
	return best, best.Mul(one.Add(g.trailPct))
}

// Protective checks a position's stop, trailing stop and target against one
// bar. A gap through a level fills at the open. When both the stop and the
// target lie inside the bar the stop wins.
func (g *SignalGenerator) Protective(p *position, bar model.Bar) (Signal, bool) {
	stop, reason := p.stop, model.ExitStopLoss
	if !p.trailStop.IsZero() && (stop.IsZero() || g.tighter(p.trailStop, stop)) {
		stop, reason = p.trailStop, model.ExitTrailingStop
	}
	exit := func(price decimal.Decimal, r model.ExitReason) (Signal, bool) {
		return Signal{Action: strategy.ActionExit, Position: p.id, Reason: r, Price: price}, true
	}

	if g.sign > 0 {
		if !stop.IsZero() && bar.Open.LessThanOrEqual(stop) {
			return exit(bar.Open, reason)
		}
		if !p.target.IsZero() && bar.Open.GreaterThanOrEqual(p.target) {
			return exit(bar.Open, model.ExitTakeProfit)
		}
		if !stop.IsZero() && bar.Low.LessThanOrEqual(stop) {
			return exit(stop, reason)
		}
		if !p.target.IsZero() && bar.High.GreaterThanOrEqual(p.target) {
			return exit(p.target, model.ExitTakeProfit)
		}
		return Signal{}, false
	}

	if !stop.IsZero() && bar.Open.GreaterThanOrEqual(stop) {
		return exit(bar.Open, reason)
	}
	if !p.target.IsZero() && bar.Open.LessThanOrEqual(p.target) {
		return exit(bar.Open, model.ExitTakeProfit)
	}
	if !stop.IsZero() && bar.High.GreaterThanOrEqual(stop) {
		return exit(stop, reason)
	}
	if !p.target.IsZero() && bar.Low.LessThanOrEqual(p.target) {
		return exit(p.target, model.ExitTakeProfit)
	}
	return Signal{}, false
}

// tighter reports whether stop a is closer to the market than b.
func (g *SignalGenerator) tighter(a, b decimal.Decimal) bool {
	if g.sign > 0 {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}
