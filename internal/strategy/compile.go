package strategy

import (
	"fmt"
	"math"

	"github.com/ibrahiminano/pipflow-sub001/internal/indicator"
	"github.com/ibrahiminano/pipflow-sub001/internal/model"
)

// operand is a resolved condition side: either a series or a constant.
type operand struct {
	series   []float64
	constant float64
	lookback int
}

func (o operand) at(i int) float64 {
	if o.series == nil {
		return o.constant
	}
	return o.series[i]
}

type condition struct {
	left, right operand
	op          model.Comparator
}

func (c condition) holds(i int) bool {
	l, r := c.left.at(i), c.right.at(i)
	if !indicator.Defined(l) || !indicator.Defined(r) {
		return false
	}
	switch c.op {
	case model.CmpGreater:
		return l > r
	case model.CmpLess:
		return l < r
	case model.CmpGreaterEqual:
		return l >= r
	case model.CmpLessEqual:
		return l <= r
	case model.CmpCrossAbove, model.CmpCrossBelow:
		if i == 0 {
			return false
		}
		pl, pr := c.left.at(i-1), c.right.at(i-1)
		if !indicator.Defined(pl) || !indicator.Defined(pr) {
			return false
		}
		if c.op == model.CmpCrossAbove {
			return pl <= pr && l > r
		}
		return pl >= pr && l < r
	}
	return false
}

func (c condition) warmup() int {
	w := c.left.lookback
	if c.right.lookback > w {
		w = c.right.lookback
	}
	if c.op == model.CmpCrossAbove || c.op == model.CmpCrossBelow {
		w++
	}
	return w
}

type ruleSet struct {
	any    bool
	groups [][]condition
	warmup int
}

func (r *ruleSet) Holds(i int) bool {
	if len(r.groups) == 0 {
		return false
	}
	for _, g := range r.groups {
		ok := true
		for _, c := range g {
			if !c.holds(i) {
				ok = false
				break
			}
		}
		if ok && r.any {
			return true
		}
		if !ok && !r.any {
			return false
		}
	}
	return !r.any
}

func (r *ruleSet) Warmup() int { return r.warmup }

// Compiled is a strategy bound to one bar sequence.
type Compiled struct {
	Strategy model.TradingStrategy
	Entry    Rules
	Exit     Rules
}

// Warmup is the first bar on which entry rules can fire.
func (c *Compiled) Warmup() int {
	return c.Entry.Warmup()
}

// Compile validates s, resolves parameter references and binds every
// condition to a series of cache.
func Compile(s model.TradingStrategy, cache *indicator.Cache) (*Compiled, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	entry, err := compileRules(s, s.Entry, cache)
	if err != nil {
		return nil, fmt.Errorf("entry rules: %w", err)
	}
	exit, err := compileRules(s, s.Exit, cache)
	if err != nil {
		return nil, fmt.Errorf("exit rules: %w", err)
	}
	return &Compiled{Strategy: s, Entry: entry, Exit: exit}, nil
}

func compileRules(s model.TradingStrategy, rules model.RuleSet, cache *indicator.Cache) (*ruleSet, error) {
	out := &ruleSet{any: rules.Operator == model.OpOr}
	for _, g := range rules.Groups {
		if len(g.Conditions) == 0 {
			continue
		}
		group := make([]condition, 0, len(g.Conditions))
		for _, c := range g.Conditions {
			left, err := resolve(s, c.Left, cache)
			if err != nil {
				return nil, err
			}
			right, err := resolve(s, c.Right, cache)
			if err != nil {
				return nil, err
			}
			cond := condition{left: left, right: right, op: c.Op}
			if w := cond.warmup(); w > out.warmup {
				out.warmup = w
			}
			group = append(group, cond)
		}
		out.groups = append(out.groups, group)
	}
	return out, nil
}

func resolve(s model.TradingStrategy, o model.Operand, cache *indicator.Cache) (operand, error) {
	switch o.Kind {
	case model.OperandConst:
		return operand{constant: o.Value}, nil
	case model.OperandParam:
		v, ok := s.Value(o.Param)
		if !ok {
			return operand{}, fmt.Errorf("%w: unknown parameter %q", model.ErrInvalidStrategy, o.Param)
		}
		return operand{constant: v}, nil
	case model.OperandIndicator:
		key := indicator.Key{Kind: o.Indicator, Period: o.Period, Multiplier: o.Multiplier}
		if o.PeriodParam != "" {
			v, ok := s.Value(o.PeriodParam)
			if !ok {
				return operand{}, fmt.Errorf("%w: unknown period parameter %q", model.ErrInvalidStrategy, o.PeriodParam)
			}
			key.Period = int(math.Round(v))
		}
		series, err := cache.Series(key)
		if err != nil {
			return operand{}, err
		}
		return operand{series: series, lookback: key.Lookback()}, nil
	}
	return operand{}, fmt.Errorf("%w: operand kind %q", model.ErrInvalidStrategy, o.Kind)
}
