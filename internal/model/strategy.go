package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ErrInvalidStrategy marks a strategy that cannot be run: an unknown
// indicator, a dangling parameter reference or risk rules out of range.
var ErrInvalidStrategy = errors.New("invalid strategy")

// Direction of the positions a strategy opens.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() int {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// LogicalOp joins condition groups.
type LogicalOp string

const (
	OpAnd LogicalOp = "and"
	OpOr  LogicalOp = "or"
)

// Comparator of a condition.
type Comparator string

const (
	CmpGreater      Comparator = "gt"
	CmpLess         Comparator = "lt"
	CmpGreaterEqual Comparator = "gte"
	CmpLessEqual    Comparator = "lte"
	CmpCrossAbove   Comparator = "cross_above"
	CmpCrossBelow   Comparator = "cross_below"
)

func (c Comparator) valid() bool {
	switch c {
	case CmpGreater, CmpLess, CmpGreaterEqual, CmpLessEqual, CmpCrossAbove, CmpCrossBelow:
		return true
	}
	return false
}

// IndicatorKind is the closed set of series a condition can reference.
type IndicatorKind string

const (
	IndClose   IndicatorKind = "close"
	IndOpen    IndicatorKind = "open"
	IndHigh    IndicatorKind = "high"
	IndLow     IndicatorKind = "low"
	IndVolume  IndicatorKind = "volume"
	IndSMA     IndicatorKind = "sma"
	IndEMA     IndicatorKind = "ema"
	IndRSI     IndicatorKind = "rsi"
	IndATR     IndicatorKind = "atr"
	IndBBUpper IndicatorKind = "bb_upper"
	IndBBLower IndicatorKind = "bb_lower"
	IndROC     IndicatorKind = "roc"
)

// NeedsPeriod reports whether the indicator is parameterised by a lookback.
func (k IndicatorKind) NeedsPeriod() bool {
	switch k {
	case IndClose, IndOpen, IndHigh, IndLow, IndVolume:
		return false
	}
	return true
}

// Known reports whether k is a supported indicator.
func (k IndicatorKind) Known() bool {
	switch k {
	case IndClose, IndOpen, IndHigh, IndLow, IndVolume, IndSMA, IndEMA, IndRSI, IndATR, IndBBUpper, IndBBLower, IndROC:
		return true
	}
	return false
}

// OperandKind tags the Operand variant.
type OperandKind string

const (
	OperandIndicator OperandKind = "indicator"
	OperandConst     OperandKind = "const"
	OperandParam     OperandKind = "param"
)

// Operand is one side of a condition. Only the fields of its Kind are read.
type Operand struct {
	Kind OperandKind `json:"kind" yaml:"kind"`

	Indicator   IndicatorKind `json:"indicator,omitempty" yaml:"indicator,omitempty"`
	Period      int           `json:"period,omitempty" yaml:"period,omitempty"`
	PeriodParam ParamName     `json:"period_param,omitempty" yaml:"period_param,omitempty"`
	Multiplier  float64       `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`

	Value float64   `json:"value,omitempty" yaml:"value,omitempty"`
	Param ParamName `json:"param,omitempty" yaml:"param,omitempty"`
}

// Ind builds an indicator operand with a fixed period.
func Ind(kind IndicatorKind, period int) Operand {
	return Operand{Kind: OperandIndicator, Indicator: kind, Period: period}
}

// IndP builds an indicator operand whose period comes from a parameter.
func IndP(kind IndicatorKind, periodParam ParamName) Operand {
	return Operand{Kind: OperandIndicator, Indicator: kind, PeriodParam: periodParam}
}

// Const builds a literal operand.
func Const(v float64) Operand {
	return Operand{Kind: OperandConst, Value: v}
}

// Param builds an operand bound to a strategy parameter.
func Param(name ParamName) Operand {
	return Operand{Kind: OperandParam, Param: name}
}

// Condition compares two operands on the current bar.
type Condition struct {
	Left  Operand    `json:"left" yaml:"left"`
	Op    Comparator `json:"op" yaml:"op"`
	Right Operand    `json:"right" yaml:"right"`
}

// ConditionGroup holds when all of its conditions hold.
type ConditionGroup struct {
	Conditions []Condition `json:"conditions" yaml:"conditions"`
}

// RuleSet joins groups with Operator. An empty rule set never fires.
type RuleSet struct {
	Operator LogicalOp        `json:"operator" yaml:"operator"`
	Groups   []ConditionGroup `json:"groups" yaml:"groups"`
}

// Empty reports whether the rule set has no conditions at all.
func (r RuleSet) Empty() bool {
	for _, g := range r.Groups {
		if len(g.Conditions) > 0 {
			return false
		}
	}
	return true
}

// RiskRules are expressed in percent units: 2 means 2%.
type RiskRules struct {
	StopLossPct         float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct       float64 `json:"take_profit_pct" yaml:"take_profit_pct"`
	PositionSizePct     float64 `json:"position_size_pct" yaml:"position_size_pct"`
	MaxOpenTrades       int     `json:"max_open_trades" yaml:"max_open_trades"`
	MaxDailyLossPct     float64 `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
	MaxDrawdownPct      float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	TrailingStop        bool    `json:"trailing_stop" yaml:"trailing_stop"`
	TrailingDistancePct float64 `json:"trailing_distance_pct" yaml:"trailing_distance_pct"`
}

// Leverage is the gross exposure relative to equity when every slot is used.
func (r RiskRules) Leverage() float64 {
	return r.PositionSizePct / 100 * float64(r.MaxOpenTrades)
}

// Validate checks the risk ranges.
func (r RiskRules) Validate() error {
	var problems []string
	if r.StopLossPct < 0 || r.StopLossPct >= 100 {
		problems = append(problems, fmt.Sprintf("stop_loss_pct %.4g outside [0,100)", r.StopLossPct))
	}
	if r.TakeProfitPct < 0 {
		problems = append(problems, fmt.Sprintf("take_profit_pct %.4g is negative", r.TakeProfitPct))
	}
	if r.PositionSizePct <= 0 || r.PositionSizePct > 100 {
		problems = append(problems, fmt.Sprintf("position_size_pct %.4g outside (0,100]", r.PositionSizePct))
	}
	if r.MaxOpenTrades < 1 {
		problems = append(problems, fmt.Sprintf("max_open_trades %d below 1", r.MaxOpenTrades))
	}
	if r.MaxDailyLossPct < 0 || r.MaxDailyLossPct > 100 {
		problems = append(problems, fmt.Sprintf("max_daily_loss_pct %.4g outside [0,100]", r.MaxDailyLossPct))
	}
	if r.MaxDrawdownPct < 0 || r.MaxDrawdownPct > 100 {
		problems = append(problems, fmt.Sprintf("max_drawdown_pct %.4g outside [0,100]", r.MaxDrawdownPct))
	}
	if r.TrailingStop && (r.TrailingDistancePct <= 0 || r.TrailingDistancePct >= 100) {
		problems = append(problems, fmt.Sprintf("trailing_distance_pct %.4g outside (0,100)", r.TrailingDistancePct))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidStrategy, strings.Join(problems, "; "))
	}
	return nil
}

// ParamName names a numeric strategy parameter.
type ParamName string

// Reserved names addressing the risk rules.
const (
	ParamStopLoss         ParamName = "risk.stop_loss_pct"
	ParamTakeProfit       ParamName = "risk.take_profit_pct"
	ParamPositionSize     ParamName = "risk.position_size_pct"
	ParamTrailingDistance ParamName = "risk.trailing_distance_pct"
)

func (n ParamName) reserved() bool {
	return strings.HasPrefix(string(n), "risk.")
}

// ParamSpec bounds one searchable dimension.
type ParamSpec struct {
	Name    ParamName `json:"name" yaml:"name"`
	Min     float64   `json:"min" yaml:"min"`
	Max     float64   `json:"max" yaml:"max"`
	Step    float64   `json:"step" yaml:"step"`
	Integer bool      `json:"integer" yaml:"integer"`
}

// Clamp bounds v to the dimension range and rounds integer dimensions.
func (p ParamSpec) Clamp(v float64) float64 {
	if p.Integer {
		v = math.Round(v)
	}
	return math.Max(p.Min, math.Min(p.Max, v))
}

// ParamSchemaVersion is the current schema revision.
const ParamSchemaVersion = 1

// ParamSchema is the versioned set of named numeric parameters a strategy
// exposes to the optimizer.
type ParamSchema struct {
	Version int         `json:"version" yaml:"version"`
	Specs   []ParamSpec `json:"specs" yaml:"specs"`
}

// Spec looks a dimension up by name.
func (s ParamSchema) Spec(name ParamName) (ParamSpec, bool) {
	for _, p := range s.Specs {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// TradingStrategy is an immutable strategy definition. Use With to derive a
// modified copy.
type TradingStrategy struct {
	ID        string                `json:"id" yaml:"id"`
	Name      string                `json:"name" yaml:"name"`
	Direction Direction             `json:"direction" yaml:"direction"`
	Entry     RuleSet               `json:"entry" yaml:"entry"`
	Exit      RuleSet               `json:"exit" yaml:"exit"`
	Risk      RiskRules             `json:"risk" yaml:"risk"`
	Timeframe Timeframe             `json:"timeframe" yaml:"timeframe"`
	Symbols   []string              `json:"symbols" yaml:"symbols"`
	Params    map[ParamName]float64 `json:"params" yaml:"params"`
	Schema    ParamSchema           `json:"schema" yaml:"schema"`
}

// Clone returns a deep copy.
func (s TradingStrategy) Clone() TradingStrategy {
	out := s
	out.Entry = cloneRules(s.Entry)
	out.Exit = cloneRules(s.Exit)
	out.Symbols = append([]string(nil), s.Symbols...)
	out.Params = make(map[ParamName]float64, len(s.Params))
	for k, v := range s.Params {
		out.Params[k] = v
	}
	out.Schema.Specs = append([]ParamSpec(nil), s.Schema.Specs...)
	return out
}

func cloneRules(r RuleSet) RuleSet {
	out := RuleSet{Operator: r.Operator, Groups: make([]ConditionGroup, len(r.Groups))}
	for i, g := range r.Groups {
		out.Groups[i].Conditions = append([]Condition(nil), g.Conditions...)
	}
	return out
}

// Value reads a parameter, including the reserved risk names.
func (s TradingStrategy) Value(name ParamName) (float64, bool) {
	switch name {
	case ParamStopLoss:
		return s.Risk.StopLossPct, true
	case ParamTakeProfit:
		return s.Risk.TakeProfitPct, true
	case ParamPositionSize:
		return s.Risk.PositionSizePct, true
	case ParamTrailingDistance:
		return s.Risk.TrailingDistancePct, true
	}
	v, ok := s.Params[name]
	return v, ok
}

// With returns a copy with one parameter changed.
func (s TradingStrategy) With(name ParamName, v float64) (TradingStrategy, error) {
	out := s.Clone()
	switch name {
	case ParamStopLoss:
		out.Risk.StopLossPct = v
	case ParamTakeProfit:
		out.Risk.TakeProfitPct = v
	case ParamPositionSize:
		out.Risk.PositionSizePct = v
	case ParamTrailingDistance:
		out.Risk.TrailingDistancePct = v
	default:
		if name.reserved() {
			return TradingStrategy{}, fmt.Errorf("%w: unknown reserved parameter %q", ErrInvalidStrategy, name)
		}
		if _, ok := s.Params[name]; !ok {
			return TradingStrategy{}, fmt.Errorf("%w: unknown parameter %q", ErrInvalidStrategy, name)
		}
		out.Params[name] = v
	}
	return out, nil
}

// ParameterValues flattens params and risk percentages into one map.
func (s TradingStrategy) ParameterValues() map[ParamName]float64 {
	out := make(map[ParamName]float64, len(s.Params)+4)
	for k, v := range s.Params {
		out[k] = v
	}
	out[ParamStopLoss] = s.Risk.StopLossPct
	out[ParamTakeProfit] = s.Risk.TakeProfitPct
	out[ParamPositionSize] = s.Risk.PositionSizePct
	if s.Risk.TrailingStop {
		out[ParamTrailingDistance] = s.Risk.TrailingDistancePct
	}
	return out
}

// ParamNames returns the strategy parameter names in sorted order.
func (s TradingStrategy) ParamNames() []ParamName {
	names := make([]ParamName, 0, len(s.Params))
	for k := range s.Params {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Validate checks everything that does not need market data. Indicator
// resolution is checked again when the strategy is compiled.
func (s TradingStrategy) Validate() error {
	if s.Direction != DirectionLong && s.Direction != DirectionShort {
		return fmt.Errorf("%w: direction %q", ErrInvalidStrategy, s.Direction)
	}
	if s.Timeframe != "" && !s.Timeframe.Valid() {
		return fmt.Errorf("%w: timeframe %q", ErrInvalidStrategy, s.Timeframe)
	}
	if s.Entry.Empty() {
		return fmt.Errorf("%w: no entry conditions", ErrInvalidStrategy)
	}
	if err := s.Risk.Validate(); err != nil {
		return err
	}
	for _, rules := range []RuleSet{s.Entry, s.Exit} {
		if rules.Operator != "" && rules.Operator != OpAnd && rules.Operator != OpOr {
			return fmt.Errorf("%w: operator %q", ErrInvalidStrategy, rules.Operator)
		}
		for _, g := range rules.Groups {
			for _, c := range g.Conditions {
				if !c.Op.valid() {
					return fmt.Errorf("%w: comparator %q", ErrInvalidStrategy, c.Op)
				}
				if err := s.validateOperand(c.Left); err != nil {
					return err
				}
				if err := s.validateOperand(c.Right); err != nil {
					return err
				}
			}
		}
	}
	for _, spec := range s.Schema.Specs {
		if spec.Min > spec.Max {
			return fmt.Errorf("%w: schema %q has min above max", ErrInvalidStrategy, spec.Name)
		}
		if _, ok := s.Value(spec.Name); !ok {
			return fmt.Errorf("%w: schema names unknown parameter %q", ErrInvalidStrategy, spec.Name)
		}
	}
	return nil
}

func (s TradingStrategy) validateOperand(o Operand) error {
	switch o.Kind {
	case OperandConst:
		return nil
	case OperandParam:
		if _, ok := s.Value(o.Param); !ok {
			return fmt.Errorf("%w: unknown parameter %q", ErrInvalidStrategy, o.Param)
		}
		return nil
	case OperandIndicator:
		if !o.Indicator.Known() {
			return fmt.Errorf("%w: unknown indicator %q", ErrInvalidStrategy, o.Indicator)
		}
		if !o.Indicator.NeedsPeriod() {
			return nil
		}
		if o.PeriodParam != "" {
			if _, ok := s.Value(o.PeriodParam); !ok {
				return fmt.Errorf("%w: unknown period parameter %q", ErrInvalidStrategy, o.PeriodParam)
			}
			return nil
		}
		if o.Period < 1 {
			return fmt.Errorf("%w: %s needs a positive period", ErrInvalidStrategy, o.Indicator)
		}
		return nil
	}
	return fmt.Errorf("%w: operand kind %q", ErrInvalidStrategy, o.Kind)
}

// DefaultSchema derives a search space when the strategy declares none:
// every parameter and active risk percentage within ±50% of its value.
func (s TradingStrategy) DefaultSchema() ParamSchema {
	if len(s.Schema.Specs) > 0 {
		return s.Schema
	}
	integer := make(map[ParamName]bool)
	for _, rules := range []RuleSet{s.Entry, s.Exit} {
		for _, g := range rules.Groups {
			for _, c := range g.Conditions {
				for _, o := range []Operand{c.Left, c.Right} {
					if o.Kind == OperandIndicator && o.PeriodParam != "" {
						integer[o.PeriodParam] = true
					}
				}
			}
		}
	}
	schema := ParamSchema{Version: ParamSchemaVersion}
	add := func(name ParamName, v float64, isInt bool, lo, hi float64) {
		if v == 0 {
			return
		}
		a, b := v*0.5, v*1.5
		if a > b {
			a, b = b, a
		}
		min, max := math.Max(lo, a), math.Min(hi, b)
		step := (max - min) / 10
		if isInt {
			min, max = math.Max(1, math.Floor(min)), math.Ceil(max)
			step = math.Max(1, math.Round(step))
		}
		schema.Specs = append(schema.Specs, ParamSpec{Name: name, Min: min, Max: max, Step: step, Integer: isInt})
	}
	for _, name := range s.ParamNames() {
		add(name, s.Params[name], integer[name], math.Inf(-1), math.Inf(1))
	}
	add(ParamStopLoss, s.Risk.StopLossPct, false, 0.01, 99)
	add(ParamTakeProfit, s.Risk.TakeProfitPct, false, 0.01, 1000)
	if s.Risk.TrailingStop {
		add(ParamTrailingDistance, s.Risk.TrailingDistancePct, false, 0.01, 99)
	}
	return schema
}
