package engine

import (
	"time"

	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/shopspring/decimal"
)

// CostModel holds execution costs as fractions of price or notional.
type CostModel struct {
	CommissionRate float64 `json:"commission_rate" mapstructure:"COMMISSION_RATE"`
	SpreadRate     float64 `json:"spread_rate" mapstructure:"SPREAD_RATE"`
	SlippageRate   float64 `json:"slippage_rate" mapstructure:"SLIPPAGE_RATE"`
}

// DefaultCosts are 0.1% commission and 0.05% slippage.
func DefaultCosts() CostModel {
	return CostModel{CommissionRate: 0.001, SlippageRate: 0.0005}
}

// EntryFilter vetoes an entry signal for a symbol at a bar time.
type EntryFilter func(symbol string, ts time.Time) bool

type position struct {
	id         int
	entryTime  time.Time
	entryPrice decimal.Decimal
	volume     decimal.Decimal
	entryFee   decimal.Decimal
	stop       decimal.Decimal
	target     decimal.Decimal
	trailStop  decimal.Decimal
	best       decimal.Decimal
	exiting    bool
}

// Simulator turns signals into trades and marks equity once per bar. One
// simulator serves exactly one run.
type Simulator struct {
	symbol     string
	gen        *SignalGenerator
	filter     EntryFilter
	sign       decimal.Decimal
	direction  model.Direction
	commission decimal.Decimal
	adverse    decimal.Decimal
	sizeFrac   decimal.Decimal

	cash       decimal.Decimal
	lastEquity decimal.Decimal
	peak       decimal.Decimal
	dayStart   decimal.Decimal
	day        time.Time
	haltedDay  bool
	haltedRun  bool

	open         []*position
	pendingEntry bool
	nextID       int

	trades []model.BacktestTrade
	equity []model.EquityPoint
}

func NewSimulator(symbol string, gen *SignalGenerator, costs CostModel, capital decimal.Decimal, filter EntryFilter) *Simulator {
	s := gen.rules.Strategy
	return &Simulator{
		symbol:     symbol,
		gen:        gen,
		filter:     filter,
		sign:       decimal.NewFromInt(int64(s.Direction.Sign())),
		direction:  s.Direction,
		commission: decimal.NewFromFloat(costs.CommissionRate),
		adverse:    decimal.NewFromFloat(costs.SpreadRate / 2).Add(decimal.NewFromFloat(costs.SlippageRate)),
		sizeFrac:   decimal.NewFromFloat(s.Risk.PositionSizePct).Div(hundred),
		cash:       capital,
		lastEquity: capital,
		peak:       capital,
		dayStart:   capital,
	}
}

// Step processes bar i. last marks the final bar, on which every open
// position is force-closed at the close.
func (s *Simulator) Step(i int, bar model.Bar, last bool) {
	s.fillPending(bar)

	remaining := s.open[:0]
	for _, p := range s.open {
		if sig, ok := s.gen.Protective(p, bar); ok {
			s.close(p, sig.Price, bar.Timestamp, sig.Reason, false)
			continue
		}
		p.best, p.trailStop = s.gen.Trail(p.best, bar)
		remaining = append(remaining, p)
	}
	s.open = remaining

	if last {
		for _, p := range s.open {
			s.close(p, bar.Close, bar.Timestamp, model.ExitEndOfData, true)
		}
		s.open = nil
		s.pendingEntry = false
	}

	s.mark(bar)

	if last {
		return
	}
	if len(s.open) > 0 && s.gen.RuleExit(i) {
		for _, p := range s.open {
			p.exiting = true
		}
	}
	if s.gen.Entry(i, len(s.open), s.haltedDay || s.haltedRun) &&
		(s.filter == nil || s.filter(s.symbol, bar.Timestamp)) {
		s.pendingEntry = true
	}
}

func (s *Simulator) fillPending(bar model.Bar) {
	if len(s.open) > 0 {
		remaining := s.open[:0]
		for _, p := range s.open {
			if p.exiting {
				s.close(p, bar.Open, bar.Timestamp, model.ExitSignal, false)
				continue
			}
			remaining = append(remaining, p)
		}
		s.open = remaining
	}
	if !s.pendingEntry {
		return
	}
	s.pendingEntry = false

	fill := s.slip(bar.Open, true)
	if !fill.IsPositive() || !s.lastEquity.IsPositive() {
		return
	}
	notional := s.lastEquity.Mul(s.sizeFrac)
	volume := notional.Div(fill)
	if !volume.IsPositive() {
		return
	}
	fee := fill.Mul(volume).Mul(s.commission)
	s.cash = s.cash.Sub(fee)
	s.nextID++
	p := &position{
		id:         s.nextID,
		entryTime:  bar.Timestamp,
		entryPrice: fill,
		volume:     volume,
		entryFee:   fee,
		best:       fill,
	}
	p.stop, p.target = s.gen.Levels(fill)
	p.best, p.trailStop = s.gen.Trail(fill, model.Bar{High: fill, Low: fill})
	s.open = append(s.open, p)
}

// slip moves price against the trader by half the spread plus slippage.
func (s *Simulator) slip(price decimal.Decimal, entry bool) decimal.Decimal {
	adj := s.sign.Mul(s.adverse)
	if !entry {
		adj = adj.Neg()
	}
	return price.Mul(decimal.NewFromInt(1).Add(adj))
}

func (s *Simulator) close(p *position, price decimal.Decimal, ts time.Time, reason model.ExitReason, forced bool) {
	fill := s.slip(price, false)
	gross := fill.Sub(p.entryPrice).Mul(p.volume).Mul(s.sign)
	exitFee := fill.Mul(p.volume).Mul(s.commission)
	s.cash = s.cash.Add(gross).Sub(exitFee)

	commission := p.entryFee.Add(exitFee)
	pnl := gross.Sub(commission)
	cost := p.entryPrice.Mul(p.volume)
	var pnlPct float64
	if cost.IsPositive() {
		pnlPct = pnl.Div(cost).Mul(hundred).InexactFloat64()
	}
	s.trades = append(s.trades, model.BacktestTrade{
		ID:          p.id,
		Symbol:      s.symbol,
		Direction:   s.direction,
		EntryPrice:  p.entryPrice,
		ExitPrice:   fill,
		EntryTime:   p.entryTime,
		ExitTime:    ts,
		Volume:      p.volume,
		Commission:  commission,
		PnL:         pnl,
		PnLPct:      pnlPct,
		Duration:    ts.Sub(p.entryTime),
		ExitReason:  reason,
		ForcedClose: forced,
	})
}

func (s *Simulator) mark(bar model.Bar) {
	day := bar.Timestamp.UTC().Truncate(24 * time.Hour)
	if !day.Equal(s.day) {
		s.day = day
		s.dayStart = s.lastEquity
		s.haltedDay = false
	}

	equity := s.cash
	for _, p := range s.open {
		equity = equity.Add(bar.Close.Sub(p.entryPrice).Mul(p.volume).Mul(s.sign))
	}
	s.lastEquity = equity
	if equity.GreaterThan(s.peak) {
		s.peak = equity
	}
	s.equity = append(s.equity, model.EquityPoint{
		Timestamp:  bar.Timestamp,
		Equity:     equity,
		Cash:       s.cash,
		OpenTrades: len(s.open),
	})

	risk := s.gen.risk
	if risk.MaxDailyLossPct > 0 && s.dayStart.IsPositive() {
		loss := s.dayStart.Sub(equity).Div(s.dayStart).Mul(hundred).InexactFloat64()
		if loss >= risk.MaxDailyLossPct {
			s.haltedDay = true
		}
	}
	if risk.MaxDrawdownPct > 0 && s.peak.IsPositive() {
		dd := s.peak.Sub(equity).Div(s.peak).Mul(hundred).InexactFloat64()
		if dd >= risk.MaxDrawdownPct {
			s.haltedRun = true
		}
	}
}

// Trades returns the closed trades in exit order.
func (s *Simulator) Trades() []model.BacktestTrade { return s.trades }

// Equity returns one point per processed bar.
func (s *Simulator) Equity() []model.EquityPoint { return s.equity }

// Halted reports whether the drawdown kill switch has fired.
func (s *Simulator) Halted() bool { return s.haltedRun }
