package model

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// InfiniteProfitFactor is reported when there are winners and no losers.
const InfiniteProfitFactor = math.MaxFloat64

// ExitReason records why a simulated position closed.
type ExitReason string

const (
	ExitSignal       ExitReason = "signal"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTakeProfit   ExitReason = "take_profit"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitEndOfData    ExitReason = "end_of_data"
)

// BacktestTrade is one closed simulated position.
type BacktestTrade struct {
	ID          int             `json:"id"`
	Symbol      string          `json:"symbol"`
	Direction   Direction       `json:"direction"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	EntryTime   time.Time       `json:"entry_time"`
	ExitTime    time.Time       `json:"exit_time"`
	Volume      decimal.Decimal `json:"volume"`
	Commission  decimal.Decimal `json:"commission"`
	PnL         decimal.Decimal `json:"pnl"`
	PnLPct      float64         `json:"pnl_pct"`
	Duration    time.Duration   `json:"duration"`
	ExitReason  ExitReason      `json:"exit_reason"`
	ForcedClose bool            `json:"forced_close"`
}

// EquityPoint samples account equity at the close of one bar.
type EquityPoint struct {
	Timestamp  time.Time       `json:"timestamp"`
	Equity     decimal.Decimal `json:"equity"`
	Cash       decimal.Decimal `json:"cash"`
	OpenTrades int             `json:"open_trades"`
}

// DrawdownPoint is the fractional decline from the running peak at one bar.
type DrawdownPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Drawdown  float64         `json:"drawdown"`
	Peak      decimal.Decimal `json:"peak"`
}

// MonthlyReturn is the return of one calendar month (UTC).
type MonthlyReturn struct {
	Year      int        `json:"year"`
	Month     time.Month `json:"month"`
	ReturnPct float64    `json:"return_pct"`
}

// PerformanceMetrics are derived from trades and the equity curve and are
// recomputed on every run.
type PerformanceMetrics struct {
	TotalReturn       float64 `json:"total_return"`
	TotalReturnPct    float64 `json:"total_return_pct"`
	NetProfit         float64 `json:"net_profit"`
	GrossProfit       float64 `json:"gross_profit"`
	GrossLoss         float64 `json:"gross_loss"`
	WinRate           float64 `json:"win_rate"`
	AverageWin        float64 `json:"average_win"`
	AverageLoss       float64 `json:"average_loss"`
	ProfitFactor      float64 `json:"profit_factor"`
	SharpeRatio       float64 `json:"sharpe_ratio"`
	SortinoRatio      float64 `json:"sortino_ratio"`
	Volatility        float64 `json:"volatility"`
	MaxDrawdown       float64 `json:"max_drawdown"`
	MaxDrawdownAmount float64 `json:"max_drawdown_amount"`
	Expectancy        float64 `json:"expectancy"`
	ExpectancyPct     float64 `json:"expectancy_pct"`
	TradesPerMonth    float64 `json:"trades_per_month"`
	CalmarRatio       float64 `json:"calmar_ratio"`
}

// TradeStatistics are counts and extremes over the trade list.
type TradeStatistics struct {
	TotalTrades          int           `json:"total_trades"`
	WinningTrades        int           `json:"winning_trades"`
	LosingTrades         int           `json:"losing_trades"`
	LongTrades           int           `json:"long_trades"`
	ShortTrades          int           `json:"short_trades"`
	ForcedCloses         int           `json:"forced_closes"`
	MaxConsecutiveWins   int           `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int           `json:"max_consecutive_losses"`
	LargestWin           float64       `json:"largest_win"`
	LargestLoss          float64       `json:"largest_loss"`
	AverageDuration      time.Duration `json:"average_duration"`
	TotalCommission      float64       `json:"total_commission"`
}

// BacktestResult is read-only once returned.
type BacktestResult struct {
	RunID          string             `json:"run_id"`
	Strategy       TradingStrategy    `json:"strategy"`
	Symbol         string             `json:"symbol"`
	Timeframe      Timeframe          `json:"timeframe"`
	From           time.Time          `json:"from"`
	To             time.Time          `json:"to"`
	InitialCapital decimal.Decimal    `json:"initial_capital"`
	FinalEquity    decimal.Decimal    `json:"final_equity"`
	Performance    PerformanceMetrics `json:"performance"`
	Statistics     TradeStatistics    `json:"statistics"`
	Trades         []BacktestTrade    `json:"trades"`
	EquityCurve    []EquityPoint      `json:"equity_curve"`
	DrawdownCurve  []DrawdownPoint    `json:"drawdown_curve"`
	MonthlyReturns []MonthlyReturn    `json:"monthly_returns"`
	BarsProcessed  int                `json:"bars_processed"`
}
