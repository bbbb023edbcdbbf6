package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ibrahiminano/pipflow-sub001/internal/app"
	"github.com/ibrahiminano/pipflow-sub001/internal/engine"
	"github.com/ibrahiminano/pipflow-sub001/internal/infrastructure"
	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/ibrahiminano/pipflow-sub001/internal/optimizer"
	"github.com/ibrahiminano/pipflow-sub001/internal/predictor"
	"github.com/ibrahiminano/pipflow-sub001/internal/processor"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// offline holds the flags shared by the file-driven commands.
type offline struct {
	strategyPath string
	barsPath     string
	symbol       string
	timeframe    string
	capital      float64
	logLevel     string
}

func (o *offline) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.strategyPath, "strategy", "", "strategy YAML file")
	f.StringVar(&o.barsPath, "bars", "", "bars CSV file (timestamp,open,high,low,close,volume)")
	f.StringVar(&o.symbol, "symbol", "BTCUSDT", "symbol the bars belong to")
	f.StringVar(&o.timeframe, "timeframe", "1m", "period of the bars in the file")
	f.Float64Var(&o.capital, "capital", 10000, "initial capital")
	f.StringVar(&o.logLevel, "log-level", "warn", "log level")
	_ = cmd.MarkFlagRequired("strategy")
	_ = cmd.MarkFlagRequired("bars")
}

// load reads the strategy and bars and returns a request over all of them.
func (o *offline) load() (engine.Request, []model.Bar, *zap.Logger, error) {
	logger, err := infrastructure.NewLogger(o.logLevel, "")
	if err != nil {
		return engine.Request{}, nil, nil, err
	}
	s, err := readStrategy(o.strategyPath)
	if err != nil {
		return engine.Request{}, nil, nil, err
	}
	tf := model.Timeframe(o.timeframe)
	if !tf.Valid() {
		return engine.Request{}, nil, nil, fmt.Errorf("unknown timeframe %q", o.timeframe)
	}
	symbol := model.NormalizeSymbol(o.symbol)
	bars, err := readBars(o.barsPath, symbol, tf)
	if err != nil {
		return engine.Request{}, nil, nil, err
	}
	req := engine.Request{
		Strategy:       s,
		Symbol:         symbol,
		Timeframe:      tf,
		InitialCapital: decimal.NewFromFloat(o.capital),
	}
	if s.Timeframe != "" && s.Timeframe != tf {
		if bars, err = processor.Resample(bars, s.Timeframe); err != nil {
			return engine.Request{}, nil, nil, err
		}
		req.Timeframe = s.Timeframe
	}
	return req, bars, logger, nil
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "strategy-lab",
		Short:         "Backtest, optimize and compare trading strategies",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(backtestCmd())
	root.AddCommand(optimizeCmd())
	root.AddCommand(predictCmd())
	return root
}

func serveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket service",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.NewApp(configPath)
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}
			if err := application.Init(cmd.Context()); err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return application.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", ".", "directory holding app.env")
	return cmd
}

func backtestCmd() *cobra.Command {
	var o offline
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Backtest a strategy file over a bars file",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, bars, logger, err := o.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			bt := engine.NewBacktester(engine.NewMemorySource(), engine.DefaultCosts(), logger)
			res, err := bt.RunBars(cmd.Context(), req, bars)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summarize(res))
		},
	}
	o.bind(cmd)
	return cmd
}

func optimizeCmd() *cobra.Command {
	var (
		o         offline
		goal      string
		maxEvals  int
		workers   int
		minWinPct float64
	)
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Search the strategy's parameters over a bars file",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, bars, logger, err := o.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			pool := engine.NewPool(workers, workers*4, logger)
			pool.Start(ctx)
			defer pool.Stop()

			cfg := optimizer.DefaultConfig()
			cfg.MaxEvaluations = maxEvals
			bt := engine.NewBacktester(engine.NewMemorySource(), engine.DefaultCosts(), logger)
			opt := optimizer.NewEngine(bt, nil, pool, cfg, logger)
			res, err := opt.OptimizeBars(ctx, model.OptimizationRequest{
				BaseStrategy:   req.Strategy,
				Goal:           model.OptimizationGoal(goal),
				Constraints:    model.OptimizationConstraints{MinWinRate: minWinPct / 100},
				Symbol:         req.Symbol,
				Timeframe:      req.Timeframe,
				InitialCapital: req.InitialCapital,
			}, bars)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	o.bind(cmd)
	cmd.Flags().StringVar(&goal, "goal", string(model.GoalBalancedRiskReward), "optimization goal")
	cmd.Flags().IntVar(&maxEvals, "max-evals", 200, "evaluation budget")
	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent backtests")
	cmd.Flags().Float64Var(&minWinPct, "min-win-rate", 0, "minimum win rate in percent")
	return cmd
}

func predictCmd() *cobra.Command {
	var o offline
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict a strategy's performance under the regime of a bars file",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, bars, logger, err := o.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			bt := engine.NewBacktester(engine.NewMemorySource(), engine.DefaultCosts(), logger)
			res, err := bt.RunBars(cmd.Context(), req, bars)
			if err != nil {
				return err
			}
			features, err := predictor.FeaturesFromBars(bars)
			if err != nil {
				return err
			}
			s := req.Strategy
			if s.Timeframe == "" {
				s.Timeframe = req.Timeframe
			}
			p, err := predictor.New(logger).Predict(s, &res.Performance, features)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"prediction": p, "features": features})
		},
	}
	o.bind(cmd)
	return cmd
}

// summary is the backtest result without its per-bar curves.
type summary struct {
	Symbol      string                   `json:"symbol"`
	Timeframe   model.Timeframe          `json:"timeframe"`
	Bars        int                      `json:"bars"`
	FinalEquity decimal.Decimal          `json:"final_equity"`
	Performance model.PerformanceMetrics `json:"performance"`
	Statistics  model.TradeStatistics    `json:"statistics"`
	Trades      int                      `json:"trades"`
}

func summarize(res *model.BacktestResult) summary {
	return summary{
		Symbol:      res.Symbol,
		Timeframe:   res.Timeframe,
		Bars:        res.BarsProcessed,
		FinalEquity: res.FinalEquity,
		Performance: res.Performance,
		Statistics:  res.Statistics,
		Trades:      len(res.Trades),
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
