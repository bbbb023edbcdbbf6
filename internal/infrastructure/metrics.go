package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BacktestRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_runs_total",
		Help: "Backtest runs by outcome",
	}, []string{"outcome"})

	BacktestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "backtest_duration_seconds",
		Help:    "Wall time of one backtest run",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	BarsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtest_bars_processed_total",
		Help: "Bars simulated across all runs",
	})

	OptimizationCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optimization_candidates_total",
		Help: "Optimization candidates by outcome",
	}, []string{"outcome"})

	ABTestsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "abtests_active",
		Help: "A/B tests currently running",
	})

	ABTradesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abtest_trades_recorded_total",
		Help: "Trades recorded per A/B arm",
	}, []string{"arm"})

	BarsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bars_ingested_total",
		Help: "Bars received from the market bus",
	}, []string{"symbol"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	PoolQueueFull = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_pool_rejected_total",
		Help: "Jobs dropped because the worker pool queue was full",
	})
)
