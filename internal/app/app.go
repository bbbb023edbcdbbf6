package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ibrahiminano/pipflow-sub001/api"
	"github.com/ibrahiminano/pipflow-sub001/internal/abtest"
	"github.com/ibrahiminano/pipflow-sub001/internal/config"
	"github.com/ibrahiminano/pipflow-sub001/internal/engine"
	"github.com/ibrahiminano/pipflow-sub001/internal/evolution"
	"github.com/ibrahiminano/pipflow-sub001/internal/infrastructure"
	"github.com/ibrahiminano/pipflow-sub001/internal/optimizer"
	"github.com/ibrahiminano/pipflow-sub001/internal/predictor"
	"github.com/ibrahiminano/pipflow-sub001/internal/push"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// App defines the application structure and its dependencies
type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *pgxpool.Pool
	NC     *nats.Conn
	JS     nats.JetStreamContext

	Memory     *engine.MemorySource
	Source     engine.Source
	Pool       *engine.Pool
	Backtester *engine.Backtester
	Tasks      *engine.Tasks
	Optimizer  *optimizer.Engine
	ABTests    *abtest.Manager
	ABRunner   *abtest.Runner
	Evolution  *evolution.Tracker
	Predictor  *predictor.Predictor
	Publisher  *infrastructure.Publisher

	PushGateway *push.PushGateway
	HTTPServer  *http.Server
	cron        *cron.Cron
}

// NewApp creates a new application instance
func NewApp(configPath string) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := infrastructure.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return &App{
		Config: &cfg,
		Logger: infrastructure.Logger,
		Memory: engine.NewMemorySource(),
	}, nil
}

// Init connects the optional database and bus and builds the engines.
func (a *App) Init(ctx context.Context) error {
	a.Source = a.Memory
	if a.Config.DB_DSN != "" {
		dbPool, err := pgxpool.Connect(ctx, a.Config.DB_DSN)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = dbPool
		loader := engine.NewDataLoader(dbPool)
		if err := loader.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		a.Source = engine.NewResilientSource(loader, a.Config.DataRetries, a.Logger)
	}

	if a.Config.NatsURL != "" {
		nc, js, err := infrastructure.InitNATS(a.Config.NatsURL, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		a.NC = nc
		a.JS = js
		a.PushGateway = push.NewPushGateway(js, a.Logger)
	}
	a.Publisher = infrastructure.NewPublisher(a.JS, a.Logger)

	a.buildEngines()
	return nil
}

func (a *App) buildEngines() {
	costs := engine.CostModel{
		CommissionRate: a.Config.CommissionRate,
		SpreadRate:     a.Config.SpreadRate,
		SlippageRate:   a.Config.SlippageRate,
	}
	a.Pool = engine.NewPool(a.Config.OptimizerWorkers, a.Config.OptimizerWorkers*4, a.Logger)
	a.Backtester = engine.NewBacktester(a.Source, costs, a.Logger)
	a.Tasks = engine.NewTasks()

	ocfg := optimizer.DefaultConfig()
	ocfg.MaxRounds = a.Config.OptimizerMaxRounds
	ocfg.MaxEvaluations = a.Config.OptimizerMaxEvaluations
	a.Optimizer = optimizer.NewEngine(a.Backtester, a.Source, a.Pool, ocfg, a.Logger)

	a.Evolution = evolution.NewTracker(a.Logger)
	a.ABTests = abtest.NewManager(a.Logger)
	a.ABTests.OnFinish(a.abTestFinished)
	a.ABRunner = abtest.NewRunner(a.Backtester, a.Config.Capital(), a.Logger)
	a.Predictor = predictor.New(a.Logger)
}

// Run starts the application services and the HTTP server
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Pool.Start(ctx)
	if err := a.startIngestion(ctx); err != nil {
		return fmt.Errorf("failed to start kline ingestor: %w", err)
	}
	c, err := a.startScheduler()
	if err != nil {
		return err
	}
	a.cron = c

	a.HTTPServer = &http.Server{
		Addr:    ":" + a.Config.Port,
		Handler: a.setupRouter(ctx),
	}

	go func() {
		a.Logger.Info("starting http server", zap.String("port", a.Config.Port))
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	return a.waitForShutdown(cancel)
}

// waitForShutdown handles graceful shutdown signals
func (a *App) waitForShutdown(cancel context.CancelFunc) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	a.Logger.Info("shutting down...")

	ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	<-a.cron.Stop().Done()
	cancel()
	a.Pool.Stop()

	if a.NC != nil {
		a.NC.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
	_ = a.Logger.Sync()
	return nil
}

func (a *App) limiter() *rate.Limiter {
	if a.Config.APIRateLimit <= 0 {
		return nil
	}
	burst := a.Config.APIRateBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(a.Config.APIRateLimit), burst)
}

// setupRouter configures the Gin router and its routes
func (a *App) setupRouter(ctx context.Context) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	apiHandler := api.NewHandler(ctx, api.Services{
		Source:     a.Source,
		Backtester: a.Backtester,
		Tasks:      a.Tasks,
		Optimizer:  a.Optimizer,
		ABTests:    a.ABTests,
		ABRunner:   a.ABRunner,
		Evolution:  a.Evolution,
		Predictor:  a.Predictor,
		Publisher:  a.Publisher,
		Capital:    a.Config.Capital(),
		Limiter:    a.limiter(),
	}, a.Logger)
	apiHandler.Routes(r.Group("/api/v1"))

	if a.PushGateway != nil {
		r.GET("/ws", func(c *gin.Context) {
			a.PushGateway.ServeHTTP(c.Writer, c.Request)
		})
	}
	return r
}
