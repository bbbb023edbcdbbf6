package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ibrahiminano/pipflow-sub001/internal/abtest"
	"github.com/ibrahiminano/pipflow-sub001/internal/apperr"
	"github.com/ibrahiminano/pipflow-sub001/internal/engine"
	"github.com/ibrahiminano/pipflow-sub001/internal/evolution"
	"github.com/ibrahiminano/pipflow-sub001/internal/infrastructure"
	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/ibrahiminano/pipflow-sub001/internal/optimizer"
	"github.com/ibrahiminano/pipflow-sub001/internal/predictor"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBarLimit = 100
	maxBarLimit     = 5000
)

// Services are the engine components the handlers drive.
type Services struct {
	Source     engine.Source
	Backtester *engine.Backtester
	Tasks      *engine.Tasks
	Optimizer  *optimizer.Engine
	ABTests    *abtest.Manager
	ABRunner   *abtest.Runner
	Evolution  *evolution.Tracker
	Predictor  *predictor.Predictor
	Publisher  *infrastructure.Publisher
	Capital    decimal.Decimal
	// Limiter throttles the compute endpoints when set.
	Limiter *rate.Limiter
}

type Handler struct {
	svc    Services
	logger *zap.Logger
	// ctx bounds background runs; it ends on shutdown.
	ctx context.Context

	mu            sync.RWMutex
	optimizations map[string]*model.OptimizationResult
	accepted      map[string]bool
}

func NewHandler(ctx context.Context, svc Services, logger *zap.Logger) *Handler {
	return &Handler{
		svc:           svc,
		logger:        logger,
		ctx:           ctx,
		optimizations: make(map[string]*model.OptimizationResult),
		accepted:      make(map[string]bool),
	}
}

// Routes mounts every endpoint on g.
func (h *Handler) Routes(g gin.IRoutes) {
	g.POST("/backtests", h.throttle, h.RunBacktest)
	g.POST("/backtests/async", h.throttle, h.StartBacktest)
	g.GET("/backtests/:id", h.GetBacktest)
	g.DELETE("/backtests/:id", h.CancelBacktest)
	g.POST("/optimizations", h.throttle, h.Optimize)
	g.GET("/optimizations/:id", h.GetOptimization)
	g.POST("/optimizations/:id/accept", h.AcceptOptimization)
	g.POST("/abtests", h.throttle, h.CreateABTest)
	g.GET("/abtests", h.ListABTests)
	g.GET("/abtests/:id", h.GetABTest)
	g.POST("/predictions", h.throttle, h.Predict)
	g.GET("/strategies/:id/evolution", h.GetEvolution)
	g.GET("/bars/:symbol", h.GetBars)
}

// throttle rejects compute requests above the configured rate.
func (h *Handler) throttle(c *gin.Context) {
	if h.svc.Limiter != nil && !h.svc.Limiter.Allow() {
		h.fail(c, apperr.New(apperr.CodeRateLimited, "too many compute requests", nil))
		c.Abort()
		return
	}
	c.Next()
}

func (h *Handler) fail(c *gin.Context, err error) {
	e := apperr.From(err)
	if e.HTTPStatus() >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(e.HTTPStatus(), gin.H{"error": e})
}

func (h *Handler) bind(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		h.fail(c, apperr.New(apperr.CodeInvalidInput, "malformed request body", err))
		return false
	}
	return true
}

func (h *Handler) request(s model.TradingStrategy, w Window) engine.Request {
	capital := w.InitialCapital
	if !capital.IsPositive() {
		capital = h.svc.Capital
	}
	return engine.Request{
		Strategy:       s,
		Symbol:         model.NormalizeSymbol(w.Symbol),
		Timeframe:      w.Timeframe,
		From:           w.From,
		To:             w.To,
		InitialCapital: capital,
	}
}

// Backtests

func (h *Handler) RunBacktest(c *gin.Context) {
	var req BacktestRequest
	if !h.bind(c, &req) {
		return
	}
	s, err := req.build()
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.svc.Backtester.Run(c.Request.Context(), h.request(s, req.Window))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.svc.Publisher.Publish(infrastructure.Subject(infrastructure.SubjectBacktest, res.Symbol), res)
	c.JSON(http.StatusOK, res)
}

func (h *Handler) StartBacktest(c *gin.Context) {
	var req BacktestRequest
	if !h.bind(c, &req) {
		return
	}
	s, err := req.build()
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := s.Validate(); err != nil {
		h.fail(c, err)
		return
	}
	r := h.request(s, req.Window)
	task := h.svc.Backtester.Start(h.ctx, r, engine.WithProgress(func(p engine.Progress) {
		h.svc.Publisher.Publish(infrastructure.Subject(infrastructure.SubjectProgress, p.RunID), p)
		if p.Phase == engine.PhaseDone {
			h.logger.Debug("async backtest finished", zap.String("run", p.RunID))
		}
	}))
	h.svc.Tasks.Add(task)
	go func() {
		<-task.Done()
		if res, err := task.Result(); err == nil && res != nil {
			h.svc.Publisher.Publish(infrastructure.Subject(infrastructure.SubjectBacktest, res.Symbol), res)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"run_id": task.ID})
}

func (h *Handler) GetBacktest(c *gin.Context) {
	task, ok := h.svc.Tasks.Get(c.Param("id"))
	if !ok {
		h.fail(c, apperr.NotFound("backtest", c.Param("id")))
		return
	}
	view := TaskView{RunID: task.ID, Finished: task.Finished(), Progress: task.Progress()}
	if view.Finished {
		res, err := task.Result()
		view.Result = res
		if err != nil {
			view.Error = apperr.From(err)
		}
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) CancelBacktest(c *gin.Context) {
	task, ok := h.svc.Tasks.Get(c.Param("id"))
	if !ok {
		h.fail(c, apperr.NotFound("backtest", c.Param("id")))
		return
	}
	task.Cancel()
	c.JSON(http.StatusAccepted, gin.H{"run_id": task.ID, "cancelled": true})
}

// Optimizations

func (h *Handler) Optimize(c *gin.Context) {
	var req OptimizeRequest
	if !h.bind(c, &req) {
		return
	}
	s, err := req.build()
	if err != nil {
		h.fail(c, err)
		return
	}
	r := h.request(s, req.Window)
	res, err := h.svc.Optimizer.Optimize(c.Request.Context(), model.OptimizationRequest{
		BaseStrategy:   s,
		Goal:           req.Goal,
		Constraints:    req.Constraints,
		Symbol:         r.Symbol,
		Timeframe:      r.Timeframe,
		From:           r.From,
		To:             r.To,
		InitialCapital: r.InitialCapital,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.mu.Lock()
	h.optimizations[res.ID] = res
	h.mu.Unlock()
	h.svc.Publisher.Publish(infrastructure.Subject(infrastructure.SubjectOptimization, s.ID), res)
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GetOptimization(c *gin.Context) {
	h.mu.RLock()
	res, ok := h.optimizations[c.Param("id")]
	h.mu.RUnlock()
	if !ok {
		h.fail(c, apperr.NotFound("optimization", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, res)
}

// AcceptOptimization records the optimized strategy as a new version. Each
// result can be accepted once.
func (h *Handler) AcceptOptimization(c *gin.Context) {
	id := c.Param("id")
	h.mu.Lock()
	res, ok := h.optimizations[id]
	if ok && h.accepted[id] {
		h.mu.Unlock()
		h.fail(c, apperr.New(apperr.CodeConflict, fmt.Sprintf("optimization %q already accepted", id), nil))
		return
	}
	if ok {
		h.accepted[id] = true
	}
	h.mu.Unlock()
	if !ok {
		h.fail(c, apperr.NotFound("optimization", id))
		return
	}

	rec, err := h.svc.Evolution.RecordOptimization(res)
	if err != nil {
		h.fail(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusOK, gin.H{"recorded": false, "reason": res.Notes})
		return
	}
	h.svc.Publisher.Publish(infrastructure.Subject(infrastructure.SubjectEvolution, rec.StrategyID), rec)
	c.JSON(http.StatusCreated, gin.H{"recorded": true, "evolution": rec})
}

// A/B tests

// CreateABTest loads the window for every symbol and replays it through
// both arms in the background.
func (h *Handler) CreateABTest(c *gin.Context) {
	var req ABTestRequest
	if !h.bind(c, &req) {
		return
	}
	cfg, err := req.configuration()
	if err != nil {
		h.fail(c, err)
		return
	}
	tf := req.Timeframe
	if tf == "" {
		tf = cfg.StrategyA.Timeframe
	}
	bars := make(map[string][]model.Bar, len(req.Symbols))
	for _, raw := range req.Symbols {
		symbol := model.NormalizeSymbol(raw)
		series, err := h.svc.Source.LoadBars(c.Request.Context(), symbol, tf, req.From, req.To)
		if err != nil {
			h.fail(c, err)
			return
		}
		if len(series) == 0 {
			h.fail(c, fmt.Errorf("%w: %s", engine.ErrDataUnavailable, symbol))
			return
		}
		bars[symbol] = series
	}

	test, err := h.svc.ABTests.Create(cfg)
	if err != nil {
		h.fail(c, err)
		return
	}
	go func() {
		if _, err := h.svc.ABRunner.Run(h.ctx, test, bars); err != nil {
			h.logger.Error("a/b replay failed", zap.String("test", test.ID()), zap.Error(err))
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"id": test.ID()})
}

func (h *Handler) ListABTests(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.ABTests.List())
}

func (h *Handler) GetABTest(c *gin.Context) {
	test, ok := h.svc.ABTests.Get(c.Param("id"))
	if !ok {
		h.fail(c, apperr.NotFound("a/b test", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, test.Result())
}

// Predictions

// Predict fills a missing baseline by backtesting the window and missing
// features from the window's bars.
func (h *Handler) Predict(c *gin.Context) {
	var req PredictRequest
	if !h.bind(c, &req) {
		return
	}
	s, err := req.build()
	if err != nil {
		h.fail(c, err)
		return
	}
	if req.Features == nil && req.Symbol == "" {
		h.fail(c, fmt.Errorf("%w: features or symbol is required", engine.ErrInvalidRequest))
		return
	}
	r := h.request(s, req.Window)
	ctx := c.Request.Context()

	baseline := req.Baseline
	if baseline == nil && r.Symbol != "" {
		res, err := h.svc.Backtester.Run(ctx, r)
		if err != nil {
			h.fail(c, err)
			return
		}
		baseline = &res.Performance
	}
	features := req.Features
	if features == nil {
		tf := r.Timeframe
		if tf == "" {
			tf = s.Timeframe
		}
		bars, err := h.svc.Source.LoadBars(ctx, r.Symbol, tf, r.From, r.To)
		if err != nil {
			h.fail(c, err)
			return
		}
		f, err := predictor.FeaturesFromBars(bars)
		if err != nil {
			h.fail(c, err)
			return
		}
		features = &f
	}
	if s.Timeframe == "" {
		s.Timeframe = r.Timeframe
	}
	p, err := h.svc.Predictor.Predict(s, baseline, *features)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prediction": p, "features": features, "baseline": baseline})
}

// Evolution and data

func (h *Handler) GetEvolution(c *gin.Context) {
	history := h.svc.Evolution.History(c.Param("id"))
	if history == nil {
		history = []model.StrategyEvolution{}
	}
	c.JSON(http.StatusOK, history)
}

func (h *Handler) GetBars(c *gin.Context) {
	symbol := model.NormalizeSymbol(c.Param("symbol"))
	period := model.Timeframe(c.DefaultQuery("period", "1m"))
	if !period.Valid() {
		h.fail(c, fmt.Errorf("%w: period %q", engine.ErrInvalidRequest, period))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultBarLimit)))
	if err != nil || limit < 1 || limit > maxBarLimit {
		h.fail(c, fmt.Errorf("%w: limit must be in [1,%d]", engine.ErrInvalidRequest, maxBarLimit))
		return
	}

	bars, err := h.svc.Source.LoadBars(c.Request.Context(), symbol, period, time.Time{}, time.Time{})
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	if bars == nil {
		bars = []model.Bar{}
	}
	c.JSON(http.StatusOK, bars)
}
