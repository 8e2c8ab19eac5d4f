package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"algo-engine/internal/ai"
	"algo-engine/internal/config"
	"algo-engine/internal/exchange"
	"algo-engine/internal/execution"
	"algo-engine/internal/log"
	"algo-engine/internal/metrics"
	"algo-engine/internal/monitor"
	"algo-engine/internal/position"
	"algo-engine/internal/risk"
	"algo-engine/internal/store"
	"algo-engine/internal/strategy"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// components 为一次运行装配出的全部组件。
type components struct {
	engine   *Engine
	risk     *risk.Manager
	events   *monitor.Service
	registry *strategy.Registry
	narrator *ai.Client
	metrics  *metrics.Recorder
}

func (a *App) build(ctx context.Context) (*components, error) {
	cfg := a.cfg

	client, err := exchange.NewClient(cfg.Exchange, log.Component(a.logger, "exchange"))
	if err != nil {
		return nil, err
	}
	market := exchange.NewMarketDataService(client, log.Component(a.logger, "market"))

	strategies, err := strategy.NewAll(cfg.Strategies, log.Component(a.logger, "strategy"))
	if err != nil {
		return nil, fmt.Errorf("app: 初始化策略失败: %w", err)
	}
	if len(strategies) == 0 {
		return nil, errors.New("app: 没有启用的策略")
	}

	riskLogger := log.Component(a.logger, "risk")
	manager, err := risk.NewManager(cfg.Risk, riskLogger)
	if err != nil {
		return nil, err
	}

	events, err := monitor.NewService(ctx, a.store, log.Component(a.logger, "monitor"))
	if err != nil {
		return nil, err
	}

	deps := EngineDeps{
		Strategies: strategies,
		Risk:       manager,
		Market:     market,
		Events:     events,
		Metrics:    metrics.New(),
	}

	if cfg.Risk.EnableJournal {
		journal, err := risk.NewJournal(ctx, a.store, riskLogger)
		if err != nil {
			return nil, err
		}
		deps.Journal = journal
	}

	execLogger := log.Component(a.logger, "execution")
	opts := execution.Options{
		Slippage:    cfg.Execution.Slippage,
		TimeInForce: cfg.Execution.TimeInForce,
		MaxRetry:    cfg.Execution.MaxRetry,
	}
	switch strings.ToLower(cfg.Execution.Mode) {
	case "live":
		deps.Trader = execution.NewExecutor(client.Raw(), opts, execLogger)
	default:
		deps.Trader = execution.NewSimulatedExecutor(opts, execLogger)
	}

	if cfg.Risk.SyncAccountEquity {
		deps.Account = position.NewAccount(client.Raw(), cfg.Exchange.Symbols, log.Component(a.logger, "account"))
	}

	engine, err := NewEngine(deps, EngineOptions{
		Symbols:   cfg.Exchange.Symbols,
		Timeframe: cfg.Exchange.Timeframe,
		BarLimit:  cfg.Exchange.BarLimit,
		Timeout:   cfg.Scheduler.EvaluateTimeout,
	}, log.Component(a.logger, "engine"))
	if err != nil {
		return nil, err
	}

	c := &components{
		engine:   engine,
		risk:     manager,
		events:   events,
		registry: strategy.NewRegistry(log.Component(a.logger, "options")),
		metrics:  deps.Metrics,
	}

	if cfg.OpenAI.Enabled {
		narrator, err := ai.NewClient(cfg.OpenAI, log.Component(a.logger, "ai"))
		if err != nil {
			return nil, err
		}
		c.narrator = narrator
	}
	return c, nil
}

// Run 装配组件后按调度间隔驱动 Tick，直到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.Strings("symbols", a.cfg.Exchange.Symbols),
		zap.String("mode", a.cfg.Execution.Mode),
	)

	c, err := a.build(ctx)
	if err != nil {
		return err
	}

	if a.cfg.Monitor.Enabled {
		deps := serverDeps{
			Events:   c.events,
			Risk:     c.risk,
			Engine:   c.engine,
			Registry: c.registry,
			Metrics:  c.metrics,
		}
		if c.narrator != nil {
			deps.Narrator = c.narrator
		}
		if err = startMonitorServer(ctx, deps, a.cfg.Monitor.Port, log.Component(a.logger, "http")); err != nil {
			return err
		}
	}

	loopInterval := a.cfg.Scheduler.LoopInterval
	if loopInterval <= 0 {
		loopInterval = time.Minute
	}

	if err = c.engine.Tick(ctx); err != nil {
		a.logger.Error("首次执行失败", zap.Error(err))
	}

	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			if err = c.engine.Tick(ctx); err != nil {
				a.logger.Error("执行调度失败", zap.Error(err))
			}
		}
	}
}

// Scan 执行一次 Tick 并返回引擎与风控报告，用于命令行巡检。
func (a *App) Scan(ctx context.Context) (*Engine, risk.Report, error) {
	c, err := a.build(ctx)
	if err != nil {
		return nil, risk.Report{}, err
	}
	tickErr := c.engine.Tick(ctx)
	return c.engine, c.risk.RiskReport(), tickErr
}
