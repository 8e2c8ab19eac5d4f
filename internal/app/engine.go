package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"algo-engine/internal/exchange"
	"algo-engine/internal/execution"
	"algo-engine/internal/indicator"
	"algo-engine/internal/metrics"
	"algo-engine/internal/position"
	"algo-engine/internal/risk"
	"algo-engine/internal/strategy"
	"algo-engine/internal/trade"
)

const maxConcurrentEval = 4

// 平仓原因。
const (
	exitProtective = "protective"
	exitStrategy   = "strategy"
)

type marketSource interface {
	FetchAll(ctx context.Context, req exchange.SeriesRequest) (map[string][]exchange.Candle, error)
}

type accountSource interface {
	FetchBalance(ctx context.Context) (position.AccountBalance, error)
}

// eventSink 为监控事件的写入端，monitor.Service 实现了它。
type eventSink interface {
	RecordSignal(ctx context.Context, sig trade.Signal, dropped bool)
	RecordValidation(ctx context.Context, sig trade.Signal, result risk.PositionRisk)
	RecordExecution(ctx context.Context, sig trade.Signal, fill trade.Fill)
	RecordExit(ctx context.Context, strategy, reason string, fill trade.Fill, pnl float64)
	RecordRiskLimits(ctx context.Context, violations []string, metrics risk.Metrics)
	RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{})
}

type reportJournal interface {
	Record(ctx context.Context, report risk.Report) error
}

// EngineDeps 汇总引擎依赖，Account 与 Journal 可为空。
type EngineDeps struct {
	Strategies []strategy.Strategy
	Risk       *risk.Manager
	Trader     execution.Trader
	Market     marketSource
	Account    accountSource
	Events     eventSink
	Journal    reportJournal
	Metrics    *metrics.Recorder
}

// EngineOptions 控制行情采集与单次 Tick 时限。
type EngineOptions struct {
	Symbols   []string
	Timeframe string
	BarLimit  int
	Timeout   time.Duration
}

// Engine 驱动 行情 → 平仓检查 → 信号 → 风控 → 执行 的流水线。
type Engine struct {
	deps   EngineDeps
	opts   EngineOptions
	logger *zap.Logger

	// gate 串行化 校验→下单→登记，保证当日计数与持仓上限不被并发穿透
	gate   sync.Mutex
	tickMu sync.Mutex
}

// NewEngine 创建引擎。
func NewEngine(deps EngineDeps, opts EngineOptions, logger *zap.Logger) (*Engine, error) {
	if deps.Risk == nil {
		return nil, errors.New("app: 风险管理器不能为空")
	}
	if deps.Trader == nil {
		return nil, errors.New("app: 执行器不能为空")
	}
	if deps.Market == nil {
		return nil, errors.New("app: 行情源不能为空")
	}
	if deps.Events == nil {
		deps.Events = nopSink{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{deps: deps, opts: opts, logger: logger}, nil
}

// Strategies 返回引擎持有的策略。
func (e *Engine) Strategies() []strategy.Strategy {
	return e.deps.Strategies
}

// Performance 返回全部策略的绩效快照，按策略名排序。
func (e *Engine) Performance() []strategy.Performance {
	out := make([]strategy.Performance, 0, len(e.deps.Strategies))
	for _, s := range e.deps.Strategies {
		out = append(out, s.State().PerformanceSummary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tick 执行一轮完整评估。单个标的失败不会中断其他标的。
func (e *Engine) Tick(ctx context.Context) (err error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	start := time.Now()
	defer func() {
		e.deps.Metrics.ObserveTick(time.Since(start).Seconds(), err != nil)
	}()

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	e.syncEquity(ctx)

	candles, fetchErr := e.deps.Market.FetchAll(ctx, exchange.SeriesRequest{
		Symbols:   e.opts.Symbols,
		Timeframe: e.opts.Timeframe,
		Limit:     e.opts.BarLimit,
	})
	if fetchErr != nil {
		e.logger.Warn("部分标的行情拉取失败", zap.Error(fetchErr))
		e.deps.Events.RecordError(ctx, "拉取行情失败", fetchErr, nil)
		if len(candles) == 0 {
			return fmt.Errorf("app: 无可用行情: %w", fetchErr)
		}
	}

	symbols := make([]string, 0, len(candles))
	for symbol := range candles {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var (
		errMu   sync.Mutex
		evalErr error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentEval)
	for _, symbol := range symbols {
		series := indicator.NewSeries(candles[symbol])
		group.Go(func() error {
			if err := e.evaluateSymbol(groupCtx, symbol, series); err != nil {
				errMu.Lock()
				evalErr = multierr.Append(evalErr, fmt.Errorf("%s: %w", symbol, err))
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()

	e.publishRisk(ctx)

	if evalErr != nil {
		return fmt.Errorf("app: 评估失败: %w", evalErr)
	}
	return nil
}

// syncEquity 用账户净值刷新风控资金基数，失败时沿用原值。
func (e *Engine) syncEquity(ctx context.Context) {
	if e.deps.Account == nil {
		return
	}
	bal, err := e.deps.Account.FetchBalance(ctx)
	if err != nil {
		e.logger.Warn("同步账户净值失败", zap.Error(err))
		e.deps.Events.RecordError(ctx, "同步账户净值失败", err, nil)
		return
	}
	if bal.Equity > 0 {
		e.deps.Risk.SetPortfolioValue(bal.Equity)
	}
}

func (e *Engine) evaluateSymbol(ctx context.Context, symbol string, series indicator.Series) error {
	if series.Len() == 0 {
		return nil
	}
	var errs error
	for _, s := range e.deps.Strategies {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		errs = multierr.Append(errs, e.manageExit(ctx, s, symbol, series))
		for _, sig := range s.GenerateSignals(series, symbol) {
			errs = multierr.Append(errs, e.handleSignal(ctx, s, sig))
		}
	}
	return errs
}

// manageExit 先按止损/止盈检查，再交给策略自身的离场规则。
func (e *Engine) manageExit(ctx context.Context, s strategy.Strategy, symbol string, series indicator.Series) error {
	base := s.State()
	price := series.LastClose()
	pos, ok := base.MarkPosition(symbol, price)
	if !ok {
		return nil
	}

	reason := ""
	switch {
	case base.ProtectiveExit(pos, price):
		reason = exitProtective
	case s.ShouldExitPosition(pos, series):
		reason = exitStrategy
	}

	e.gate.Lock()
	defer e.gate.Unlock()

	if reason == "" {
		e.deps.Risk.UpdatePosition(pos)
		return nil
	}

	fill, err := e.deps.Trader.Execute(ctx, execution.CloseOrder(pos, price))
	if err != nil {
		e.deps.Metrics.Execution(string(pos.Side.Opposite()), "failed")
		e.deps.Events.RecordError(ctx, "平仓下单失败", err, map[string]interface{}{"symbol": symbol, "strategy": s.Name()})
		return fmt.Errorf("平仓失败: %w", err)
	}

	result, closed := base.ClosePosition(symbol, fill.Price, fill.Timestamp)
	if !closed {
		return nil
	}
	e.deps.Risk.UpdateDailyPnL(result.PnL)
	e.deps.Risk.RemovePosition(symbol)

	e.deps.Metrics.Execution(string(fill.Side), "filled")
	e.deps.Metrics.Exit(s.Name(), reason)
	e.deps.Events.RecordExit(ctx, s.Name(), reason, fill, result.PnL)
	e.logger.Info("策略平仓",
		zap.String("strategy", s.Name()),
		zap.String("symbol", symbol),
		zap.String("reason", reason),
		zap.Float64("pnl", result.PnL),
	)
	return nil
}

func (e *Engine) handleSignal(ctx context.Context, s strategy.Strategy, sig trade.Signal) error {
	direction := string(sig.Direction)
	if sig.Confidence < s.State().MinConfidence() {
		e.deps.Metrics.Signal(s.Name(), direction, "dropped")
		e.deps.Events.RecordSignal(ctx, sig, true)
		return nil
	}
	e.deps.Events.RecordSignal(ctx, sig, false)

	side, ok := sig.Direction.Side()
	if !ok {
		return nil
	}

	e.gate.Lock()
	defer e.gate.Unlock()

	// 同一标的只允许一笔持仓，风控镜像按标的索引
	if _, held := e.deps.Risk.Position(sig.Symbol); held || !s.CanTrade(sig.Symbol) {
		e.deps.Metrics.Signal(s.Name(), direction, "rejected")
		return nil
	}

	res := e.deps.Risk.ValidateTrade(sig.Symbol, sig.Quantity, sig.Price, side, sig.StopLoss)
	e.deps.Metrics.Validation(string(res.Level), res.Valid)
	e.deps.Events.RecordValidation(ctx, sig, res)
	if !res.Valid || res.Quantity <= 0 {
		e.deps.Metrics.Signal(s.Name(), direction, "rejected")
		e.logger.Info("信号未通过风控",
			zap.String("strategy", s.Name()),
			zap.String("symbol", sig.Symbol),
			zap.String("level", string(res.Level)),
			zap.Strings("warnings", res.Warnings),
		)
		return nil
	}

	target := res.Target
	if sig.Target != nil && *sig.Target > 0 {
		target = *sig.Target
	}

	fill, err := e.deps.Trader.Execute(ctx, execution.OrderFromSignal(sig, side, res.Quantity, res.StopLoss, target))
	if err != nil {
		e.deps.Metrics.Execution(string(side), "failed")
		e.deps.Events.RecordError(ctx, "开仓下单失败", err, map[string]interface{}{"symbol": sig.Symbol, "signal_id": sig.ID})
		return fmt.Errorf("开仓失败: %w", err)
	}

	pos := s.State().OpenPosition(fill, res.StopLoss, target)
	e.deps.Risk.UpdatePosition(pos)
	e.deps.Risk.IncrementDailyTrades()

	e.deps.Metrics.Execution(string(side), "filled")
	e.deps.Metrics.Signal(s.Name(), direction, "accepted")
	e.deps.Events.RecordExecution(ctx, sig, fill)
	return nil
}

func (e *Engine) publishRisk(ctx context.Context) {
	report := e.deps.Risk.RiskReport()
	e.deps.Metrics.SetRisk(metrics.RiskSnapshot{
		PortfolioValue: report.Portfolio.PortfolioValue,
		RiskPercent:    report.Portfolio.RiskPercent,
		DailyPnL:       report.Daily.PnL,
		DailyTrades:    report.Daily.Trades,
		OpenPositions:  report.Positions,
	})
	if len(report.Violations) > 0 {
		e.deps.Events.RecordRiskLimits(ctx, report.Violations, report.Portfolio)
	}
	if e.deps.Journal != nil {
		if err := e.deps.Journal.Record(ctx, report); err != nil {
			e.logger.Warn("写入风控日志失败", zap.Error(err))
		}
	}
}

type nopSink struct{}

func (nopSink) RecordSignal(context.Context, trade.Signal, bool) {}
func (nopSink) RecordValidation(context.Context, trade.Signal, risk.PositionRisk) {}
func (nopSink) RecordExecution(context.Context, trade.Signal, trade.Fill) {}
func (nopSink) RecordExit(context.Context, string, string, trade.Fill, float64) {}
func (nopSink) RecordRiskLimits(context.Context, []string, risk.Metrics) {}
func (nopSink) RecordError(context.Context, string, error, map[string]interface{}) {}
