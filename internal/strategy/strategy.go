package strategy

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"algo-engine/internal/config"
	"algo-engine/internal/indicator"
	"algo-engine/internal/trade"
)

// Kind 标识策略变体。
type Kind string

const (
	KindRSI           Kind = "rsi"
	KindRSIDivergence Kind = "rsi_divergence"
	KindMACDCrossover Kind = "macd_crossover"
	KindMACDHistogram Kind = "macd_histogram"
	KindMACDZeroLine  Kind = "macd_zero_line"
	KindIronCondor    Kind = "iron_condor"
	KindButterfly     Kind = "butterfly"
	KindStraddle      Kind = "straddle"
	KindStrangle      Kind = "strangle"
	KindCallSpread    Kind = "call_spread"
	KindPutSpread     Kind = "put_spread"
	KindCoveredCall   Kind = "covered_call"
	KindProtectivePut Kind = "protective_put"
)

// ErrUnknownStrategyType 表示配置了不存在的策略类型。
var ErrUnknownStrategyType = errors.New("strategy: unknown strategy type")

// Strategy 为全部策略变体的统一契约。
type Strategy interface {
	Name() string
	Kind() Kind
	// GenerateSignals K线不足时返回空结果而不是错误。
	GenerateSignals(series indicator.Series, symbol string) []trade.Signal
	ShouldExitPosition(pos trade.Position, series indicator.Series) bool
	CanTrade(symbol string) bool
	// State 暴露持仓、成交记录与绩效等共享状态。
	State() *Base
}

// TradeResult 记录一笔已平仓交易。
type TradeResult struct {
	Symbol     string     `json:"symbol"`
	Side       trade.Side `json:"side"`
	Quantity   int        `json:"quantity"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   time.Time  `json:"exit_time"`
	PnL        float64    `json:"pnl"`
}

// Base 承载所有策略共享的配置、持仓与绩效状态。
type Base struct {
	cfg    config.StrategyConfig
	kind   Kind
	logger *zap.Logger
	now    func() time.Time

	mu          sync.RWMutex
	positions   map[string]trade.Position
	tradeDate   string
	tradesToday int
	history     []TradeResult
	signals     int
	perf        performance
}

func newBase(cfg config.StrategyConfig, kind Kind, logger *zap.Logger) (*Base, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("strategy: %s 配置无效: %w", cfg.Name, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Base{
		cfg:       withBaseDefaults(cfg),
		kind:      kind,
		logger:    logger.With(zap.String("strategy", cfg.Name), zap.String("kind", string(kind))),
		now:       time.Now,
		positions: make(map[string]trade.Position),
	}, nil
}

// State 返回自身，供嵌入的具体策略满足接口。
func (b *Base) State() *Base {
	return b
}

// Name 返回策略名。
func (b *Base) Name() string {
	return b.cfg.Name
}

// Kind 返回策略类型。
func (b *Base) Kind() Kind {
	return b.kind
}

// Config 返回补齐默认值后的配置。
func (b *Base) Config() config.StrategyConfig {
	return b.cfg
}

// MinConfidence 返回信号最低置信度，由引擎在风控前过滤。
func (b *Base) MinConfidence() float64 {
	return b.cfg.MinConfidence
}

// CanTrade 判断当前是否允许在该标的上开新仓。
func (b *Base) CanTrade(symbol string) bool {
	if !b.cfg.IsEnabled() {
		return false
	}
	if len(b.cfg.Symbols) > 0 && !slices.Contains(b.cfg.Symbols, symbol) {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.positions) >= b.cfg.MaxPositions {
		return false
	}
	if _, held := b.positions[symbol]; held {
		return false
	}
	b.reconcileDayLocked()
	return b.tradesToday < b.cfg.MaxTradesPerDay
}

// PositionSize 按单位风险计算数量，受最大持仓市值约束。
func (b *Base) PositionSize(price, riskAmount float64) int {
	stop := b.StopLoss(price, trade.SideBuy)
	return trade.SizeByRisk(price, stop, riskAmount, b.cfg.MaxPositionValue)
}

// RiskBudget 返回单笔风险金额。
func (b *Base) RiskBudget() float64 {
	return b.cfg.MaxPositionValue * b.cfg.RiskPerTrade
}

// StopLoss 返回配置止损百分比下的止损价。
func (b *Base) StopLoss(entry float64, side trade.Side) float64 {
	return trade.StopLossPrice(entry, side, b.cfg.StopLossPercent)
}

// Target 返回配置止盈百分比下的目标价。
func (b *Base) Target(entry float64, side trade.Side) float64 {
	return trade.TargetPrice(entry, side, b.cfg.TargetPercent)
}

// TrailingStop 返回追踪止损价。
func (b *Base) TrailingStop(entry, current float64, side trade.Side) float64 {
	return trade.TrailingStopPrice(entry, current, side, b.cfg.TrailingStopPercent, b.cfg.StopLossPercent)
}

// ProtectiveExit 判断价格是否触及持仓的止损或止盈。
func (b *Base) ProtectiveExit(pos trade.Position, price float64) bool {
	if price <= 0 {
		return false
	}
	if pos.Side == trade.SideSell {
		return (pos.StopLoss > 0 && price >= pos.StopLoss) || (pos.Target > 0 && price <= pos.Target)
	}
	return (pos.StopLoss > 0 && price <= pos.StopLoss) || (pos.Target > 0 && price >= pos.Target)
}

// directional 生成带仓位与止损止盈的方向性信号。
func (b *Base) directional(symbol string, dir trade.Direction, price, confidence float64, rationale string, at time.Time) trade.Signal {
	side, _ := dir.Side()
	qty := b.PositionSize(price, b.RiskBudget())
	return trade.NewSignal(b.cfg.Name, symbol, dir, price, qty, confidence, rationale, at).
		WithProtection(b.StopLoss(price, side), b.Target(price, side)).
		WithTrailingStop(b.TrailingStop(price, price, side))
}

// record 统计产生的信号数量并回传。
func (b *Base) record(signals []trade.Signal) []trade.Signal {
	if len(signals) == 0 {
		return nil
	}
	b.mu.Lock()
	b.signals += len(signals)
	b.mu.Unlock()

	for _, s := range signals {
		b.logger.Debug("生成交易信号",
			zap.String("symbol", s.Symbol),
			zap.String("direction", string(s.Direction)),
			zap.Float64("price", s.Price),
			zap.Int("quantity", s.Quantity),
			zap.Float64("confidence", s.Confidence),
			zap.String("rationale", s.Rationale),
		)
	}
	return signals
}

// OpenPosition 依据成交登记持仓并计入当日交易次数。
func (b *Base) OpenPosition(fill trade.Fill, stop, target float64) trade.Position {
	if stop <= 0 {
		stop = b.StopLoss(fill.Price, fill.Side)
	}
	if target <= 0 {
		target = b.Target(fill.Price, fill.Side)
	}
	pos := trade.NewPosition(b.cfg.Name, fill, stop, target)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.reconcileDayLocked()
	b.positions[fill.Symbol] = pos
	b.tradesToday++

	b.logger.Info("登记新持仓",
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Int("quantity", pos.Quantity),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Float64("stop_loss", pos.StopLoss),
	)
	return pos
}

// MarkPosition 更新持仓最新价并按追踪止损收紧止损价，返回更新后的持仓。
func (b *Base) MarkPosition(symbol string, price float64) (trade.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[symbol]
	if !ok {
		return trade.Position{}, false
	}
	pos = pos.Mark(price)
	trail := b.TrailingStop(pos.EntryPrice, pos.CurrentPrice, pos.Side)
	if pos.Side == trade.SideSell {
		if pos.StopLoss <= 0 || trail < pos.StopLoss {
			pos.StopLoss = trail
		}
	} else if trail > pos.StopLoss {
		pos.StopLoss = trail
	}
	b.positions[symbol] = pos
	return pos, true
}

// ClosePosition 按给定价格平仓并更新绩效。
func (b *Base) ClosePosition(symbol string, price float64, at time.Time) (TradeResult, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[symbol]
	if !ok {
		return TradeResult{}, false
	}
	delete(b.positions, symbol)

	result := TradeResult{
		Symbol:     symbol,
		Side:       pos.Side,
		Quantity:   pos.Quantity,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		EntryTime:  pos.EntryTime,
		ExitTime:   at.UTC(),
		PnL:        pos.PnLAt(price),
	}
	b.history = append(b.history, result)
	b.perf.add(result.PnL)

	b.logger.Info("持仓已平仓",
		zap.String("symbol", symbol),
		zap.Float64("exit_price", price),
		zap.Float64("pnl", result.PnL),
	)
	return result, true
}

// Position 返回指定标的的持仓。
func (b *Base) Position(symbol string) (trade.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pos, ok := b.positions[symbol]
	return pos, ok
}

// Positions 返回全部持仓的快照。
func (b *Base) Positions() []trade.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]trade.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, c trade.Position) int {
		switch {
		case a.Symbol < c.Symbol:
			return -1
		case a.Symbol > c.Symbol:
			return 1
		default:
			return 0
		}
	})
	return out
}

// History 返回已平仓交易记录的拷贝。
func (b *Base) History() []TradeResult {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.history)
}

// TradesToday 返回当日开仓次数。
func (b *Base) TradesToday() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reconcileDayLocked()
	return b.tradesToday
}

// Reset 清空持仓、信号与绩效。
func (b *Base) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = make(map[string]trade.Position)
	b.history = nil
	b.signals = 0
	b.tradesToday = 0
	b.tradeDate = ""
	b.perf = performance{}
}

func (b *Base) reconcileDayLocked() {
	today := b.now().UTC().Format(time.DateOnly)
	if b.tradeDate != today {
		b.tradeDate = today
		b.tradesToday = 0
	}
}

// evalTime 优先使用最新K线时间，保证离线评估可复现。
func (b *Base) evalTime(series indicator.Series) time.Time {
	if ts := series.LastTime(); !ts.IsZero() {
		return ts
	}
	return b.now().UTC()
}
