package strategy

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"algo-engine/internal/config"
	"algo-engine/internal/indicator"
	"algo-engine/internal/trade"
)

// macdCore 为三种 MACD 变体共享的参数与指标计算。
type macdCore struct {
	*Base
	params config.MACDParams
}

func newMACDCore(cfg config.StrategyConfig, kind Kind, logger *zap.Logger) (macdCore, error) {
	params, err := macdParams(cfg.MACD)
	if err != nil {
		return macdCore{}, fmt.Errorf("strategy: %s 参数无效: %w", cfg.Name, err)
	}
	base, err := newBase(cfg, kind, logger)
	if err != nil {
		return macdCore{}, err
	}
	base.cfg.MACD = params
	return macdCore{Base: base, params: params}, nil
}

func (m macdCore) minBars() int {
	return m.params.SlowPeriod + m.params.SignalPeriod
}

func (m macdCore) compute(series indicator.Series) indicator.MACDSeries {
	return indicator.MACD(series.Close, m.params.FastPeriod, m.params.SlowPeriod, m.params.SignalPeriod)
}

// MACDCrossoverStrategy 在 MACD 线穿越信号线时发出信号。
type MACDCrossoverStrategy struct {
	macdCore
}

// NewMACDCrossover 创建 MACD 交叉策略。
func NewMACDCrossover(cfg config.StrategyConfig, logger *zap.Logger) (*MACDCrossoverStrategy, error) {
	core, err := newMACDCore(cfg, KindMACDCrossover, logger)
	if err != nil {
		return nil, err
	}
	return &MACDCrossoverStrategy{macdCore: core}, nil
}

// GenerateSignals 实现 Strategy。
func (s *MACDCrossoverStrategy) GenerateSignals(series indicator.Series, symbol string) []trade.Signal {
	if series.Len() < s.minBars() || !s.CanTrade(symbol) {
		return nil
	}
	return s.record(s.evaluate(symbol, series.LastClose(), s.compute(series), s.evalTime(series)))
}

func (s *MACDCrossoverStrategy) evaluate(symbol string, price float64, m indicator.MACDSeries, at time.Time) []trade.Signal {
	if !(price > 0) {
		return nil
	}
	prevLine, line := indicator.Prev(m.Line), indicator.Last(m.Line)
	prevSig, sig := indicator.Prev(m.Signal), indicator.Last(m.Signal)
	confidence := math.Min(1, math.Abs(line-sig)/10)
	if hist := indicator.Last(m.Histogram); !math.IsNaN(hist) {
		confidence = math.Min(1, math.Abs(hist)/10)
	}

	switch {
	case indicator.CrossedAbove(prevLine, prevSig, line, sig):
		return []trade.Signal{s.directional(symbol, trade.DirectionBuy, price, confidence,
			fmt.Sprintf("MACD bullish crossover: MACD=%.4f, Signal=%.4f", line, sig), at)}
	case indicator.CrossedBelow(prevLine, prevSig, line, sig):
		return []trade.Signal{s.directional(symbol, trade.DirectionSell, price, confidence,
			fmt.Sprintf("MACD bearish crossover: MACD=%.4f, Signal=%.4f", line, sig), at)}
	}
	return nil
}

// ShouldExitPosition MACD 线回到信号线另一侧时平仓。
func (s *MACDCrossoverStrategy) ShouldExitPosition(pos trade.Position, series indicator.Series) bool {
	if series.Len() < s.minBars() {
		return false
	}
	m := s.compute(series)
	return crossoverExit(pos.Side, indicator.Last(m.Line), indicator.Last(m.Signal))
}

func crossoverExit(side trade.Side, line, sig float64) bool {
	if math.IsNaN(line) || math.IsNaN(sig) {
		return false
	}
	if side == trade.SideSell {
		return line > sig
	}
	return line < sig
}

// MACDHistogramStrategy 要求柱状图穿出阈值带且动量同向。
type MACDHistogramStrategy struct {
	macdCore
	histogram config.HistogramParams
}

// NewMACDHistogram 创建 MACD 柱状图动量策略。
func NewMACDHistogram(cfg config.StrategyConfig, logger *zap.Logger) (*MACDHistogramStrategy, error) {
	hist, err := histogramParams(cfg.Histogram)
	if err != nil {
		return nil, fmt.Errorf("strategy: %s 参数无效: %w", cfg.Name, err)
	}
	core, err := newMACDCore(cfg, KindMACDHistogram, logger)
	if err != nil {
		return nil, err
	}
	core.cfg.Histogram = hist
	return &MACDHistogramStrategy{macdCore: core, histogram: hist}, nil
}

// GenerateSignals 实现 Strategy。
func (s *MACDHistogramStrategy) GenerateSignals(series indicator.Series, symbol string) []trade.Signal {
	if series.Len() < s.minBars()+s.histogram.MomentumPeriods || !s.CanTrade(symbol) {
		return nil
	}
	return s.record(s.evaluate(symbol, series.LastClose(), s.compute(series).Histogram, s.evalTime(series)))
}

// momentum 返回柱状图在 periods 根K线内的平均变化率。
func momentum(hist []float64, periods int) float64 {
	if periods < 1 {
		return 0
	}
	cur, past := indicator.Last(hist), indicator.Back(hist, periods)
	if math.IsNaN(cur) || math.IsNaN(past) {
		return 0
	}
	return (cur - past) / float64(periods)
}

func (s *MACDHistogramStrategy) evaluate(symbol string, price float64, hist []float64, at time.Time) []trade.Signal {
	prev, cur := indicator.Prev(hist), indicator.Last(hist)
	if math.IsNaN(prev) || math.IsNaN(cur) || !(price > 0) {
		return nil
	}

	th := s.histogram.Threshold
	mom := momentum(hist, s.histogram.MomentumPeriods)
	confidence := math.Min(1, math.Abs(mom)*10)

	switch {
	case cur > th && prev <= th && mom > 0:
		return []trade.Signal{s.directional(symbol, trade.DirectionBuy, price, confidence,
			fmt.Sprintf("MACD histogram bullish momentum: %.4f, momentum: %.4f", cur, mom), at)}
	case cur < -th && prev >= -th && mom < 0:
		return []trade.Signal{s.directional(symbol, trade.DirectionSell, price, confidence,
			fmt.Sprintf("MACD histogram bearish momentum: %.4f, momentum: %.4f", cur, mom), at)}
	}
	return nil
}

// ShouldExitPosition 柱状图穿越反向阈值时平仓。
func (s *MACDHistogramStrategy) ShouldExitPosition(pos trade.Position, series indicator.Series) bool {
	if series.Len() < s.minBars() {
		return false
	}
	return s.exitOn(pos.Side, indicator.Last(s.compute(series).Histogram))
}

func (s *MACDHistogramStrategy) exitOn(side trade.Side, hist float64) bool {
	if math.IsNaN(hist) {
		return false
	}
	if side == trade.SideSell {
		return hist > s.histogram.Threshold
	}
	return hist < -s.histogram.Threshold
}

// MACDZeroLineStrategy 在 MACD 线穿越零轴时发出信号。
type MACDZeroLineStrategy struct {
	macdCore
}

// NewMACDZeroLine 创建 MACD 零轴策略。
func NewMACDZeroLine(cfg config.StrategyConfig, logger *zap.Logger) (*MACDZeroLineStrategy, error) {
	core, err := newMACDCore(cfg, KindMACDZeroLine, logger)
	if err != nil {
		return nil, err
	}
	return &MACDZeroLineStrategy{macdCore: core}, nil
}

// GenerateSignals 实现 Strategy。
func (s *MACDZeroLineStrategy) GenerateSignals(series indicator.Series, symbol string) []trade.Signal {
	if series.Len() < s.minBars() || !s.CanTrade(symbol) {
		return nil
	}
	return s.record(s.evaluate(symbol, series.LastClose(), s.compute(series).Line, s.evalTime(series)))
}

func (s *MACDZeroLineStrategy) evaluate(symbol string, price float64, line []float64, at time.Time) []trade.Signal {
	prev, cur := indicator.Prev(line), indicator.Last(line)
	if !(price > 0) {
		return nil
	}
	confidence := math.Min(1, math.Abs(cur)*100)

	switch {
	case indicator.CrossedAbove(prev, 0, cur, 0):
		return []trade.Signal{s.directional(symbol, trade.DirectionBuy, price, confidence,
			fmt.Sprintf("MACD zero line bullish crossover: %.4f", cur), at)}
	case indicator.CrossedBelow(prev, 0, cur, 0):
		return []trade.Signal{s.directional(symbol, trade.DirectionSell, price, confidence,
			fmt.Sprintf("MACD zero line bearish crossover: %.4f", cur), at)}
	}
	return nil
}

// ShouldExitPosition MACD 线回到零轴另一侧时平仓。
func (s *MACDZeroLineStrategy) ShouldExitPosition(pos trade.Position, series indicator.Series) bool {
	if series.Len() < s.minBars() {
		return false
	}
	return zeroLineExit(pos.Side, indicator.Last(s.compute(series).Line))
}

func zeroLineExit(side trade.Side, line float64) bool {
	if math.IsNaN(line) {
		return false
	}
	if side == trade.SideSell {
		return line > 0
	}
	return line < 0
}
