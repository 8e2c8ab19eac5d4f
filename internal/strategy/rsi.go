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

// RSIStrategy 在 RSI 穿越超买/超卖阈值时发出信号。
type RSIStrategy struct {
	*Base
	params config.RSIParams
}

// NewRSI 创建 RSI 阈值策略。
func NewRSI(cfg config.StrategyConfig, logger *zap.Logger) (*RSIStrategy, error) {
	params, err := rsiParams(cfg.RSI)
	if err != nil {
		return nil, fmt.Errorf("strategy: %s 参数无效: %w", cfg.Name, err)
	}
	base, err := newBase(cfg, KindRSI, logger)
	if err != nil {
		return nil, err
	}
	base.cfg.RSI = params
	return &RSIStrategy{Base: base, params: params}, nil
}

// GenerateSignals 实现 Strategy。
func (s *RSIStrategy) GenerateSignals(series indicator.Series, symbol string) []trade.Signal {
	if series.Len() < indicator.RSILookback(s.params.Period) {
		return nil
	}
	if !s.CanTrade(symbol) {
		return nil
	}
	rsi := indicator.RSI(series.Close, s.params.Period)
	return s.record(s.evaluate(symbol, series.LastClose(), indicator.Prev(rsi), indicator.Last(rsi), s.evalTime(series)))
}

func (s *RSIStrategy) evaluate(symbol string, price, prev, cur float64, at time.Time) []trade.Signal {
	if math.IsNaN(prev) || math.IsNaN(cur) || !(price > 0) {
		return nil
	}

	p := s.params
	switch {
	case cur < p.Oversold && prev >= p.Oversold:
		confidence := math.Min(1, (p.Oversold-cur)/p.Oversold)
		return []trade.Signal{s.directional(symbol, trade.DirectionBuy, price, confidence,
			fmt.Sprintf("RSI oversold: %.2f", cur), at)}
	case cur > p.Overbought && prev <= p.Overbought:
		confidence := math.Min(1, (cur-p.Overbought)/(100-p.Overbought))
		return []trade.Signal{s.directional(symbol, trade.DirectionSell, price, confidence,
			fmt.Sprintf("RSI overbought: %.2f", cur), at)}
	}
	return nil
}

// ShouldExitPosition RSI 回到中线另一侧时平仓。
func (s *RSIStrategy) ShouldExitPosition(pos trade.Position, series indicator.Series) bool {
	if series.Len() < indicator.RSILookback(s.params.Period) {
		return false
	}
	cur := indicator.Last(indicator.RSI(series.Close, s.params.Period))
	return s.exitOn(pos.Side, cur)
}

func (s *RSIStrategy) exitOn(side trade.Side, rsi float64) bool {
	if math.IsNaN(rsi) {
		return false
	}
	if side == trade.SideSell {
		return rsi < s.params.ExitLevel
	}
	return rsi > s.params.ExitLevel
}
