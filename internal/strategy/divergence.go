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

// RSIDivergenceStrategy 检测价格与 RSI 在相邻极值处的背离。
type RSIDivergenceStrategy struct {
	*Base
	rsi        config.RSIParams
	divergence config.DivergenceParams
}

// NewRSIDivergence 创建 RSI 背离策略。
func NewRSIDivergence(cfg config.StrategyConfig, logger *zap.Logger) (*RSIDivergenceStrategy, error) {
	rsi, err := rsiParams(cfg.RSI)
	if err != nil {
		return nil, fmt.Errorf("strategy: %s 参数无效: %w", cfg.Name, err)
	}
	div, err := divergenceParams(cfg.Divergence)
	if err != nil {
		return nil, fmt.Errorf("strategy: %s 参数无效: %w", cfg.Name, err)
	}
	base, err := newBase(cfg, KindRSIDivergence, logger)
	if err != nil {
		return nil, err
	}
	base.cfg.RSI, base.cfg.Divergence = rsi, div
	return &RSIDivergenceStrategy{Base: base, rsi: rsi, divergence: div}, nil
}

func (s *RSIDivergenceStrategy) minBars() int {
	return s.rsi.Period + s.divergence.LookbackPeriod
}

// GenerateSignals 实现 Strategy。
func (s *RSIDivergenceStrategy) GenerateSignals(series indicator.Series, symbol string) []trade.Signal {
	if series.Len() < s.minBars() {
		return nil
	}
	if !s.CanTrade(symbol) {
		return nil
	}

	rsi := indicator.RSI(series.Close, s.rsi.Period)
	window := s.divergence.LookbackPeriod
	closes := indicator.SliceTail(series.Close, window)
	rsiWindow := indicator.SliceTail(rsi, window)

	return s.record(s.evaluate(symbol, series.LastClose(), closes, rsiWindow, s.evalTime(series)))
}

func (s *RSIDivergenceStrategy) evaluate(symbol string, price float64, closes, rsi []float64, at time.Time) []trade.Signal {
	if !(price > 0) {
		return nil
	}

	var out []trade.Signal
	order := s.divergence.ExtremaOrder

	if strength, ok := divergence(closes, rsi, order, false); ok && strength >= s.divergence.MinStrength {
		out = append(out, s.directional(symbol, trade.DirectionBuy, price, math.Min(1, 2*strength),
			fmt.Sprintf("Bullish RSI divergence: %.2f", strength), at))
	}
	if strength, ok := divergence(closes, rsi, order, true); ok && strength >= s.divergence.MinStrength {
		out = append(out, s.directional(symbol, trade.DirectionSell, price, math.Min(1, 2*strength),
			fmt.Sprintf("Bearish RSI divergence: %.2f", strength), at))
	}
	return out
}

// divergence 比较最近两个价格极值与最近两个 RSI 极值，返回归一化的 RSI 差值。
// bearish 为 true 时取波峰：价格走高而 RSI 走低；否则取波谷：价格走低而 RSI 走高。
func divergence(closes, rsi []float64, order int, bearish bool) (float64, bool) {
	find := indicator.FindTroughs
	if bearish {
		find = indicator.FindPeaks
	}

	pIdx := find(closes, order)
	rIdx := find(rsi, order)
	if len(pIdx) < 2 || len(rIdx) < 2 {
		return 0, false
	}

	p1, p2 := closes[pIdx[len(pIdx)-2]], closes[pIdx[len(pIdx)-1]]
	r1, r2 := rsi[rIdx[len(rIdx)-2]], rsi[rIdx[len(rIdx)-1]]

	if bearish {
		if !(p2 > p1 && r2 < r1) {
			return 0, false
		}
	} else if !(p2 < p1 && r2 > r1) {
		return 0, false
	}
	return math.Abs(r2-r1) / 100, true
}

// ShouldExitPosition 背离策略只依赖止损/止盈离场。
func (s *RSIDivergenceStrategy) ShouldExitPosition(trade.Position, indicator.Series) bool {
	return false
}
