package strategy

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"algo-engine/internal/config"
)

// New 按 cfg.Type 构造策略实例。
func New(cfg config.StrategyConfig, logger *zap.Logger) (Strategy, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(cfg.Type)))

	var (
		s   Strategy
		err error
	)
	// 逐个赋值，避免把 nil 指针包装成非 nil 接口
	switch kind {
	case KindRSI:
		var v *RSIStrategy
		if v, err = NewRSI(cfg, logger); err == nil {
			s = v
		}
	case KindRSIDivergence:
		var v *RSIDivergenceStrategy
		if v, err = NewRSIDivergence(cfg, logger); err == nil {
			s = v
		}
	case KindMACDCrossover:
		var v *MACDCrossoverStrategy
		if v, err = NewMACDCrossover(cfg, logger); err == nil {
			s = v
		}
	case KindMACDHistogram:
		var v *MACDHistogramStrategy
		if v, err = NewMACDHistogram(cfg, logger); err == nil {
			s = v
		}
	case KindMACDZeroLine:
		var v *MACDZeroLineStrategy
		if v, err = NewMACDZeroLine(cfg, logger); err == nil {
			s = v
		}
	case KindIronCondor, KindButterfly, KindStraddle, KindStrangle:
		var v *OptionsStrategy
		if v, err = NewRegistry(logger).Create(kind, cfg); err == nil {
			s = v
		}
	default:
		err = fmt.Errorf("%w: %q (strategy %s)", ErrUnknownStrategyType, cfg.Type, cfg.Name)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewAll 构造全部启用的策略，任一失败即返回错误。
func NewAll(cfgs []config.StrategyConfig, logger *zap.Logger) ([]Strategy, error) {
	out := make([]Strategy, 0, len(cfgs))
	for _, cfg := range cfgs {
		if !cfg.IsEnabled() {
			continue
		}
		s, err := New(cfg, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
