package strategy

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"algo-engine/internal/config"
)

// 公共字段默认值。
const (
	DefaultMaxPositionValue    = 100000.0
	DefaultStopLossPercent     = 5.0
	DefaultTargetPercent       = 10.0
	DefaultTrailingStopPercent = 1.0
	DefaultRiskPerTrade        = 0.02
	DefaultMaxPositions        = 10
	DefaultMaxTradesPerDay     = 10
	DefaultMinConfidence       = 0.6
	DefaultTimeframe           = "1h"
)

// RSI 族默认值。
const (
	DefaultRSIPeriod     = 14
	DefaultRSIOversold   = 30.0
	DefaultRSIOverbought = 70.0
	DefaultRSIExitLevel  = 50.0

	DefaultDivergenceLookback    = 20
	DefaultDivergenceMinStrength = 0.1
	DefaultExtremaOrder          = 3
)

// MACD 族默认值。
const (
	DefaultMACDFast           = 12
	DefaultMACDSlow           = 26
	DefaultMACDSignal         = 9
	DefaultMomentumPeriods    = 3
	DefaultHistogramThreshold = 0.0
)

// 期权组合默认值。
const (
	DefaultOptionsQuantity       = 1
	DefaultOptionsExpirationDays = 30
	// ExpirationExitWindowDays 距到期不足该天数时平仓。
	ExpirationExitWindowDays = 5
	// MinOptionsBars 估算波动率所需的最少K线数。
	MinOptionsBars = 20
)

func withBaseDefaults(cfg config.StrategyConfig) config.StrategyConfig {
	if cfg.MaxPositionValue == 0 {
		cfg.MaxPositionValue = DefaultMaxPositionValue
	}
	if cfg.StopLossPercent == 0 {
		cfg.StopLossPercent = DefaultStopLossPercent
	}
	if cfg.TargetPercent == 0 {
		cfg.TargetPercent = DefaultTargetPercent
	}
	if cfg.TrailingStopPercent == 0 {
		cfg.TrailingStopPercent = DefaultTrailingStopPercent
	}
	if cfg.RiskPerTrade == 0 {
		cfg.RiskPerTrade = DefaultRiskPerTrade
	}
	if cfg.MaxPositions == 0 {
		cfg.MaxPositions = DefaultMaxPositions
	}
	if cfg.MaxTradesPerDay == 0 {
		cfg.MaxTradesPerDay = DefaultMaxTradesPerDay
	}
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = DefaultTimeframe
	}
	return cfg
}

func rsiParams(p config.RSIParams) (config.RSIParams, error) {
	if p.Period == 0 {
		p.Period = DefaultRSIPeriod
	}
	if p.Oversold == 0 {
		p.Oversold = DefaultRSIOversold
	}
	if p.Overbought == 0 {
		p.Overbought = DefaultRSIOverbought
	}
	if p.ExitLevel == 0 {
		p.ExitLevel = DefaultRSIExitLevel
	}

	var err error
	if p.Period < 2 {
		err = multierr.Append(err, errors.New("rsi.period 必须不小于2"))
	}
	if p.Oversold <= 0 || p.Overbought >= 100 || p.Oversold >= p.Overbought {
		err = multierr.Append(err, fmt.Errorf("rsi 阈值需满足 0 < oversold(%.2f) < overbought(%.2f) < 100", p.Oversold, p.Overbought))
	}
	if p.ExitLevel <= 0 || p.ExitLevel >= 100 {
		err = multierr.Append(err, errors.New("rsi.exit_level 必须位于(0,100)"))
	}
	return p, err
}

func divergenceParams(p config.DivergenceParams) (config.DivergenceParams, error) {
	if p.LookbackPeriod == 0 {
		p.LookbackPeriod = DefaultDivergenceLookback
	}
	if p.MinStrength == 0 {
		p.MinStrength = DefaultDivergenceMinStrength
	}
	if p.ExtremaOrder == 0 {
		p.ExtremaOrder = DefaultExtremaOrder
	}

	var err error
	if p.ExtremaOrder < 1 {
		err = multierr.Append(err, errors.New("divergence.extrema_order 必须大于0"))
	}
	if p.LookbackPeriod < 2*p.ExtremaOrder+1 {
		err = multierr.Append(err, errors.New("divergence.lookback_period 过短，无法容纳极值窗口"))
	}
	if p.MinStrength < 0 || p.MinStrength > 1 {
		err = multierr.Append(err, errors.New("divergence.min_strength 必须位于[0,1]"))
	}
	return p, err
}

func macdParams(p config.MACDParams) (config.MACDParams, error) {
	if p.FastPeriod == 0 {
		p.FastPeriod = DefaultMACDFast
	}
	if p.SlowPeriod == 0 {
		p.SlowPeriod = DefaultMACDSlow
	}
	if p.SignalPeriod == 0 {
		p.SignalPeriod = DefaultMACDSignal
	}

	var err error
	if p.FastPeriod < 2 || p.SlowPeriod <= p.FastPeriod {
		err = multierr.Append(err, fmt.Errorf("macd 周期需满足 2 <= fast(%d) < slow(%d)", p.FastPeriod, p.SlowPeriod))
	}
	if p.SignalPeriod < 1 {
		err = multierr.Append(err, errors.New("macd.signal_period 必须大于0"))
	}
	return p, err
}

func histogramParams(p config.HistogramParams) (config.HistogramParams, error) {
	if p.MomentumPeriods == 0 {
		p.MomentumPeriods = DefaultMomentumPeriods
	}

	var err error
	if p.Threshold < 0 {
		err = multierr.Append(err, errors.New("histogram.threshold 不能为负"))
	}
	if p.MomentumPeriods < 1 {
		err = multierr.Append(err, errors.New("histogram.momentum_periods 必须大于0"))
	}
	return p, err
}

func optionsParams(p config.OptionsParams) (config.OptionsParams, error) {
	if p.Quantity == 0 {
		p.Quantity = DefaultOptionsQuantity
	}
	if p.ExpirationDays == 0 {
		p.ExpirationDays = DefaultOptionsExpirationDays
	}

	var err error
	if p.Quantity < 1 {
		err = multierr.Append(err, errors.New("options.quantity 必须大于0"))
	}
	if p.ExpirationDays < 1 {
		err = multierr.Append(err, errors.New("options.expiration_days 必须大于0"))
	}
	for name, v := range map[string]float64{
		"short_call_strike": p.ShortCallStrike,
		"long_call_strike":  p.LongCallStrike,
		"short_put_strike":  p.ShortPutStrike,
		"long_put_strike":   p.LongPutStrike,
		"center_strike":     p.CenterStrike,
		"wing_width":        p.WingWidth,
		"strike":            p.Strike,
		"call_strike":       p.CallStrike,
		"put_strike":        p.PutStrike,
	} {
		if v < 0 {
			err = multierr.Append(err, fmt.Errorf("options.%s 不能为负", name))
		}
	}
	return p, err
}
