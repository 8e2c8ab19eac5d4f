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

// Strikes 为单一标的上的期权行权价，按组合类型使用其中部分字段。
type Strikes struct {
	ShortCall float64 `json:"short_call,omitempty"`
	LongCall  float64 `json:"long_call,omitempty"`
	ShortPut  float64 `json:"short_put,omitempty"`
	LongPut   float64 `json:"long_put,omitempty"`
	Center    float64 `json:"center,omitempty"`
	Wing      float64 `json:"wing,omitempty"`
	Strike    float64 `json:"strike,omitempty"`
	Call      float64 `json:"call,omitempty"`
	Put       float64 `json:"put,omitempty"`
}

type setupProfile struct {
	confidence float64
	stopMult   float64
	targetMult float64
}

// setupRule 描述一种期权组合的行权价推导、入场与离场条件。
type setupRule interface {
	derive(spot float64, p config.OptionsParams) Strikes
	shouldSetup(price, vol float64, k Strikes) bool
	breached(price float64, k Strikes) bool
	describe(k Strikes) string
	profile() setupProfile
}

func orDefault(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}

type ironCondorRule struct{}

func (ironCondorRule) derive(spot float64, p config.OptionsParams) Strikes {
	return Strikes{
		ShortCall: orDefault(p.ShortCallStrike, spot*1.02),
		LongCall:  orDefault(p.LongCallStrike, spot*1.05),
		ShortPut:  orDefault(p.ShortPutStrike, spot*0.98),
		LongPut:   orDefault(p.LongPutStrike, spot*0.95),
	}
}

func (ironCondorRule) shouldSetup(price, vol float64, k Strikes) bool {
	return vol > 0.15 && vol < 0.35 && price > k.LongPut && price < k.ShortCall
}

func (ironCondorRule) breached(price float64, k Strikes) bool {
	return price < k.LongPut || price > k.LongCall
}

func (ironCondorRule) describe(k Strikes) string {
	return fmt.Sprintf("Iron Condor setup: %.2f/%.2f calls, %.2f/%.2f puts", k.ShortCall, k.LongCall, k.ShortPut, k.LongPut)
}

func (ironCondorRule) profile() setupProfile {
	return setupProfile{confidence: 0.8, stopMult: 0.95, targetMult: 1.05}
}

type butterflyRule struct{}

func (butterflyRule) derive(spot float64, p config.OptionsParams) Strikes {
	center := orDefault(p.CenterStrike, spot)
	return Strikes{Center: center, Wing: orDefault(p.WingWidth, center*0.05)}
}

func (butterflyRule) shouldSetup(price, vol float64, k Strikes) bool {
	return vol < 0.25 && math.Abs(price-k.Center)/price < 0.02
}

// breached 价格越出外翼行权价即离场，恰在翼上不算。
func (butterflyRule) breached(price float64, k Strikes) bool {
	return price < k.Center-k.Wing || price > k.Center+k.Wing
}

func (butterflyRule) describe(k Strikes) string {
	return fmt.Sprintf("Butterfly setup: %.2f/%.2f/%.2f", k.Center-k.Wing, k.Center, k.Center+k.Wing)
}

func (butterflyRule) profile() setupProfile {
	return setupProfile{confidence: 0.75, stopMult: 0.95, targetMult: 1.05}
}

type straddleRule struct{}

func (straddleRule) derive(spot float64, p config.OptionsParams) Strikes {
	return Strikes{Strike: orDefault(p.Strike, spot)}
}

func (straddleRule) shouldSetup(price, vol float64, k Strikes) bool {
	return vol > 0.30 && math.Abs(price-k.Strike)/price < 0.01
}

func (straddleRule) breached(price float64, k Strikes) bool {
	return k.Strike > 0 && math.Abs(price-k.Strike)/k.Strike > 0.15
}

func (straddleRule) describe(k Strikes) string {
	return fmt.Sprintf("Straddle setup: %.2f strike", k.Strike)
}

func (straddleRule) profile() setupProfile {
	return setupProfile{confidence: 0.7, stopMult: 0.90, targetMult: 1.10}
}

type strangleRule struct{}

func (strangleRule) derive(spot float64, p config.OptionsParams) Strikes {
	return Strikes{
		Call: orDefault(p.CallStrike, spot*1.05),
		Put:  orDefault(p.PutStrike, spot*0.95),
	}
}

func (strangleRule) shouldSetup(price, vol float64, k Strikes) bool {
	return vol > 0.25 && price > k.Put && price < k.Call
}

func (strangleRule) breached(price float64, k Strikes) bool {
	return price < k.Put || price > k.Call
}

func (strangleRule) describe(k Strikes) string {
	return fmt.Sprintf("Strangle setup: %.2f put, %.2f call", k.Put, k.Call)
}

func (strangleRule) profile() setupProfile {
	return setupProfile{confidence: 0.65, stopMult: 0.90, targetMult: 1.10}
}

var optionRules = map[Kind]setupRule{
	KindIronCondor: ironCondorRule{},
	KindButterfly:  butterflyRule{},
	KindStraddle:   straddleRule{},
	KindStrangle:   strangleRule{},
}

// OptionsStrategy 在波动率区间与价格位置同时满足时发出期权组合建仓信号。
type OptionsStrategy struct {
	*Base
	rule    setupRule
	params  config.OptionsParams
	strikes map[string]Strikes
}

func newOptions(cfg config.StrategyConfig, kind Kind, logger *zap.Logger) (*OptionsStrategy, error) {
	rule, ok := optionRules[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategyType, kind)
	}
	params, err := optionsParams(cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("strategy: %s 参数无效: %w", cfg.Name, err)
	}
	base, err := newBase(cfg, kind, logger)
	if err != nil {
		return nil, err
	}
	base.cfg.Options = params
	return &OptionsStrategy{
		Base:    base,
		rule:    rule,
		params:  params,
		strikes: make(map[string]Strikes),
	}, nil
}

// Strikes 返回标的已确定的行权价。
func (s *OptionsStrategy) Strikes(symbol string) (Strikes, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.strikes[symbol]
	return k, ok
}

// strikesFor 首次使用时按现价推导并缓存行权价。
func (s *OptionsStrategy) strikesFor(symbol string, spot float64) Strikes {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.strikes[symbol]; ok {
		return k
	}
	k := s.rule.derive(spot, s.params)
	s.strikes[symbol] = k
	s.logger.Info("期权行权价已确定",
		zap.String("symbol", symbol),
		zap.Float64("spot", spot),
		zap.Any("strikes", k),
	)
	return k
}

// GenerateSignals 实现 Strategy。
func (s *OptionsStrategy) GenerateSignals(series indicator.Series, symbol string) []trade.Signal {
	if series.Len() < MinOptionsBars {
		return nil
	}
	price := series.LastClose()
	if !(price > 0) {
		return nil
	}
	vol := indicator.RealizedVolatility(series.Close)
	k := s.strikesFor(symbol, price)

	if !s.CanTrade(symbol) {
		return nil
	}
	return s.record(s.evaluate(symbol, price, vol, k, s.evalTime(series)))
}

func (s *OptionsStrategy) evaluate(symbol string, price, vol float64, k Strikes, at time.Time) []trade.Signal {
	if !s.rule.shouldSetup(price, vol, k) {
		return nil
	}
	prof := s.rule.profile()
	sig := trade.NewSignal(s.cfg.Name, symbol, trade.DirectionBuy, price, s.params.Quantity,
		prof.confidence, s.rule.describe(k), at).
		WithProtection(price*prof.stopMult, price*prof.targetMult)
	return []trade.Signal{sig}
}

// ShouldExitPosition 价格突破组合边界或临近到期时平仓。
func (s *OptionsStrategy) ShouldExitPosition(pos trade.Position, series indicator.Series) bool {
	price := series.LastClose()
	if !(price > 0) {
		return false
	}
	k, ok := s.Strikes(pos.Symbol)
	if !ok {
		k = s.strikesFor(pos.Symbol, orDefault(pos.EntryPrice, price))
	}
	if s.rule.breached(price, k) {
		return true
	}
	return s.nearExpiry(pos.EntryTime, s.evalTime(series))
}

func (s *OptionsStrategy) nearExpiry(entry, now time.Time) bool {
	if entry.IsZero() {
		return false
	}
	held := int(now.Sub(entry).Hours() / 24)
	return held >= s.params.ExpirationDays-ExpirationExitWindowDays
}
