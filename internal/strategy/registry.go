package strategy

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"algo-engine/internal/config"
	"algo-engine/internal/trade"
)

// LegKind 为组合单腿类型。
type LegKind string

const (
	LegCall  LegKind = "CALL"
	LegPut   LegKind = "PUT"
	LegStock LegKind = "STOCK"
)

// OptionsLeg 描述组合中的一条腿，STOCK 腿的 Strike 为建仓价。
type OptionsLeg struct {
	Kind       LegKind    `json:"kind"`
	Strike     float64    `json:"strike"`
	Quantity   int        `json:"quantity"`
	Action     trade.Side `json:"action"`
	Expiration time.Time  `json:"expiration"`
	Premium    float64    `json:"premium"`
}

// intrinsic 返回单位数量在到期时的内在价值，未带方向。
func (l OptionsLeg) intrinsic(spot float64) float64 {
	switch l.Kind {
	case LegCall:
		return math.Max(spot-l.Strike, 0)
	case LegPut:
		return math.Max(l.Strike-spot, 0)
	case LegStock:
		return spot - l.Strike
	default:
		return 0
	}
}

// Greeks 为描述性的希腊值，本系统不做期权定价，默认全为 0。
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// OptionsDefinition 为描述性的组合收益模型，不代表实际持仓。
type OptionsDefinition struct {
	Name                string       `json:"name"`
	Kind                Kind         `json:"kind"`
	Legs                []OptionsLeg `json:"legs"`
	MaxProfit           float64      `json:"max_profit"`
	MaxLoss             float64      `json:"max_loss"`
	Breakevens          []float64    `json:"breakevens"`
	RiskRewardRatio     float64      `json:"risk_reward_ratio"`
	ProbabilityOfProfit float64      `json:"probability_of_profit"`
	DaysToExpiration    int          `json:"days_to_expiration"`
	ImpliedVolatility   float64      `json:"implied_volatility"`
	Greeks              Greeks       `json:"greeks"`
}

// WithEstimates 附加外部提供的盈利概率与希腊值，概率截断到 [0,1]。
func (d OptionsDefinition) WithEstimates(probabilityOfProfit float64, g Greeks) OptionsDefinition {
	if math.IsNaN(probabilityOfProfit) || probabilityOfProfit < 0 {
		probabilityOfProfit = 0
	}
	d.ProbabilityOfProfit = math.Min(probabilityOfProfit, 1)
	d.Greeks = g
	return d
}

// CatalogEntry 为组合类型的说明信息。
type CatalogEntry struct {
	Name          string `json:"name"`
	Type          Kind   `json:"type"`
	Description   string `json:"description"`
	MaxProfit     string `json:"max_profit"`
	MaxLoss       string `json:"max_loss"`
	MarketOutlook string `json:"market_outlook"`
	Volatility    string `json:"volatility"`
	TimeDecay     string `json:"time_decay"`
}

var catalog = []CatalogEntry{
	{"Iron Condor", KindIronCondor, "Neutral strategy with limited risk and reward", "Limited", "Limited", "Neutral", "Low to Moderate", "Positive"},
	{"Butterfly", KindButterfly, "Neutral strategy with maximum profit at center strike", "Limited", "Limited", "Neutral", "Low", "Positive"},
	{"Straddle", KindStraddle, "Volatility strategy betting on big moves", "Unlimited", "Limited", "Volatile", "High", "Negative"},
	{"Strangle", KindStrangle, "Volatility strategy with wider breakeven", "Unlimited", "Limited", "Volatile", "High", "Negative"},
	{"Call Spread", KindCallSpread, "Bullish strategy with limited risk", "Limited", "Limited", "Bullish", "Any", "Positive"},
	{"Put Spread", KindPutSpread, "Bearish strategy with limited risk", "Limited", "Limited", "Bearish", "Any", "Positive"},
	{"Covered Call", KindCoveredCall, "Income strategy on owned stock", "Limited", "Unlimited", "Neutral to Bullish", "Any", "Positive"},
	{"Protective Put", KindProtectivePut, "Insurance strategy for owned stock", "Unlimited", "Limited", "Bullish with Protection", "Any", "Negative"},
}

// payoffCurveSteps 为 Definition 估算收益极值时的采样步数。
const payoffCurveSteps = 400

// Registry 管理期权组合策略的构造与说明。
type Registry struct {
	logger *zap.Logger
}

// NewRegistry 创建期权策略注册表。
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger}
}

// Create 构造期权组合策略，未知类型返回 ErrUnknownStrategyType。
func (r *Registry) Create(kind Kind, cfg config.StrategyConfig) (*OptionsStrategy, error) {
	if _, ok := optionRules[kind]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategyType, kind)
	}
	if cfg.Type == "" {
		cfg.Type = string(kind)
	}
	return newOptions(cfg, kind, r.logger)
}

// Catalog 返回全部组合类型的说明。
func (r *Registry) Catalog() []CatalogEntry {
	out := make([]CatalogEntry, len(catalog))
	copy(out, catalog)
	return out
}

// Definition 按现价构建组合腿并估算到期收益特征，vol 仅作记录。
func (r *Registry) Definition(kind Kind, spot, vol float64, p config.OptionsParams, now time.Time) (OptionsDefinition, error) {
	if !(spot > 0) {
		return OptionsDefinition{}, fmt.Errorf("strategy: 现价必须为正, 当前为 %v", spot)
	}
	p, err := optionsParams(p)
	if err != nil {
		return OptionsDefinition{}, err
	}

	expiry := now.UTC().AddDate(0, 0, p.ExpirationDays)
	q := p.Quantity
	leg := func(kind LegKind, strike float64, qty int, action trade.Side) OptionsLeg {
		return OptionsLeg{Kind: kind, Strike: strike, Quantity: qty, Action: action, Expiration: expiry}
	}

	var legs []OptionsLeg
	if rule, ok := optionRules[kind]; ok {
		k := rule.derive(spot, p)
		switch kind {
		case KindIronCondor:
			legs = []OptionsLeg{
				leg(LegPut, k.LongPut, q, trade.SideBuy),
				leg(LegPut, k.ShortPut, q, trade.SideSell),
				leg(LegCall, k.ShortCall, q, trade.SideSell),
				leg(LegCall, k.LongCall, q, trade.SideBuy),
			}
		case KindButterfly:
			legs = []OptionsLeg{
				leg(LegCall, k.Center-k.Wing, q, trade.SideBuy),
				leg(LegCall, k.Center, 2*q, trade.SideSell),
				leg(LegCall, k.Center+k.Wing, q, trade.SideBuy),
			}
		case KindStraddle:
			legs = []OptionsLeg{
				leg(LegCall, k.Strike, q, trade.SideBuy),
				leg(LegPut, k.Strike, q, trade.SideBuy),
			}
		case KindStrangle:
			legs = []OptionsLeg{
				leg(LegPut, k.Put, q, trade.SideBuy),
				leg(LegCall, k.Call, q, trade.SideBuy),
			}
		}
	} else {
		switch kind {
		case KindCallSpread:
			legs = []OptionsLeg{
				leg(LegCall, orDefault(p.LongCallStrike, spot), q, trade.SideBuy),
				leg(LegCall, orDefault(p.ShortCallStrike, spot*1.05), q, trade.SideSell),
			}
		case KindPutSpread:
			legs = []OptionsLeg{
				leg(LegPut, orDefault(p.LongPutStrike, spot), q, trade.SideBuy),
				leg(LegPut, orDefault(p.ShortPutStrike, spot*0.95), q, trade.SideSell),
			}
		case KindCoveredCall:
			legs = []OptionsLeg{
				leg(LegStock, spot, q, trade.SideBuy),
				leg(LegCall, orDefault(p.CallStrike, spot*1.05), q, trade.SideSell),
			}
		case KindProtectivePut:
			legs = []OptionsLeg{
				leg(LegStock, spot, q, trade.SideBuy),
				leg(LegPut, orDefault(p.PutStrike, spot*0.95), q, trade.SideBuy),
			}
		default:
			return OptionsDefinition{}, fmt.Errorf("%w: %s", ErrUnknownStrategyType, kind)
		}
	}

	def := OptionsDefinition{
		Name:              catalogName(kind),
		Kind:              kind,
		Legs:              legs,
		DaysToExpiration:  p.ExpirationDays,
		ImpliedVolatility: vol,
	}
	summarize(&def, spot*0.5, spot*1.5)
	return def, nil
}

func catalogName(kind Kind) string {
	for _, c := range catalog {
		if c.Type == kind {
			return c.Name
		}
	}
	return string(kind)
}

// Payoff 返回到期时各腿内在价值的带方向合计，买入为正卖出为负。
func Payoff(legs []OptionsLeg, spot float64) float64 {
	total := 0.0
	for _, l := range legs {
		v := l.intrinsic(spot) * float64(l.Quantity)
		if l.Action == trade.SideSell {
			total -= v
		} else {
			total += v
		}
	}
	return total
}

// PayoffPoint 为收益曲线上的一个采样点。
type PayoffPoint struct {
	Spot   float64 `json:"spot"`
	Payoff float64 `json:"payoff"`
}

// PayoffCurve 在 [lo, hi] 上等距采样 steps+1 个点。
func PayoffCurve(legs []OptionsLeg, lo, hi float64, steps int) []PayoffPoint {
	if steps < 1 || hi < lo {
		return nil
	}
	out := make([]PayoffPoint, 0, steps+1)
	width := (hi - lo) / float64(steps)
	for i := 0; i <= steps; i++ {
		spot := lo + width*float64(i)
		out = append(out, PayoffPoint{Spot: spot, Payoff: Payoff(legs, spot) + netPremium(legs)})
	}
	return out
}

// netPremium 卖出收取权利金为正，买入支付为负。
func netPremium(legs []OptionsLeg) float64 {
	total := 0.0
	for _, l := range legs {
		v := l.Premium * float64(l.Quantity)
		if l.Action == trade.SideSell {
			total += v
		} else {
			total -= v
		}
	}
	return total
}

func summarize(def *OptionsDefinition, lo, hi float64) {
	curve := PayoffCurve(def.Legs, lo, hi, payoffCurveSteps)
	if len(curve) == 0 {
		return
	}

	def.MaxProfit, def.MaxLoss = curve[0].Payoff, curve[0].Payoff
	for i, pt := range curve {
		def.MaxProfit = math.Max(def.MaxProfit, pt.Payoff)
		def.MaxLoss = math.Min(def.MaxLoss, pt.Payoff)
		if i == 0 {
			continue
		}
		prev := curve[i-1]
		if (prev.Payoff < 0 && pt.Payoff >= 0) || (prev.Payoff > 0 && pt.Payoff <= 0) {
			t := prev.Payoff / (prev.Payoff - pt.Payoff)
			def.Breakevens = append(def.Breakevens, prev.Spot+t*(pt.Spot-prev.Spot))
		}
	}
	if def.MaxProfit > 0 {
		def.RiskRewardRatio = math.Abs(def.MaxLoss) / def.MaxProfit
	}
}
