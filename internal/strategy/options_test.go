package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-engine/internal/config"
	"algo-engine/internal/indicator"
	"algo-engine/internal/trade"
)

// alternatingCloses 生成在 base 与 base*(1+step) 间交替的收盘价，末根为 base。
func alternatingCloses(n int, base, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = base
		if i%2 == 1 {
			out[i] = base * (1 + step)
		}
	}
	return out
}

func TestIronCondor_Scenario(t *testing.T) {
	reg := NewRegistry(nil)
	s, err := reg.Create(KindIronCondor, config.StrategyConfig{Name: "condor"})
	require.NoError(t, err)

	closes := alternatingCloses(31, 1000, 0.0126)
	series := indicator.FromCloses(testStart, closes)
	require.InDelta(t, 0.20, indicator.RealizedVolatility(closes), 0.01)

	out := s.GenerateSignals(series, "BTC/USDT")
	require.Len(t, out, 1)

	k, ok := s.Strikes("BTC/USDT")
	require.True(t, ok)
	assert.InDelta(t, 1020, k.ShortCall, 1e-6)
	assert.InDelta(t, 1050, k.LongCall, 1e-6)
	assert.InDelta(t, 980, k.ShortPut, 1e-6)
	assert.InDelta(t, 950, k.LongPut, 1e-6)

	sig := out[0]
	assert.Equal(t, trade.DirectionBuy, sig.Direction)
	assert.Equal(t, 1, sig.Quantity)
	assert.InDelta(t, 0.8, sig.Confidence, 1e-9)
	assert.Equal(t, "Iron Condor setup: 1020.00/1050.00 calls, 980.00/950.00 puts", sig.Rationale)
	assert.InDelta(t, 950, *sig.StopLoss, 1e-6)
	assert.InDelta(t, 1050, *sig.Target, 1e-6)
	assert.Equal(t, series.LastTime(), sig.CreatedAt)
}

func TestIronCondor_PureRule(t *testing.T) {
	rule := ironCondorRule{}
	k := rule.derive(1000, config.OptionsParams{})
	assert.True(t, rule.shouldSetup(1000, 0.20, k))
	assert.False(t, rule.shouldSetup(1000, 0.10, k), "波动率过低")
	assert.False(t, rule.shouldSetup(1000, 0.40, k), "波动率过高")
	assert.False(t, rule.shouldSetup(1030, 0.20, k), "价格超出空头看涨行权价")

	assert.True(t, rule.breached(940, k))
	assert.True(t, rule.breached(1060, k))
	assert.False(t, rule.breached(1040, k))

	custom := rule.derive(1000, config.OptionsParams{ShortCallStrike: 1010})
	assert.InDelta(t, 1010, custom.ShortCall, 1e-9)
	assert.InDelta(t, 1050, custom.LongCall, 1e-6)
}

func TestOptionRules_Regimes(t *testing.T) {
	p := config.OptionsParams{}

	bf := butterflyRule{}
	k := bf.derive(1000, p)
	assert.InDelta(t, 50, k.Wing, 1e-9)
	assert.True(t, bf.shouldSetup(1005, 0.10, k))
	assert.False(t, bf.shouldSetup(1005, 0.30, k))
	assert.True(t, bf.breached(1060, k))
	assert.False(t, bf.breached(1040, k))
	// 以外翼为界，偏离 7% 已离场
	assert.True(t, bf.breached(1070, k))
	assert.True(t, bf.breached(940, k))
	assert.False(t, bf.breached(1050, k))
	assert.False(t, bf.breached(950, k))
	assert.Equal(t, "Butterfly setup: 950.00/1000.00/1050.00", bf.describe(k))

	st := straddleRule{}
	k = st.derive(1000, p)
	assert.True(t, st.shouldSetup(1005, 0.40, k))
	assert.False(t, st.shouldSetup(1005, 0.20, k))
	assert.False(t, st.shouldSetup(1020, 0.40, k))
	assert.True(t, st.breached(1160, k))
	assert.False(t, st.breached(1100, k))

	sg := strangleRule{}
	k = sg.derive(1000, p)
	assert.True(t, sg.shouldSetup(1000, 0.30, k))
	assert.False(t, sg.shouldSetup(1000, 0.20, k))
	assert.True(t, sg.breached(940, k))
	assert.False(t, sg.breached(1000, k))
}

func TestOptions_ExitOnExpiry(t *testing.T) {
	reg := NewRegistry(nil)
	s, err := reg.Create(KindStrangle, config.StrategyConfig{Name: "strangle"})
	require.NoError(t, err)

	series := indicator.FromCloses(testStart, alternatingCloses(31, 1000, 0.001))
	now := series.LastTime()

	fresh := trade.Position{Symbol: "A", Side: trade.SideBuy, EntryPrice: 1000, EntryTime: now.Add(-10 * 24 * time.Hour)}
	assert.False(t, s.ShouldExitPosition(fresh, series))

	old := fresh
	old.EntryTime = now.Add(-26 * 24 * time.Hour)
	assert.True(t, s.ShouldExitPosition(old, series))

	crash := indicator.FromCloses(testStart, append(alternatingCloses(30, 1000, 0.001), 900))
	assert.True(t, s.ShouldExitPosition(fresh, crash))
}

func TestRegistry_CreateUnknown(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Create(KindRSI, config.StrategyConfig{Name: "x"})
	assert.True(t, errors.Is(err, ErrUnknownStrategyType))
	_, err = reg.Create("collar", config.StrategyConfig{Name: "x"})
	assert.True(t, errors.Is(err, ErrUnknownStrategyType))
}

func TestRegistry_Catalog(t *testing.T) {
	entries := NewRegistry(nil).Catalog()
	require.Len(t, entries, 8)
	assert.Equal(t, KindIronCondor, entries[0].Type)
	assert.Equal(t, "Iron Condor", entries[0].Name)
	assert.Equal(t, KindProtectivePut, entries[7].Type)

	entries[0].Name = "changed"
	assert.Equal(t, "Iron Condor", NewRegistry(nil).Catalog()[0].Name)
}

func TestPayoff(t *testing.T) {
	def, err := NewRegistry(nil).Definition(KindIronCondor, 1000, 0.2, config.OptionsParams{}, testStart)
	require.NoError(t, err)
	require.Len(t, def.Legs, 4)
	assert.Equal(t, 30, def.DaysToExpiration)
	assert.Equal(t, testStart.AddDate(0, 0, 30), def.Legs[0].Expiration)

	assert.InDelta(t, 0, Payoff(def.Legs, 1000), 1e-6)
	// 空头看涨 -(1100-1020) + 多头看涨 (1100-1050)
	assert.InDelta(t, -30, Payoff(def.Legs, 1100), 1e-6)
	assert.InDelta(t, -30, Payoff(def.Legs, 900), 1e-6)
	assert.InDelta(t, -30, def.MaxLoss, 1e-6)
	assert.InDelta(t, 0, def.MaxProfit, 1e-6)

	straddle, err := NewRegistry(nil).Definition(KindStraddle, 1000, 0.4, config.OptionsParams{}, testStart)
	require.NoError(t, err)
	assert.InDelta(t, 100, Payoff(straddle.Legs, 1100), 1e-6)
	assert.InDelta(t, 100, Payoff(straddle.Legs, 900), 1e-6)

	bf, err := NewRegistry(nil).Definition(KindButterfly, 1000, 0.1, config.OptionsParams{}, testStart)
	require.NoError(t, err)
	assert.InDelta(t, 50, Payoff(bf.Legs, 1000), 1e-6)
	assert.InDelta(t, 0, Payoff(bf.Legs, 1100), 1e-6)

	cc, err := NewRegistry(nil).Definition(KindCoveredCall, 1000, 0, config.OptionsParams{}, testStart)
	require.NoError(t, err)
	assert.InDelta(t, 50, Payoff(cc.Legs, 1100), 1e-6)
	assert.InDelta(t, -100, Payoff(cc.Legs, 900), 1e-6)

	_, err = NewRegistry(nil).Definition("collar", 1000, 0, config.OptionsParams{}, testStart)
	assert.True(t, errors.Is(err, ErrUnknownStrategyType))
	_, err = NewRegistry(nil).Definition(KindStraddle, 0, 0, config.OptionsParams{}, testStart)
	assert.Error(t, err)
}

func TestPayoffCurve_WithPremium(t *testing.T) {
	legs := []OptionsLeg{
		{Kind: LegCall, Strike: 100, Quantity: 1, Action: trade.SideBuy, Premium: 5},
	}
	curve := PayoffCurve(legs, 90, 110, 2)
	require.Len(t, curve, 3)
	assert.InDelta(t, -5, curve[0].Payoff, 1e-9)
	assert.InDelta(t, -5, curve[1].Payoff, 1e-9)
	assert.InDelta(t, 5, curve[2].Payoff, 1e-9)

	def := OptionsDefinition{Legs: legs}
	summarize(&def, 90, 120)
	require.Len(t, def.Breakevens, 1)
	assert.InDelta(t, 105, def.Breakevens[0], 1e-6)
	assert.InDelta(t, 15, def.MaxProfit, 1e-6)
	assert.InDelta(t, -5, def.MaxLoss, 1e-6)

	assert.Nil(t, PayoffCurve(legs, 110, 90, 2))
}

func TestDefinition_CarriesEstimates(t *testing.T) {
	def, err := NewRegistry(nil).Definition(KindStrangle, 1000, 0.3, config.OptionsParams{}, testStart)
	require.NoError(t, err)
	assert.Zero(t, def.ProbabilityOfProfit)
	assert.Equal(t, Greeks{}, def.Greeks)
	assert.InDelta(t, 0.3, def.ImpliedVolatility, 1e-12)

	g := Greeks{Delta: 0.02, Gamma: 0.001, Theta: -1.5, Vega: 2.1}
	est := def.WithEstimates(0.42, g)
	assert.InDelta(t, 0.42, est.ProbabilityOfProfit, 1e-12)
	assert.Equal(t, g, est.Greeks)
	assert.Zero(t, def.ProbabilityOfProfit, "原定义不被修改")

	assert.Equal(t, 1.0, def.WithEstimates(1.7, Greeks{}).ProbabilityOfProfit)
	assert.Equal(t, 0.0, def.WithEstimates(-0.1, Greeks{}).ProbabilityOfProfit)
}
