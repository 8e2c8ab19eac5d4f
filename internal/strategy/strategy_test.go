package strategy

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-engine/internal/config"
	"algo-engine/internal/indicator"
	"algo-engine/internal/trade"
)

var testStart = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func testConfig(name, kind string) config.StrategyConfig {
	return config.StrategyConfig{Name: name, Type: kind}
}

func fill(symbol string, side trade.Side, price float64, qty int, at time.Time) trade.Fill {
	return trade.Fill{OrderID: "o-" + symbol, Symbol: symbol, Side: side, Price: price, Quantity: qty, Timestamp: at}
}

func TestNew_AllKinds(t *testing.T) {
	kinds := []Kind{
		KindRSI, KindRSIDivergence, KindMACDCrossover, KindMACDHistogram, KindMACDZeroLine,
		KindIronCondor, KindButterfly, KindStraddle, KindStrangle,
	}
	for _, kind := range kinds {
		s, err := New(testConfig("s_"+string(kind), string(kind)), nil)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, s.Kind())
		assert.Equal(t, "s_"+string(kind), s.Name())
		assert.Same(t, s.State(), s.State())
	}
}

func TestNew_UnknownType(t *testing.T) {
	s, err := New(testConfig("bad", "bollinger"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownStrategyType))
	assert.Nil(t, s)
}

func TestNew_InvalidParams(t *testing.T) {
	cfg := testConfig("rsi_bad", "rsi")
	cfg.RSI.Oversold = 80
	cfg.RSI.Overbought = 70
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestNewAll_SkipsDisabled(t *testing.T) {
	off := false
	cfgs := []config.StrategyConfig{
		testConfig("a", "rsi"),
		{Name: "b", Type: "macd_zero_line", Enabled: &off},
	}
	out, err := NewAll(cfgs, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Name())
}

func TestGenerateSignals_InsufficientHistory(t *testing.T) {
	series := indicator.FromCloses(testStart, []float64{100, 101, 102, 103, 104, 105, 106, 107, 108, 109})
	for _, kind := range []string{"rsi", "rsi_divergence", "macd_crossover", "macd_histogram", "macd_zero_line", "iron_condor", "straddle"} {
		s, err := New(testConfig(kind, kind), nil)
		require.NoError(t, err)
		assert.Empty(t, s.GenerateSignals(series, "BTC/USDT"), kind)
	}
}

func TestBase_Defaults(t *testing.T) {
	s, err := NewRSI(testConfig("rsi", "rsi"), nil)
	require.NoError(t, err)

	cfg := s.Config()
	assert.Equal(t, DefaultMaxPositionValue, cfg.MaxPositionValue)
	assert.Equal(t, DefaultStopLossPercent, cfg.StopLossPercent)
	assert.Equal(t, DefaultMaxPositions, cfg.MaxPositions)
	assert.Equal(t, DefaultRSIPeriod, cfg.RSI.Period)
	assert.Equal(t, DefaultMinConfidence, s.MinConfidence())
	assert.InDelta(t, 2000, s.RiskBudget(), 1e-9)
}

func TestBase_PositionSize(t *testing.T) {
	s, err := NewRSI(testConfig("rsi", "rsi"), nil)
	require.NoError(t, err)

	// 止损 5%，单位风险约 5
	assert.InDelta(t, 400, s.PositionSize(100, 2000), 1)
	// 市值上限 100000/50000 = 2
	assert.Equal(t, 2, s.PositionSize(50000, 1e9))
	assert.Equal(t, 0, s.PositionSize(0, 2000))
	assert.Equal(t, 0, s.PositionSize(100, 0))

	for _, price := range []float64{0.5, 3, 77, 1234, 99999} {
		qty := s.PositionSize(price, 2000)
		assert.GreaterOrEqual(t, qty, 0)
		assert.LessOrEqual(t, float64(qty), DefaultMaxPositionValue/price)
	}
}

func TestBase_CanTrade(t *testing.T) {
	now := testStart
	cfg := testConfig("rsi", "rsi")
	cfg.MaxTradesPerDay = 2
	cfg.MaxPositions = 3
	s, err := NewRSI(cfg, nil)
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	assert.True(t, s.CanTrade("A"))

	s.OpenPosition(fill("A", trade.SideBuy, 10, 1, now), 0, 0)
	assert.False(t, s.CanTrade("A"), "已持仓")
	assert.True(t, s.CanTrade("B"))

	s.OpenPosition(fill("B", trade.SideBuy, 10, 1, now), 0, 0)
	assert.False(t, s.CanTrade("C"), "当日次数已满")
	assert.Equal(t, 2, s.TradesToday())

	now = now.Add(24 * time.Hour)
	assert.True(t, s.CanTrade("C"))
	assert.Equal(t, 0, s.TradesToday())

	s.OpenPosition(fill("C", trade.SideBuy, 10, 1, now), 0, 0)
	assert.False(t, s.CanTrade("D"), "持仓数已满")
}

func TestBase_CanTrade_AllowListAndDisabled(t *testing.T) {
	cfg := testConfig("rsi", "rsi")
	cfg.Symbols = []string{"ETH/USDT"}
	s, err := NewRSI(cfg, nil)
	require.NoError(t, err)
	assert.True(t, s.CanTrade("ETH/USDT"))
	assert.False(t, s.CanTrade("BTC/USDT"))

	off := false
	cfg.Enabled = &off
	disabled, err := NewRSI(cfg, nil)
	require.NoError(t, err)
	assert.False(t, disabled.CanTrade("ETH/USDT"))
}

func TestBase_DailyResetIdempotent(t *testing.T) {
	s, err := NewRSI(testConfig("rsi", "rsi"), nil)
	require.NoError(t, err)
	s.now = func() time.Time { return testStart }

	s.OpenPosition(fill("A", trade.SideBuy, 10, 1, testStart), 0, 0)
	assert.Equal(t, 1, s.TradesToday())
	assert.Equal(t, 1, s.TradesToday())
}

func TestBase_ProtectiveExit(t *testing.T) {
	s, err := NewRSI(testConfig("rsi", "rsi"), nil)
	require.NoError(t, err)

	long := s.OpenPosition(fill("A", trade.SideBuy, 100, 1, testStart), 0, 0)
	assert.InDelta(t, 95, long.StopLoss, 1e-9)
	assert.InDelta(t, 110, long.Target, 1e-9)
	assert.True(t, s.ProtectiveExit(long, 94))
	assert.True(t, s.ProtectiveExit(long, 111))
	assert.False(t, s.ProtectiveExit(long, 100))

	short := s.OpenPosition(fill("B", trade.SideSell, 100, 1, testStart), 0, 0)
	assert.True(t, s.ProtectiveExit(short, 106))
	assert.True(t, s.ProtectiveExit(short, 89))
	assert.False(t, s.ProtectiveExit(short, 100))
}

func TestBase_MarkPositionRatchetsStop(t *testing.T) {
	s, err := NewRSI(testConfig("rsi", "rsi"), nil)
	require.NoError(t, err)
	s.OpenPosition(fill("A", trade.SideBuy, 100, 1, testStart), 0, 0)

	pos, ok := s.MarkPosition("A", 120)
	require.True(t, ok)
	assert.InDelta(t, 118.8, pos.StopLoss, 1e-9)

	pos, _ = s.MarkPosition("A", 110)
	assert.InDelta(t, 118.8, pos.StopLoss, 1e-9, "止损不回退")

	_, ok = s.MarkPosition("missing", 1)
	assert.False(t, ok)
}

func TestBase_PerformanceAndReset(t *testing.T) {
	s, err := NewRSI(testConfig("rsi", "rsi"), nil)
	require.NoError(t, err)

	s.OpenPosition(fill("A", trade.SideBuy, 100, 10, testStart), 0, 0)
	res, ok := s.ClosePosition("A", 110, testStart.Add(time.Hour))
	require.True(t, ok)
	assert.InDelta(t, 100, res.PnL, 1e-9)

	s.OpenPosition(fill("B", trade.SideSell, 100, 10, testStart), 0, 0)
	res, _ = s.ClosePosition("B", 105, testStart.Add(time.Hour))
	assert.InDelta(t, -50, res.PnL, 1e-9)

	s.OpenPosition(fill("C", trade.SideBuy, 10, 3, testStart), 0, 0)
	s.ClosePosition("C", 20, testStart.Add(time.Hour))

	_, ok = s.ClosePosition("A", 1, testStart)
	assert.False(t, ok)

	perf := s.PerformanceSummary()
	assert.Equal(t, 3, perf.TotalTrades)
	assert.Equal(t, 2, perf.WinningTrades)
	assert.Equal(t, 1, perf.LosingTrades)
	assert.InDelta(t, 80, perf.TotalPnL, 1e-9)
	assert.InDelta(t, 50, perf.MaxDrawdown, 1e-9)
	assert.InDelta(t, 2.0/3.0, perf.WinRate, 1e-9)
	assert.Len(t, s.History(), 3)

	s.Reset()
	perf = s.PerformanceSummary()
	assert.Zero(t, perf.TotalTrades)
	assert.Zero(t, perf.OpenPositions)
	assert.Empty(t, s.History())
}

func TestRSI_CrossingSignals(t *testing.T) {
	s, err := NewRSI(testConfig("rsi", "rsi"), nil)
	require.NoError(t, err)

	buy := s.evaluate("A", 100, 35, 25, testStart)
	require.Len(t, buy, 1)
	assert.Equal(t, trade.DirectionBuy, buy[0].Direction)
	assert.Equal(t, "RSI oversold: 25.00", buy[0].Rationale)
	assert.InDelta(t, 5.0/30.0, buy[0].Confidence, 1e-9)
	require.NotNil(t, buy[0].StopLoss)
	assert.Less(t, *buy[0].StopLoss, 100.0)

	assert.Empty(t, s.evaluate("A", 100, 25, 20, testStart), "停留在超卖区不重复发信号")

	sell := s.evaluate("A", 100, 65, 85, testStart)
	require.Len(t, sell, 1)
	assert.Equal(t, trade.DirectionSell, sell[0].Direction)
	assert.Equal(t, "RSI overbought: 85.00", sell[0].Rationale)
	assert.InDelta(t, 0.5, sell[0].Confidence, 1e-9)
	assert.Greater(t, *sell[0].StopLoss, 100.0)
}

func TestRSI_Exit(t *testing.T) {
	s, err := NewRSI(testConfig("rsi", "rsi"), nil)
	require.NoError(t, err)
	assert.True(t, s.exitOn(trade.SideBuy, 55))
	assert.False(t, s.exitOn(trade.SideBuy, 45))
	assert.True(t, s.exitOn(trade.SideSell, 45))
	assert.False(t, s.exitOn(trade.SideSell, 55))
}

func TestRSI_GenerateOnTrend(t *testing.T) {
	s, err := NewRSI(testConfig("rsi", "rsi"), nil)
	require.NoError(t, err)

	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	// 持续上涨时 RSI 停留在超买区，不应产生信号
	assert.Empty(t, s.GenerateSignals(indicator.FromCloses(testStart, closes), "A"))
}

func TestDivergence(t *testing.T) {
	closes := []float64{10, 8, 10, 12, 10, 7, 10}
	rsi := []float64{50, 30, 50, 60, 50, 45, 50}
	strength, ok := divergence(closes, rsi, 1, false)
	require.True(t, ok)
	assert.InDelta(t, 0.15, strength, 1e-9)

	_, ok = divergence(closes, rsi, 1, true)
	assert.False(t, ok, "仅有一个波峰")

	peaks := []float64{10, 12, 10, 11, 10, 14, 10}
	rsiPeaks := []float64{50, 80, 50, 70, 50, 55, 50}
	strength, ok = divergence(peaks, rsiPeaks, 1, true)
	require.True(t, ok)
	assert.InDelta(t, 0.15, strength, 1e-9)
}

func TestRSIDivergence_Evaluate(t *testing.T) {
	s, err := NewRSIDivergence(testConfig("div", "rsi_divergence"), nil)
	require.NoError(t, err)
	s.divergence.ExtremaOrder = 1

	closes := []float64{10, 8, 10, 12, 10, 7, 10}
	rsi := []float64{50, 30, 50, 60, 50, 45, 50}
	out := s.evaluate("A", 10, closes, rsi, testStart)
	require.Len(t, out, 1)
	assert.Equal(t, trade.DirectionBuy, out[0].Direction)
	assert.Equal(t, "Bullish RSI divergence: 0.15", out[0].Rationale)
	assert.InDelta(t, 0.3, out[0].Confidence, 1e-9)

	s.divergence.MinStrength = 0.5
	assert.Empty(t, s.evaluate("A", 10, closes, rsi, testStart))

	assert.False(t, s.ShouldExitPosition(trade.Position{}, indicator.Series{}))
}

func TestMACDCrossover_Scenario(t *testing.T) {
	s, err := NewMACDCrossover(testConfig("macd", "macd_crossover"), nil)
	require.NoError(t, err)

	m := indicator.MACDSeries{
		Line:      []float64{-0.9, -0.5, 0.3},
		Signal:    []float64{-0.1, -0.2, 0.1},
		Histogram: []float64{-0.8, -0.3, 0.2},
	}
	out := s.evaluate("A", 100, m, testStart)
	require.Len(t, out, 1)
	assert.Equal(t, trade.DirectionBuy, out[0].Direction)
	assert.Equal(t, "MACD bullish crossover: MACD=0.3000, Signal=0.1000", out[0].Rationale)
	assert.InDelta(t, 0.02, out[0].Confidence, 1e-9)

	bear := indicator.MACDSeries{
		Line:      []float64{0.5, -0.3},
		Signal:    []float64{0.2, -0.1},
		Histogram: []float64{0.3, -0.2},
	}
	out = s.evaluate("A", 100, bear, testStart)
	require.Len(t, out, 1)
	assert.Equal(t, trade.DirectionSell, out[0].Direction)

	flat := indicator.MACDSeries{
		Line:      []float64{0.5, 0.6},
		Signal:    []float64{0.1, 0.2},
		Histogram: []float64{0.4, 0.4},
	}
	assert.Empty(t, s.evaluate("A", 100, flat, testStart))
}

func TestMACDHistogram_Evaluate(t *testing.T) {
	s, err := NewMACDHistogram(testConfig("hist", "macd_histogram"), nil)
	require.NoError(t, err)

	hist := []float64{-0.5, -0.3, -0.1, -0.05, 0.2}
	assert.InDelta(t, (0.2+0.3)/3, momentum(hist, 3), 1e-9)

	out := s.evaluate("A", 100, hist, testStart)
	require.Len(t, out, 1)
	assert.Equal(t, trade.DirectionBuy, out[0].Direction)
	assert.InDelta(t, 1.0, out[0].Confidence, 1e-9)

	// 穿越但动量为负，不发信号
	assert.Empty(t, s.evaluate("A", 100, []float64{0.9, 0.5, -0.1, 0.1}, testStart))

	down := []float64{0.5, 0.3, 0.1, 0.05, -0.2}
	out = s.evaluate("A", 100, down, testStart)
	require.Len(t, out, 1)
	assert.Equal(t, trade.DirectionSell, out[0].Direction)
}

func TestMACDZeroLine_Evaluate(t *testing.T) {
	s, err := NewMACDZeroLine(testConfig("zero", "macd_zero_line"), nil)
	require.NoError(t, err)

	out := s.evaluate("A", 100, []float64{-0.01, 0.002}, testStart)
	require.Len(t, out, 1)
	assert.Equal(t, trade.DirectionBuy, out[0].Direction)
	assert.Equal(t, "MACD zero line bullish crossover: 0.0020", out[0].Rationale)
	assert.InDelta(t, 0.2, out[0].Confidence, 1e-9)

	out = s.evaluate("A", 100, []float64{0.01, -0.05}, testStart)
	require.Len(t, out, 1)
	assert.Equal(t, trade.DirectionSell, out[0].Direction)
	assert.InDelta(t, 1.0, out[0].Confidence, 1e-9)

	assert.Empty(t, s.evaluate("A", 100, []float64{0.01, 0.02}, testStart))
}

func TestMACD_ExitRules(t *testing.T) {
	cfg := testConfig("hist", "macd_histogram")
	cfg.Histogram.Threshold = 0.5
	hist, err := NewMACDHistogram(cfg, nil)
	require.NoError(t, err)

	nan := math.NaN()
	cases := []struct {
		name string
		exit func() bool
		want bool
	}{
		{"crossover long below signal", func() bool { return crossoverExit(trade.SideBuy, 1, 2) }, true},
		{"crossover long above signal", func() bool { return crossoverExit(trade.SideBuy, 2, 1) }, false},
		{"crossover short above signal", func() bool { return crossoverExit(trade.SideSell, 2, 1) }, true},
		{"crossover short below signal", func() bool { return crossoverExit(trade.SideSell, 1, 2) }, false},
		{"crossover equal", func() bool { return crossoverExit(trade.SideBuy, 1, 1) }, false},
		{"crossover nan", func() bool { return crossoverExit(trade.SideBuy, nan, 1) }, false},

		{"histogram long below band", func() bool { return hist.exitOn(trade.SideBuy, -0.6) }, true},
		{"histogram long inside band", func() bool { return hist.exitOn(trade.SideBuy, -0.4) }, false},
		{"histogram long at band", func() bool { return hist.exitOn(trade.SideBuy, -0.5) }, false},
		{"histogram short above band", func() bool { return hist.exitOn(trade.SideSell, 0.6) }, true},
		{"histogram short inside band", func() bool { return hist.exitOn(trade.SideSell, 0.4) }, false},
		{"histogram nan", func() bool { return hist.exitOn(trade.SideSell, nan) }, false},

		{"zero line long below zero", func() bool { return zeroLineExit(trade.SideBuy, -0.01) }, true},
		{"zero line long above zero", func() bool { return zeroLineExit(trade.SideBuy, 0.01) }, false},
		{"zero line short above zero", func() bool { return zeroLineExit(trade.SideSell, 0.01) }, true},
		{"zero line short below zero", func() bool { return zeroLineExit(trade.SideSell, -0.01) }, false},
		{"zero line at zero", func() bool { return zeroLineExit(trade.SideSell, 0) }, false},
		{"zero line nan", func() bool { return zeroLineExit(trade.SideBuy, nan) }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.exit())
		})
	}
}
