package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-engine/internal/config"
	"algo-engine/internal/store"
	"algo-engine/internal/trade"
)

func defaultRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		PortfolioValue:             100000,
		MaxPositionSize:            100000,
		MaxDailyLoss:               5000,
		MaxDailyTrades:             50,
		MaxPortfolioRisk:           0.02,
		MaxCorrelationRisk:         0.3,
		DefaultStopLossPercent:     2,
		DefaultTargetPercent:       2,
		DefaultTrailingStopPercent: 1,
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, cfg config.RiskConfig) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)}
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)
	m.now = clock.Now
	m.resetDate = m.today()
	return m, clock
}

func TestNewManager_InvalidConfig(t *testing.T) {
	cfg := defaultRiskConfig()
	cfg.MaxDailyTrades = 0
	_, err := NewManager(cfg, nil)
	assert.Error(t, err)
}

func TestValidateTrade_LowRiskScenario(t *testing.T) {
	m, _ := newTestManager(t, defaultRiskConfig())

	res := m.ValidateTrade("XYZ", 100, 500, trade.SideBuy, nil)
	assert.Equal(t, 100, res.Quantity)
	assert.InDelta(t, 490, res.StopLoss, 1e-9)
	assert.InDelta(t, 1000, res.MaxLoss, 1e-6)
	assert.InDelta(t, 1.0, res.RiskPercent, 1e-9)
	assert.Equal(t, LevelLow, res.Level)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Warnings)
	assert.InDelta(t, 510, res.Target, 1e-9)
}

func TestValidateTrade_DailyTradeLimit(t *testing.T) {
	m, _ := newTestManager(t, defaultRiskConfig())
	for i := 0; i < 50; i++ {
		m.IncrementDailyTrades()
	}

	res := m.ValidateTrade("XYZ", 100, 500, trade.SideBuy, nil)
	assert.Equal(t, 0, res.Quantity)
	assert.Equal(t, LevelCritical, res.Level)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{WarnDailyTradeLimit}, res.Warnings)
}

func TestValidateTrade_DailyLossLimit(t *testing.T) {
	m, _ := newTestManager(t, defaultRiskConfig())
	m.UpdateDailyPnL(-3000)
	m.UpdateDailyPnL(-2000)

	res := m.ValidateTrade("XYZ", 10, 500, trade.SideSell, nil)
	assert.False(t, res.Valid)
	assert.Equal(t, LevelCritical, res.Level)
	assert.Equal(t, []string{WarnDailyLossLimit}, res.Warnings)
}

func TestValidateTrade_ShrinksOversizedTrade(t *testing.T) {
	m, _ := newTestManager(t, defaultRiskConfig())

	stop := 990.0
	res := m.ValidateTrade("XYZ", 500, 1000, trade.SideBuy, &stop)
	assert.Equal(t, 100, res.Quantity)
	assert.InDelta(t, 1000, res.MaxLoss, 1e-9)
	assert.Contains(t, res.Warnings, "Position size (100000.00) is close to maximum limit (100000.00)")
	assert.False(t, res.Valid)
}

func TestValidateTrade_ShortUsesStopAbove(t *testing.T) {
	m, _ := newTestManager(t, defaultRiskConfig())

	res := m.ValidateTrade("XYZ", 10, 100, trade.SideSell, nil)
	assert.InDelta(t, 102, res.StopLoss, 1e-9)
	assert.InDelta(t, 98, res.Target, 1e-9)
	assert.InDelta(t, 20, res.MaxLoss, 1e-9)
	assert.True(t, res.Valid)
}

func TestValidateTrade_Warnings(t *testing.T) {
	m, _ := newTestManager(t, defaultRiskConfig())

	stop := 400.0
	res := m.ValidateTrade("XYZ", 50, 500, trade.SideBuy, &stop)
	// max_loss 5000 => 5% 风险
	assert.Equal(t, LevelCritical, res.Level)
	assert.Contains(t, res.Warnings, "Position risk (5.00%) exceeds portfolio limit (2.00%)")
	assert.Contains(t, res.Warnings, "Potential loss (5000.00) is significant relative to daily limit (5000.00)")
	assert.False(t, res.Valid)
}

func TestValidateTrade_CorrelationNeedsTwoPositions(t *testing.T) {
	m, _ := newTestManager(t, defaultRiskConfig())

	m.UpdatePosition(trade.Position{Symbol: "A", Side: trade.SideBuy, Quantity: 100, EntryPrice: 100, CurrentPrice: 100, StopLoss: 99})
	res := m.ValidateTrade("C", 100, 300, trade.SideBuy, trade.Float(299))
	assert.NotContains(t, res.Warnings, WarnCorrelation, "单一持仓不检查相关性")

	m.UpdatePosition(trade.Position{Symbol: "B", Side: trade.SideBuy, Quantity: 100, EntryPrice: 100, CurrentPrice: 100, StopLoss: 99})
	res = m.ValidateTrade("C", 100, 300, trade.SideBuy, trade.Float(299))
	assert.Contains(t, res.Warnings, WarnCorrelation)
	assert.False(t, res.Valid)
}

func TestValidateTrade_InvalidPrice(t *testing.T) {
	m, _ := newTestManager(t, defaultRiskConfig())
	res := m.ValidateTrade("XYZ", 10, 0, trade.SideBuy, nil)
	assert.False(t, res.Valid)
	assert.Equal(t, 0, res.Quantity)
}

func TestClassify_Monotonic(t *testing.T) {
	prev := LevelLow
	for pct := 0.0; pct <= 5; pct += 0.01 {
		level := Classify(pct, 0.02)
		assert.True(t, level.AtLeast(prev), "pct=%.2f level=%s prev=%s", pct, level, prev)
		prev = level
	}

	assert.Equal(t, LevelLow, Classify(1.0, 0.02), "恰为 50% 上限仍为 LOW")
	assert.Equal(t, LevelMedium, Classify(1.2, 0.02))
	assert.Equal(t, LevelHigh, Classify(1.5, 0.02))
	assert.Equal(t, LevelHigh, Classify(1.6, 0.02))
	assert.Equal(t, LevelCritical, Classify(2.0, 0.02))
}

func TestDailyRollover(t *testing.T) {
	m, clock := newTestManager(t, defaultRiskConfig())

	m.IncrementDailyTrades()
	m.UpdateDailyPnL(-120.5)

	first := m.DailyStatus()
	second := m.DailyStatus()
	assert.Equal(t, first, second, "同日重复对齐不改变计数")
	assert.Equal(t, 1, first.Trades)
	assert.InDelta(t, -120.5, first.PnL, 1e-9)
	assert.Equal(t, "2025-06-02", first.Date)

	clock.Advance(24 * time.Hour)
	next := m.DailyStatus()
	assert.Equal(t, "2025-06-03", next.Date)
	assert.Zero(t, next.Trades)
	assert.Zero(t, next.PnL)
}

func TestPositionSize_Caps(t *testing.T) {
	m, _ := newTestManager(t, defaultRiskConfig())

	// 单位风险 10：风险额度 1005 => 100
	assert.Equal(t, 100, m.PositionSize("XYZ", 500, 1005, 0))
	// 单位风险 15：组合预算 2000/15 => 133
	assert.Equal(t, 133, m.PositionSize("XYZ", 500, 50000, 3))
	// 市值上限 100000/30000 => 3
	assert.Equal(t, 3, m.PositionSize("XYZ", 30000, 1e9, 1))

	assert.Equal(t, 0, m.PositionSize("XYZ", 0, 1000, 0))
	assert.Equal(t, 0, m.PositionSize("XYZ", 500, -5, 0))
}

func TestPortfolioRiskMetricsAndLimits(t *testing.T) {
	m, _ := newTestManager(t, defaultRiskConfig())

	metrics := m.PortfolioRiskMetrics()
	assert.Equal(t, LevelLow, metrics.Level)
	assert.Empty(t, metrics.Recommendations)
	assert.Empty(t, m.CheckRiskLimits())

	m.UpdatePosition(trade.Position{Symbol: "A", Side: trade.SideBuy, Quantity: 100, EntryPrice: 500, CurrentPrice: 500, StopLoss: 480})
	metrics = m.PortfolioRiskMetrics()
	assert.InDelta(t, 2000, metrics.CurrentRisk, 1e-9)
	assert.InDelta(t, 2.0, metrics.RiskPercent, 1e-9)
	assert.Equal(t, LevelCritical, metrics.Level)
	assert.NotContains(t, metrics.Recommendations, RecReducePositions, "恰好等于上限不建议减仓")
	assert.InDelta(t, 2000, metrics.MaxRisk, 1e-9)

	m.UpdatePosition(trade.Position{Symbol: "B", Side: trade.SideBuy, Quantity: 100, EntryPrice: 500, CurrentPrice: 500, StopLoss: 495})
	limits := m.CheckRiskLimits()
	assert.Equal(t, []string{"Portfolio risk limit breached: 2.50%"}, limits)
	assert.Contains(t, m.PortfolioRiskMetrics().Recommendations, RecReducePositions)

	for i := 0; i < 41; i++ {
		m.IncrementDailyTrades()
	}
	m.UpdateDailyPnL(-3000)
	metrics = m.PortfolioRiskMetrics()
	assert.Contains(t, metrics.Recommendations, RecReduceActivity)
	assert.Contains(t, metrics.Recommendations, RecApproachLimit)
	assert.Equal(t, limits, m.CheckRiskLimits(), "查询不产生副作用")

	pos, ok := m.Position("A")
	require.True(t, ok)
	assert.Equal(t, 100, pos.Quantity)

	assert.True(t, m.RemovePosition("A"))
	assert.False(t, m.RemovePosition("A"))
	assert.Len(t, m.Positions(), 1)
}

func TestPortfolioRiskMetrics_HighWithoutBreach(t *testing.T) {
	m, _ := newTestManager(t, defaultRiskConfig())
	m.UpdatePosition(trade.Position{Symbol: "A", Side: trade.SideBuy, Quantity: 100, EntryPrice: 500, CurrentPrice: 500, StopLoss: 484})

	metrics := m.PortfolioRiskMetrics()
	assert.InDelta(t, 1.6, metrics.RiskPercent, 1e-9)
	assert.Equal(t, LevelHigh, metrics.Level)
	assert.Empty(t, metrics.Recommendations)
	assert.Empty(t, m.CheckRiskLimits())
}

func TestUpdatePosition_TrailedStopCarriesNoRisk(t *testing.T) {
	m, _ := newTestManager(t, defaultRiskConfig())
	m.UpdatePosition(trade.Position{Symbol: "L", Side: trade.SideBuy, Quantity: 10, EntryPrice: 100, CurrentPrice: 110, StopLoss: 105})
	m.UpdatePosition(trade.Position{Symbol: "S", Side: trade.SideSell, Quantity: 10, EntryPrice: 100, CurrentPrice: 90, StopLoss: 95})
	assert.InDelta(t, 0, m.PortfolioRiskMetrics().CurrentRisk, 1e-9)

	m.UpdatePosition(trade.Position{Symbol: "S", Side: trade.SideSell, Quantity: 10, EntryPrice: 100, CurrentPrice: 100, StopLoss: 102})
	assert.InDelta(t, 20, m.PortfolioRiskMetrics().CurrentRisk, 1e-9)
}

func TestCheckRiskLimits_DailyBreaches(t *testing.T) {
	m, _ := newTestManager(t, defaultRiskConfig())
	for i := 0; i < 50; i++ {
		m.IncrementDailyTrades()
	}
	m.UpdateDailyPnL(-5000)

	assert.Equal(t, []string{
		"Daily loss limit breached: -5000.00",
		"Daily trade limit breached: 50",
	}, m.CheckRiskLimits())

	report := m.RiskReport()
	assert.Len(t, report.Violations, 2)
	assert.Equal(t, 50, report.Daily.Trades)
	assert.Equal(t, 0, report.Positions)
}

func TestPortfolioValue_IncludesUnrealized(t *testing.T) {
	m, _ := newTestManager(t, defaultRiskConfig())
	m.UpdatePosition(trade.Position{Symbol: "A", Side: trade.SideBuy, Quantity: 10, EntryPrice: 100, CurrentPrice: 150})
	assert.InDelta(t, 100500, m.PortfolioValue(), 1e-9)

	m.SetPortfolioValue(50000)
	assert.InDelta(t, 50500, m.PortfolioValue(), 1e-9)
	m.SetPortfolioValue(-1)
	assert.InDelta(t, 50500, m.PortfolioValue(), 1e-9)
}

func TestManagerStopHelpers(t *testing.T) {
	m, _ := newTestManager(t, defaultRiskConfig())
	assert.InDelta(t, 98, m.StopLoss(100, trade.SideBuy), 1e-9)
	assert.InDelta(t, 102, m.StopLoss(100, trade.SideSell), 1e-9)
	assert.InDelta(t, 102, m.Target(100, trade.SideBuy), 1e-9)
	assert.InDelta(t, 118.8, m.TrailingStop(100, 120, trade.SideBuy), 1e-9)
	assert.InDelta(t, 98, m.TrailingStop(100, 90, trade.SideBuy), 1e-9)
}

func TestManager_ConcurrentUpdates(t *testing.T) {
	m, _ := newTestManager(t, defaultRiskConfig())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementDailyTrades()
			m.UpdateDailyPnL(-1)
			_ = m.ValidateTrade("XYZ", 1, 100, trade.SideBuy, nil)
		}()
	}
	wg.Wait()

	status := m.DailyStatus()
	assert.Equal(t, 20, status.Trades)
	assert.InDelta(t, -20, status.PnL, 1e-9)
}

func TestJournal_RecordDeduplicatesViolations(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewMemory()
	require.NoError(t, err)
	defer st.Close()

	j, err := NewJournal(ctx, st, nil)
	require.NoError(t, err)

	m, _ := newTestManager(t, defaultRiskConfig())
	for i := 0; i < 50; i++ {
		m.IncrementDailyTrades()
	}

	report := m.RiskReport()
	require.NoError(t, j.Record(ctx, report))
	require.NoError(t, j.Record(ctx, m.RiskReport()))

	day, ok, err := j.Day(ctx, "2025-06-02")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 50, day.Trades)
	assert.True(t, day.Halted)
	assert.Equal(t, LevelLow, day.Level)

	events, err := j.Events(ctx, "2025-06-02")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "limit_breach", events[0].Type)
	assert.Equal(t, "Daily trade limit breached: 50", events[0].Message)

	require.NoError(t, j.LogEvent(ctx, "manual", "note", "", "2025-06-02"))
	events, err = j.Events(ctx, "2025-06-02")
	require.NoError(t, err)
	assert.Len(t, events, 2)

	_, ok, err = j.Day(ctx, "2024-01-01")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, j.LogEvent(ctx, "", "x", "", ""))
}
