package risk

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"algo-engine/internal/config"
	"algo-engine/internal/trade"
)

const (
	sizeWarnRatio     = 0.8
	lossWarnRatio     = 0.5
	tradeWarnRatio    = 0.8
	highRiskRatio     = 0.75
	mediumRiskRatio   = 0.5
	correlationMinPos = 1
)

// Manager 为组合级风控闸门，所有操作在同一把锁内完成。
// 任何读写都会先按自然日对齐当日计数器，因此读操作同样需要互斥。
type Manager struct {
	cfg    config.RiskConfig
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	capital     float64
	positions   map[string]trackedPosition
	dailyTrades int
	dailyPnL    decimal.Decimal
	resetDate   string
}

// NewManager 创建风险管理器。
func NewManager(cfg config.RiskConfig, logger *zap.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("risk: 配置无效: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		capital:   cfg.PortfolioValue,
		positions: make(map[string]trackedPosition),
	}
	m.resetDate = m.today()
	return m, nil
}

func (m *Manager) today() string {
	return m.now().UTC().Format(time.DateOnly)
}

// reconcileLocked 跨日时清零当日交易次数与盈亏，同一天内重复调用无副作用。
func (m *Manager) reconcileLocked() {
	today := m.today()
	if today == m.resetDate {
		return
	}
	m.logger.Info("跨日重置风控计数",
		zap.String("from", m.resetDate),
		zap.String("to", today),
		zap.Int("trades", m.dailyTrades),
		zap.String("pnl", m.dailyPnL.StringFixed(2)),
	)
	m.dailyTrades = 0
	m.dailyPnL = decimal.Zero
	m.resetDate = today
}

// portfolioValueLocked 返回资金基数加全部持仓浮动盈亏。
func (m *Manager) portfolioValueLocked() float64 {
	value := m.capital
	for _, p := range m.positions {
		value += p.UnrealizedPnL()
	}
	return value
}

// Classify 按组合风险上限的比例划分等级。
func Classify(riskPercent, maxPortfolioRisk float64) Level {
	limit := maxPortfolioRisk * 100
	switch {
	case riskPercent >= limit:
		return LevelCritical
	case riskPercent >= limit*highRiskRatio:
		return LevelHigh
	case riskPercent > limit*mediumRiskRatio:
		return LevelMedium
	default:
		return LevelLow
	}
}

func rejected(symbol string, side trade.Side, price float64, warning string) PositionRisk {
	return PositionRisk{
		Symbol:       symbol,
		Side:         side,
		EntryPrice:   price,
		CurrentPrice: price,
		Level:        LevelCritical,
		Valid:        false,
		Warnings:     []string{warning},
	}
}

// ValidateTrade 校验并在必要时缩减一笔候选交易，限额突破以无效结果返回而非错误。
func (m *Manager) ValidateTrade(symbol string, quantity int, price float64, side trade.Side, stopLoss *float64) PositionRisk {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reconcileLocked()

	if m.dailyTrades >= m.cfg.MaxDailyTrades {
		return rejected(symbol, side, price, WarnDailyTradeLimit)
	}
	if m.dailyPnL.InexactFloat64() <= -m.cfg.MaxDailyLoss {
		return rejected(symbol, side, price, WarnDailyLossLimit)
	}
	if !(price > 0) {
		return rejected(symbol, side, price, fmt.Sprintf("Invalid price: %.2f", price))
	}
	if quantity < 0 {
		quantity = 0
	}

	value := float64(quantity) * price
	if value > m.cfg.MaxPositionSize {
		quantity = int(math.Floor(m.cfg.MaxPositionSize / price))
		value = float64(quantity) * price
	}

	stop := trade.StopLossPrice(price, side, m.cfg.DefaultStopLossPercent)
	if stopLoss != nil {
		stop = *stopLoss
	}

	maxLoss := math.Abs(price-stop) * float64(quantity)
	portfolio := m.portfolioValueLocked()
	riskPercent := 0.0
	if portfolio > 0 {
		riskPercent = maxLoss / portfolio * 100
	}
	level := Classify(riskPercent, m.cfg.MaxPortfolioRisk)

	var warnings []string
	if limit := m.cfg.MaxPortfolioRisk * 100; riskPercent > limit {
		warnings = append(warnings, fmt.Sprintf("Position risk (%.2f%%) exceeds portfolio limit (%.2f%%)", riskPercent, limit))
	}
	if value > m.cfg.MaxPositionSize*sizeWarnRatio {
		warnings = append(warnings, fmt.Sprintf("Position size (%.2f) is close to maximum limit (%.2f)", value, m.cfg.MaxPositionSize))
	}
	if maxLoss > m.cfg.MaxDailyLoss*lossWarnRatio {
		warnings = append(warnings, fmt.Sprintf("Potential loss (%.2f) is significant relative to daily limit (%.2f)", maxLoss, m.cfg.MaxDailyLoss))
	}
	if m.correlationRiskLocked(value, portfolio) {
		warnings = append(warnings, WarnCorrelation)
	}

	result := PositionRisk{
		Symbol:       symbol,
		Side:         side,
		Quantity:     quantity,
		EntryPrice:   price,
		CurrentPrice: price,
		StopLoss:     stop,
		Target:       trade.TargetPrice(price, side, m.cfg.DefaultTargetPercent),
		MaxLoss:      maxLoss,
		RiskPercent:  riskPercent,
		Level:        level,
		Warnings:     warnings,
		Valid:        len(warnings) == 0 && level != LevelCritical,
	}

	m.logger.Debug("交易风控校验",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Int("quantity", quantity),
		zap.Float64("max_loss", maxLoss),
		zap.Float64("risk_percent", riskPercent),
		zap.String("level", string(level)),
		zap.Bool("valid", result.Valid),
		zap.Strings("warnings", warnings),
	)
	return result
}

// correlationRiskLocked 仅按名义敞口近似相关性风险，不计算统计相关系数。
func (m *Manager) correlationRiskLocked(value, portfolio float64) bool {
	if len(m.positions) <= correlationMinPos {
		return false
	}
	exposure := value
	for _, p := range m.positions {
		exposure += p.MarketValue()
	}
	return exposure > portfolio*m.cfg.MaxCorrelationRisk
}

// PositionSize 取单笔风险、最大持仓市值与组合剩余风险预算三者的最小值。
// stopPercent 非正时使用默认止损百分比。
func (m *Manager) PositionSize(symbol string, price, riskAmount, stopPercent float64) int {
	if !(price > 0) || riskAmount <= 0 {
		return 0
	}
	if stopPercent <= 0 {
		stopPercent = m.cfg.DefaultStopLossPercent
	}
	perUnit := price - trade.StopLossPrice(price, trade.SideBuy, stopPercent)
	if perUnit <= 0 {
		return 0
	}

	m.mu.Lock()
	portfolio := m.portfolioValueLocked()
	m.mu.Unlock()

	qty := math.Floor(riskAmount / perUnit)
	qty = math.Min(qty, math.Floor(m.cfg.MaxPositionSize/price))
	qty = math.Min(qty, math.Floor(portfolio*m.cfg.MaxPortfolioRisk/perUnit))
	if qty <= 0 || math.IsNaN(qty) {
		return 0
	}

	m.logger.Debug("风控仓位测算", zap.String("symbol", symbol), zap.Float64("quantity", qty))
	return int(qty)
}

// StopLoss 以默认止损百分比计算止损价。
func (m *Manager) StopLoss(entry float64, side trade.Side) float64 {
	return trade.StopLossPrice(entry, side, m.cfg.DefaultStopLossPercent)
}

// Target 以默认止盈百分比计算目标价。
func (m *Manager) Target(entry float64, side trade.Side) float64 {
	return trade.TargetPrice(entry, side, m.cfg.DefaultTargetPercent)
}

// TrailingStop 以默认追踪百分比计算追踪止损价。
func (m *Manager) TrailingStop(entry, current float64, side trade.Side) float64 {
	return trade.TrailingStopPrice(entry, current, side, m.cfg.DefaultTrailingStopPercent, m.cfg.DefaultStopLossPercent)
}

// UpdatePosition 写入或覆盖标的持仓镜像。
func (m *Manager) UpdatePosition(pos trade.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked()

	m.positions[pos.Symbol] = trackedPosition{Position: pos, maxLoss: openRisk(pos)}
}

// openRisk 为触及止损时的剩余亏损，追踪止损越过入场价后记为 0。
func openRisk(pos trade.Position) float64 {
	if pos.StopLoss <= 0 {
		return 0
	}
	perUnit := pos.EntryPrice - pos.StopLoss
	if pos.Side == trade.SideSell {
		perUnit = pos.StopLoss - pos.EntryPrice
	}
	return math.Max(0, perUnit) * math.Abs(float64(pos.Quantity))
}

// RemovePosition 删除标的持仓镜像，不存在时返回 false。
func (m *Manager) RemovePosition(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked()

	if _, ok := m.positions[symbol]; !ok {
		return false
	}
	delete(m.positions, symbol)
	return true
}

// UpdateDailyPnL 累加当日已实现盈亏。
func (m *Manager) UpdateDailyPnL(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked()
	m.dailyPnL = m.dailyPnL.Add(decimal.NewFromFloat(pnl))
}

// IncrementDailyTrades 当日交易次数加一。
func (m *Manager) IncrementDailyTrades() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked()
	m.dailyTrades++
}

// SetPortfolioValue 覆盖资金基数，通常来自账户净值同步。
func (m *Manager) SetPortfolioValue(v float64) {
	if v < 0 || math.IsNaN(v) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capital = v
}

// PortfolioValue 返回当前组合价值。
func (m *Manager) PortfolioValue() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.portfolioValueLocked()
}

// Position 返回标的的持仓镜像。
func (m *Manager) Position(symbol string) (trade.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	return p.Position, ok
}

// Positions 返回持仓镜像快照，按标的排序。
func (m *Manager) Positions() []trade.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]trade.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p.Position)
	}
	slices.SortFunc(out, func(a, b trade.Position) int {
		if a.Symbol < b.Symbol {
			return -1
		}
		if a.Symbol > b.Symbol {
			return 1
		}
		return 0
	})
	return out
}

// DailyStatus 返回当日计数器。
func (m *Manager) DailyStatus() DailyStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked()
	return m.dailyStatusLocked()
}

func (m *Manager) dailyStatusLocked() DailyStatus {
	return DailyStatus{
		Date:      m.resetDate,
		Trades:    m.dailyTrades,
		MaxTrades: m.cfg.MaxDailyTrades,
		PnL:       m.dailyPnL.InexactFloat64(),
		MaxLoss:   m.cfg.MaxDailyLoss,
	}
}

// PortfolioRiskMetrics 基于当前持仓重新计算组合风险。
func (m *Manager) PortfolioRiskMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked()
	return m.metricsLocked()
}

func (m *Manager) metricsLocked() Metrics {
	portfolio := m.portfolioValueLocked()

	total := 0.0
	for _, p := range m.positions {
		total += p.maxLoss
	}
	riskPercent := 0.0
	if portfolio > 0 {
		riskPercent = total / portfolio * 100
	}
	level := Classify(riskPercent, m.cfg.MaxPortfolioRisk)

	recs := make([]string, 0, 3)
	if riskPercent > m.cfg.MaxPortfolioRisk*100 {
		recs = append(recs, RecReducePositions)
	}
	if m.dailyPnL.InexactFloat64() < -m.cfg.MaxDailyLoss*lossWarnRatio {
		recs = append(recs, RecReduceActivity)
	}
	if float64(m.dailyTrades) > float64(m.cfg.MaxDailyTrades)*tradeWarnRatio {
		recs = append(recs, RecApproachLimit)
	}

	return Metrics{
		PortfolioValue:  portfolio,
		MaxRisk:         m.cfg.MaxPortfolioRisk * portfolio,
		CurrentRisk:     total,
		RiskPercent:     riskPercent,
		MaxLoss:         total,
		Level:           level,
		Recommendations: recs,
	}
}

// CheckRiskLimits 返回已突破的限额，不修改任何计数。
func (m *Manager) CheckRiskLimits() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked()
	return m.violationsLocked(m.metricsLocked())
}

func (m *Manager) violationsLocked(metrics Metrics) []string {
	var out []string
	if pnl := m.dailyPnL.InexactFloat64(); pnl <= -m.cfg.MaxDailyLoss {
		out = append(out, fmt.Sprintf("Daily loss limit breached: %.2f", pnl))
	}
	if m.dailyTrades >= m.cfg.MaxDailyTrades {
		out = append(out, fmt.Sprintf("Daily trade limit breached: %d", m.dailyTrades))
	}
	if metrics.RiskPercent > m.cfg.MaxPortfolioRisk*100 {
		out = append(out, fmt.Sprintf("Portfolio risk limit breached: %.2f%%", metrics.RiskPercent))
	}
	return out
}

// RiskReport 在一次加锁内生成完整风控报告。
func (m *Manager) RiskReport() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked()

	metrics := m.metricsLocked()
	return Report{
		Timestamp:       m.now().UTC(),
		Portfolio:       metrics,
		Daily:           m.dailyStatusLocked(),
		Positions:       len(m.positions),
		Violations:      m.violationsLocked(metrics),
		Recommendations: metrics.Recommendations,
	}
}
