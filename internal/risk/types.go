package risk

import (
	"time"

	"algo-engine/internal/trade"
)

// Level 为风险等级，按 LOW < MEDIUM < HIGH < CRITICAL 单调递增。
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

func (l Level) rank() int {
	switch l {
	case LevelMedium:
		return 1
	case LevelHigh:
		return 2
	case LevelCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast 判断等级是否不低于 other。
func (l Level) AtLeast(other Level) bool {
	return l.rank() >= other.rank()
}

// 拒绝原因与告警文案，供外部告警系统匹配。
const (
	WarnDailyTradeLimit = "Daily trade limit exceeded"
	WarnDailyLossLimit  = "Daily loss limit exceeded"
	WarnCorrelation     = "Adding this position may increase correlation risk"

	RecReducePositions = "Reduce position sizes to lower portfolio risk"
	RecReduceActivity  = "Consider reducing trading activity due to daily losses"
	RecApproachLimit   = "Approaching daily trade limit"
)

// PositionRisk 为单笔交易的校验结果。
type PositionRisk struct {
	Symbol       string     `json:"symbol"`
	Side         trade.Side `json:"side"`
	Quantity     int        `json:"quantity"`
	EntryPrice   float64    `json:"entry_price"`
	CurrentPrice float64    `json:"current_price"`
	StopLoss     float64    `json:"stop_loss"`
	Target       float64    `json:"target"`
	MaxLoss      float64    `json:"max_loss"`
	RiskPercent  float64    `json:"risk_percent"`
	Level        Level      `json:"level"`
	Valid        bool       `json:"valid"`
	Warnings     []string   `json:"warnings"`
}

// Metrics 为组合层面的风险快照，每次调用重新计算。
type Metrics struct {
	PortfolioValue  float64  `json:"portfolio_value"`
	MaxRisk         float64  `json:"max_risk"`
	CurrentRisk     float64  `json:"current_risk"`
	RiskPercent     float64  `json:"risk_percent"`
	MaxLoss         float64  `json:"max_loss"`
	Level           Level    `json:"level"`
	Recommendations []string `json:"recommendations"`
}

// DailyStatus 为当日计数器。
type DailyStatus struct {
	Date      string  `json:"date"`
	Trades    int     `json:"trades"`
	MaxTrades int     `json:"max_trades"`
	PnL       float64 `json:"pnl"`
	MaxLoss   float64 `json:"max_loss"`
}

// Report 汇总组合指标、当日状态与超限项。
type Report struct {
	Timestamp       time.Time   `json:"timestamp"`
	Portfolio       Metrics     `json:"portfolio_metrics"`
	Daily           DailyStatus `json:"daily_metrics"`
	Positions       int         `json:"positions"`
	Violations      []string    `json:"risk_violations"`
	Recommendations []string    `json:"recommendations"`
}

// trackedPosition 为风控镜像的持仓，最大亏损按入场价与止损价计算。
type trackedPosition struct {
	trade.Position
	maxLoss float64
}
