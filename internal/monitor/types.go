package monitor

import (
	"time"

	"algo-engine/internal/risk"
	"algo-engine/internal/trade"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventSignal         EventType = "signal"
	EventRiskValidation EventType = "risk_validation"
	EventExecution      EventType = "execution"
	EventExit           EventType = "exit"
	EventRiskLimits     EventType = "risk_limits"
	EventError          EventType = "error"
)

// ParseEventType 校验查询参数中的事件类型，空串表示不过滤。
func ParseEventType(s string) (EventType, bool) {
	switch t := EventType(s); t {
	case "", EventSignal, EventRiskValidation, EventExecution, EventExit, EventRiskLimits, EventError:
		return t, true
	default:
		return "", false
	}
}

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// SignalPayload 记录策略产出的候选信号。
type SignalPayload struct {
	Signal trade.Signal `json:"signal"`
	// Dropped 为真表示未达到策略最低置信度被丢弃。
	Dropped bool `json:"dropped"`
}

// RiskValidationPayload 记录风控校验结果。
type RiskValidationPayload struct {
	SignalID string            `json:"signal_id"`
	Strategy string            `json:"strategy"`
	Result   risk.PositionRisk `json:"result"`
}

// ExecutionPayload 记录成交回报。
type ExecutionPayload struct {
	SignalID string     `json:"signal_id"`
	Strategy string     `json:"strategy"`
	Fill     trade.Fill `json:"fill"`
}

// ExitPayload 记录平仓。
type ExitPayload struct {
	Strategy string     `json:"strategy"`
	Reason   string     `json:"reason"`
	Fill     trade.Fill `json:"fill"`
	PnL      float64    `json:"pnl"`
}

// RiskLimitsPayload 记录限额突破。
type RiskLimitsPayload struct {
	Violations []string     `json:"violations"`
	Metrics    risk.Metrics `json:"metrics"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
