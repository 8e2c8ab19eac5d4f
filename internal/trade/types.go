package trade

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Side 表示持仓或成交方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 返回相反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Direction 表示信号意图。
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
	DirectionExit Direction = "EXIT"
)

// Side 将开仓类信号映射为成交方向，HOLD/EXIT 返回 false。
func (d Direction) Side() (Side, bool) {
	switch d {
	case DirectionBuy:
		return SideBuy, true
	case DirectionSell:
		return SideSell, true
	default:
		return "", false
	}
}

// OrderKind 表示委托类型。
type OrderKind string

const (
	OrderMarket    OrderKind = "MARKET"
	OrderLimit     OrderKind = "LIMIT"
	OrderStop      OrderKind = "STOP"
	OrderStopLimit OrderKind = "STOP_LIMIT"
)

// Signal 描述一次候选交易，创建后不可修改。
type Signal struct {
	ID           string    `json:"id"`
	Strategy     string    `json:"strategy"`
	Symbol       string    `json:"symbol"`
	Direction    Direction `json:"direction"`
	Price        float64   `json:"price"`
	Quantity     int       `json:"quantity"`
	OrderKind    OrderKind `json:"order_kind"`
	StopLoss     *float64  `json:"stop_loss,omitempty"`
	Target       *float64  `json:"target,omitempty"`
	TrailingStop *float64  `json:"trailing_stop,omitempty"`
	Confidence   float64   `json:"confidence"`
	Rationale    string    `json:"rationale"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewSignal 生成带唯一 ID 的市价信号，置信度截断到 [0,1]。
func NewSignal(strategy, symbol string, dir Direction, price float64, qty int, confidence float64, rationale string, at time.Time) Signal {
	if qty < 0 {
		qty = 0
	}
	return Signal{
		ID:         uuid.NewString(),
		Strategy:   strategy,
		Symbol:     symbol,
		Direction:  dir,
		Price:      price,
		Quantity:   qty,
		OrderKind:  OrderMarket,
		Confidence: ClampUnit(confidence),
		Rationale:  rationale,
		CreatedAt:  at.UTC(),
	}
}

// WithProtection 返回附带止损/止盈价格的副本。
func (s Signal) WithProtection(stop, target float64) Signal {
	s.StopLoss = Float(stop)
	s.Target = Float(target)
	return s
}

// WithTrailingStop 返回附带追踪止损价格的副本。
func (s Signal) WithTrailingStop(trail float64) Signal {
	s.TrailingStop = Float(trail)
	return s
}

// Resized 返回调整数量后的副本。
func (s Signal) Resized(qty int) Signal {
	if qty < 0 {
		qty = 0
	}
	s.Quantity = qty
	return s
}

// Notional 返回信号名义价值。
func (s Signal) Notional() float64 {
	return s.Price * float64(s.Quantity)
}

// Fill 为执行端回报的成交。
type Fill struct {
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
	Quantity  int       `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

// Position 为单一标的的持仓记录。
type Position struct {
	Symbol       string    `json:"symbol"`
	Strategy     string    `json:"strategy"`
	Side         Side      `json:"side"`
	Quantity     int       `json:"quantity"`
	EntryPrice   float64   `json:"entry_price"`
	StopLoss     float64   `json:"stop_loss"`
	Target       float64   `json:"target"`
	EntryTime    time.Time `json:"entry_time"`
	CurrentPrice float64   `json:"current_price"`
	RealizedPnL  float64   `json:"realized_pnl"`
}

// NewPosition 依据成交构建持仓。
func NewPosition(strategy string, fill Fill, stop, target float64) Position {
	return Position{
		Symbol:       fill.Symbol,
		Strategy:     strategy,
		Side:         fill.Side,
		Quantity:     fill.Quantity,
		EntryPrice:   fill.Price,
		StopLoss:     stop,
		Target:       target,
		EntryTime:    fill.Timestamp.UTC(),
		CurrentPrice: fill.Price,
	}
}

// Mark 返回按最新价标记后的副本。
func (p Position) Mark(price float64) Position {
	if price > 0 {
		p.CurrentPrice = price
	}
	return p
}

// MarketValue 返回持仓市值（绝对值）。
func (p Position) MarketValue() float64 {
	price := p.CurrentPrice
	if price <= 0 {
		price = p.EntryPrice
	}
	qty := p.Quantity
	if qty < 0 {
		qty = -qty
	}
	return float64(qty) * price
}

// UnrealizedPnL 返回浮动盈亏。
func (p Position) UnrealizedPnL() float64 {
	if p.CurrentPrice <= 0 {
		return 0
	}
	return p.PnLAt(p.CurrentPrice)
}

// PnLAt 返回在给定价格平仓的盈亏。
func (p Position) PnLAt(price float64) float64 {
	diff := price - p.EntryPrice
	if p.Side == SideSell {
		diff = -diff
	}
	return diff * float64(p.Quantity)
}

// Float 返回值的指针。
func Float(v float64) *float64 {
	return &v
}

// ClampUnit 将数值截断到 [0,1]，NaN 视为 0。
func ClampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
