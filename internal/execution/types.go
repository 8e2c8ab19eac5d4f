package execution

import (
	"fmt"

	"algo-engine/internal/trade"
)

// Order 为通过风控后的下单指令。
type Order struct {
	SignalID   string
	Strategy   string
	Symbol     string
	Side       trade.Side
	Kind       trade.OrderKind
	Quantity   int
	Price      float64
	StopLoss   float64
	Target     float64
	ReduceOnly bool
}

// OrderFromSignal 以风控校验后的数量与保护价格构造开仓指令。
func OrderFromSignal(sig trade.Signal, side trade.Side, quantity int, stop, target float64) Order {
	kind := sig.OrderKind
	if kind == "" {
		kind = trade.OrderMarket
	}
	return Order{
		SignalID: sig.ID,
		Strategy: sig.Strategy,
		Symbol:   sig.Symbol,
		Side:     side,
		Kind:     kind,
		Quantity: quantity,
		Price:    sig.Price,
		StopLoss: stop,
		Target:   target,
	}
}

// CloseOrder 构造平掉整笔持仓的市价指令。
func CloseOrder(pos trade.Position, price float64) Order {
	return Order{
		Strategy:   pos.Strategy,
		Symbol:     pos.Symbol,
		Side:       pos.Side.Opposite(),
		Kind:       trade.OrderMarket,
		Quantity:   pos.Quantity,
		Price:      price,
		ReduceOnly: true,
	}
}

// Validate 校验指令的基本字段。
func (o Order) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("execution: symbol 不能为空")
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("execution: 下单数量无效 quantity=%d", o.Quantity)
	}
	if o.Side != trade.SideBuy && o.Side != trade.SideSell {
		return fmt.Errorf("execution: 下单方向无效 %q", o.Side)
	}
	if o.Kind != trade.OrderMarket && !(o.Price > 0) {
		return fmt.Errorf("execution: 限价单价格无效 price=%.4f", o.Price)
	}
	return nil
}
