package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"algo-engine/internal/exchange"
	"algo-engine/internal/trade"
)

type orderClient interface {
	CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error)
	CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error)
}

// Options 控制下单参数。
type Options struct {
	Slippage    float64
	TimeInForce string
	MaxRetry    int
}

// Executor 通过 ccxt 向交易所提交订单。
type Executor struct {
	client  orderClient
	logger  *zap.Logger
	opts    Options
	backoff time.Duration
	now     func() time.Time
}

// NewExecutor 创建执行器。
func NewExecutor(client orderClient, opts Options, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = 3
	}
	return &Executor{
		client:  client,
		logger:  logger,
		opts:    opts,
		backoff: time.Second,
		now:     time.Now,
	}
}

// Execute 提交订单，遇到可重试错误时按线性退避重试。
func (e *Executor) Execute(ctx context.Context, order Order) (trade.Fill, error) {
	if err := order.Validate(); err != nil {
		return trade.Fill{}, err
	}

	params := buildParams(order, e.opts)

	var (
		placed ccxt.Order
		err    error
	)
	for attempt := 1; attempt <= e.opts.MaxRetry; attempt++ {
		placed, err = e.submit(order, params)
		if err == nil {
			break
		}
		if !exchange.IsRetryable(err) {
			return trade.Fill{}, fmt.Errorf("execution: 下单失败: %w", err)
		}
		if attempt == e.opts.MaxRetry {
			return trade.Fill{}, fmt.Errorf("execution: 重试后仍下单失败: %w", err)
		}

		wait := time.Duration(attempt) * e.backoff
		e.logger.Warn("下单失败，准备重试",
			zap.String("symbol", order.Symbol),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return trade.Fill{}, ctx.Err()
		case <-time.After(wait):
		}
	}

	fill := fillFromOrder(order, placed, e.now())
	e.logger.Info("订单已成交",
		zap.String("order_id", fill.OrderID),
		zap.String("symbol", fill.Symbol),
		zap.String("side", string(fill.Side)),
		zap.Int("quantity", fill.Quantity),
		zap.Float64("price", fill.Price),
	)
	return fill, nil
}

func (e *Executor) submit(order Order, params map[string]interface{}) (ccxt.Order, error) {
	side := strings.ToLower(string(order.Side))
	switch order.Kind {
	case trade.OrderMarket, "":
		return e.client.CreateMarketOrder(order.Symbol, side, float64(order.Quantity), ccxt.WithCreateMarketOrderParams(params))
	case trade.OrderLimit:
		return e.client.CreateLimitOrder(order.Symbol, side, float64(order.Quantity), order.Price, ccxt.WithCreateLimitOrderParams(params))
	default:
		return ccxt.Order{}, fmt.Errorf("execution: 不支持的订单类型 %s", order.Kind)
	}
}

func formatSlippage(value float64) string {
	return fmt.Sprintf("%.6f", value)
}

func buildParams(order Order, opts Options) map[string]interface{} {
	params := map[string]interface{}{
		"reduceOnly": order.ReduceOnly,
	}
	if order.SignalID != "" {
		params["clientOrderId"] = clientOrderID(order.SignalID)
	}
	if opts.Slippage > 0 {
		params["slippage"] = formatSlippage(opts.Slippage)
	}
	if opts.TimeInForce != "" {
		params["timeInForce"] = strings.ToUpper(opts.TimeInForce)
	}
	if !order.ReduceOnly {
		if order.StopLoss > 0 {
			params["stopLossPrice"] = order.StopLoss
		}
		if order.Target > 0 {
			params["takeProfitPrice"] = order.Target
		}
	}
	return params
}

// clientOrderID 交易所限制长度，截取信号 ID 去掉连字符后的前 32 位。
func clientOrderID(signalID string) string {
	id := strings.ReplaceAll(signalID, "-", "")
	if len(id) > 32 {
		id = id[:32]
	}
	return id
}

func fillFromOrder(order Order, placed ccxt.Order, now time.Time) trade.Fill {
	fill := trade.Fill{
		Symbol:    order.Symbol,
		Side:      order.Side,
		Price:     order.Price,
		Quantity:  order.Quantity,
		Timestamp: now.UTC(),
	}
	if placed.Id != nil {
		fill.OrderID = *placed.Id
	}
	if placed.Average != nil && *placed.Average > 0 {
		fill.Price = *placed.Average
	} else if placed.Price != nil && *placed.Price > 0 {
		fill.Price = *placed.Price
	}
	if placed.Filled != nil && *placed.Filled > 0 {
		fill.Quantity = int(*placed.Filled)
	}
	if placed.Timestamp != nil && *placed.Timestamp > 0 {
		fill.Timestamp = time.UnixMilli(*placed.Timestamp).UTC()
	}
	return fill
}
