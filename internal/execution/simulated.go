package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"algo-engine/internal/trade"
)

// SimulatedExecutor 为纸面交易执行器，按指令价格加滑点即时成交。
type SimulatedExecutor struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	fills []trade.Fill
}

// NewSimulatedExecutor 创建模拟执行器。
func NewSimulatedExecutor(opts Options, logger *zap.Logger) *SimulatedExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulatedExecutor{
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Execute 立即以滑点调整后的价格全部成交。
func (s *SimulatedExecutor) Execute(ctx context.Context, order Order) (trade.Fill, error) {
	if err := ctx.Err(); err != nil {
		return trade.Fill{}, err
	}
	if err := order.Validate(); err != nil {
		return trade.Fill{}, err
	}
	if !(order.Price > 0) {
		return trade.Fill{}, fmt.Errorf("execution: 模拟成交需要参考价格 price=%.4f", order.Price)
	}

	price := order.Price * (1 + s.opts.Slippage)
	if order.Side == trade.SideSell {
		price = order.Price * (1 - s.opts.Slippage)
	}

	fill := trade.Fill{
		OrderID:   "paper-" + uuid.NewString(),
		Symbol:    order.Symbol,
		Side:      order.Side,
		Price:     price,
		Quantity:  order.Quantity,
		Timestamp: s.now().UTC(),
	}

	s.mu.Lock()
	s.fills = append(s.fills, fill)
	s.mu.Unlock()

	s.logger.Info("模拟成交",
		zap.String("order_id", fill.OrderID),
		zap.String("symbol", fill.Symbol),
		zap.String("side", string(fill.Side)),
		zap.Int("quantity", fill.Quantity),
		zap.Float64("price", fill.Price),
		zap.Bool("reduce_only", order.ReduceOnly),
	)
	return fill, nil
}

// Fills 返回历史成交副本。
func (s *SimulatedExecutor) Fills() []trade.Fill {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]trade.Fill, len(s.fills))
	copy(out, s.fills)
	return out
}
