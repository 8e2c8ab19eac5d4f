package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxConcurrentFetch = 4

type candleFetcher interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int64) ([]Candle, error)
}

// MarketDataService 并发拉取多个标的的K线。
type MarketDataService struct {
	client candleFetcher
	logger *zap.Logger
}

// NewMarketDataService 创建市场数据服务。
func NewMarketDataService(client candleFetcher, logger *zap.Logger) *MarketDataService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketDataService{
		client: client,
		logger: logger,
	}
}

// FetchAll 拉取全部标的K线。单个标的失败不会中断其余标的，
// 失败信息合并在返回的 error 中，成功部分照常返回。
func (s *MarketDataService) FetchAll(ctx context.Context, req SeriesRequest) (map[string][]Candle, error) {
	defaultReq := DefaultSeriesRequest()
	if req.Timeframe == "" {
		req.Timeframe = defaultReq.Timeframe
	}
	if req.Limit <= 0 {
		req.Limit = defaultReq.Limit
	}

	var (
		mu      sync.Mutex
		result  = make(map[string][]Candle, len(req.Symbols))
		fetchEr error
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentFetch)

	start := time.Now()
	for _, symbol := range req.Symbols {
		group.Go(func() error {
			candles, err := s.client.FetchCandles(groupCtx, symbol, req.Timeframe, int64(req.Limit))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fetchEr = multierr.Append(fetchEr, fmt.Errorf("%s: %w", symbol, err))
				return nil
			}
			result[symbol] = candles
			return nil
		})
	}

	// 子任务从不返回错误，Wait 仅用于等待
	_ = group.Wait()

	s.logger.Debug("行情采集完成",
		zap.Int("symbols", len(req.Symbols)),
		zap.Int("succeeded", len(result)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(fetchEr),
	)

	return result, fetchEr
}
