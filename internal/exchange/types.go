package exchange

import "time"

const (
	// Timeframe1h 为默认决策周期。
	Timeframe1h = "1h"
	// Timeframe1d 为日线周期。
	Timeframe1d = "1d"
)

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// SeriesRequest 控制一次多标的K线采集的参数。
type SeriesRequest struct {
	Symbols   []string
	Timeframe string
	Limit     int
}

// DefaultSeriesRequest 返回默认采集参数。
func DefaultSeriesRequest() SeriesRequest {
	return SeriesRequest{
		Timeframe: Timeframe1h,
		Limit:     200,
	}
}
