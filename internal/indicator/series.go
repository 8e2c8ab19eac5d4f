package indicator

import (
	"math"
	"time"

	"algo-engine/internal/exchange"
)

// Series 将K线数据拆分为便于指标计算的序列，最新一根在末尾。
type Series struct {
	Timestamps []time.Time
	Open       []float64
	High       []float64
	Low        []float64
	Close      []float64
	Volume     []float64
}

// NewSeries 从交易所K线创建 Series，调用方需保证按时间升序排列。
func NewSeries(candles []exchange.Candle) Series {
	length := len(candles)
	series := Series{
		Timestamps: make([]time.Time, length),
		Open:       make([]float64, length),
		High:       make([]float64, length),
		Low:        make([]float64, length),
		Close:      make([]float64, length),
		Volume:     make([]float64, length),
	}

	for i := 0; i < length; i++ {
		candle := candles[i]
		series.Timestamps[i] = candle.Timestamp.UTC()
		series.Open[i] = candle.Open
		series.High[i] = candle.High
		series.Low[i] = candle.Low
		series.Close[i] = candle.Close
		series.Volume[i] = candle.Volume
	}

	return series
}

// FromCloses 仅用收盘价构建序列，时间戳按小时递增，主要用于测试与离线计算。
func FromCloses(start time.Time, closes []float64) Series {
	candles := make([]exchange.Candle, len(closes))
	for i, c := range closes {
		candles[i] = exchange.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
		}
	}
	return NewSeries(candles)
}

// Len 返回序列长度。
func (s Series) Len() int {
	return len(s.Close)
}

// LastClose 返回最新收盘价，若为空则返回 NaN。
func (s Series) LastClose() float64 {
	return Last(s.Close)
}

// LastTime 返回最新K线时间，空序列返回零值。
func (s Series) LastTime() time.Time {
	if len(s.Timestamps) == 0 {
		return time.Time{}
	}
	return s.Timestamps[len(s.Timestamps)-1]
}

// Tail 返回末尾 n 根K线组成的新序列，不足时返回全部。
func (s Series) Tail(n int) Series {
	if n >= s.Len() {
		return s
	}
	if n <= 0 {
		return Series{}
	}
	from := s.Len() - n
	out := Series{
		Close: s.Close[from:],
	}
	if len(s.Timestamps) == s.Len() {
		out.Timestamps = s.Timestamps[from:]
	}
	if len(s.Open) == s.Len() {
		out.Open = s.Open[from:]
	}
	if len(s.High) == s.Len() {
		out.High = s.High[from:]
	}
	if len(s.Low) == s.Len() {
		out.Low = s.Low[from:]
	}
	if len(s.Volume) == s.Len() {
		out.Volume = s.Volume[from:]
	}
	return out
}

// Last 返回序列最后一个值，若为空则返回 NaN。
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// Prev 返回序列倒数第二个值，若不足两个元素则返回 NaN。
func Prev(values []float64) float64 {
	return Back(values, 1)
}

// Back 返回从末尾往前数第 n 个值（0 为最后一个），越界返回 NaN。
func Back(values []float64, n int) float64 {
	idx := len(values) - 1 - n
	if n < 0 || idx < 0 {
		return math.NaN()
	}
	return values[idx]
}

// SliceTail 返回序列末尾 n 个值的拷贝，不足时返回全部。
func SliceTail(values []float64, n int) []float64 {
	if n <= 0 || len(values) == 0 {
		return nil
	}
	if len(values) <= n {
		dst := make([]float64, len(values))
		copy(dst, values)
		return dst
	}
	dst := make([]float64, n)
	copy(dst, values[len(values)-n:])
	return dst
}

// SafeDivide 除法保护，除数为0时返回0。
func SafeDivide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
