package indicator

import (
	"math"

	talib "github.com/markcheno/go-talib"
)

// MACDSeries 保存 MACD 三条序列，预热期内的值为 NaN。
type MACDSeries struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// RSI 计算 Wilder RSI，前 period 个值处于预热期，置为 NaN。
func RSI(closes []float64, period int) []float64 {
	if period < 2 || len(closes) <= period {
		return nanSlice(len(closes))
	}
	out := talib.Rsi(closes, period)
	return maskWarmup(out, period)
}

// RSILookback 返回 RSI 第一个有效值所需的最少K线数。
func RSILookback(period int) int {
	return period + 1
}

// MACD 计算 MACD 线、信号线与柱状图。
func MACD(closes []float64, fast, slow, signal int) MACDSeries {
	n := len(closes)
	if fast < 2 || slow <= fast || signal < 1 || n < MACDLookback(slow, signal) {
		return MACDSeries{Line: nanSlice(n), Signal: nanSlice(n), Histogram: nanSlice(n)}
	}

	line, sig, hist := talib.Macd(closes, fast, slow, signal)

	warmup := MACDLookback(slow, signal) - 1
	return MACDSeries{
		Line:      maskWarmup(line, warmup),
		Signal:    maskWarmup(sig, warmup),
		Histogram: maskWarmup(hist, warmup),
	}
}

// MACDLookback 返回 MACD 第一个有效值所需的最少K线数。
func MACDLookback(slow, signal int) int {
	return slow + signal - 1
}

// CrossedAbove 判断 a 是否在最近一根自下而上穿越 b。
// 任一输入为 NaN 时返回 false。
func CrossedAbove(prevA, prevB, a, b float64) bool {
	if anyNaN(prevA, prevB, a, b) {
		return false
	}
	return prevA <= prevB && a > b
}

// CrossedBelow 判断 a 是否在最近一根自上而下穿越 b。
func CrossedBelow(prevA, prevB, a, b float64) bool {
	if anyNaN(prevA, prevB, a, b) {
		return false
	}
	return prevA >= prevB && a < b
}

func maskWarmup(values []float64, warmup int) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if i < warmup || math.IsInf(v, 0) {
			out[i] = math.NaN()
			continue
		}
		out[i] = v
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func anyNaN(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
