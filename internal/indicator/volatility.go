package indicator

import "math"

// TradingDaysPerYear 年化波动率使用的交易日数。
const TradingDaysPerYear = 252

// Returns 计算相邻收盘价的简单收益率，前值非正的位置被跳过。
func Returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev, cur := closes[i-1], closes[i]
		if prev <= 0 || math.IsNaN(prev) || math.IsNaN(cur) {
			continue
		}
		out = append(out, cur/prev-1)
	}
	return out
}

// RealizedVolatility 返回收益率样本标准差乘以 sqrt(252)，样本不足时返回 0。
func RealizedVolatility(closes []float64) float64 {
	return annualize(sampleStdDev(Returns(closes)), TradingDaysPerYear)
}

func annualize(std float64, periods int) float64 {
	return std * math.Sqrt(float64(periods))
}

func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values) - 1)

	return math.Sqrt(variance)
}
