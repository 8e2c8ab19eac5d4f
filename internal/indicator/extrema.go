package indicator

import "math"

// FindPeaks 返回局部极大值下标：严格大于左侧 order 个点且不小于右侧 order 个点。
// 平台区间只取第一个点。
func FindPeaks(values []float64, order int) []int {
	return scanExtrema(values, order, func(a, b float64) bool { return a > b })
}

// FindTroughs 返回局部极小值下标，规则与 FindPeaks 对称。
func FindTroughs(values []float64, order int) []int {
	return scanExtrema(values, order, func(a, b float64) bool { return a < b })
}

func scanExtrema(values []float64, order int, beats func(a, b float64) bool) []int {
	if order < 1 {
		order = 1
	}
	var out []int
	for i := order; i < len(values)-order; i++ {
		v := values[i]
		if math.IsNaN(v) {
			continue
		}
		if isExtremum(values, i, order, beats) {
			out = append(out, i)
		}
	}
	return out
}

func isExtremum(values []float64, i, order int, beats func(a, b float64) bool) bool {
	v := values[i]
	for j := i - order; j < i; j++ {
		if math.IsNaN(values[j]) || !beats(v, values[j]) {
			return false
		}
	}
	for j := i + 1; j <= i+order; j++ {
		if math.IsNaN(values[j]) || beats(values[j], v) {
			return false
		}
	}
	return true
}
