package trade

import "math"

// StopLossPrice 买入方向为 entry*(1-pct/100)，卖出方向为 entry*(1+pct/100)。
func StopLossPrice(entry float64, side Side, pct float64) float64 {
	if side == SideSell {
		return entry * (1 + pct/100)
	}
	return entry * (1 - pct/100)
}

// TargetPrice 与止损对称，方向相反。
func TargetPrice(entry float64, side Side, pct float64) float64 {
	if side == SideSell {
		return entry * (1 - pct/100)
	}
	return entry * (1 + pct/100)
}

// TrailingStopPrice 追踪止损只会收紧，不会越过初始止损。
func TrailingStopPrice(entry, current float64, side Side, trailPct, stopPct float64) float64 {
	initial := StopLossPrice(entry, side, stopPct)
	if side == SideSell {
		return math.Min(current*(1+trailPct/100), initial)
	}
	return math.Max(current*(1-trailPct/100), initial)
}

// SizeByRisk 按单位风险计算数量并受最大持仓市值约束。
// 单位风险非正或价格非正时返回 0。
func SizeByRisk(price, stop, riskAmount, maxValue float64) int {
	if price <= 0 || riskAmount <= 0 {
		return 0
	}
	perUnit := price - stop
	if perUnit <= 0 || math.IsNaN(perUnit) {
		return 0
	}
	qty := math.Floor(riskAmount / perUnit)
	if maxValue > 0 {
		qty = math.Min(qty, math.Floor(maxValue/price))
	}
	if qty < 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return 0
	}
	return int(qty)
}
