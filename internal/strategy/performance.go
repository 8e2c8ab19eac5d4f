package strategy

import (
	"github.com/shopspring/decimal"
)

// Performance 汇总策略的已实现绩效。
type Performance struct {
	Name          string  `json:"name"`
	Kind          Kind    `json:"kind"`
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	OpenPositions int     `json:"open_positions"`
	SignalCount   int     `json:"signal_count"`
	TradesToday   int     `json:"trades_today"`
}

type performance struct {
	trades   int
	wins     int
	losses   int
	totalPnL decimal.Decimal
	peak     decimal.Decimal
	drawdown decimal.Decimal
}

// add 累加一笔平仓盈亏，回撤按累计盈亏峰值计算。
func (p *performance) add(pnl float64) {
	p.trades++
	switch {
	case pnl > 0:
		p.wins++
	case pnl < 0:
		p.losses++
	}

	p.totalPnL = p.totalPnL.Add(decimal.NewFromFloat(pnl))
	if p.totalPnL.GreaterThan(p.peak) {
		p.peak = p.totalPnL
	}
	if dd := p.peak.Sub(p.totalPnL); dd.GreaterThan(p.drawdown) {
		p.drawdown = dd
	}
}

func (p *performance) winRate() float64 {
	if p.trades == 0 {
		return 0
	}
	return float64(p.wins) / float64(p.trades)
}

// PerformanceSummary 返回当前绩效快照。
func (b *Base) PerformanceSummary() Performance {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reconcileDayLocked()

	return Performance{
		Name:          b.cfg.Name,
		Kind:          b.kind,
		TotalTrades:   b.perf.trades,
		WinningTrades: b.perf.wins,
		LosingTrades:  b.perf.losses,
		WinRate:       b.perf.winRate(),
		TotalPnL:      b.perf.totalPnL.InexactFloat64(),
		MaxDrawdown:   b.perf.drawdown.InexactFloat64(),
		OpenPositions: len(b.positions),
		SignalCount:   b.signals,
		TradesToday:   b.tradesToday,
	}
}
