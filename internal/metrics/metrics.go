package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "algo_engine"

// Recorder 汇总引擎的 prometheus 指标，使用独立 registry 以便测试隔离。
type Recorder struct {
	registry *prometheus.Registry

	signals     *prometheus.CounterVec
	validations *prometheus.CounterVec
	executions  *prometheus.CounterVec
	exits       *prometheus.CounterVec
	tickLatency prometheus.Histogram
	tickErrors  prometheus.Counter

	portfolioRisk  prometheus.Gauge
	portfolioValue prometheus.Gauge
	dailyPnL       prometheus.Gauge
	dailyTrades    prometheus.Gauge
	openPositions  prometheus.Gauge
}

// New 创建并注册全部指标。
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "signals_total",
			Help:      "Signals generated by strategy and direction",
		}, []string{"strategy", "direction", "outcome"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "validations_total",
			Help:      "Trade validations by resulting risk level",
		}, []string{"level", "valid"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "orders_total",
			Help:      "Submitted orders by side and status",
		}, []string{"side", "status"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "exits_total",
			Help:      "Closed positions by strategy and reason",
		}, []string{"strategy", "reason"}),
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tick_duration_seconds",
			Help:      "Duration of a full evaluation tick",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		tickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tick_errors_total",
			Help:      "Ticks that finished with at least one error",
		}),
		portfolioRisk: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "portfolio_risk_percent",
			Help:      "Aggregate max loss as a percent of portfolio value",
		}),
		portfolioValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "portfolio_value",
			Help:      "Capital base plus unrealized PnL",
		}),
		dailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "daily_pnl",
			Help:      "Realized PnL for the current trading day",
		}),
		dailyTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "daily_trades",
			Help:      "Trades executed in the current trading day",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "open_positions",
			Help:      "Positions tracked by the risk manager",
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.signals, r.validations, r.executions, r.exits,
		r.tickLatency, r.tickErrors,
		r.portfolioRisk, r.portfolioValue, r.dailyPnL, r.dailyTrades, r.openPositions,
	)
	return r
}

// Registry 返回底层 registry。
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler 返回 /metrics 处理器。
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Signal 计数信号，outcome 取值 accepted | dropped | rejected。
func (r *Recorder) Signal(strategy, direction, outcome string) {
	r.signals.WithLabelValues(strategy, direction, outcome).Inc()
}

func (r *Recorder) Validation(level string, valid bool) {
	v := "false"
	if valid {
		v = "true"
	}
	r.validations.WithLabelValues(level, v).Inc()
}

func (r *Recorder) Execution(side, status string) {
	r.executions.WithLabelValues(side, status).Inc()
}

func (r *Recorder) Exit(strategy, reason string) {
	r.exits.WithLabelValues(strategy, reason).Inc()
}

// ObserveTick 记录一次 Tick 的耗时与结果。
func (r *Recorder) ObserveTick(seconds float64, failed bool) {
	r.tickLatency.Observe(seconds)
	if failed {
		r.tickErrors.Inc()
	}
}

// RiskSnapshot 为风控仪表所需的数值。
type RiskSnapshot struct {
	PortfolioValue float64
	RiskPercent    float64
	DailyPnL       float64
	DailyTrades    int
	OpenPositions  int
}

// SetRisk 刷新风控仪表。
func (r *Recorder) SetRisk(s RiskSnapshot) {
	r.portfolioValue.Set(s.PortfolioValue)
	r.portfolioRisk.Set(s.RiskPercent)
	r.dailyPnL.Set(s.DailyPnL)
	r.dailyTrades.Set(float64(s.DailyTrades))
	r.openPositions.Set(float64(s.OpenPositions))
}
