package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"algo-engine/internal/app"
	"algo-engine/internal/config"
	"algo-engine/internal/log"
	"algo-engine/internal/risk"
	"algo-engine/internal/store"
	"algo-engine/internal/strategy"
)

// scan 以模拟模式执行一轮评估，并以表格输出策略状态与风控报告。
func main() {
	var (
		configPath string
		envFile    string
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，为空时仅使用默认值与环境变量")
	flag.StringVar(&envFile, "env", ".env", "环境变量文件，不存在时忽略")
	flag.Parse()

	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			fmt.Fprintf(os.Stderr, "加载环境变量失败: %v\n", err)
			os.Exit(1)
		}
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath == "" {
		cfg, err = config.LoadDefaults()
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg.Execution.Mode = "paper"
	cfg.Risk.EnableJournal = false

	logger, err := log.NewLogger(config.LoggingConfig{
		Level:            "warn",
		Encoding:         "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	memStore, err := store.NewMemory()
	if err != nil {
		logger.Error("初始化内存数据库失败", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		_ = memStore.Close()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, report, err := app.New(cfg, logger, memStore).Scan(ctx)
	if engine == nil {
		logger.Error("装配引擎失败", zap.Error(err))
		os.Exit(1)
	}
	if err != nil {
		logger.Warn("本轮评估存在失败", zap.Error(err))
	}

	printStrategies(engine.Strategies(), engine.Performance())
	printRisk(report)
}

func printStrategies(strategies []strategy.Strategy, perf []strategy.Performance) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("STRATEGIES")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Name", "Kind", "Signals", "Open", "Trades", "Win Rate", "PnL"})
	for _, p := range perf {
		t.AppendRow(table.Row{
			p.Name,
			p.Kind,
			p.SignalCount,
			p.OpenPositions,
			p.TotalTrades,
			fmt.Sprintf("%.1f%%", p.WinRate*100),
			fmt.Sprintf("%.2f", p.TotalPnL),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	t.Render()

	var rows []table.Row
	for _, s := range strategies {
		for _, pos := range s.State().Positions() {
			rows = append(rows, table.Row{
				s.Name(),
				pos.Symbol,
				pos.Side,
				pos.Quantity,
				fmt.Sprintf("%.4f", pos.EntryPrice),
				fmt.Sprintf("%.4f", pos.StopLoss),
				fmt.Sprintf("%.4f", pos.Target),
			})
		}
	}
	if len(rows) == 0 {
		return
	}
	pt := table.NewWriter()
	pt.SetOutputMirror(os.Stdout)
	pt.SetTitle("POSITIONS")
	pt.SetStyle(table.StyleRounded)
	pt.AppendHeader(table.Row{"Strategy", "Symbol", "Side", "Qty", "Entry", "Stop", "Target"})
	pt.AppendRows(rows)
	pt.Render()
}

func printRisk(report risk.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("RISK REPORT")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Portfolio Value", fmt.Sprintf("%.2f", report.Portfolio.PortfolioValue)},
		{"Portfolio Risk", fmt.Sprintf("%.2f%% (%s)", report.Portfolio.RiskPercent, report.Portfolio.Level)},
		{"Max Loss", fmt.Sprintf("%.2f", report.Portfolio.MaxLoss)},
		{"Open Positions", report.Positions},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Trading Date", report.Daily.Date},
		{"Daily Trades", fmt.Sprintf("%d / %d", report.Daily.Trades, report.Daily.MaxTrades)},
		{"Daily PnL", fmt.Sprintf("%.2f / -%.2f", report.Daily.PnL, report.Daily.MaxLoss)},
	})
	if len(report.Violations) > 0 || len(report.Recommendations) > 0 {
		t.AppendSeparator()
	}
	for _, v := range report.Violations {
		t.AppendRow(table.Row{"Violation", v})
	}
	for _, r := range report.Recommendations {
		t.AppendRow(table.Row{"Recommendation", r})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 16, Align: text.AlignLeft},
		{Number: 2, WidthMin: 30, Align: text.AlignLeft},
	})
	t.Render()
}
