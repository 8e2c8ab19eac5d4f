package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Strategies []StrategyConfig `mapstructure:"strategies"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述行情/交易所连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	Symbols    []string    `mapstructure:"symbols"`
	Timeframe  string      `mapstructure:"timeframe"`
	BarLimit   int         `mapstructure:"bar_limit"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	APIPass    string      `mapstructure:"api_password"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// ExecutionConfig 控制下单行为。
type ExecutionConfig struct {
	// Mode 取值 paper | live。
	Mode        string  `mapstructure:"mode"`
	Slippage    float64 `mapstructure:"slippage"`
	TimeInForce string  `mapstructure:"time_in_force"`
	MaxRetry    int     `mapstructure:"max_retry"`
}

// RiskConfig 管理组合级风控阈值，构造后不可变。
type RiskConfig struct {
	PortfolioValue             float64 `mapstructure:"portfolio_value"`
	MaxPositionSize            float64 `mapstructure:"max_position_size"`
	MaxDailyLoss               float64 `mapstructure:"max_daily_loss"`
	MaxDailyTrades             int     `mapstructure:"max_daily_trades"`
	MaxPortfolioRisk           float64 `mapstructure:"max_portfolio_risk"`
	MaxCorrelationRisk         float64 `mapstructure:"max_correlation_risk"`
	DefaultStopLossPercent     float64 `mapstructure:"default_stop_loss_percent"`
	DefaultTargetPercent       float64 `mapstructure:"default_target_percent"`
	DefaultTrailingStopPercent float64 `mapstructure:"default_trailing_stop_percent"`
	SyncAccountEquity          bool    `mapstructure:"sync_account_equity"`
	EnableJournal              bool    `mapstructure:"enable_journal"`
}

// StrategyConfig 描述单个策略实例。
type StrategyConfig struct {
	Name                string   `mapstructure:"name"`
	Type                string   `mapstructure:"type"`
	Enabled             *bool    `mapstructure:"enabled"`
	MaxPositionValue    float64  `mapstructure:"max_position_value"`
	StopLossPercent     float64  `mapstructure:"stop_loss_percent"`
	TargetPercent       float64  `mapstructure:"target_percent"`
	TrailingStopPercent float64  `mapstructure:"trailing_stop_percent"`
	RiskPerTrade        float64  `mapstructure:"risk_per_trade"`
	MaxPositions        int      `mapstructure:"max_positions"`
	MaxTradesPerDay     int      `mapstructure:"max_trades_per_day"`
	MinConfidence       float64  `mapstructure:"min_confidence"`
	Timeframe           string   `mapstructure:"timeframe"`
	Symbols             []string `mapstructure:"symbols"`

	RSI        RSIParams        `mapstructure:"rsi"`
	Divergence DivergenceParams `mapstructure:"divergence"`
	MACD       MACDParams       `mapstructure:"macd"`
	Histogram  HistogramParams  `mapstructure:"histogram"`
	Options    OptionsParams    `mapstructure:"options"`
}

// RSIParams 为 RSI 族策略参数，零值取默认值。
type RSIParams struct {
	Period     int     `mapstructure:"period"`
	Oversold   float64 `mapstructure:"oversold"`
	Overbought float64 `mapstructure:"overbought"`
	ExitLevel  float64 `mapstructure:"exit_level"`
}

// DivergenceParams 为背离检测参数。
type DivergenceParams struct {
	LookbackPeriod int     `mapstructure:"lookback_period"`
	MinStrength    float64 `mapstructure:"min_strength"`
	ExtremaOrder   int     `mapstructure:"extrema_order"`
}

// MACDParams 为 MACD 周期参数。
type MACDParams struct {
	FastPeriod   int `mapstructure:"fast_period"`
	SlowPeriod   int `mapstructure:"slow_period"`
	SignalPeriod int `mapstructure:"signal_period"`
}

// HistogramParams 为柱状图动量参数。
type HistogramParams struct {
	Threshold       float64 `mapstructure:"threshold"`
	MomentumPeriods int     `mapstructure:"momentum_periods"`
}

// OptionsParams 为期权组合参数，行权价为0时在首次使用时按现价推导。
type OptionsParams struct {
	Quantity        int     `mapstructure:"quantity"`
	ExpirationDays  int     `mapstructure:"expiration_days"`
	ShortCallStrike float64 `mapstructure:"short_call_strike"`
	LongCallStrike  float64 `mapstructure:"long_call_strike"`
	ShortPutStrike  float64 `mapstructure:"short_put_strike"`
	LongPutStrike   float64 `mapstructure:"long_put_strike"`
	CenterStrike    float64 `mapstructure:"center_strike"`
	WingWidth       float64 `mapstructure:"wing_width"`
	Strike          float64 `mapstructure:"strike"`
	CallStrike      float64 `mapstructure:"call_strike"`
	PutStrike       float64 `mapstructure:"put_strike"`
}

// OpenAIConfig 描述大模型调用参数。
type OpenAIConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig 控制主循环节奏。
type SchedulerConfig struct {
	LoopInterval time.Duration `mapstructure:"loop_interval"`
	// EvaluateTimeout 限制单次 Tick 的总耗时。
	EvaluateTimeout time.Duration `mapstructure:"evaluate_timeout"`
}

// MonitorConfig 控制监控 HTTP 接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if len(c.Exchange.Symbols) == 0 {
		err = multierr.Append(err, errors.New("exchange.symbols 至少包含一个交易标的"))
	}
	if c.Exchange.Timeframe == "" {
		err = multierr.Append(err, errors.New("exchange.timeframe 不能为空"))
	}
	if c.Exchange.BarLimit <= 0 {
		err = multierr.Append(err, errors.New("exchange.bar_limit 必须大于0"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}

	switch strings.ToLower(c.Execution.Mode) {
	case "paper", "live":
	default:
		err = multierr.Append(err, fmt.Errorf("execution.mode 仅支持 paper|live, 当前为 %q", c.Execution.Mode))
	}
	if c.Execution.Slippage < 0 || c.Execution.Slippage > 0.2 {
		err = multierr.Append(err, errors.New("execution.slippage 应位于[0,0.2]"))
	}

	err = multierr.Append(err, c.Risk.Validate())

	seen := make(map[string]struct{}, len(c.Strategies))
	for i := range c.Strategies {
		s := &c.Strategies[i]
		if _, dup := seen[s.Name]; dup && s.Name != "" {
			err = multierr.Append(err, fmt.Errorf("strategies[%d].name %q 重复", i, s.Name))
		}
		seen[s.Name] = struct{}{}
		if vErr := s.Validate(); vErr != nil {
			err = multierr.Append(err, fmt.Errorf("strategies[%d]: %w", i, vErr))
		}
	}

	if c.OpenAI.Enabled {
		if c.OpenAI.APIKey == "" {
			err = multierr.Append(err, errors.New("openai.api_key 不能为空"))
		}
		if c.OpenAI.Model == "" {
			err = multierr.Append(err, errors.New("openai.model 不能为空"))
		}
		if c.OpenAI.Timeout <= 0 {
			err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
		}
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Scheduler.LoopInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.loop_interval 必须大于0"))
	}
	if c.Scheduler.EvaluateTimeout < 0 {
		err = multierr.Append(err, errors.New("scheduler.evaluate_timeout 不能为负"))
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于(0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

// Validate 校验风控阈值。
func (r RiskConfig) Validate() error {
	var err error

	if r.PortfolioValue < 0 {
		err = multierr.Append(err, errors.New("risk.portfolio_value 不能为负"))
	}
	if r.MaxPositionSize <= 0 {
		err = multierr.Append(err, errors.New("risk.max_position_size 必须大于0"))
	}
	if r.MaxDailyLoss <= 0 {
		err = multierr.Append(err, errors.New("risk.max_daily_loss 必须大于0"))
	}
	if r.MaxDailyTrades <= 0 {
		err = multierr.Append(err, errors.New("risk.max_daily_trades 必须大于0"))
	}
	if r.MaxPortfolioRisk <= 0 || r.MaxPortfolioRisk > 1 {
		err = multierr.Append(err, errors.New("risk.max_portfolio_risk 必须位于(0,1]"))
	}
	if r.MaxCorrelationRisk <= 0 || r.MaxCorrelationRisk > 1 {
		err = multierr.Append(err, errors.New("risk.max_correlation_risk 必须位于(0,1]"))
	}
	if r.DefaultStopLossPercent <= 0 || r.DefaultStopLossPercent >= 100 {
		err = multierr.Append(err, errors.New("risk.default_stop_loss_percent 必须位于(0,100)"))
	}
	if r.DefaultTargetPercent < 0 {
		err = multierr.Append(err, errors.New("risk.default_target_percent 不能为负"))
	}
	if r.DefaultTrailingStopPercent < 0 || r.DefaultTrailingStopPercent >= 100 {
		err = multierr.Append(err, errors.New("risk.default_trailing_stop_percent 必须位于[0,100)"))
	}

	return err
}

// IsEnabled 未显式配置 enabled 时视为启用。
func (s StrategyConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Validate 校验策略公共字段，族参数由策略构造时补齐默认值后再校验。
func (s StrategyConfig) Validate() error {
	var err error

	if s.Name == "" {
		err = multierr.Append(err, errors.New("name 不能为空"))
	}
	if s.Type == "" {
		err = multierr.Append(err, errors.New("type 不能为空"))
	}
	if s.MaxPositionValue < 0 {
		err = multierr.Append(err, errors.New("max_position_value 不能为负"))
	}
	if s.StopLossPercent < 0 || s.TargetPercent < 0 || s.TrailingStopPercent < 0 {
		err = multierr.Append(err, errors.New("止损/止盈/追踪止损百分比不能为负"))
	}
	if s.StopLossPercent >= 100 {
		err = multierr.Append(err, errors.New("stop_loss_percent 必须小于100"))
	}
	if s.RiskPerTrade < 0 || s.RiskPerTrade > 1 {
		err = multierr.Append(err, errors.New("risk_per_trade 必须位于[0,1]"))
	}
	if s.MaxPositions < 0 || s.MaxTradesPerDay < 0 {
		err = multierr.Append(err, errors.New("max_positions/max_trades_per_day 不能为负"))
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		err = multierr.Append(err, errors.New("min_confidence 必须位于[0,1]"))
	}

	return err
}
