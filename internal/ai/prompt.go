package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"algo-engine/internal/risk"
	"algo-engine/internal/strategy"
)

const narrativeTemplate = `
你是一名组合风控分析师。请根据下方的风控报告与各策略表现，用简洁的中文给出当前组合的风险解读与处置建议。

风控报告：
{{ .ReportJSON }}

当日状态：
- 已成交笔数: {{ .Report.Daily.Trades }} / {{ .Report.Daily.MaxTrades }}
- 当日盈亏: {{ printf "%.2f" .Report.Daily.PnL }}（上限 -{{ printf "%.2f" .Report.Daily.MaxLoss }}）
- 组合风险: {{ printf "%.2f" .Report.Portfolio.RiskPercent }}%（等级 {{ .Report.Portfolio.Level }}）
- 持仓数量: {{ .Report.Positions }}

策略表现：
{{ .StrategiesJSON }}

分析时请遵循：
1. 优先关注已突破的限额与 CRITICAL/HIGH 等级；
2. 结合各策略胜率与回撤判断风险来源；
3. 建议必须可执行，例如降低某策略仓位或暂停交易；
4. 不要给出具体的买卖价格。

请严格输出唯一的 JSON 对象，格式如下：
{
  "headline": "...",                          // 一句话结论
  "risk_level": "LOW|MEDIUM|HIGH|CRITICAL",   // 你判断的组合风险等级
  "assessment": "...",                        // 风险来源分析
  "actions": ["..."],                         // 处置建议，可以为空数组
  "confidence": 0.0-1.0                       // 判断信心度
}
`

var tmpl = template.Must(template.New("narrative").Parse(narrativeTemplate))

// PromptContext 用于渲染提示词。
type PromptContext struct {
	Report         risk.Report
	ReportJSON     string
	StrategiesJSON string
}

// BuildPrompt 将风控报告与策略表现渲染成提示词字符串。
func BuildPrompt(report risk.Report, perf []strategy.Performance) (string, error) {
	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化风控报告失败: %w", err)
	}
	if perf == nil {
		perf = []strategy.Performance{}
	}
	perfJSON, err := json.MarshalIndent(perf, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化策略表现失败: %w", err)
	}

	ctx := PromptContext{
		Report:         report,
		ReportJSON:     string(reportJSON),
		StrategiesJSON: string(perfJSON),
	}

	var buf bytes.Buffer
	if err = tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("渲染提示词失败: %w", err)
	}

	return buf.String(), nil
}
