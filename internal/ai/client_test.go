package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-engine/internal/config"
	"algo-engine/internal/risk"
	"algo-engine/internal/strategy"
)

func sampleReport() risk.Report {
	return risk.Report{
		Timestamp: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
		Portfolio: risk.Metrics{PortfolioValue: 100000, RiskPercent: 1.8, Level: risk.LevelHigh},
		Daily:     risk.DailyStatus{Date: "2025-06-02", Trades: 12, MaxTrades: 50, PnL: -800, MaxLoss: 5000},
		Positions: 3,
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt, err := BuildPrompt(sampleReport(), []strategy.Performance{{Name: "rsi_default", Kind: strategy.KindRSI, WinRate: 0.6}})
	require.NoError(t, err)
	assert.Contains(t, prompt, "已成交笔数: 12 / 50")
	assert.Contains(t, prompt, "当日盈亏: -800.00")
	assert.Contains(t, prompt, "组合风险: 1.80%（等级 HIGH）")
	assert.Contains(t, prompt, `"name": "rsi_default"`)
}

func TestParseNarrative(t *testing.T) {
	n, err := parseNarrative("```json\n{\"headline\":\"风险偏高\",\"risk_level\":\"high\",\"assessment\":\"集中度高\",\"actions\":[\"减仓\"],\"confidence\":0.7}\n```")
	require.NoError(t, err)
	assert.Equal(t, "HIGH", n.RiskLevel)
	assert.NoError(t, n.Validate())

	_, err = parseNarrative("no json here")
	assert.Error(t, err)

	n.Confidence = 2
	assert.Error(t, n.Validate())
}

func TestSummarizeRisk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		content := `{"headline":"组合风险接近上限","risk_level":"HIGH","assessment":"三笔持仓止损距离偏大","actions":["降低单笔仓位"],"confidence":0.8}`
		resp := map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4.1",
			"choices": []map[string]interface{}{
				{"index": 0, "finish_reason": "stop", "message": map[string]string{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client, err := NewClient(config.OpenAIConfig{APIKey: "test", BaseURL: srv.URL, Model: "gpt-4.1", Timeout: time.Second}, nil)
	require.NoError(t, err)

	n, err := client.SummarizeRisk(context.Background(), sampleReport(), nil)
	require.NoError(t, err)
	assert.Equal(t, "HIGH", n.RiskLevel)
	assert.Equal(t, []string{"降低单笔仓位"}, n.Actions)
}

func TestSummarizeRisk_NilClient(t *testing.T) {
	var c *Client
	_, err := c.SummarizeRisk(context.Background(), sampleReport(), nil)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(config.OpenAIConfig{}, nil)
	assert.Error(t, err)
}
