package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"algo-engine/internal/config"
	"algo-engine/internal/risk"
	"algo-engine/internal/strategy"
)

// ErrDisabled 表示未启用大模型解读。
var ErrDisabled = errors.New("ai: openai 未启用")

// Client 封装 OpenAI 调用逻辑。
type Client struct {
	cfg    config.OpenAIConfig
	logger *zap.Logger
	sdk    *openai.Client
}

// NewClient 使用给定配置创建 AI 客户端。
func NewClient(cfg config.OpenAIConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("ai: openai api_key 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdkConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkConfig.BaseURL = cfg.BaseURL
	}
	sdkConfig.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		sdk:    openai.NewClientWithConfig(sdkConfig),
	}, nil
}

// SummarizeRisk 请求模型解读风控报告。
func (c *Client) SummarizeRisk(ctx context.Context, report risk.Report, perf []strategy.Performance) (Narrative, error) {
	if c == nil {
		return Narrative{}, ErrDisabled
	}
	if c.cfg.Model == "" {
		return Narrative{}, errors.New("ai: openai model 不能为空")
	}

	prompt, err := BuildPrompt(report, perf)
	if err != nil {
		return Narrative{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	response, err := c.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		c.logger.Error("调用OpenAI失败", zap.Error(err))
		return Narrative{}, fmt.Errorf("ai: 调用OpenAI失败: %w", err)
	}

	if len(response.Choices) == 0 {
		return Narrative{}, errors.New("ai: OpenAI 返回结果为空")
	}

	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	if rawContent == "" {
		return Narrative{}, errors.New("ai: OpenAI 返回内容为空")
	}

	narrative, err := parseNarrative(rawContent)
	if err != nil {
		c.logger.Error("解析风控解读失败",
			zap.Error(err),
			zap.String("raw_content", rawContent),
		)
		return Narrative{}, err
	}

	if err := narrative.Validate(); err != nil {
		return Narrative{}, fmt.Errorf("ai: %w", err)
	}

	c.logger.Info("风控解读生成成功",
		zap.String("risk_level", narrative.RiskLevel),
		zap.Int("actions", len(narrative.Actions)),
		zap.Float64("confidence", narrative.Confidence),
	)

	return narrative, nil
}

func parseNarrative(content string) (Narrative, error) {
	jsonPayload, err := extractJSON(content)
	if err != nil {
		return Narrative{}, err
	}

	var n Narrative
	if err = json.Unmarshal(jsonPayload, &n); err != nil {
		return Narrative{}, fmt.Errorf("ai: 解析解读JSON失败: %w", err)
	}
	n.RiskLevel = strings.ToUpper(strings.TrimSpace(n.RiskLevel))

	return n, nil
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("ai: 模型输出未找到有效JSON: %s", content)
	}

	return []byte(content[start : end+1]), nil
}
