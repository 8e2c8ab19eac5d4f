package ai

import (
	"errors"
	"fmt"
	"strings"
)

// Narrative 为模型对风控报告的解读。
type Narrative struct {
	Headline   string   `json:"headline"`
	RiskLevel  string   `json:"risk_level"`
	Assessment string   `json:"assessment"`
	Actions    []string `json:"actions"`
	Confidence float64  `json:"confidence"`
}

var validLevels = map[string]struct{}{
	"LOW":      {},
	"MEDIUM":   {},
	"HIGH":     {},
	"CRITICAL": {},
}

// Validate 校验解读字段合法性。
func (n Narrative) Validate() error {
	if strings.TrimSpace(n.Headline) == "" {
		return errors.New("headline 不能为空")
	}
	level := strings.ToUpper(strings.TrimSpace(n.RiskLevel))
	if _, ok := validLevels[level]; !ok {
		return fmt.Errorf("risk_level 字段取值非法: %s", n.RiskLevel)
	}
	if strings.TrimSpace(n.Assessment) == "" {
		return errors.New("assessment 不能为空")
	}
	if n.Confidence < 0 || n.Confidence > 1 {
		return fmt.Errorf("confidence 必须在 [0,1] 区间，目前为 %f", n.Confidence)
	}
	return nil
}
