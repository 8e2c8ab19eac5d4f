package position

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
)

// quoteCurrencies 为估值币种的优先顺序。
var quoteCurrencies = []string{"USDT", "USDC", "USD"}

type balanceClient interface {
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
	FetchPositions(options ...ccxt.FetchPositionsOptions) ([]ccxt.Position, error)
}

// AccountBalance 描述账户权益及余额。
type AccountBalance struct {
	Currency   string    `json:"currency"`
	Equity     float64   `json:"equity"`
	Free       float64   `json:"free"`
	Used       float64   `json:"used"`
	Unrealized float64   `json:"unrealized"`
	Timestamp  time.Time `json:"timestamp"`
}

// BrokerPosition 为交易所侧的持仓，用于与本地持仓镜像对账。
type BrokerPosition struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Contracts  float64 `json:"contracts"`
	EntryPrice float64 `json:"entry_price"`
	MarkPrice  float64 `json:"mark_price"`
	Unrealized float64 `json:"unrealized"`
	Notional   float64 `json:"notional"`
}

// Account 拉取账户净值，作为风控的资金基数。
type Account struct {
	client  balanceClient
	symbols map[string]struct{}
	logger  *zap.Logger
	now     func() time.Time
}

// NewAccount 创建账户查询器，symbols 为空时不过滤持仓。
func NewAccount(client balanceClient, symbols []string, logger *zap.Logger) *Account {
	if logger == nil {
		logger = zap.NewNop()
	}
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	return &Account{
		client:  client,
		symbols: set,
		logger:  logger,
		now:     time.Now,
	}
}

// FetchBalance 获取账户余额，净值包含浮动盈亏。
func (a *Account) FetchBalance(ctx context.Context) (AccountBalance, error) {
	if err := ctx.Err(); err != nil {
		return AccountBalance{}, err
	}

	balances, err := a.client.FetchBalance()
	if err != nil {
		return AccountBalance{}, fmt.Errorf("position: 获取账户余额失败: %w", err)
	}

	out := AccountBalance{Timestamp: a.now().UTC()}
	for _, code := range quoteCurrencies {
		total, ok := balances.Total[code]
		if !ok || total == nil {
			continue
		}
		out.Currency = code
		out.Equity = *total
		out.Free = derefFloat(balances.Free[code])
		out.Used = derefFloat(balances.Used[code])
		break
	}

	// 合约账户的 totalMarginBalance 已含浮动盈亏
	if balances.Info != nil {
		if v := parseNumeric(balances.Info["totalMarginBalance"]); v > 0 {
			out.Equity = v
		}
		out.Unrealized = parseNumeric(balances.Info["totalUnrealizedProfit"])
	}

	if out.Currency == "" {
		a.logger.Warn("账户余额中未找到报价币种", zap.Strings("currencies", quoteCurrencies))
	}
	return out, nil
}

// FetchPositions 获取交易所侧持仓，数量为 0 的记录会被跳过。
func (a *Account) FetchPositions(ctx context.Context) ([]BrokerPosition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := a.client.FetchPositions()
	if err != nil {
		return nil, fmt.Errorf("position: 获取持仓失败: %w", err)
	}

	out := make([]BrokerPosition, 0, len(raw))
	for _, p := range raw {
		symbol := derefString(p.Symbol)
		if symbol == "" || !a.tracked(symbol) {
			continue
		}
		contracts := derefFloat(p.Contracts)
		if contracts == 0 {
			continue
		}
		side := strings.ToUpper(strings.TrimSpace(derefString(p.Side)))
		if side == "" {
			side = "LONG"
		}
		out = append(out, BrokerPosition{
			Symbol:     symbol,
			Side:       side,
			Contracts:  contracts,
			EntryPrice: derefFloat(p.EntryPrice),
			MarkPrice:  derefFloat(p.MarkPrice),
			Unrealized: derefFloat(p.UnrealizedPnl),
			Notional:   derefFloat(p.Notional),
		})
	}
	return out, nil
}

func (a *Account) tracked(symbol string) bool {
	if len(a.symbols) == 0 {
		return true
	}
	_, ok := a.symbols[strings.ToUpper(symbol)]
	return ok
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func parseNumeric(value interface{}) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case *float64:
		if v != nil {
			return *v
		}
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return 0
}
