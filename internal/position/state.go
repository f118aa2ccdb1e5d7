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

	"htx-mm/internal/exchange"
)

type positionClient interface {
	FetchPositions(options ...ccxt.FetchPositionsOptions) ([]ccxt.Position, error)
}

// PositionDetail 表示单个方向的仓位详情。
type PositionDetail struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Contracts     float64   `json:"contracts"`
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	LiqPrice      float64   `json:"liq_price"`
	Notional      float64   `json:"notional"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	Leverage      float64   `json:"leverage"`
	MarginMode    string    `json:"margin_mode"`
	Timestamp     time.Time `json:"timestamp"`
}

// Signed 返回带符号的持仓数量，空头为负。
func (d PositionDetail) Signed() float64 {
	if d.Side == "SHORT" {
		return -d.Contracts
	}
	return d.Contracts
}

// Manager 读取单一合约的持仓。
type Manager struct {
	client positionClient
	symbol string
	logger *zap.Logger
}

// NewManager 创建仓位管理器。
func NewManager(client positionClient, symbol string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client: client,
		symbol: symbol,
		logger: logger,
	}
}

// FetchPosition 返回净持仓，双向持仓模式下多空相抵。无持仓时返回 0。
func (m *Manager) FetchPosition(ctx context.Context) (exchange.Position, error) {
	details, err := m.FetchDetails(ctx)
	if err != nil {
		return exchange.Position{Symbol: m.symbol}, err
	}

	var net float64
	for _, d := range details {
		net += d.Signed()
	}
	return exchange.Position{Symbol: m.symbol, Size: net}, nil
}

// FetchDetails 获取当前合约的逐方向持仓。
func (m *Manager) FetchDetails(ctx context.Context) ([]PositionDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rawPositions, err := m.client.FetchPositions()
	if err != nil {
		return nil, fmt.Errorf("position: 获取持仓失败: %w", exchange.Normalize("fetch_positions", err))
	}

	now := time.Now().UTC()
	details := make([]PositionDetail, 0, len(rawPositions))
	for _, rawPos := range rawPositions {
		symbol := derefString(rawPos.Symbol)
		if symbol == "" || !strings.EqualFold(symbol, m.symbol) {
			continue
		}

		contracts := derefFloat(rawPos.Contracts)
		if contracts == 0 && rawPos.Info != nil {
			contracts = parseNumeric(rawPos.Info["volume"])
		}
		if contracts == 0 {
			continue
		}

		details = append(details, PositionDetail{
			Symbol:        symbol,
			Side:          positionSide(rawPos),
			Contracts:     contracts,
			EntryPrice:    derefFloat(rawPos.EntryPrice),
			MarkPrice:     derefFloat(rawPos.MarkPrice),
			LiqPrice:      derefFloat(rawPos.LiquidationPrice),
			Notional:      derefFloat(rawPos.Notional),
			UnrealizedPnl: derefFloat(rawPos.UnrealizedPnl),
			Leverage:      derefFloat(rawPos.Leverage),
			MarginMode:    strings.ToUpper(strings.TrimSpace(derefString(rawPos.MarginMode))),
			Timestamp:     now,
		})
	}
	return details, nil
}

func positionSide(p ccxt.Position) string {
	side := strings.ToUpper(strings.TrimSpace(derefString(p.Side)))
	if side == "" && p.Info != nil {
		// HTX 原始字段 direction 为 buy/sell。
		if dir, ok := p.Info["direction"].(string); ok && strings.EqualFold(dir, "sell") {
			side = "SHORT"
		}
	}
	if side != "SHORT" {
		side = "LONG"
	}
	return side
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
