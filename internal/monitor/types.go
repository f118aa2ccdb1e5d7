package monitor

import (
	"time"

	"htx-mm/internal/exchange"
	"htx-mm/internal/execution"
	"htx-mm/internal/risk"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventCycle     EventType = "cycle"
	EventRisk      EventType = "risk_rejection"
	EventState     EventType = "state_change"
	EventError     EventType = "error"
)

// Event 封装通用监控事件。CycleID 关联同一轮报价循环内的事件。
type Event struct {
	CycleID   string      `json:"cycle_id,omitempty"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// CyclePayload 记录一轮报价循环的输入与结果。
type CyclePayload struct {
	BestBid   float64           `json:"best_bid"`
	BestAsk   float64           `json:"best_ask"`
	Mid       float64           `json:"mid"`
	Position  float64           `json:"position"`
	Rebalance bool              `json:"rebalance"`
	Orders    exchange.QuoteSet `json:"orders"`
	Result    execution.Result  `json:"result"`
}

// RiskPayload 记录被风控拒绝的目标报价。
type RiskPayload struct {
	Position float64           `json:"position"`
	Orders   exchange.QuoteSet `json:"orders"`
	Verdict  risk.Verdict      `json:"verdict"`
}

// StatePayload 记录运行状态迁移。
type StatePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
