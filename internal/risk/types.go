package risk

import "fmt"

// Reason 为风控拒绝原因。
type Reason string

const (
	ReasonNone            Reason = "none"
	ReasonOrderCount      Reason = "order_count"
	ReasonOrderSize       Reason = "order_size"
	ReasonSpreadTooNarrow Reason = "spread_too_narrow"
	ReasonSpreadTooWide   Reason = "spread_too_wide"
	ReasonPositionLimit   Reason = "position_limit"
	ReasonOrderNotional   Reason = "order_notional"
)

// Verdict 为一次风控检查的结果。拒绝是正常结果，不是错误。
type Verdict struct {
	Accepted bool   `json:"accepted"`
	Reason   Reason `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

func accept() Verdict {
	return Verdict{Accepted: true, Reason: ReasonNone}
}

func reject(reason Reason, format string, args ...interface{}) Verdict {
	return Verdict{Accepted: false, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
