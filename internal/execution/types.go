package execution

import (
	"fmt"
	"strings"
	"time"
)

// Policy 为挂单调和策略。
type Policy string

const (
	// PolicyMinimalDiff 只撤销与目标不一致的挂单，只补下缺失的目标。
	PolicyMinimalDiff Policy = "minimal_diff"
	// PolicyFullReplace 撤销全部挂单后重新下达全部目标。
	PolicyFullReplace Policy = "full_replace"
)

// ParsePolicy 解析配置中的策略名称。
func ParsePolicy(name string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(name))) {
	case PolicyMinimalDiff, "":
		return PolicyMinimalDiff, nil
	case PolicyFullReplace:
		return PolicyFullReplace, nil
	default:
		return "", fmt.Errorf("execution: 不支持的调和策略 %q", name)
	}
}

// Options 控制单笔下单与撤单的重试及取整精度。
type Options struct {
	MaxRetries     int
	RetryDelay     time.Duration
	PricePrecision int32
	SizePrecision  int32
}

// Result 为一次调和的操作统计。
type Result struct {
	Policy    Policy        `json:"policy"`
	Kept      int           `json:"kept"`
	Cancelled int           `json:"cancelled"`
	Placed    int           `json:"placed"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Operations 返回本次尝试的撤单与下单总数，含失败的操作。
func (r Result) Operations() int {
	return r.Cancelled + r.Placed + r.Failed
}
