// Package backoff 提供统一的退避重试策略，所有重试点按需实例化各自的状态。
package backoff

import (
	"context"
	"time"
)

// Policy 描述退避参数：下限、上限与增长因子。Factor 为 1 时即固定间隔。
type Policy struct {
	Floor   time.Duration
	Ceiling time.Duration
	Factor  float64
}

// Exponential 返回倍增且带上限的策略。
func Exponential(floor, ceiling time.Duration) Policy {
	return Policy{Floor: floor, Ceiling: ceiling, Factor: 2}
}

// Fixed 返回固定间隔策略。
func Fixed(delay time.Duration) Policy {
	return Policy{Floor: delay, Ceiling: delay, Factor: 1}
}

// New 基于策略创建一个独立的退避状态。
func (p Policy) New() *Backoff {
	p = p.normalize()
	return &Backoff{policy: p, current: p.Floor}
}

func (p Policy) normalize() Policy {
	if p.Floor <= 0 {
		p.Floor = 100 * time.Millisecond
	}
	if p.Ceiling < p.Floor {
		p.Ceiling = p.Floor
	}
	if p.Factor < 1 {
		p.Factor = 1
	}
	return p
}

// Backoff 保存单个调用点的退避状态，非并发安全。
type Backoff struct {
	policy  Policy
	current time.Duration
}

// Next 返回本次应等待的时长，并把下一次延迟按因子放大到上限为止。
func (b *Backoff) Next() time.Duration {
	wait := b.current
	next := time.Duration(float64(b.current) * b.policy.Factor)
	if next > b.policy.Ceiling || next < b.current {
		next = b.policy.Ceiling
	}
	b.current = next
	return wait
}

// Peek 返回下一次 Next 将返回的时长。
func (b *Backoff) Peek() time.Duration {
	return b.current
}

// Reset 将延迟恢复到下限。
func (b *Backoff) Reset() {
	b.current = b.policy.Floor
}

// Sleep 等待 d，或在 ctx 结束时提前返回 ctx.Err()。
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
