package backoff

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Policy 定义重连退避策略
type Policy struct {
	BaseDelay    time.Duration `yaml:"base_delay" json:"base_delay"`       // 首次重连延迟
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`         // 延迟上限
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`       // 指数倍增因子
	JitterFactor float64       `yaml:"jitter_factor" json:"jitter_factor"` // 抖动比例，实际抖动 ∈ [0, JitterFactor]
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`   // 最大重连次数，耗尽后连接进入 failed
}

// DefaultPolicy 返回默认退避策略
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
		MaxAttempts:  5,
	}
}

// Normalize 修正非法参数
func (p Policy) Normalize() Policy {
	d := DefaultPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = d.Multiplier
	}
	if p.JitterFactor < 0 {
		p.JitterFactor = 0
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	return p
}

// Validate 校验策略
func (p Policy) Validate() error {
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base_delay must be positive")
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("max_delay must be >= base_delay")
	}
	if p.Multiplier < 1.0 {
		return fmt.Errorf("multiplier must be >= 1")
	}
	if p.JitterFactor < 0 || p.JitterFactor > 1 {
		return fmt.Errorf("jitter_factor must be in [0, 1]")
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive")
	}
	return nil
}

// Raw 返回不含抖动的第 attempt 次延迟：base * multiplier^(attempt-1)
func (p Policy) Raw(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	raw := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if raw > float64(p.MaxDelay) || math.IsInf(raw, 0) {
		return p.MaxDelay
	}
	return time.Duration(raw)
}

// Delay 计算第 attempt 次（从 1 开始）的延迟。
// r ∈ [0, 1] 为随机数，实际抖动为 JitterFactor*r。
// delay = min(base * multiplier^(attempt-1) * (1 + JitterFactor*r), MaxDelay)
func (p Policy) Delay(attempt int, r float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r < 0 {
		r = 0
	} else if r > 1 {
		r = 1
	}

	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	delay *= 1 + p.JitterFactor*r

	if delay > float64(p.MaxDelay) || math.IsInf(delay, 0) || math.IsNaN(delay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Backoff 是带状态的退避计数器，由连接管理器在一次重连序列中使用。
type Backoff struct {
	policy Policy
	rand   func() float64

	mu      sync.Mutex
	attempt int
}

// New 创建退避计数器。rnd 为 nil 时使用 math/rand。
func New(policy Policy, rnd func() float64) *Backoff {
	if rnd == nil {
		rnd = rand.Float64
	}
	return &Backoff{policy: policy.Normalize(), rand: rnd}
}

// Policy 返回修正后的策略
func (b *Backoff) Policy() Policy {
	return b.policy
}

// Next 推进计数并返回下一次延迟。
// 超过 MaxAttempts 时 ok 为 false。
func (b *Backoff) Next() (attempt int, delay time.Duration, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attempt >= b.policy.MaxAttempts {
		return b.attempt, 0, false
	}
	b.attempt++
	return b.attempt, b.policy.Delay(b.attempt, b.rand()), true
}

// Attempt 返回已经消耗的次数
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

// Exhausted 报告是否已耗尽
func (b *Backoff) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt >= b.policy.MaxAttempts
}

// Reset 在成功连接后清零
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}

// Wait 等待 d，同时监听 ctx 取消
func Wait(ctx context.Context, d time.Duration) error {
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
