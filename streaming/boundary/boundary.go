package boundary

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 错误边界状态
type State int

const (
	// StateClosed 关闭状态（允许流式请求）
	StateClosed State = iota
	// StateOpen 打开状态（冷却中，拒绝流式请求）
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config 错误边界配置
type Config struct {
	// FailureThreshold 连续失败次数阈值（达到后打开）
	FailureThreshold int

	// Cooldown 打开后的冷却时间
	Cooldown time.Duration

	// OnStateChange 状态变更回调，在锁外同步调用
	OnStateChange func(from State, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 3,
		Cooldown:         60 * time.Second,
	}
}

// Snapshot 错误边界状态快照
type Snapshot struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure"`
	Open                bool      `json:"open"`
	CooldownEnd         time.Time `json:"cooldown_end"`
}

// State 返回快照对应的状态
func (s Snapshot) State() State {
	if s.Open {
		return StateOpen
	}
	return StateClosed
}

// Decision 是 ShouldAllow 的结果
type Decision struct {
	Allowed bool
	Reason  string
}

// ShouldAllow 是纯函数：只依赖快照和传入的时间。
// 打开且 now < CooldownEnd 时拒绝；冷却结束后允许。
func ShouldAllow(s Snapshot, now time.Time) Decision {
	if !s.Open {
		return Decision{Allowed: true, Reason: "boundary closed"}
	}
	if now.Before(s.CooldownEnd) {
		return Decision{
			Allowed: false,
			Reason: fmt.Sprintf("boundary open after %d consecutive failures, retry in %s",
				s.ConsecutiveFailures, s.CooldownEnd.Sub(now).Round(time.Millisecond)),
		}
	}
	return Decision{Allowed: true, Reason: "cooldown elapsed"}
}

// Boundary 是 provider 级别的错误边界（粗粒度熔断器）。
// 只有两个状态，没有半开；冷却结束后由下一次 Check 惰性恢复。
type Boundary struct {
	config *Config
	logger *zap.Logger

	mu   sync.Mutex
	snap Snapshot
}

// New 创建错误边界
func New(config *Config, logger *zap.Logger) *Boundary {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 参数校验
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 60 * time.Second
	}

	return &Boundary{
		config: config,
		logger: logger.With(zap.String("component", "error_boundary")),
	}
}

// RecordFailure 记录一次失败，达到阈值时打开并设置冷却结束时间。
func (b *Boundary) RecordFailure(now time.Time) Snapshot {
	b.mu.Lock()
	from := b.snap.State()

	// 冷却已过但还未被 Check 复位，先复位再计数
	if b.snap.Open && !now.Before(b.snap.CooldownEnd) {
		b.snap = Snapshot{}
	}

	b.snap.ConsecutiveFailures++
	b.snap.LastFailure = now

	if !b.snap.Open && b.snap.ConsecutiveFailures >= b.config.FailureThreshold {
		b.snap.Open = true
		b.snap.CooldownEnd = now.Add(b.config.Cooldown)
		b.logger.Warn("error boundary opened",
			zap.Int("consecutive_failures", b.snap.ConsecutiveFailures),
			zap.Int("threshold", b.config.FailureThreshold),
			zap.Time("cooldown_end", b.snap.CooldownEnd),
		)
	}
	snap := b.snap
	b.mu.Unlock()

	b.notify(from, snap.State())
	return snap
}

// RecordSuccess 无条件清零连续失败计数。
// 打开状态下不会提前关闭，冷却仍需走完。
func (b *Boundary) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap.ConsecutiveFailures = 0
}

// ShouldAllow 基于当前快照判断，不修改状态
func (b *Boundary) ShouldAllow(now time.Time) Decision {
	return ShouldAllow(b.Snapshot(), now)
}

// Check 与 ShouldAllow 相同，但在冷却结束后的首次放行时把边界复位为关闭。
func (b *Boundary) Check(now time.Time) Decision {
	b.mu.Lock()
	d := ShouldAllow(b.snap, now)
	reset := d.Allowed && b.snap.Open
	if reset {
		b.snap = Snapshot{}
		b.logger.Info("error boundary closed after cooldown")
	}
	b.mu.Unlock()

	if reset {
		b.notify(StateOpen, StateClosed)
	}
	return d
}

// Snapshot 返回当前状态快照
func (b *Boundary) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap
}

// Reset 手动复位
func (b *Boundary) Reset() {
	b.mu.Lock()
	from := b.snap.State()
	b.snap = Snapshot{}
	b.mu.Unlock()

	b.logger.Info("error boundary reset", zap.String("from_state", from.String()))
	b.notify(from, StateClosed)
}

func (b *Boundary) notify(from, to State) {
	if from == to || b.config.OnStateChange == nil {
		return
	}
	b.config.OnStateChange(from, to)
}
