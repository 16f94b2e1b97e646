// Package channel 提供容量可调的非阻塞队列。
package channel

import (
	"sync"
	"sync/atomic"
	"time"
)

// TunableConfig 队列容量调整参数
type TunableConfig struct {
	InitialSize  int           `json:"initial_size"`
	MinSize      int           `json:"min_size"`
	MaxSize      int           `json:"max_size"`
	GrowFactor   float64       `json:"grow_factor"`
	ShrinkFactor float64       `json:"shrink_factor"`
	SampleWindow time.Duration `json:"sample_window"`
}

// DefaultTunableConfig 返回默认参数
func DefaultTunableConfig() TunableConfig {
	return TunableConfig{
		InitialSize:  64,
		MinSize:      16,
		MaxSize:      4096,
		GrowFactor:   2.0,
		ShrinkFactor: 0.5,
		SampleWindow: 10 * time.Second,
	}
}

func (c TunableConfig) normalized() TunableConfig {
	d := DefaultTunableConfig()
	if c.InitialSize <= 0 {
		c.InitialSize = d.InitialSize
	}
	if c.MinSize <= 0 {
		c.MinSize = 1
	}
	if c.MaxSize < c.InitialSize {
		c.MaxSize = c.InitialSize
	}
	if c.MinSize > c.InitialSize {
		c.MinSize = c.InitialSize
	}
	if c.GrowFactor <= 1 {
		c.GrowFactor = d.GrowFactor
	}
	if c.ShrinkFactor <= 0 || c.ShrinkFactor >= 1 {
		c.ShrinkFactor = d.ShrinkFactor
	}
	if c.SampleWindow <= 0 {
		c.SampleWindow = d.SampleWindow
	}
	return c
}

// TunableStats 队列统计
type TunableStats struct {
	Size        int     `json:"size"`
	Length      int     `json:"length"`
	Sends       int64   `json:"sends"`
	Drops       int64   `json:"drops"`
	Utilization float64 `json:"utilization"`
}

// Tunable 有界队列，发送方从不阻塞，队列满时丢弃并计数。
// Tune 按采样窗口内的丢弃与占用情况扩容或缩容。
//
// 缩扩容会替换底层通道，消费方需同时监听 Chan 返回的 resized 通道，
// 收到通知后重新获取当前通道。
type Tunable[T any] struct {
	config TunableConfig

	mu      sync.RWMutex
	ch      chan T
	resized chan struct{}
	size    int
	closed  bool

	sends    atomic.Int64
	drops    atomic.Int64
	lastTune time.Time

	// 当前窗口内的计数
	windowSends int64
	windowDrops int64
}

// NewTunable 创建队列
func NewTunable[T any](config TunableConfig) *Tunable[T] {
	config = config.normalized()
	return &Tunable[T]{
		config:   config,
		ch:       make(chan T, config.InitialSize),
		resized:  make(chan struct{}),
		size:     config.InitialSize,
		lastTune: time.Now(),
	}
}

// TrySend 非阻塞入队，队列满或已关闭时返回 false
func (q *Tunable[T]) TrySend(v T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}
	q.sends.Add(1)
	select {
	case q.ch <- v:
		return true
	default:
		q.drops.Add(1)
		return false
	}
}

// TryReceive 非阻塞出队
func (q *Tunable[T]) TryReceive() (T, bool) {
	q.mu.RLock()
	ch := q.ch
	q.mu.RUnlock()

	select {
	case v := <-ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Chan 返回当前底层通道与本代通道被替换时关闭的通知通道
func (q *Tunable[T]) Chan() (<-chan T, <-chan struct{}) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.ch, q.resized
}

// Len 返回排队元素数
func (q *Tunable[T]) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.ch)
}

// Cap 返回当前容量
func (q *Tunable[T]) Cap() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.size
}

// Tune 在采样窗口结束后调整容量，返回调整后的容量。
// 窗口内出现丢弃时扩容；无丢弃且占用低于四分之一时缩容。
func (q *Tunable[T]) Tune(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || now.Sub(q.lastTune) < q.config.SampleWindow {
		return q.size
	}

	sends := q.sends.Load()
	drops := q.drops.Load()
	windowSends := sends - q.windowSends
	windowDrops := drops - q.windowDrops
	q.windowSends, q.windowDrops = sends, drops
	q.lastTune = now

	utilization := float64(len(q.ch)) / float64(q.size)
	newSize := q.size
	switch {
	case windowDrops > 0 && windowSends > 0:
		newSize = int(float64(q.size) * q.config.GrowFactor)
		if newSize > q.config.MaxSize {
			newSize = q.config.MaxSize
		}
	case utilization < 0.25:
		newSize = int(float64(q.size) * q.config.ShrinkFactor)
		if newSize < q.config.MinSize {
			newSize = q.config.MinSize
		}
	}
	if newSize < len(q.ch) {
		newSize = len(q.ch)
	}
	if newSize != q.size {
		q.resize(newSize)
	}
	return q.size
}

// resize 必须持有写锁；排队元素按原顺序迁移到新通道
func (q *Tunable[T]) resize(newSize int) {
	next := make(chan T, newSize)
	for {
		select {
		case v := <-q.ch:
			next <- v
			continue
		default:
		}
		break
	}
	q.ch = next
	q.size = newSize
	close(q.resized)
	q.resized = make(chan struct{})
}

// Stats 返回统计快照
func (q *Tunable[T]) Stats() TunableStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	length := len(q.ch)
	return TunableStats{
		Size:        q.size,
		Length:      length,
		Sends:       q.sends.Load(),
		Drops:       q.drops.Load(),
		Utilization: float64(length) / float64(q.size),
	}
}

// Close 拒绝后续入队，已排队元素仍可通过 TryReceive 取出
func (q *Tunable[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
