package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/chatwidget/streaming/processor"
	"go.uber.org/zap"
)

// Kind 事件类型
type Kind string

const (
	SessionStart    Kind = "session_start"
	SessionEnd      Kind = "session_end"
	SessionError    Kind = "session_error"
	ChunkReceived   Kind = "chunk_received"
	ConnectionState Kind = "connection_state"
	QualityChange   Kind = "quality_change"
)

// Kinds 返回全部事件类型
func Kinds() []Kind {
	return []Kind{SessionStart, SessionEnd, SessionError, ChunkReceived, ConnectionState, QualityChange}
}

// Event 是分发给订阅者的不可变事件值
type Event struct {
	Kind      Kind
	Time      time.Time
	SessionID string
	MessageID string

	// State / PrevState 用于 session_end（会话状态）和 connection_state（连接状态）
	State     string
	PrevState string

	// Chunk 仅 chunk_received 携带
	Chunk *processor.ProcessedChunk
	// Cancel 仅 chunk_received 携带，在订阅者内部取消该会话时使用
	Cancel func(reason string) bool

	// Content session_end 时为组装后的完整文本
	Content string

	Err    error
	Reason string

	// Quality / Latency 用于 quality_change
	Quality string
	Latency time.Duration
}

// Handler 事件处理函数
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus 按事件类型分发的同步事件表。
// 分发顺序：先类型订阅者（按注册顺序），再全局订阅者；单个 handler panic 不影响其他 handler。
type Bus struct {
	mu      sync.RWMutex
	typed   map[Kind][]subscription
	allSubs []subscription
	nextID  atomic.Uint64
	closed  atomic.Bool
	logger  *zap.Logger

	published atomic.Int64
	panics    atomic.Int64
}

// NewBus 创建事件表
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		typed:  make(map[Kind][]subscription),
		logger: logger.With(zap.String("component", "event_bus")),
	}
}

// Publish 同步分发事件，返回后所有 handler 都已执行完毕
func (b *Bus) Publish(e Event) {
	if b.closed.Load() {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	typed := make([]subscription, len(b.typed[e.Kind]))
	copy(typed, b.typed[e.Kind])
	allSubs := make([]subscription, len(b.allSubs))
	copy(allSubs, b.allSubs)
	b.mu.RUnlock()

	b.published.Add(1)
	for _, sub := range typed {
		b.dispatch(e, sub)
	}
	for _, sub := range allSubs {
		b.dispatch(e, sub)
	}
}

func (b *Bus) dispatch(e Event, sub subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.logger.Error("event handler panicked",
				zap.String("event", string(e.Kind)),
				zap.String("session_id", e.SessionID),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	sub.handler(e)
}

// Subscribe 订阅指定类型，返回取消订阅函数
func (b *Bus) Subscribe(kind Kind, handler Handler) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.typed[kind] = append(b.typed[kind], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.typed[kind]
		for i, s := range subs {
			if s.id == id {
				b.typed[kind] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll 订阅全部事件，返回取消订阅函数
func (b *Bus) SubscribeAll(handler Handler) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.allSubs {
			if s.id == id {
				b.allSubs = append(b.allSubs[:i:i], b.allSubs[i+1:]...)
				return
			}
		}
	}
}

// Subscribers 返回指定类型的订阅者数量（含全局订阅者）
func (b *Bus) Subscribers(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.typed[kind]) + len(b.allSubs)
}

// Stats 返回已发布事件数和 handler panic 次数
func (b *Bus) Stats() (published, panics int64) {
	return b.published.Load(), b.panics.Load()
}

// Close 停止分发，幂等
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.mu.Lock()
	b.typed = make(map[Kind][]subscription)
	b.allSubs = nil
	b.mu.Unlock()
}
