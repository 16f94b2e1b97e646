package session

import (
	"time"

	"github.com/BaSui01/chatwidget/streaming/processor"
)

// State 会话状态
type State string

const (
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// IsTerminal 报告是否为终止状态
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Request 触发会话的用户消息
type Request struct {
	TenantHash string `json:"tenant_hash"`
	UserInput  string `json:"user_input"`
}

// Session 会话快照（值类型，可安全地跨 goroutine 传递）
type Session struct {
	ID             string    `json:"id"`
	MessageID      string    `json:"message_id"`
	Request        Request   `json:"request"`
	State          State     `json:"state"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time,omitempty"`
	ChunksReceived int64     `json:"chunks_received"`
	BytesReceived  int64     `json:"bytes_received"`
	LastChunkTime  time.Time `json:"last_chunk_time,omitempty"`
	Errors         []error   `json:"-"`
	// ValidationErrors 被拒绝的 chunk 数
	ValidationErrors int    `json:"validation_errors"`
	Content          string `json:"content,omitempty"`
	EndReason        string `json:"end_reason,omitempty"`
}

// Duration 返回会话持续时间，未结束时以 now 计算
func (s Session) Duration(now time.Time) time.Duration {
	if !s.EndTime.IsZero() {
		return s.EndTime.Sub(s.StartTime)
	}
	return now.Sub(s.StartTime)
}

// Context 传给会话回调的不可变上下文。
// 回调只能通过它访问会话，不应捕获 provider 的可变状态。
type Context struct {
	SessionID string
	MessageID string
	StartTime time.Time

	cancel func(reason string)
}

// Cancel 取消会话，可在回调内部安全调用
func (c Context) Cancel(reason string) {
	if c.cancel != nil {
		c.cancel(reason)
	}
}

// Handlers 会话级回调，会话进入终止状态时同步释放
type Handlers struct {
	OnDelta    func(ctx Context, delta string, chunk processor.ProcessedChunk)
	OnComplete func(ctx Context, content string)
	OnError    func(ctx Context, err error)
}

// Counts 内部计数与可观测计数
type Counts struct {
	// Tracked 注册表内部维护的活跃会话计数
	Tracked int `json:"tracked"`
	// Observed 遍历会话表得到的活跃会话数
	Observed int `json:"observed"`
	// Total 注册表中的全部会话（含尚未回收的终止会话）
	Total int `json:"total"`
}

// Consistent 报告两种计数是否一致
func (c Counts) Consistent() bool {
	return c.Tracked == c.Observed
}
