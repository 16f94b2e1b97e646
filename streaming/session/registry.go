package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/chatwidget/streaming/events"
	"github.com/BaSui01/chatwidget/streaming/processor"
	"github.com/BaSui01/chatwidget/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSessionExists 会话 id 冲突
var ErrSessionExists = errors.New("session id already active")

// Config 注册表配置
type Config struct {
	// InterChunkTimeout 相邻 chunk 的最大间隔，超时会话以 stalled 失败；0 表示不检测
	InterChunkTimeout time.Duration `yaml:"inter_chunk_timeout" json:"inter_chunk_timeout"`
	// MaxValidationErrors 单个会话允许的校验失败次数，达到后会话失败
	MaxValidationErrors int `yaml:"max_validation_errors" json:"max_validation_errors"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		InterChunkTimeout:   30 * time.Second,
		MaxValidationErrors: 5,
	}
}

type pendingDelta struct {
	delta string
	chunk processor.ProcessedChunk
}

// entry 注册表内部的会话记录，除 emitMu 外所有字段由 Registry.mu 保护
type entry struct {
	emitMu sync.Mutex // 串行化同一会话的 chunk 分发

	s        Session
	handlers *Handlers
	timer    *time.Timer
	timerGen uint64
	pending  []pendingDelta

	// dispatch 非 nil 表示正在向订阅者和回调分发 chunk，分发结束时关闭
	dispatch    chan struct{}
	dispatchGen uint64
	// closing 终止迁移正在等待分发结束，不再接受新的 chunk
	closing bool
}

// Registry 管理所有逻辑会话：分配 id、路由 chunk、维护计数和终止状态。
type Registry struct {
	config Config
	proc   *processor.Processor
	bus    *events.Bus
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	mu        sync.Mutex
	sessions  map[string]*entry
	byMessage map[string]string
	active    int
	timers    int
}

// Option 注册表选项
type Option func(*Registry)

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator 替换会话 id 生成器
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// NewRegistry 创建会话注册表
func NewRegistry(config Config, proc *processor.Processor, bus *events.Bus, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if proc == nil {
		proc = processor.New(processor.DefaultConfig(), logger)
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}
	if config.InterChunkTimeout < 0 {
		config.InterChunkTimeout = 0
	}
	if config.MaxValidationErrors <= 0 {
		config.MaxValidationErrors = DefaultConfig().MaxValidationErrors
	}

	r := &Registry{
		config:    config,
		proc:      proc,
		bus:       bus,
		logger:    logger.With(zap.String("component", "session_registry")),
		now:       time.Now,
		newID:     uuid.NewString,
		sessions:  make(map[string]*entry),
		byMessage: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// contextFor 构造回调上下文；gen 为所在分发的代数，0 表示不在分发中
func (r *Registry) contextFor(s *Session, gen uint64) Context {
	id := s.ID
	return Context{
		SessionID: s.ID,
		MessageID: s.MessageID,
		StartTime: s.StartTime,
		cancel:    func(reason string) { r.cancelWithin(id, reason, gen) },
	}
}

// beginDispatchLocked 标记分发开始，返回本次分发代数
func (r *Registry) beginDispatchLocked(e *entry) uint64 {
	e.dispatchGen++
	e.dispatch = make(chan struct{})
	return e.dispatchGen
}

func (r *Registry) endDispatch(e *entry) {
	r.mu.Lock()
	if e.dispatch != nil {
		close(e.dispatch)
		e.dispatch = nil
	}
	r.mu.Unlock()
}

// StartSession 分配会话 id、注册并发布 session_start
func (r *Registry) StartSession(req Request, messageID string, h Handlers) (Session, error) {
	r.mu.Lock()

	var id string
	for i := 0; i < 3; i++ {
		candidate := r.newID()
		if e, ok := r.sessions[candidate]; !ok || e.s.State.IsTerminal() {
			id = candidate
			break
		}
	}
	if id == "" {
		r.mu.Unlock()
		return Session{}, ErrSessionExists
	}
	if old, ok := r.sessions[id]; ok {
		// 复用已终止会话的 id，先回收旧记录
		delete(r.byMessage, old.s.MessageID)
		r.proc.Release(id)
	}

	e := &entry{
		s: Session{
			ID:        id,
			MessageID: messageID,
			Request:   req,
			State:     StateActive,
			StartTime: r.now(),
		},
		handlers: &h,
	}
	r.sessions[id] = e
	if messageID != "" {
		r.byMessage[messageID] = id
	}
	r.active++
	r.armTimerLocked(e)
	snap := e.s
	r.mu.Unlock()

	r.logger.Debug("session started", zap.String("session_id", id), zap.String("message_id", messageID))
	r.bus.Publish(events.Event{Kind: events.SessionStart, SessionID: id, MessageID: messageID, State: string(StateActive)})
	return snap, nil
}

// armTimerLocked 重置 chunk 间隔定时器，旧定时器通过代数失效
func (r *Registry) armTimerLocked(e *entry) {
	r.stopTimerLocked(e)
	if r.config.InterChunkTimeout <= 0 {
		return
	}
	e.timerGen++
	gen, id := e.timerGen, e.s.ID
	e.timer = time.AfterFunc(r.config.InterChunkTimeout, func() { r.onStall(id, gen) })
	r.timers++
}

func (r *Registry) stopTimerLocked(e *entry) {
	if e.timer == nil {
		return
	}
	e.timer.Stop()
	e.timer = nil
	e.timerGen++
	r.timers--
}

func (r *Registry) onStall(id string, gen uint64) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok || e.timerGen != gen || e.s.State != StateActive {
		r.mu.Unlock()
		return
	}
	e.timer = nil
	r.timers--
	r.mu.Unlock()

	r.logger.Warn("session stalled", zap.String("session_id", id), zap.Duration("timeout", r.config.InterChunkTimeout))
	r.FailSession(id, types.NewStalledError(id, r.config.InterChunkTimeout))
}

// RouteChunk 把 chunk 交给处理器校验并更新会话计数。
// 终止或未知会话的 chunk 直接拒绝；校验失败追加错误并发布 session_error，
// 连续失败达到上限后会话失败。
func (r *Registry) RouteChunk(sessionID string, c processor.Chunk) (processor.ProcessedChunk, error) {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return processor.ProcessedChunk{}, types.NewError(types.ErrSessionNotFound, "unknown session").WithSession(sessionID)
	}

	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	r.mu.Lock()
	if e.s.State.IsTerminal() || e.closing {
		state := e.s.State
		if !state.IsTerminal() {
			state = "closing"
		}
		r.mu.Unlock()
		return processor.ProcessedChunk{}, types.NewError(types.ErrInvalidState,
			fmt.Sprintf("session is %s", state)).WithSession(sessionID)
	}

	c.SessionID = sessionID
	if c.MessageID == "" {
		c.MessageID = e.s.MessageID
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = r.now()
	}
	pc, res := r.proc.ProcessChunk(c)

	if !res.Valid {
		verr := types.NewValidationError(sessionID, res.Error())
		e.s.Errors = append(e.s.Errors, verr)
		e.s.ValidationErrors++
		exhausted := e.s.ValidationErrors >= r.config.MaxValidationErrors
		msgID := e.s.MessageID
		r.mu.Unlock()

		r.logger.Debug("chunk rejected", zap.String("session_id", sessionID), zap.Strings("errors", res.Errors))
		r.bus.Publish(events.Event{Kind: events.SessionError, SessionID: sessionID, MessageID: msgID, Err: verr, Reason: "validation"})
		if exhausted {
			r.FailSession(sessionID, types.NewError(types.ErrValidation,
				fmt.Sprintf("validation errors exhausted (%d)", r.config.MaxValidationErrors)).WithSession(sessionID))
		}
		return pc, verr
	}

	e.s.ChunksReceived++
	e.s.BytesReceived += int64(pc.Size)
	e.s.LastChunkTime = c.Timestamp
	paused := e.s.State == StatePaused
	if paused {
		e.pending = append(e.pending, pendingDelta{delta: pc.Content, chunk: pc})
	} else {
		r.armTimerLocked(e)
	}
	msgID := e.s.MessageID
	gen := r.beginDispatchLocked(e)
	r.mu.Unlock()
	defer r.endDispatch(e)

	r.bus.Publish(events.Event{
		Kind:      events.ChunkReceived,
		SessionID: sessionID,
		MessageID: msgID,
		Chunk:     &pc,
		Cancel:    func(reason string) bool { return r.cancelWithin(sessionID, reason, gen) },
	})
	if !paused {
		r.deliver(e, []pendingDelta{{delta: pc.Content, chunk: pc}}, gen)
	}
	return pc, nil
}

// deliver 在回调前重新检查状态，会话一旦终止不再投递
func (r *Registry) deliver(e *entry, deltas []pendingDelta, gen uint64) {
	for _, d := range deltas {
		r.mu.Lock()
		if e.s.State.IsTerminal() || e.handlers == nil || e.handlers.OnDelta == nil {
			r.mu.Unlock()
			return
		}
		fn := e.handlers.OnDelta
		ctx := r.contextFor(&e.s, gen)
		r.mu.Unlock()

		if d.delta == "" {
			continue
		}
		fn(ctx, d.delta, d.chunk)
	}
}

// CompleteSession 组装完整内容并以 completed 结束会话。
// 内容存在序号缺口时会话以 validation_error 失败。
func (r *Registry) CompleteSession(sessionID string) (Session, error) {
	content, err := r.proc.Assemble(sessionID)
	if err != nil {
		verr := types.NewError(types.ErrValidation, "incomplete message").WithCause(err).WithSession(sessionID)
		r.FailSession(sessionID, verr)
		snap, _ := r.Get(sessionID)
		return snap, verr
	}
	return r.finish(sessionID, StateCompleted, content, "completed", nil, 0)
}

// StopSession 以已收到的连续前缀结束会话
func (r *Registry) StopSession(sessionID, reason string) (Session, error) {
	content, _ := r.proc.AssembleContiguous(sessionID)
	if reason == "" {
		reason = "stopped"
	}
	return r.finish(sessionID, StateCompleted, content, reason, nil, 0)
}

// FailSession 以 failed 结束会话并通过 OnError 立即投递错误
func (r *Registry) FailSession(sessionID string, cause error) (Session, error) {
	if cause == nil {
		cause = types.NewError(types.ErrUpstream, "session failed").WithSession(sessionID)
	}
	return r.finish(sessionID, StateFailed, "", cause.Error(), cause, 0)
}

// CancelSession 取消会话。幂等：未知或已终止的会话直接返回 false，不发布事件。
// 若该会话正在分发 chunk，等待分发结束后再返回，返回后不会再有该会话的 chunk 事件。
// 在该会话自身的回调或 chunk_received 订阅者内部应改用 Context.Cancel 或 Event.Cancel。
func (r *Registry) CancelSession(sessionID, reason string) bool {
	return r.cancelWithin(sessionID, reason, 0)
}

func (r *Registry) cancelWithin(sessionID, reason string, gen uint64) bool {
	if reason == "" {
		reason = "cancelled"
	}
	_, err := r.finish(sessionID, StateCancelled, "", reason, nil, gen)
	return err == nil
}

// finish 执行终止迁移：记录结束时间、停止定时器、同步释放回调、发布事件。
// within 为调用方所在分发的代数；其他分发进行中时先阻止新 chunk 并等待其结束。
func (r *Registry) finish(sessionID string, to State, content, reason string, cause error, within uint64) (Session, error) {
	r.mu.Lock()
	var e *entry
	for {
		var ok bool
		e, ok = r.sessions[sessionID]
		if !ok {
			r.mu.Unlock()
			return Session{}, types.NewError(types.ErrSessionNotFound, "unknown session").WithSession(sessionID)
		}
		if e.s.State.IsTerminal() {
			snap := e.s
			r.mu.Unlock()
			return snap, types.NewError(types.ErrInvalidState, fmt.Sprintf("session already %s", snap.State)).WithSession(sessionID)
		}
		if e.dispatch == nil || (within != 0 && within == e.dispatchGen) {
			break
		}
		e.closing = true
		done := e.dispatch
		r.mu.Unlock()
		<-done
		r.mu.Lock()
	}

	prev := e.s.State
	r.stopTimerLocked(e)
	e.s.State = to
	e.s.EndTime = r.now()
	e.s.EndReason = reason
	e.s.Content = content
	if cause != nil {
		e.s.Errors = append(e.s.Errors, cause)
	}
	h := e.handlers
	e.handlers = nil
	e.pending = nil
	r.active--
	ctx := r.contextFor(&e.s, 0)
	snap := e.s
	r.mu.Unlock()

	r.proc.Seal(sessionID)

	r.logger.Debug("session finished",
		zap.String("session_id", sessionID),
		zap.String("state", string(to)),
		zap.String("reason", reason),
	)

	if h != nil {
		switch {
		case to == StateCompleted && h.OnComplete != nil:
			h.OnComplete(ctx, content)
		case to == StateFailed && h.OnError != nil:
			h.OnError(ctx, cause)
		}
	}

	if to == StateFailed {
		r.bus.Publish(events.Event{Kind: events.SessionError, SessionID: sessionID, MessageID: snap.MessageID, Err: cause, Reason: reason, State: string(to)})
	}
	r.bus.Publish(events.Event{
		Kind:      events.SessionEnd,
		SessionID: sessionID,
		MessageID: snap.MessageID,
		State:     string(to),
		PrevState: string(prev),
		Content:   content,
		Err:       cause,
		Reason:    reason,
	})
	return snap, nil
}

// PauseStreaming 暂停投递，chunk 继续被接收和计数，间隔定时器挂起
func (r *Registry) PauseStreaming(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return types.NewError(types.ErrSessionNotFound, "unknown session").WithSession(sessionID)
	}
	switch e.s.State {
	case StatePaused:
		return nil
	case StateActive:
		e.s.State = StatePaused
		r.stopTimerLocked(e)
		return nil
	default:
		return types.NewError(types.ErrInvalidState, fmt.Sprintf("cannot pause %s session", e.s.State)).WithSession(sessionID)
	}
}

// ResumeStreaming 恢复投递，先补发暂停期间缓冲的增量
func (r *Registry) ResumeStreaming(sessionID string) error {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return types.NewError(types.ErrSessionNotFound, "unknown session").WithSession(sessionID)
	}
	r.mu.Unlock()

	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	r.mu.Lock()
	if e.closing {
		r.mu.Unlock()
		return types.NewError(types.ErrInvalidState, "session is closing").WithSession(sessionID)
	}
	switch e.s.State {
	case StateActive:
		r.mu.Unlock()
		return nil
	case StatePaused:
	default:
		state := e.s.State
		r.mu.Unlock()
		return types.NewError(types.ErrInvalidState, fmt.Sprintf("cannot resume %s session", state)).WithSession(sessionID)
	}
	e.s.State = StateActive
	pending := e.pending
	e.pending = nil
	r.armTimerLocked(e)
	gen := r.beginDispatchLocked(e)
	r.mu.Unlock()
	defer r.endDispatch(e)

	r.deliver(e, pending, gen)
	return nil
}

// CleanupCompletedSessions 回收终止超过 maxAge 的会话，返回回收数量。
// 注册表自身不调度清理，由 provider 周期调用。
func (r *Registry) CleanupCompletedSessions(maxAge time.Duration) int {
	now := r.now()

	r.mu.Lock()
	var reclaimed []string
	for id, e := range r.sessions {
		if !e.s.State.IsTerminal() || now.Sub(e.s.EndTime) <= maxAge {
			continue
		}
		delete(r.sessions, id)
		if r.byMessage[e.s.MessageID] == id {
			delete(r.byMessage, e.s.MessageID)
		}
		reclaimed = append(reclaimed, id)
	}
	r.mu.Unlock()

	for _, id := range reclaimed {
		r.proc.Release(id)
	}
	if len(reclaimed) > 0 {
		r.logger.Debug("sessions reclaimed", zap.Int("count", len(reclaimed)))
	}
	return len(reclaimed)
}

// Get 返回会话快照
func (r *Registry) Get(sessionID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return snapshotOf(e), true
}

func snapshotOf(e *entry) Session {
	s := e.s
	s.Errors = append([]error(nil), e.s.Errors...)
	return s
}

// FindByMessageID 按出站消息 id 查找会话
func (r *Registry) FindByMessageID(messageID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byMessage[messageID]
	return id, ok
}

// List 返回全部会话快照
func (r *Registry) List() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, snapshotOf(e))
	}
	return out
}

// ActiveIDs 返回未终止会话的 id
func (r *Registry) ActiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, e := range r.sessions {
		if !e.s.State.IsTerminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

// ActiveCount 返回内部维护的活跃会话数
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Counts 返回内部计数与遍历计数
func (r *Registry) Counts() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()

	observed := 0
	for _, e := range r.sessions {
		if !e.s.State.IsTerminal() {
			observed++
		}
	}
	return Counts{Tracked: r.active, Observed: observed, Total: len(r.sessions)}
}

// CheckInvariant 校验内部计数与遍历计数一致；不一致时以遍历结果为准修正并返回错误
func (r *Registry) CheckInvariant() error {
	r.mu.Lock()
	observed := 0
	for _, e := range r.sessions {
		if !e.s.State.IsTerminal() {
			observed++
		}
	}
	tracked := r.active
	if tracked != observed {
		r.active = observed
	}
	r.mu.Unlock()

	if tracked != observed {
		r.logger.Error("session count diverged", zap.Int("tracked", tracked), zap.Int("observed", observed))
		return fmt.Errorf("session count diverged: tracked=%d observed=%d", tracked, observed)
	}
	return nil
}

// PendingTimers 返回已挂起的 chunk 间隔定时器数量
func (r *Registry) PendingTimers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timers
}

// Shutdown 取消所有未终止会话
func (r *Registry) Shutdown(reason string) int {
	ids := r.ActiveIDs()
	n := 0
	for _, id := range ids {
		if r.CancelSession(id, reason) {
			n++
		}
	}
	return n
}
