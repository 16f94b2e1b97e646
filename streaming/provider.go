package streaming

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/chatwidget/internal/channel"
	"github.com/BaSui01/chatwidget/internal/metrics"
	"github.com/BaSui01/chatwidget/streaming/boundary"
	"github.com/BaSui01/chatwidget/streaming/connection"
	"github.com/BaSui01/chatwidget/streaming/diagnostics"
	"github.com/BaSui01/chatwidget/streaming/events"
	"github.com/BaSui01/chatwidget/streaming/processor"
	"github.com/BaSui01/chatwidget/streaming/session"
	"github.com/BaSui01/chatwidget/streaming/transport"
	"github.com/BaSui01/chatwidget/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/BaSui01/chatwidget/streaming"

// Provider 流式子系统的对外入口。
// 持有唯一的连接管理器、会话注册表、处理器缓冲、错误边界与诊断监视器，
// 全部在 NewProvider 中创建，在 Shutdown 中销毁。
type Provider struct {
	config    Config
	logger    *zap.Logger
	creds     transport.Credentials
	now       func() time.Time
	rand      func() float64
	collector *metrics.Collector
	snapshots diagnostics.SnapshotStore
	journal   *diagnostics.Journal
	tracer    trace.Tracer

	bus      *events.Bus
	proc     *processor.Processor
	registry *session.Registry
	boundary *boundary.Boundary
	monitor  *diagnostics.Monitor
	conn     *connection.Manager
	limiter  *rate.Limiter

	spanMu sync.Mutex
	spans  map[string]trace.Span

	journalQ *channel.Tunable[session.Session]
	unsub    []func()

	closed   atomic.Bool
	stop     chan struct{}
	wg       sync.WaitGroup
	shutdown sync.Once
}

// NewProvider 创建 provider，连接在首次 StartStreaming 或 Connect 时惰性建立
func NewProvider(config Config, dialer transport.Dialer, opts ...Option) (*Provider, error) {
	if dialer == nil {
		return nil, errors.New("streaming: dialer is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("streaming: invalid config: %w", err)
	}
	if config.SessionTTL == 0 {
		config.SessionTTL = DefaultConfig().SessionTTL
	}
	if config.JournalBuffer <= 0 {
		config.JournalBuffer = DefaultConfig().JournalBuffer
	}

	p := &Provider{
		config: config,
		logger: zap.NewNop(),
		now:    time.Now,
		rand:   rand.Float64,
		tracer: noop.NewTracerProvider().Tracer(tracerName),
		spans:  make(map[string]trace.Span),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "streaming_provider"))

	monitorOpts := []diagnostics.Option{diagnostics.WithClock(p.now)}
	if p.collector != nil {
		monitorOpts = append(monitorOpts, diagnostics.WithExporter(p.collector))
	}
	p.monitor = diagnostics.NewMonitor(config.Diagnostics, p.logger, monitorOpts...)

	p.boundary = boundary.New(&boundary.Config{
		FailureThreshold: config.Boundary.FailureThreshold,
		Cooldown:         config.Boundary.Cooldown,
		OnStateChange: func(_, to boundary.State) {
			p.monitor.SetBoundaryOpen(to == boundary.StateOpen)
		},
	}, p.logger)

	p.bus = events.NewBus(p.logger)
	p.proc = processor.New(config.Processor, p.logger).WithClock(p.now)
	p.registry = session.NewRegistry(config.Session, p.proc, p.bus, p.logger, session.WithClock(p.now))

	p.conn = connection.NewManager(config.Connection, dialer, p.creds,
		connection.WithLogger(p.logger),
		connection.WithClock(p.now),
		connection.WithRand(p.rand),
		connection.WithHooks(connection.Hooks{
			OnStateChange:   p.onConnectionState,
			OnQualityChange: p.onQualityChange,
			OnMeasurement:   p.monitor.RecordQuality,
			OnAttempt: func(_ int, err error) {
				p.monitor.RecordConnectionAttempt(err)
			},
			OnFailure: p.onConnectionFailure,
			OnFrame:   p.handleFrame,
		}),
	)

	if config.RateLimit.PerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(config.RateLimit.PerSecond), config.RateLimit.Burst)
	}

	p.unsub = append(p.unsub,
		p.bus.Subscribe(events.SessionStart, p.onSessionStart),
		p.bus.Subscribe(events.ChunkReceived, p.onChunk),
		p.bus.Subscribe(events.SessionError, p.onSessionError),
		p.bus.Subscribe(events.SessionEnd, p.onSessionEnd),
	)

	if p.journal != nil {
		qc := channel.DefaultTunableConfig()
		qc.InitialSize = config.JournalBuffer
		qc.MinSize = config.JournalBuffer
		qc.MaxSize = config.JournalBuffer * 16
		p.journalQ = channel.NewTunable[session.Session](qc)
		p.wg.Add(1)
		go p.journalLoop()
	}
	if config.MaintenanceInterval > 0 {
		p.wg.Add(1)
		go p.maintenanceLoop(config.MaintenanceInterval)
	}

	p.logger.Info("streaming provider created",
		zap.String("endpoint", config.Connection.Endpoint),
		zap.Int("failure_threshold", config.Boundary.FailureThreshold),
		zap.Duration("cooldown", config.Boundary.Cooldown),
	)
	return p, nil
}

// StartStreaming 启动一次流式请求并返回会话 id。
// 错误边界打开时在任何 I/O 之前返回 boundary_suppressed，调用方应改走非流式路径。
// messageID 为空时自动生成。
func (p *Provider) StartStreaming(ctx context.Context, req session.Request, messageID string, opts Options) (string, error) {
	if p.closed.Load() {
		return "", types.NewError(types.ErrProviderClosed, "streaming provider is shut down")
	}
	if p.limiter != nil && !p.limiter.Allow() {
		p.monitor.RecordSuppressed(true)
		p.recordRejected(string(types.ErrRateLimited))
		return "", types.NewError(types.ErrRateLimited, "too many streaming requests")
	}
	if d := p.boundary.Check(p.now()); !d.Allowed {
		p.monitor.RecordSuppressed(false)
		p.recordRejected(string(types.ErrBoundarySuppressed))
		p.logger.Debug("streaming suppressed", zap.String("reason", d.Reason))
		return "", types.NewError(types.ErrBoundarySuppressed, d.Reason)
	}

	if messageID == "" {
		messageID = uuid.NewString()
	}
	if req.TenantHash == "" {
		if tenant, ok := types.TenantID(ctx); ok {
			req.TenantHash = tenant
		}
	}

	attrs := []attribute.KeyValue{attribute.String("chatwidget.message_id", messageID)}
	if traceID, ok := types.TraceID(ctx); ok {
		attrs = append(attrs, attribute.String("chatwidget.trace_id", traceID))
	}
	if userID, ok := types.UserID(ctx); ok {
		attrs = append(attrs, attribute.String("chatwidget.user_id", userID))
	}
	ctx, span := p.tracer.Start(ctx, "chatwidget.stream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)

	s, err := p.registry.StartSession(req, messageID, opts.Handlers)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return "", err
	}
	span.SetAttributes(attribute.String("chatwidget.session_id", s.ID))
	p.trackSpan(s.ID, span)

	connID, err := p.conn.Ensure(ctx)
	if err != nil {
		p.logger.Warn("streaming connect failed", zap.String("session_id", s.ID), zap.Error(err))
		_, _ = p.registry.FailSession(s.ID, err)
		return "", err
	}
	span.SetAttributes(attribute.String("chatwidget.connection_id", connID))

	if err := p.conn.Send(ctx, transport.NewRequest(req.TenantHash, req.UserInput, s.ID, messageID)); err != nil {
		_, _ = p.registry.FailSession(s.ID, err)
		return "", err
	}
	// 回放很快的服务端可能在 Send 返回前就结束了会话
	if p.registry.ActiveCount() == 0 {
		p.conn.MarkIdle()
	}

	p.logger.Debug("streaming started",
		zap.String("session_id", s.ID),
		zap.String("message_id", messageID),
		zap.String("connection_id", connID),
	)
	return s.ID, nil
}

// StopStreaming 以已收到的连续前缀完成会话；sessionID 为空时停止全部活跃会话
func (p *Provider) StopStreaming(sessionID, reason string) error {
	if reason == "" {
		reason = "stopped"
	}
	return p.forSessions(sessionID, func(id string) error {
		_, err := p.registry.StopSession(id, reason)
		return err
	})
}

// PauseStreaming 暂停投递；sessionID 为空时暂停全部活跃会话
func (p *Provider) PauseStreaming(sessionID string) error {
	return p.forSessions(sessionID, p.registry.PauseStreaming)
}

// ResumeStreaming 恢复投递并补发暂停期间缓冲的增量
func (p *Provider) ResumeStreaming(sessionID string) error {
	return p.forSessions(sessionID, p.registry.ResumeStreaming)
}

// CancelStreaming 丢弃会话，幂等；返回 false 表示会话不存在或已终止。
// 返回后该会话不会再产生任何回调或 chunk 事件。
// 在该会话的回调或 chunk_received 订阅者内部请使用 session.Context.Cancel 或 Event.Cancel。
func (p *Provider) CancelStreaming(sessionID, reason string) bool {
	if reason == "" {
		reason = "cancelled"
	}
	return p.registry.CancelSession(sessionID, reason)
}

func (p *Provider) forSessions(sessionID string, fn func(id string) error) error {
	if sessionID != "" {
		return fn(sessionID)
	}
	var errs []error
	for _, id := range p.registry.ActiveIDs() {
		if err := fn(id); err != nil && !types.IsErrorCode(err, types.ErrInvalidState) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Connect 预先建立连接，受错误边界约束
func (p *Provider) Connect(ctx context.Context) (string, error) {
	if p.closed.Load() {
		return "", types.NewError(types.ErrProviderClosed, "streaming provider is shut down")
	}
	if d := p.boundary.Check(p.now()); !d.Allowed {
		return "", types.NewError(types.ErrBoundarySuppressed, d.Reason)
	}
	return p.conn.Ensure(ctx)
}

// Subscribe 订阅某类事件，返回取消函数
func (p *Provider) Subscribe(kind events.Kind, h events.Handler) func() {
	return p.bus.Subscribe(kind, h)
}

// SubscribeAll 订阅全部事件
func (p *Provider) SubscribeAll(h events.Handler) func() {
	return p.bus.SubscribeAll(h)
}

// Session 返回会话快照
func (p *Provider) Session(sessionID string) (session.Session, bool) {
	return p.registry.Get(sessionID)
}

// Sessions 返回全部会话快照
func (p *Provider) Sessions() []session.Session {
	return p.registry.List()
}

// ActiveSessions 返回活跃会话数
func (p *Provider) ActiveSessions() int {
	return p.registry.ActiveCount()
}

// ConnectionState 返回连接状态
func (p *Provider) ConnectionState() connection.State {
	return p.conn.State()
}

// Quality 返回连接质量等级
func (p *Provider) Quality() connection.Quality {
	return p.conn.Quality()
}

// Boundary 返回错误边界快照
func (p *Provider) Boundary() boundary.Snapshot {
	return p.boundary.Snapshot()
}

// ResetBoundary 手动关闭错误边界
func (p *Provider) ResetBoundary() {
	p.boundary.Reset()
}

// Shutdown 取消所有会话、终止连接并释放 provider 持有的缓存。
// 幂等；不可在会话回调或事件订阅者中调用。
func (p *Provider) Shutdown(ctx context.Context) error {
	var err error
	p.shutdown.Do(func() {
		p.closed.Store(true)

		// 先取消会话，使其 session_end 记录能进入日志队列
		cancelled := p.registry.Shutdown("provider shutdown")
		close(p.stop)
		p.conn.Terminate()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}

		p.proc.Reset()
		for _, u := range p.unsub {
			u()
		}
		p.bus.Close()

		p.spanMu.Lock()
		spans := p.spans
		p.spans = make(map[string]trace.Span)
		p.spanMu.Unlock()
		for _, span := range spans {
			span.End()
		}

		p.logger.Info("streaming provider shut down", zap.Int("cancelled_sessions", cancelled))
	})
	return err
}

// --- 连接回调 ---

func (p *Provider) onConnectionState(from, to connection.State) {
	p.bus.Publish(events.Event{
		Kind:      events.ConnectionState,
		Time:      p.now(),
		State:     string(to),
		PrevState: string(from),
	})
	if p.collector != nil {
		p.collector.SetConnectionState(string(from), string(to))
	}
	if !to.IsLive() {
		p.monitor.SetQuality(connection.QualityOffline)
	}
	if from == connection.StateReconnecting && to == connection.StateConnected {
		p.monitor.RecordReconnect()
	}
	if to == connection.StateFailed {
		p.failActive(types.NewConnectionError("reconnect attempts exhausted", nil).WithRetryable(false))
	}
}

func (p *Provider) onQualityChange(from, to connection.Quality, m connection.Measurement) {
	p.bus.Publish(events.Event{
		Kind:      events.QualityChange,
		Time:      m.Timestamp,
		Quality:   to.String(),
		PrevState: from.String(),
		Latency:   m.Latency,
	})
}

// onConnectionFailure 是错误边界唯一的失败来源
func (p *Provider) onConnectionFailure(err error) {
	snap := p.boundary.RecordFailure(p.now())
	p.monitor.RecordConnectionFailure(err)
	p.logger.Debug("connection failure",
		zap.Int("consecutive_failures", snap.ConsecutiveFailures),
		zap.Bool("boundary_open", snap.Open),
		zap.Error(err),
	)
}

func (p *Provider) failActive(cause error) {
	for _, id := range p.registry.ActiveIDs() {
		_, _ = p.registry.FailSession(id, cause)
	}
}

// --- 事件订阅 ---

func (p *Provider) onSessionStart(events.Event) {
	p.monitor.RecordSessionStart()
	p.exportActive()
}

func (p *Provider) onChunk(e events.Event) {
	p.boundary.RecordSuccess()
	if e.Chunk != nil {
		p.monitor.RecordChunk(e.Chunk.Size)
	}
}

func (p *Provider) onSessionError(e events.Event) {
	// 单个 chunk 校验失败；会话失败由 session_end 统计
	if e.Reason == "validation" && e.State == "" {
		p.monitor.RecordChunkRejected()
	}
}

func (p *Provider) onSessionEnd(e events.Event) {
	state := session.State(e.State)
	s, ok := p.registry.Get(e.SessionID)

	var d time.Duration
	if ok {
		d = s.EndTime.Sub(s.StartTime)
	}
	p.monitor.RecordSessionEnd(state, d)
	if state == session.StateCompleted {
		p.boundary.RecordSuccess()
	}
	p.endSpan(e.SessionID, state, e.Err)

	if p.registry.ActiveCount() == 0 {
		p.conn.MarkIdle()
	}
	p.exportActive()

	if p.journalQ != nil && ok {
		if !p.journalQ.TrySend(s) {
			p.logger.Warn("session journal queue full, dropping record",
				zap.String("session_id", s.ID),
				zap.Int("capacity", p.journalQ.Cap()))
		}
	}
}

func (p *Provider) exportActive() {
	if p.collector != nil {
		p.collector.SetActiveSessions(p.registry.ActiveCount())
	}
}

func (p *Provider) recordRejected(reason string) {
	if p.collector != nil {
		p.collector.RecordStartRejected(reason)
	}
}

// --- tracing ---

func (p *Provider) trackSpan(sessionID string, span trace.Span) {
	p.spanMu.Lock()
	p.spans[sessionID] = span
	p.spanMu.Unlock()

	// 会话可能在登记前已经终止
	if s, ok := p.registry.Get(sessionID); ok && s.State.IsTerminal() {
		p.endSpan(sessionID, s.State, nil)
	}
}

func (p *Provider) endSpan(sessionID string, state session.State, err error) {
	p.spanMu.Lock()
	span, ok := p.spans[sessionID]
	delete(p.spans, sessionID)
	p.spanMu.Unlock()
	if !ok {
		return
	}

	span.SetAttributes(attribute.String("chatwidget.session_state", string(state)))
	if state == session.StateFailed {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Error, "session failed")
		}
	}
	span.End()
}
