package connection

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/chatwidget/streaming/backoff"
	"github.com/BaSui01/chatwidget/streaming/processor"
	"github.com/BaSui01/chatwidget/streaming/transport"
	"github.com/BaSui01/chatwidget/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrTerminated 管理器已终止
var ErrTerminated = errors.New("connection manager terminated")

// Config 连接配置
type Config struct {
	Endpoint          string         `yaml:"endpoint" json:"endpoint"`
	ConnectTimeout    time.Duration  `yaml:"connect_timeout" json:"connect_timeout"`       // 建连绝对超时
	HeartbeatInterval time.Duration  `yaml:"heartbeat_interval" json:"heartbeat_interval"` // 心跳间隔，默认 30s
	HeartbeatTimeout  time.Duration  `yaml:"heartbeat_timeout" json:"heartbeat_timeout"`   // 心跳超时，默认 10s
	EnableHeartbeat   bool           `yaml:"enable_heartbeat" json:"enable_heartbeat"`
	Backoff           backoff.Policy `yaml:"backoff" json:"backoff"` // MaxAttempts 即最大重连次数
	Thresholds        Thresholds     `yaml:"thresholds" json:"thresholds"`
	LossWindow        int            `yaml:"loss_window" json:"loss_window"` // 丢包率统计的心跳窗口
}

// DefaultConfig 返回默认连接配置
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		EnableHeartbeat:   true,
		Backoff:           backoff.DefaultPolicy(),
		Thresholds:        DefaultThresholds(),
		LossWindow:        20,
	}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	c.Backoff = c.Backoff.Normalize()
	if c.Thresholds.Validate() != nil {
		c.Thresholds = d.Thresholds
	}
	if c.LossWindow <= 0 {
		c.LossWindow = d.LossWindow
	}
	return c
}

// Hooks 连接事件回调，均在管理器锁外调用
type Hooks struct {
	OnStateChange   func(from, to State)
	OnQualityChange func(from, to Quality, m Measurement)
	OnMeasurement   func(m Measurement)
	// OnAttempt 每次拨号结果，err 为 nil 表示成功
	OnAttempt func(attempt int, err error)
	// OnFailure 向调用方上抛的失败：建连失败或重连耗尽
	OnFailure func(err error)
	// OnFrame 在读取协程上顺序调用
	OnFrame func(f processor.Frame)
}

// Counters 连接计数
type Counters struct {
	Attempts   int64 `json:"attempts"`
	Successes  int64 `json:"successes"`
	Failures   int64 `json:"failures"`
	Reconnects int64 `json:"reconnects"`
}

// Info 连接信息快照
type Info struct {
	ID          string         `json:"id"`
	State       State          `json:"state"`
	Quality     Quality        `json:"quality"`
	Endpoint    string         `json:"endpoint"`
	Transport   transport.Kind `json:"transport,omitempty"`
	ConnectedAt time.Time      `json:"connected_at,omitempty"`
	Counters    Counters       `json:"counters"`
	Last        Measurement    `json:"last_measurement"`
}

// Option 管理器选项
type Option func(*Manager)

// WithHooks 设置回调
func WithHooks(h Hooks) Option {
	return func(m *Manager) { m.hooks = h }
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRand 替换退避抖动的随机源
func WithRand(rnd func() float64) Option {
	return func(m *Manager) { m.rand = rnd }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Manager 持有唯一的物理连接及其状态机、心跳、重连和质量评估。
type Manager struct {
	config Config
	dialer transport.Dialer
	creds  transport.Credentials
	hooks  Hooks
	logger *zap.Logger
	now    func() time.Time
	rand   func() float64

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu           sync.Mutex
	id           string
	state        State
	conn         transport.Conn
	connCancel   context.CancelFunc
	reconnCancel context.CancelFunc
	reconnGen    uint64
	connectedAt  time.Time
	counters     Counters

	quality     Quality
	last        Measurement
	lastLatency time.Duration
	jitter      float64
	pings       []bool

	changed chan struct{}

	sf     singleflight.Group
	wg     sync.WaitGroup
	timers atomic.Int32
}

// NewManager 创建连接管理器，连接在首次 Connect/Ensure 时惰性建立
func NewManager(config Config, dialer transport.Dialer, creds transport.Credentials, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:     config.normalize(),
		dialer:     dialer,
		creds:      creds,
		logger:     zap.NewNop(),
		now:        time.Now,
		rand:       rand.Float64,
		baseCtx:    ctx,
		baseCancel: cancel,
		state:      StateDisconnected,
		quality:    QualityOffline,
		changed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "connection_manager"))
	return m
}

// notification 在锁外执行的回调
type notification func()

// setStateLocked 校验并执行状态迁移，返回需要在锁外执行的通知
func (m *Manager) setStateLocked(to State) ([]notification, error) {
	from := m.state
	if from == to {
		return nil, nil
	}
	if !CanTransition(from, to) {
		m.logger.Error("illegal state transition", zap.String("from", string(from)), zap.String("to", string(to)))
		return nil, invalidTransition(from, to)
	}
	m.state = to
	close(m.changed)
	m.changed = make(chan struct{})

	m.logger.Debug("state changed", zap.String("from", string(from)), zap.String("to", string(to)))

	var out []notification
	if cb := m.hooks.OnStateChange; cb != nil {
		out = append(out, func() { cb(from, to) })
	}
	if !to.IsLive() {
		out = append(out, m.setQualityLocked(QualityOffline, Measurement{Timestamp: m.now(), Quality: QualityOffline})...)
	}
	return out, nil
}

func (m *Manager) setQualityLocked(q Quality, meas Measurement) []notification {
	from := m.quality
	if from == q {
		return nil
	}
	m.quality = q
	if cb := m.hooks.OnQualityChange; cb != nil {
		return []notification{func() { cb(from, q, meas) }}
	}
	return nil
}

func run(ns []notification) {
	for _, n := range ns {
		n()
	}
}

// Connect 在绝对超时内建立传输，自身不重试。
// endpoint 为空时使用配置中的地址；creds 为 nil 时沿用已有凭据。
func (m *Manager) Connect(ctx context.Context, endpoint string, creds transport.Credentials) (string, error) {
	m.mu.Lock()
	if m.state == StateTerminated {
		m.mu.Unlock()
		return "", ErrTerminated
	}
	if m.state.IsLive() {
		id := m.id
		m.mu.Unlock()
		return id, nil
	}
	if m.state == StateConnecting || m.state == StateReconnecting {
		state := m.state
		m.mu.Unlock()
		return "", types.NewError(types.ErrInvalidState, fmt.Sprintf("connect already in progress (%s)", state))
	}
	if endpoint != "" {
		m.config.Endpoint = endpoint
	}
	if creds != nil {
		m.creds = creds
	}
	ns, err := m.setStateLocked(StateConnecting)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	m.counters.Attempts++
	endpoint, creds = m.config.Endpoint, m.creds
	m.mu.Unlock()
	run(ns)

	conn, err := m.dial(ctx, endpoint, creds)
	if err != nil {
		m.mu.Lock()
		m.counters.Failures++
		ns, _ := m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		run(ns)

		m.logger.Warn("connect failed", zap.String("endpoint", endpoint), zap.Error(err))
		m.attempted(1, err)
		if m.hooks.OnFailure != nil {
			m.hooks.OnFailure(err)
		}
		return "", err
	}

	id, ns, err := m.install(conn, StateConnecting, 0)
	run(ns)
	if err != nil {
		_ = conn.Close()
		return "", err
	}
	m.attempted(1, nil)
	m.logger.Info("connected", zap.String("connection_id", id), zap.String("endpoint", endpoint))
	return id, nil
}

// dial 在 ConnectTimeout 内拨号，超时同样归一为 connection_error
func (m *Manager) dial(ctx context.Context, endpoint string, creds transport.Credentials) (transport.Conn, error) {
	if endpoint == "" {
		return nil, types.NewError(types.ErrConnection, "no endpoint configured")
	}
	dialCtx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	defer cancel()

	conn, err := m.dialer.Dial(dialCtx, endpoint, creds)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, types.NewConnectionError(
				fmt.Sprintf("connect timeout after %s", m.config.ConnectTimeout), err)
		}
		if _, ok := types.AsError(err); !ok {
			err = types.NewConnectionError("dial failed", err)
		}
		return nil, err
	}
	return conn, nil
}

// install 把新连接设为当前连接并启动读取和心跳协程
func (m *Manager) install(conn transport.Conn, expect State, gen uint64) (string, []notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != expect || (expect == StateReconnecting && gen != m.reconnGen) {
		return "", nil, types.NewError(types.ErrInvalidState,
			fmt.Sprintf("connection superseded while %s", m.state))
	}

	ns, err := m.setStateLocked(StateConnected)
	if err != nil {
		return "", nil, err
	}

	connCtx, cancel := context.WithCancel(m.baseCtx)
	m.id = uuid.NewString()
	m.conn = conn
	m.connCancel = cancel
	m.connectedAt = m.now()
	m.counters.Successes++
	if expect == StateReconnecting {
		m.reconnCancel = nil
	}
	m.pings = m.pings[:0]
	m.jitter = 0
	m.lastLatency = 0

	m.wg.Add(1)
	go m.readLoop(connCtx, conn)
	if m.config.EnableHeartbeat {
		m.wg.Add(1)
		m.timers.Add(1)
		go m.heartbeatLoop(connCtx, conn)
	}
	return m.id, ns, nil
}

func (m *Manager) attempted(attempt int, err error) {
	if m.hooks.OnAttempt != nil {
		m.hooks.OnAttempt(attempt, err)
	}
}

// Ensure 返回可用连接的 id，必要时建连。
// 并发调用共享同一次建连；重连进行中时等待其结果。
func (m *Manager) Ensure(ctx context.Context) (string, error) {
	for {
		m.mu.Lock()
		state, id, changed := m.state, m.id, m.changed
		m.mu.Unlock()

		switch state {
		case StateConnected, StateStreaming:
			return id, nil
		case StateTerminated:
			return "", ErrTerminated
		case StateConnecting, StateReconnecting:
			select {
			case <-changed:
				if state == StateReconnecting {
					m.mu.Lock()
					failed := m.state == StateFailed
					m.mu.Unlock()
					if failed {
						return "", types.NewConnectionError("reconnect attempts exhausted", nil).WithRetryable(false)
					}
				}
				continue
			case <-ctx.Done():
				return "", ctx.Err()
			}
		default:
			v, err, _ := m.sf.Do("connect", func() (any, error) {
				return m.Connect(context.WithoutCancel(ctx), "", nil)
			})
			if err != nil {
				return "", err
			}
			return v.(string), nil
		}
	}
}

// Send 写出流式请求帧，成功后进入 streaming
func (m *Manager) Send(ctx context.Context, req transport.Request) error {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()

	if !state.IsLive() || conn == nil {
		return types.NewError(types.ErrInvalidState, fmt.Sprintf("cannot send while %s", state)).
			WithSession(req.SessionID)
	}

	if err := conn.Send(ctx, req); err != nil {
		m.logger.Warn("send failed", zap.String("session_id", req.SessionID), zap.Error(err))
		m.triggerReconnect(conn, err)
		return err
	}

	m.mu.Lock()
	var ns []notification
	if m.state == StateConnected && m.conn == conn {
		ns, _ = m.setStateLocked(StateStreaming)
	}
	m.mu.Unlock()
	run(ns)
	return nil
}

// MarkIdle 没有活跃会话时由 streaming 回到 connected
func (m *Manager) MarkIdle() {
	m.mu.Lock()
	var ns []notification
	if m.state == StateStreaming {
		ns, _ = m.setStateLocked(StateConnected)
	}
	m.mu.Unlock()
	run(ns)
}

// Disconnect 关闭传输并取消心跳和重连定时器
func (m *Manager) Disconnect(reason string) {
	m.mu.Lock()
	if m.state == StateDisconnected || m.state == StateTerminated {
		m.mu.Unlock()
		return
	}
	conn := m.teardownLocked()
	ns, _ := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.logger.Info("disconnected", zap.String("reason", reason))
	run(ns)
}

// teardownLocked 取消当前连接和重连协程，返回待关闭的连接
func (m *Manager) teardownLocked() transport.Conn {
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	if m.reconnCancel != nil {
		m.reconnCancel()
		m.reconnCancel = nil
	}
	m.reconnGen++
	conn := m.conn
	m.conn = nil
	return conn
}

// Reconnect 拆除并以指数退避重新建连。
// force 为 false 时，连接健康或重连已在进行中则直接返回。
// 重连耗尽后进入 failed 并返回错误。
func (m *Manager) Reconnect(ctx context.Context, force bool) error {
	m.mu.Lock()
	switch {
	case m.state == StateTerminated:
		m.mu.Unlock()
		return ErrTerminated
	case !force && (m.state.IsLive() || m.state == StateReconnecting):
		m.mu.Unlock()
		return nil
	case m.state == StateDisconnected || m.state == StateConnecting:
		state := m.state
		m.mu.Unlock()
		return types.NewError(types.ErrInvalidState, fmt.Sprintf("cannot reconnect while %s", state))
	}
	return m.reconnectLocked(ctx)
}

// reconnectLocked 需持有锁调用，返回前释放锁
func (m *Manager) reconnectLocked(ctx context.Context) error {
	old := m.teardownLocked()
	var ns []notification
	if m.state != StateReconnecting {
		var err error
		ns, err = m.setStateLocked(StateReconnecting)
		if err != nil {
			m.mu.Unlock()
			return err
		}
	}
	rctx, cancel := context.WithCancel(ctx)
	m.reconnCancel = cancel
	gen := m.reconnGen
	m.counters.Reconnects++
	endpoint, creds := m.config.Endpoint, m.creds
	m.timers.Add(1)
	m.mu.Unlock()

	defer m.timers.Add(-1)
	defer cancel()

	if old != nil {
		_ = old.Close()
	}
	run(ns)

	b := backoff.New(m.config.Backoff, m.rand)
	var lastErr error
	for {
		attempt, delay, ok := b.Next()
		if !ok {
			break
		}

		m.logger.Info("attempting reconnect",
			zap.Int("attempt", attempt),
			zap.Int("max", b.Policy().MaxAttempts),
			zap.Duration("delay", delay))

		if err := backoff.Wait(rctx, delay); err != nil {
			return types.NewConnectionError("reconnect cancelled", err).WithRetryable(false)
		}

		m.mu.Lock()
		m.counters.Attempts++
		m.mu.Unlock()

		conn, err := m.dial(rctx, endpoint, creds)
		if err != nil {
			if rctx.Err() != nil {
				return types.NewConnectionError("reconnect cancelled", rctx.Err()).WithRetryable(false)
			}
			lastErr = err
			m.mu.Lock()
			m.counters.Failures++
			m.mu.Unlock()
			m.logger.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			m.attempted(attempt, err)
			continue
		}

		id, ns, err := m.install(conn, StateReconnecting, gen)
		run(ns)
		if err != nil {
			_ = conn.Close()
			return err
		}
		m.attempted(attempt, nil)
		m.logger.Info("reconnected successfully", zap.String("connection_id", id), zap.Int("attempt", attempt))
		return nil
	}

	err := types.NewConnectionError(
		fmt.Sprintf("reconnect attempts exhausted after %d tries", b.Attempt()), lastErr).
		WithRetryable(false)

	m.mu.Lock()
	var fns []notification
	if m.state == StateReconnecting && gen == m.reconnGen {
		fns, _ = m.setStateLocked(StateFailed)
		m.reconnCancel = nil
	}
	m.mu.Unlock()
	run(fns)

	m.logger.Error("max reconnect attempts reached", zap.Error(err))
	if m.hooks.OnFailure != nil {
		m.hooks.OnFailure(err)
	}
	return err
}

// triggerReconnect 在后台为仍是当前连接的 conn 发起重连
func (m *Manager) triggerReconnect(conn transport.Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn || !m.state.IsLive() {
		m.mu.Unlock()
		return
	}
	m.logger.Warn("connection lost, reconnecting", zap.Error(cause))
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.mu.Lock()
		// 期间可能已被 Disconnect/Terminate 或其他重连接管
		if m.conn != conn || !m.state.IsLive() {
			m.mu.Unlock()
			return
		}
		_ = m.reconnectLocked(m.baseCtx)
	}()
}

func (m *Manager) readLoop(ctx context.Context, conn transport.Conn) {
	defer m.wg.Done()

	for {
		f, err := conn.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.triggerReconnect(conn, err)
			return
		}
		if f.Type == processor.FramePong {
			continue
		}
		if m.hooks.OnFrame != nil {
			m.hooks.OnFrame(f)
		}
	}
}

func (m *Manager) heartbeatLoop(ctx context.Context, conn transport.Conn) {
	defer m.wg.Done()
	defer m.timers.Add(-1)

	ticker := time.NewTicker(m.config.HeartbeatInterval)
	defer ticker.Stop()

	// 建连后立即探测一次，得到初始质量
	if !m.beat(ctx, conn) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.beat(ctx, conn) {
				return
			}
		}
	}
}

// beat 发送一次心跳，超时或失败触发重连并返回 false
func (m *Manager) beat(ctx context.Context, conn transport.Conn) bool {
	pctx, cancel := context.WithTimeout(ctx, m.config.HeartbeatTimeout)
	rtt, err := conn.Ping(pctx)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		m.recordPingLoss()
		m.logger.Warn("heartbeat timeout detected", zap.Duration("timeout", m.config.HeartbeatTimeout), zap.Error(err))
		m.triggerReconnect(conn, err)
		return false
	}
	m.ObserveLatency(rtt)
	return true
}

func (m *Manager) recordPingLoss() {
	m.mu.Lock()
	m.pushPingLocked(false)
	m.mu.Unlock()
}

func (m *Manager) pushPingLocked(ok bool) {
	m.pings = append(m.pings, ok)
	if over := len(m.pings) - m.config.LossWindow; over > 0 {
		m.pings = m.pings[over:]
	}
}

// ObserveLatency 记录一次往返测量，更新抖动、丢包和稳定度；等级变化时通知
func (m *Manager) ObserveLatency(rtt time.Duration) Measurement {
	m.mu.Lock()
	m.pushPingLocked(true)

	if m.lastLatency > 0 {
		d := math.Abs(float64(rtt - m.lastLatency))
		m.jitter += (d - m.jitter) / 16
	}
	m.lastLatency = rtt

	lost := 0
	for _, ok := range m.pings {
		if !ok {
			lost++
		}
	}
	loss := float64(lost) / float64(len(m.pings))

	ref := math.Max(float64(rtt), float64(time.Millisecond))
	stability := (1 - loss) / (1 + m.jitter/ref)

	meas := Measurement{
		Timestamp:  m.now(),
		Latency:    rtt,
		Jitter:     time.Duration(m.jitter),
		PacketLoss: loss,
		Stability:  stability,
		Quality:    m.config.Thresholds.Classify(rtt),
	}
	m.last = meas

	var ns []notification
	if m.state.IsLive() {
		ns = m.setQualityLocked(meas.Quality, meas)
	}
	m.mu.Unlock()

	if m.hooks.OnMeasurement != nil {
		m.hooks.OnMeasurement(meas)
	}
	run(ns)
	return meas
}

// Terminate 终止管理器并等待所有后台协程退出。
// 不可在 Hooks 回调中调用。
func (m *Manager) Terminate() {
	m.mu.Lock()
	if m.state == StateTerminated {
		m.mu.Unlock()
		return
	}
	conn := m.teardownLocked()
	ns, _ := m.setStateLocked(StateTerminated)
	m.mu.Unlock()

	m.baseCancel()
	if conn != nil {
		_ = conn.Close()
	}
	run(ns)
	m.wg.Wait()
	m.logger.Info("connection manager terminated")
}

// State 返回当前状态
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Quality 返回当前质量等级
func (m *Manager) Quality() Quality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quality
}

// Info 返回连接快照
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := Info{
		ID:          m.id,
		State:       m.state,
		Quality:     m.quality,
		Endpoint:    m.config.Endpoint,
		ConnectedAt: m.connectedAt,
		Counters:    m.counters,
		Last:        m.last,
	}
	if m.conn != nil {
		info.Transport = m.conn.Kind()
	}
	return info
}

// Config 返回修正后的配置
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// ActiveTimers 返回存活的心跳和重连协程数
func (m *Manager) ActiveTimers() int {
	return int(m.timers.Load())
}
