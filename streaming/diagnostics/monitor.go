package diagnostics

import (
	"sync"
	"time"

	"github.com/BaSui01/chatwidget/streaming/boundary"
	"github.com/BaSui01/chatwidget/streaming/connection"
	"github.com/BaSui01/chatwidget/streaming/session"
	"go.uber.org/zap"
)

// Exporter 接收监控数据的外部指标后端，由 internal/metrics.Collector 实现
type Exporter interface {
	RecordConnectionAttempt(success bool)
	RecordReconnect()
	RecordLatency(rtt time.Duration, band int)
	RecordChunk(bytes int)
	RecordChunkRejected()
	RecordSessionEnd(state string, duration time.Duration)
	SetBoundaryOpen(open bool)
	SetHealthScore(score float64)
}

// Config 监控配置
type Config struct {
	// HistorySize 质量历史环形缓冲的容量
	HistorySize int `yaml:"history_size" json:"history_size"`
	// ThroughputWindow 吞吐量滑动窗口
	ThroughputWindow time.Duration `yaml:"throughput_window" json:"throughput_window"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		HistorySize:      100,
		ThroughputWindow: 10 * time.Second,
	}
}

// QualityMeasurement 质量历史中的一条记录
type QualityMeasurement struct {
	Timestamp  time.Time     `json:"timestamp"`
	Latency    time.Duration `json:"latency"`
	Jitter     time.Duration `json:"jitter"`
	PacketLoss float64       `json:"packet_loss"`
	Stability  float64       `json:"stability"`
	Quality    string        `json:"quality"`
}

// FromMeasurement 转换连接管理器的测量结果
func FromMeasurement(m connection.Measurement) QualityMeasurement {
	return QualityMeasurement{
		Timestamp:  m.Timestamp,
		Latency:    m.Latency,
		Jitter:     m.Jitter,
		PacketLoss: m.PacketLoss,
		Stability:  m.Stability,
		Quality:    m.Quality.String(),
	}
}

// Throughput 滑动窗口内的吞吐量
type Throughput struct {
	Window          time.Duration `json:"window"`
	Chunks          int           `json:"chunks"`
	Bytes           int64         `json:"bytes"`
	ChunksPerSecond float64       `json:"chunks_per_second"`
	BytesPerSecond  float64       `json:"bytes_per_second"`
}

// Counters 累计计数
type Counters struct {
	ConnectionAttempts  int64 `json:"connection_attempts"`
	ConnectionSuccesses int64 `json:"connection_successes"`
	ConnectionFailures  int64 `json:"connection_failures"`
	Reconnects          int64 `json:"reconnects"`

	SessionsStarted   int64 `json:"sessions_started"`
	SessionsCompleted int64 `json:"sessions_completed"`
	SessionsCancelled int64 `json:"sessions_cancelled"`
	SessionsFailed    int64 `json:"sessions_failed"`

	ChunksAccepted int64 `json:"chunks_accepted"`
	ChunksRejected int64 `json:"chunks_rejected"`

	BoundarySuppressed int64 `json:"boundary_suppressed"`
	RateLimited        int64 `json:"rate_limited"`
}

// Report 诊断报告，值类型，生成后不再变化
type Report struct {
	GeneratedAt time.Time            `json:"generated_at"`
	HealthScore float64              `json:"health_score"`
	Quality     string               `json:"quality"`
	Latest      *QualityMeasurement  `json:"latest,omitempty"`
	History     []QualityMeasurement `json:"history"`
	Throughput  Throughput           `json:"throughput"`
	Counters    Counters             `json:"counters"`
	LastError   string               `json:"last_error,omitempty"`
	LastErrorAt time.Time            `json:"last_error_at,omitempty"`

	// 由 provider 填充
	Boundary       *boundary.Snapshot `json:"boundary,omitempty"`
	Connection     *connection.Info   `json:"connection,omitempty"`
	Sessions       *session.Counts    `json:"sessions,omitempty"`
	InvariantError string             `json:"invariant_error,omitempty"`
}

type sample struct {
	at    time.Time
	bytes int
}

// Monitor 汇总连接质量、吞吐量与会话结果，并计算健康分。
// 由 provider 创建并独占，Shutdown 时随 provider 一起丢弃。
type Monitor struct {
	config   Config
	exporter Exporter
	logger   *zap.Logger
	now      func() time.Time

	mu           sync.Mutex
	history      []QualityMeasurement // 环形缓冲
	head         int
	size         int
	quality      connection.Quality
	hasQuality   bool
	samples      []sample
	counters     Counters
	boundaryOpen bool
	lastErr      string
	lastErrAt    time.Time
}

// Option 监控选项
type Option func(*Monitor)

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithExporter 设置指标后端
func WithExporter(e Exporter) Option {
	return func(m *Monitor) { m.exporter = e }
}

// NewMonitor 创建监控器
func NewMonitor(config Config, logger *zap.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.HistorySize <= 0 {
		config.HistorySize = def.HistorySize
	}
	if config.ThroughputWindow <= 0 {
		config.ThroughputWindow = def.ThroughputWindow
	}

	m := &Monitor{
		config:  config,
		logger:  logger.With(zap.String("component", "diagnostics")),
		now:     time.Now,
		history: make([]QualityMeasurement, config.HistorySize),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordQuality 追加一条质量测量
func (m *Monitor) RecordQuality(meas connection.Measurement) {
	m.mu.Lock()
	m.history[(m.head+m.size)%len(m.history)] = FromMeasurement(meas)
	if m.size < len(m.history) {
		m.size++
	} else {
		m.head = (m.head + 1) % len(m.history)
	}
	m.quality = meas.Quality
	m.hasQuality = true
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.RecordLatency(meas.Latency, int(meas.Quality))
	}
}

// SetQuality 在没有测量时更新当前质量等级（例如断开时置为 offline）
func (m *Monitor) SetQuality(q connection.Quality) {
	m.mu.Lock()
	m.quality = q
	m.hasQuality = true
	m.mu.Unlock()
}

// RecordConnectionAttempt 记录一次拨号结果
func (m *Monitor) RecordConnectionAttempt(err error) {
	m.mu.Lock()
	m.counters.ConnectionAttempts++
	if err != nil {
		m.counters.ConnectionFailures++
		m.lastErr = err.Error()
		m.lastErrAt = m.now()
	} else {
		m.counters.ConnectionSuccesses++
	}
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.RecordConnectionAttempt(err == nil)
	}
}

// RecordConnectionFailure 记录一次上抛的连接失败（不计入拨号次数）
func (m *Monitor) RecordConnectionFailure(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.lastErr = err.Error()
	m.lastErrAt = m.now()
	m.mu.Unlock()
	m.logger.Debug("connection failure recorded", zap.Error(err))
}

// RecordReconnect 记录一次成功重连
func (m *Monitor) RecordReconnect() {
	m.mu.Lock()
	m.counters.Reconnects++
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.RecordReconnect()
	}
}

// RecordChunk 记录一个被接受的 chunk
func (m *Monitor) RecordChunk(size int) {
	now := m.now()

	m.mu.Lock()
	m.counters.ChunksAccepted++
	m.samples = append(m.samples, sample{at: now, bytes: size})
	m.pruneLocked(now)
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.RecordChunk(size)
	}
}

// RecordChunkRejected 记录一个被拒绝的 chunk
func (m *Monitor) RecordChunkRejected() {
	m.mu.Lock()
	m.counters.ChunksRejected++
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.RecordChunkRejected()
	}
}

// RecordSessionStart 记录会话开始
func (m *Monitor) RecordSessionStart() {
	m.mu.Lock()
	m.counters.SessionsStarted++
	m.mu.Unlock()
}

// RecordSessionEnd 记录会话终止结果
func (m *Monitor) RecordSessionEnd(state session.State, duration time.Duration) {
	m.mu.Lock()
	switch state {
	case session.StateCompleted:
		m.counters.SessionsCompleted++
	case session.StateCancelled:
		m.counters.SessionsCancelled++
	case session.StateFailed:
		m.counters.SessionsFailed++
	}
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.RecordSessionEnd(string(state), duration)
	}
}

// RecordSuppressed 记录在 I/O 之前被拒绝的启动请求
func (m *Monitor) RecordSuppressed(rateLimited bool) {
	m.mu.Lock()
	if rateLimited {
		m.counters.RateLimited++
	} else {
		m.counters.BoundarySuppressed++
	}
	m.mu.Unlock()
}

// SetBoundaryOpen 同步错误边界状态
func (m *Monitor) SetBoundaryOpen(open bool) {
	m.mu.Lock()
	changed := m.boundaryOpen != open
	m.boundaryOpen = open
	m.mu.Unlock()

	if changed && m.exporter != nil {
		m.exporter.SetBoundaryOpen(open)
	}
}

func (m *Monitor) pruneLocked(now time.Time) {
	cutoff := now.Add(-m.config.ThroughputWindow)
	i := 0
	for i < len(m.samples) && !m.samples[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		m.samples = append(m.samples[:0], m.samples[i:]...)
	}
}

// History 按时间顺序返回质量历史
func (m *Monitor) History() []QualityMeasurement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.historyLocked()
}

func (m *Monitor) historyLocked() []QualityMeasurement {
	out := make([]QualityMeasurement, m.size)
	for i := 0; i < m.size; i++ {
		out[i] = m.history[(m.head+i)%len(m.history)]
	}
	return out
}

// Throughput 返回滑动窗口内的吞吐量
func (m *Monitor) Throughput() Throughput {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.throughputLocked(now)
}

func (m *Monitor) throughputLocked(now time.Time) Throughput {
	m.pruneLocked(now)
	t := Throughput{Window: m.config.ThroughputWindow, Chunks: len(m.samples)}
	for _, s := range m.samples {
		t.Bytes += int64(s.bytes)
	}
	secs := m.config.ThroughputWindow.Seconds()
	t.ChunksPerSecond = float64(t.Chunks) / secs
	t.BytesPerSecond = float64(t.Bytes) / secs
	return t
}

// Counters 返回累计计数
func (m *Monitor) Counters() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

// HealthScore 计算当前健康分（0–100）并推送给指标后端
func (m *Monitor) HealthScore() float64 {
	m.mu.Lock()
	score := Score(m.scoreInputLocked())
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.SetHealthScore(score)
	}
	return score
}

func (m *Monitor) scoreInputLocked() ScoreInput {
	in := ScoreInput{
		HasQuality:          m.hasQuality,
		Quality:             m.quality,
		ConnectionSuccesses: m.counters.ConnectionSuccesses,
		ConnectionFailures:  m.counters.ConnectionFailures,
		SessionsCompleted:   m.counters.SessionsCompleted,
		SessionsFailed:      m.counters.SessionsFailed,
		BoundaryOpen:        m.boundaryOpen,
		Stability:           1,
	}
	if m.size > 0 {
		in.Stability = m.history[(m.head+m.size-1)%len(m.history)].Stability
	}
	return in
}

// Report 生成诊断报告
func (m *Monitor) Report() Report {
	now := m.now()

	m.mu.Lock()
	r := Report{
		GeneratedAt: now,
		HealthScore: Score(m.scoreInputLocked()),
		History:     m.historyLocked(),
		Throughput:  m.throughputLocked(now),
		Counters:    m.counters,
		LastError:   m.lastErr,
		LastErrorAt: m.lastErrAt,
	}
	if m.hasQuality {
		r.Quality = m.quality.String()
	}
	m.mu.Unlock()

	if n := len(r.History); n > 0 {
		latest := r.History[n-1]
		r.Latest = &latest
	}
	if m.exporter != nil {
		m.exporter.SetHealthScore(r.HealthScore)
	}
	return r
}

// Reset 清空历史、吞吐样本与计数
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.head, m.size = 0, 0
	m.samples = nil
	m.counters = Counters{}
	m.hasQuality = false
	m.lastErr = ""
	m.lastErrAt = time.Time{}
}
