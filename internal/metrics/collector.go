// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 流式运行时的 Prometheus 指标收集器
type Collector struct {
	// 连接指标
	connectionAttempts *prometheus.CounterVec
	reconnects         prometheus.Counter
	connectionState    *prometheus.GaugeVec
	latency            prometheus.Histogram
	quality            prometheus.Gauge

	// 会话指标
	sessionsActive  prometheus.Gauge
	sessionsEnded   *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	startsRejected  *prometheus.CounterVec

	// chunk 指标
	chunksAccepted prometheus.Counter
	chunksRejected prometheus.Counter
	chunkBytes     prometheus.Counter

	// 错误边界与健康度
	boundaryOpen  prometheus.Gauge
	boundaryTrips prometheus.Counter
	healthScore   prometheus.Gauge

	// 诊断持久化
	snapshotPublishes *prometheus.CounterVec
	dbQueryDuration   *prometheus.HistogramVec
	dbConnectionsOpen prometheus.Gauge
	dbConnectionsIdle prometheus.Gauge

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到 reg；reg 为 nil 时使用默认注册表
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 连接指标
	c.connectionAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_attempts_total",
			Help:      "Total number of transport dial attempts",
		},
		[]string{"outcome"}, // outcome: success, failure
	)

	c.reconnects = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnects_total",
		Help:      "Total number of successful reconnects",
	})

	c.connectionState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection state (1 for the active state)",
		},
		[]string{"state"},
	)

	c.latency = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "heartbeat_latency_seconds",
		Help:      "Heartbeat round-trip time in seconds",
		Buckets:   []float64{0.025, 0.05, 0.1, 0.3, 0.6, 1, 2, 5},
	})

	c.quality = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connection_quality",
		Help:      "Connection quality band (0 excellent .. 5 offline)",
	})

	// 会话指标
	c.sessionsActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of non-terminal sessions",
	})

	c.sessionsEnded = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of sessions that reached a terminal state",
		},
		[]string{"state"},
	)

	c.sessionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Session duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"state"},
	)

	c.startsRejected = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_starts_rejected_total",
			Help:      "Streaming starts rejected before any I/O",
		},
		[]string{"reason"}, // reason: boundary_suppressed, rate_limited
	)

	// chunk 指标
	c.chunksAccepted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunks_accepted_total",
		Help:      "Total number of accepted chunks",
	})

	c.chunksRejected = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunks_rejected_total",
		Help:      "Total number of chunks rejected by validation",
	})

	c.chunkBytes = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunk_bytes_total",
		Help:      "Total payload bytes of accepted chunks",
	})

	// 错误边界与健康度
	c.boundaryOpen = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "error_boundary_open",
		Help:      "1 while the error boundary is open",
	})

	c.boundaryTrips = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "error_boundary_trips_total",
		Help:      "Number of times the error boundary opened",
	})

	c.healthScore = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "health_score",
		Help:      "Composite streaming health score (0-100)",
	})

	// 诊断持久化
	c.snapshotPublishes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_snapshots_total",
			Help:      "Diagnostics snapshot publishes",
		},
		[]string{"status"},
	)

	c.dbQueryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "journal_query_duration_seconds",
			Help:      "Session journal query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	c.dbConnectionsOpen = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "journal_db_connections_open",
		Help:      "Number of open journal database connections",
	})

	c.dbConnectionsIdle = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "journal_db_connections_idle",
		Help:      "Number of idle journal database connections",
	})

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🔌 连接指标记录
// =============================================================================

// RecordConnectionAttempt 记录一次拨号结果
func (c *Collector) RecordConnectionAttempt(success bool) {
	c.connectionAttempts.WithLabelValues(outcome(success)).Inc()
}

// RecordReconnect 记录一次成功重连
func (c *Collector) RecordReconnect() {
	c.reconnects.Inc()
}

// SetConnectionState 切换当前连接状态
func (c *Collector) SetConnectionState(from, to string) {
	if from != "" {
		c.connectionState.WithLabelValues(from).Set(0)
	}
	c.connectionState.WithLabelValues(to).Set(1)
}

// RecordLatency 记录心跳 RTT 与质量等级
func (c *Collector) RecordLatency(rtt time.Duration, band int) {
	c.latency.Observe(rtt.Seconds())
	c.quality.Set(float64(band))
}

// =============================================================================
// 💬 会话与 chunk 指标记录
// =============================================================================

// SetActiveSessions 设置活跃会话数
func (c *Collector) SetActiveSessions(n int) {
	c.sessionsActive.Set(float64(n))
}

// RecordSessionEnd 记录会话终止
func (c *Collector) RecordSessionEnd(state string, duration time.Duration) {
	c.sessionsEnded.WithLabelValues(state).Inc()
	c.sessionDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// RecordStartRejected 记录在 I/O 之前被拒绝的启动请求
func (c *Collector) RecordStartRejected(reason string) {
	c.startsRejected.WithLabelValues(reason).Inc()
}

// RecordChunk 记录一个被接受的 chunk
func (c *Collector) RecordChunk(bytes int) {
	c.chunksAccepted.Inc()
	c.chunkBytes.Add(float64(bytes))
}

// RecordChunkRejected 记录一个被拒绝的 chunk
func (c *Collector) RecordChunkRejected() {
	c.chunksRejected.Inc()
}

// =============================================================================
// 🛡️ 错误边界与健康度
// =============================================================================

// SetBoundaryOpen 设置错误边界状态，打开时累计触发次数
func (c *Collector) SetBoundaryOpen(open bool) {
	if open {
		c.boundaryOpen.Set(1)
		c.boundaryTrips.Inc()
		return
	}
	c.boundaryOpen.Set(0)
}

// SetHealthScore 设置健康分
func (c *Collector) SetHealthScore(score float64) {
	c.healthScore.Set(score)
}

// =============================================================================
// 🗄️ 诊断持久化
// =============================================================================

// RecordSnapshotPublish 记录诊断快照发布结果
func (c *Collector) RecordSnapshotPublish(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.snapshotPublishes.WithLabelValues(status).Inc()
}

// RecordDBQuery 记录会话日志查询耗时
func (c *Collector) RecordDBQuery(operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordDBConnections 记录会话日志数据库连接数
func (c *Collector) RecordDBConnections(open, idle int) {
	c.dbConnectionsOpen.Set(float64(open))
	c.dbConnectionsIdle.Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
