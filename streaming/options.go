package streaming

import (
	"time"

	"github.com/BaSui01/chatwidget/internal/metrics"
	"github.com/BaSui01/chatwidget/streaming/diagnostics"
	"github.com/BaSui01/chatwidget/streaming/session"
	"github.com/BaSui01/chatwidget/streaming/transport"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Options 单次流式请求的选项
type Options struct {
	Handlers session.Handlers
}

// Option provider 构造选项
type Option func(*Provider)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithCredentials 设置建连凭据
func WithCredentials(creds transport.Credentials) Option {
	return func(p *Provider) { p.creds = creds }
}

// WithClock 替换所有组件共享的时钟
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithRand 替换重连退避的随机源
func WithRand(rnd func() float64) Option {
	return func(p *Provider) { p.rand = rnd }
}

// WithCollector 把诊断数据导出到 Prometheus
func WithCollector(c *metrics.Collector) Option {
	return func(p *Provider) { p.collector = c }
}

// WithSnapshotStore 设置诊断快照的发布目标
func WithSnapshotStore(s diagnostics.SnapshotStore) Option {
	return func(p *Provider) { p.snapshots = s }
}

// WithJournal 终止会话异步写入会话日志
func WithJournal(j *diagnostics.Journal) Option {
	return func(p *Provider) { p.journal = j }
}

// WithTracer 设置 OpenTelemetry tracer，默认 noop
func WithTracer(t trace.Tracer) Option {
	return func(p *Provider) {
		if t != nil {
			p.tracer = t
		}
	}
}
